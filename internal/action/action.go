// Package action defines the capability set every telescope action
// implements, plus the registry that maps a site's actions_module name to
// its available action types. Actions own their internal state machine and
// never share mutable state with each other; all coupling goes through the
// telescope controller.
package action

import (
	"context"

	"github.com/rockit-astro/opsd/internal/models"
)

// Action is one scripted unit of telescope behaviour, executed
// cooperatively by the telescope worker.
type Action interface {
	Name() string

	// Start marks the action Running; Run then executes it to a terminal
	// state. Run is expected to poll for aborts at least once per second.
	Start()
	Run(ctx context.Context)

	// Abort requests an immediate graceful stop; idempotent.
	Abort()

	State() models.ActionState
	Tasks() []models.Task

	// DomeIsOpenChanged is delivered on every change of the dome-open
	// flag, so actions that need the sky can self-abort when it closes.
	DomeIsOpenChanged(open bool)

	// NotifyProcessedFrame and NotifyGuideProfile are delivered
	// synchronously while the action is Running; returned entries are
	// merged into the frame headers. A nil return adds nothing.
	NotifyProcessedFrame(headers map[string]any) map[string]any
	NotifyGuideProfile(headers map[string]any, x, y []float64) map[string]any
}
