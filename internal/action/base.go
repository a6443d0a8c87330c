package action

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rockit-astro/opsd/internal/models"
)

// abortPoll bounds how long a sleeping action goes between abort checks.
const abortPoll = 500 * time.Millisecond

// Base carries the state machinery shared by every action implementation.
// Concrete actions embed it and provide Run.
type Base struct {
	name  string
	mu    sync.Mutex
	state models.ActionState
	tasks []models.Task

	aborted  atomic.Bool
	domeOpen atomic.Bool
}

// NewBase constructs the shared state for a named action.
func NewBase(name string, tasks []models.Task) *Base {
	return &Base{name: name, state: models.ActionPending, tasks: tasks}
}

func (b *Base) Name() string { return b.name }

func (b *Base) State() models.ActionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState moves the action to s. Terminal states stick.
func (b *Base) SetState(s models.ActionState) {
	b.mu.Lock()
	if !terminal(b.state) {
		b.state = s
	}
	b.mu.Unlock()
}

func terminal(s models.ActionState) bool {
	return s == models.ActionComplete || s == models.ActionAborted || s == models.ActionError
}

// Start marks the action Running.
func (b *Base) Start() { b.SetState(models.ActionRunning) }

// Abort requests a stop at the next cooperative checkpoint. Aborting an
// action that never started drains it straight to Aborted.
func (b *Base) Abort() {
	b.aborted.Store(true)
	b.mu.Lock()
	if b.state == models.ActionPending {
		b.state = models.ActionAborted
	}
	b.mu.Unlock()
}

// Aborted reports whether an abort was requested.
func (b *Base) Aborted() bool { return b.aborted.Load() }

func (b *Base) Tasks() []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := make([]models.Task, len(b.tasks))
	copy(tasks, b.tasks)
	return tasks
}

// SetTasks replaces the task descriptor list shown in status().
func (b *Base) SetTasks(tasks []models.Task) {
	b.mu.Lock()
	b.tasks = tasks
	b.mu.Unlock()
}

func (b *Base) DomeIsOpenChanged(open bool) { b.domeOpen.Store(open) }

// DomeOpen reports the last dome-open flag delivered by the controller.
func (b *Base) DomeOpen() bool { return b.domeOpen.Load() }

// NotifyProcessedFrame is a no-op unless the concrete action overrides it.
func (b *Base) NotifyProcessedFrame(map[string]any) map[string]any { return nil }

// NotifyGuideProfile is a no-op unless the concrete action overrides it.
func (b *Base) NotifyGuideProfile(map[string]any, []float64, []float64) map[string]any { return nil }

// Finish records the terminal state: Aborted wins over err, err over
// Complete.
func (b *Base) Finish(err error) {
	switch {
	case b.Aborted():
		b.SetState(models.ActionAborted)
	case err != nil:
		b.SetState(models.ActionError)
	default:
		b.SetState(models.ActionComplete)
	}
}

// SleepUntilAborted sleeps for d in abort-poll sized steps, returning early
// (true) if the action is aborted or ctx is cancelled.
func (b *Base) SleepUntilAborted(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if b.Aborted() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		step := remaining
		if step > abortPoll {
			step = abortPoll
		}
		select {
		case <-ctx.Done():
			b.Abort()
			return true
		case <-time.After(step):
		}
	}
}
