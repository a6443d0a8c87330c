package clasp

import (
	"context"
	"fmt"
	"time"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/models"
)

var parkPositions = map[string]struct{}{
	"stow": {}, "zenith": {}, "flat": {},
}

// parkAction slews the mount to a named park position.
type parkAction struct {
	*action.Base
	position string
}

func parkDefinition() action.Definition {
	return action.Definition{
		Name: "Park",
		Validate: func(params map[string]any) []string {
			errs := unknownKeys(params, "position")
			if pos, ok := stringParam(params, "position"); ok {
				if _, known := parkPositions[pos]; !known {
					errs = append(errs, fmt.Sprintf("unknown park position %q", pos))
				}
			}
			return errs
		},
		New: func(params map[string]any) (action.Action, error) {
			pos, ok := stringParam(params, "position")
			if !ok {
				pos = "stow"
			}
			if _, known := parkPositions[pos]; !known {
				return nil, fmt.Errorf("unknown park position %q", pos)
			}
			return &parkAction{
				Base: action.NewBase("Park", []models.Task{
					{Name: fmt.Sprintf("Slew to %s", pos)},
				}),
				position: pos,
			}, nil
		},
	}
}

func (a *parkAction) Run(ctx context.Context) {
	// Stand-in for the mount slew; real hardware replaces this sleep with
	// a teld command and completion poll.
	a.SleepUntilAborted(ctx, 2*time.Second)
	a.Finish(nil)
}
