package clasp

import (
	"context"
	"fmt"
	"time"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/models"
)

// waitAction idles for a fixed delay, checking for aborts as it goes.
type waitAction struct {
	*action.Base
	delay time.Duration
}

func waitDefinition() action.Definition {
	return action.Definition{
		Name: "Wait",
		Validate: func(params map[string]any) []string {
			errs := unknownKeys(params, "delay")
			delay, ok := floatParam(params, "delay")
			if !ok || delay <= 0 {
				errs = append(errs, "delay must be a positive number of seconds")
			}
			return errs
		},
		New: func(params map[string]any) (action.Action, error) {
			delay, ok := floatParam(params, "delay")
			if !ok || delay <= 0 {
				return nil, fmt.Errorf("delay must be a positive number of seconds")
			}
			d := time.Duration(delay * float64(time.Second))
			return &waitAction{
				Base: action.NewBase("Wait", []models.Task{
					{Name: fmt.Sprintf("Wait for %s", d)},
				}),
				delay: d,
			}, nil
		},
	}
}

func (a *waitAction) Run(ctx context.Context) {
	a.SleepUntilAborted(ctx, a.delay)
	a.Finish(nil)
}
