package clasp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/models"
)

// skyFlatsAction acquires twilight flats. It needs the dome open: it waits
// for the open flag before starting and self-aborts if the dome closes
// mid-sequence. Processed-frame notifications feed the exposure counter so
// the pipeline and the action agree on progress.
type skyFlatsAction struct {
	*action.Base
	prefix string
	count  int

	mu       sync.Mutex
	acquired int
}

func skyFlatsDefinition() action.Definition {
	return action.Definition{
		Name: "SkyFlats",
		Validate: func(params map[string]any) []string {
			errs := unknownKeys(params, "prefix", "count")
			if _, ok := stringParam(params, "prefix"); !ok {
				errs = append(errs, "prefix must be a string")
			}
			count, ok := floatParam(params, "count")
			if !ok || count < 1 || count != float64(int(count)) {
				errs = append(errs, "count must be a positive integer")
			}
			return errs
		},
		New: func(params map[string]any) (action.Action, error) {
			prefix, ok := stringParam(params, "prefix")
			if !ok {
				return nil, fmt.Errorf("prefix must be a string")
			}
			count, ok := floatParam(params, "count")
			if !ok || count < 1 {
				return nil, fmt.Errorf("count must be a positive integer")
			}
			n := int(count)
			return &skyFlatsAction{
				Base: action.NewBase("SkyFlats", []models.Task{
					{Name: "Wait for dome"},
					{Sub: []string{fmt.Sprintf("Acquire %d flats", n), "Measure levels"}},
				}),
				prefix: prefix,
				count:  n,
			}, nil
		},
	}
}

func (a *skyFlatsAction) Run(ctx context.Context) {
	for !a.DomeOpen() {
		if a.SleepUntilAborted(ctx, time.Second) {
			a.Finish(nil)
			return
		}
	}
	for a.done() < a.count {
		if !a.DomeOpen() {
			// Lost the sky; there is no point waiting out twilight.
			a.Abort()
		}
		if a.SleepUntilAborted(ctx, time.Second) {
			a.Finish(nil)
			return
		}
	}
	a.Finish(nil)
}

// DomeIsOpenChanged records the flag; a close after the dome was open
// aborts the sequence.
func (a *skyFlatsAction) DomeIsOpenChanged(open bool) {
	wasOpen := a.DomeOpen()
	a.Base.DomeIsOpenChanged(open)
	if wasOpen && !open {
		a.Abort()
	}
}

func (a *skyFlatsAction) done() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acquired
}

// NotifyProcessedFrame counts reduced frames and stamps them with the flat
// sequence metadata.
func (a *skyFlatsAction) NotifyProcessedFrame(map[string]any) map[string]any {
	a.mu.Lock()
	a.acquired++
	n := a.acquired
	a.mu.Unlock()
	return map[string]any{
		"FLATSEQ": a.prefix,
		"FLATNUM": n,
	}
}

// NotifyGuideProfile reports the centroid of the incoming profile arrays.
func (a *skyFlatsAction) NotifyGuideProfile(_ map[string]any, x, y []float64) map[string]any {
	if len(x) == 0 || len(y) == 0 {
		return nil
	}
	return map[string]any{
		"GUIDECX": centroid(x),
		"GUIDECY": centroid(y),
	}
}

func centroid(values []float64) float64 {
	var sum, weighted float64
	for i, v := range values {
		sum += v
		weighted += v * float64(i)
	}
	if sum == 0 {
		return 0
	}
	return weighted / sum
}
