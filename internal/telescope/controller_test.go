package telescope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/models"
)

// testAction blocks until released, aborted or failed, polling its abort
// flag the way real actions do.
type testAction struct {
	*action.Base
	started chan struct{}
	release chan struct{}
	fail    bool
}

func newTestAction(name string) *testAction {
	return &testAction{
		Base:    action.NewBase(name, []models.Task{{Name: name}}),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (a *testAction) Run(ctx context.Context) {
	close(a.started)
	for {
		if a.Aborted() {
			a.Finish(nil)
			return
		}
		select {
		case <-a.release:
			if a.fail {
				a.Finish(errors.New("hardware fault"))
			} else {
				a.Finish(nil)
			}
			return
		case <-ctx.Done():
			a.Abort()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitStarted(t *testing.T, a *testAction) {
	t.Helper()
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("action %s never started", a.Name())
	}
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := NewController(ControllerOptions{})
	t.Cleanup(c.Stop)
	return c
}

func toActions(acts ...*testAction) []action.Action {
	out := make([]action.Action, len(acts))
	for i, a := range acts {
		out[i] = a
	}
	return out
}

func TestQueueRequiresAutomatic(t *testing.T) {
	c := newTestController(t)
	a := newTestAction("one")
	assert.Equal(t, models.TelescopeNotAutomatic, c.QueueActions(toActions(a)))
	require.Equal(t, models.Succeeded, c.RequestMode(true))
	assert.Equal(t, models.Succeeded, c.QueueActions(toActions(a)))
}

func TestActionsRunInOrder(t *testing.T) {
	c := newTestController(t)
	require.Equal(t, models.Succeeded, c.RequestMode(true))

	a1 := newTestAction("one")
	a2 := newTestAction("two")
	require.Equal(t, models.Succeeded, c.QueueActions(toActions(a1, a2)))

	waitStarted(t, a1)
	// Only one action runs at a time.
	assert.Equal(t, models.ActionRunning, a1.State())
	assert.Equal(t, models.ActionPending, a2.State())

	close(a1.release)
	waitStarted(t, a2)
	assert.Equal(t, models.ActionComplete, a1.State())
	close(a2.release)

	require.Eventually(t, func() bool {
		return a2.State() == models.ActionComplete
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAbortDrainsQueue(t *testing.T) {
	c := newTestController(t)
	require.Equal(t, models.Succeeded, c.RequestMode(true))

	a1 := newTestAction("one")
	a2 := newTestAction("two")
	a3 := newTestAction("three")
	require.Equal(t, models.Succeeded, c.QueueActions(toActions(a1, a2, a3)))

	waitStarted(t, a1)
	close(a1.release)
	waitStarted(t, a2)

	c.Abort()
	require.Eventually(t, func() bool {
		states := c.ActionStates()
		return states[1] == models.ActionAborted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []models.ActionState{
		models.ActionComplete, models.ActionAborted, models.ActionAborted,
	}, c.ActionStates())
	assert.Equal(t, models.ModeAutomatic, c.Mode())

	// Repeating the abort has no further effect.
	c.Abort()
	assert.Equal(t, []models.ActionState{
		models.ActionComplete, models.ActionAborted, models.ActionAborted,
	}, c.ActionStates())
}

func TestManualAbortsRunningAndResumesFromHead(t *testing.T) {
	c := newTestController(t)
	require.Equal(t, models.Succeeded, c.RequestMode(true))

	a1 := newTestAction("one")
	a2 := newTestAction("two")
	require.Equal(t, models.Succeeded, c.QueueActions(toActions(a1, a2)))
	waitStarted(t, a1)

	require.Equal(t, models.Succeeded, c.RequestMode(false))
	require.Eventually(t, func() bool {
		return a1.State() == models.ActionAborted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ActionPending, a2.State())

	// Back to Automatic: the queue resumes from the next pending action.
	require.Equal(t, models.Succeeded, c.RequestMode(true))
	waitStarted(t, a2)
	close(a2.release)
	require.Eventually(t, func() bool {
		return a2.State() == models.ActionComplete
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActionErrorElevatesMode(t *testing.T) {
	c := newTestController(t)
	require.Equal(t, models.Succeeded, c.RequestMode(true))

	a1 := newTestAction("one")
	a1.fail = true
	a2 := newTestAction("two")
	require.Equal(t, models.Succeeded, c.QueueActions(toActions(a1, a2)))
	waitStarted(t, a1)
	close(a1.release)

	require.Eventually(t, func() bool {
		return c.Mode() == models.ModeError
	}, 2*time.Second, 5*time.Millisecond)
	// The queue stays intact for inspection.
	assert.Equal(t, models.ActionError, a1.State())
	assert.Equal(t, models.ActionPending, a2.State())

	// Manual is refused until the error is acknowledged.
	assert.Equal(t, models.InErrorState, c.RequestMode(false))
	assert.Equal(t, models.Succeeded, c.RequestMode(true))
	waitStarted(t, a2)
	close(a2.release)
}

func TestNotificationsReachRunningActionOnly(t *testing.T) {
	c := newTestController(t)
	assert.Nil(t, c.NotifyProcessedFrame(map[string]any{"EXPTIME": 5.0}))
	assert.Nil(t, c.NotifyGuideProfile(nil, []float64{1}, []float64{2}))

	require.Equal(t, models.Succeeded, c.RequestMode(true))
	a := newTestAction("one")
	require.Equal(t, models.Succeeded, c.QueueActions(toActions(a)))
	waitStarted(t, a)

	// The base action consumes notifications without extra headers.
	assert.Nil(t, c.NotifyProcessedFrame(map[string]any{"EXPTIME": 5.0}))
	close(a.release)
}

func TestDomeOpenForwardedOnChange(t *testing.T) {
	c := newTestController(t)
	require.Equal(t, models.Succeeded, c.RequestMode(true))
	a := newTestAction("one")
	require.Equal(t, models.Succeeded, c.QueueActions(toActions(a)))
	waitStarted(t, a)

	c.Tick(context.Background(), true)
	assert.True(t, a.DomeOpen())
	c.Tick(context.Background(), false)
	assert.False(t, a.DomeOpen())
	close(a.release)
}
