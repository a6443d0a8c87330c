package clasp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockit-astro/opsd/internal/action"
	"github.com/rockit-astro/opsd/internal/models"
)

func definition(t *testing.T, name string) action.Definition {
	t.Helper()
	m, ok := action.LookupModule(ModuleName)
	require.True(t, ok)
	def, ok := m.Lookup(name)
	require.True(t, ok)
	return def
}

func TestWaitValidation(t *testing.T) {
	def := definition(t, "Wait")
	assert.Empty(t, def.Validate(map[string]any{"type": "Wait", "delay": float64(5)}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "Wait"}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "Wait", "delay": float64(-2)}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "Wait", "delay": float64(5), "bogus": 1}))
}

func TestWaitRunsToCompletion(t *testing.T) {
	def := definition(t, "Wait")
	act, err := def.New(map[string]any{"delay": 0.01})
	require.NoError(t, err)

	act.Start()
	act.Run(context.Background())
	assert.Equal(t, models.ActionComplete, act.State())
}

func TestParkValidation(t *testing.T) {
	def := definition(t, "Park")
	assert.Empty(t, def.Validate(map[string]any{"type": "Park"}))
	assert.Empty(t, def.Validate(map[string]any{"type": "Park", "position": "zenith"}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "Park", "position": "garage"}))
}

func TestSkyFlatsValidation(t *testing.T) {
	def := definition(t, "SkyFlats")
	assert.Empty(t, def.Validate(map[string]any{"type": "SkyFlats", "prefix": "evening", "count": float64(10)}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "SkyFlats", "count": float64(10)}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "SkyFlats", "prefix": "evening", "count": 2.5}))
	assert.NotEmpty(t, def.Validate(map[string]any{"type": "SkyFlats", "prefix": "evening", "count": float64(0)}))
}

func TestSkyFlatsAbortsWhenDomeCloses(t *testing.T) {
	def := definition(t, "SkyFlats")
	act, err := def.New(map[string]any{"prefix": "evening", "count": float64(3)})
	require.NoError(t, err)

	act.Start()
	act.DomeIsOpenChanged(true)
	done := make(chan struct{})
	go func() {
		act.Run(context.Background())
		close(done)
	}()

	// One frame lands, then the dome closes under the sequence.
	assert.NotNil(t, act.NotifyProcessedFrame(map[string]any{"EXPTIME": 2.0}))
	act.DomeIsOpenChanged(false)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("skyflats did not stop after the dome closed")
	}
	assert.Equal(t, models.ActionAborted, act.State())
}

func TestSkyFlatsCompletesWhenFramesArrive(t *testing.T) {
	def := definition(t, "SkyFlats")
	act, err := def.New(map[string]any{"prefix": "evening", "count": float64(2)})
	require.NoError(t, err)

	act.Start()
	act.DomeIsOpenChanged(true)
	done := make(chan struct{})
	go func() {
		act.Run(context.Background())
		close(done)
	}()

	extra := act.NotifyProcessedFrame(nil)
	assert.Equal(t, "evening", extra["FLATSEQ"])
	assert.Equal(t, 1, extra["FLATNUM"])
	extra = act.NotifyProcessedFrame(nil)
	assert.Equal(t, 2, extra["FLATNUM"])

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("skyflats did not complete")
	}
	assert.Equal(t, models.ActionComplete, act.State())
}

func TestSkyFlatsGuideProfileCentroid(t *testing.T) {
	def := definition(t, "SkyFlats")
	act, err := def.New(map[string]any{"prefix": "evening", "count": float64(1)})
	require.NoError(t, err)

	extra := act.NotifyGuideProfile(nil, []float64{0, 1, 0}, []float64{0, 0, 1})
	require.NotNil(t, extra)
	assert.InDelta(t, 1.0, extra["GUIDECX"].(float64), 0.001)
	assert.InDelta(t, 2.0, extra["GUIDECY"].(float64), 0.001)
	assert.Nil(t, act.NotifyGuideProfile(nil, nil, nil))
}
