package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/rockit-astro/opsd/internal/action/clasp"
	"github.com/rockit-astro/opsd/internal/clock"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/dome"
	"github.com/rockit-astro/opsd/internal/environment"
	"github.com/rockit-astro/opsd/internal/models"
	_ "github.com/rockit-astro/opsd/internal/script/clasp"
)

type fakeSource struct {
	data environment.Data
	err  error
}

func (f *fakeSource) Fetch(context.Context) (environment.Data, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func boolPtr(b bool) *bool { return &b }

func safeData(now time.Time) environment.Data {
	return environment.Data{
		"vaisala": {
			"rain": {Value: 0, Unsafe: boolPtr(false), Date: models.UTCTime(now), Cadence: 10},
		},
	}
}

func unsafeData(now time.Time) environment.Data {
	return environment.Data{
		"vaisala": {
			"rain": {Value: 1, Unsafe: boolPtr(true), Date: models.UTCTime(now), Cadence: 10},
		},
	}
}

func claspConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Daemon:            "clasp_ops",
		ActionsModule:     "clasp",
		ScriptsModule:     "clasp",
		EnvironmentDaemon: "http://environment.test:9002/latest",
		EnvironmentConditions: []config.ConditionConfig{
			{Label: "Rain", Sensors: []config.SensorConfig{
				{Label: "Rain detector", Sensor: "vaisala.rain"},
			}},
		},
		SiteLatitude:     28.76,
		SiteLongitude:    -17.88,
		SiteElevation:    2396,
		SunAltitudeLimit: 5,
		ControlMachines:  []string{"10.0.0.1"},
		PipelineMachines: []string{"10.0.0.2"},
		Dome:             &config.DomeConfig{Module: "simulated"},
	}
	require.Empty(t, cfg.Validate(config.Registries{}))
	return cfg
}

type harness struct {
	daemon  *Daemon
	clk     *clock.Fake
	src     *fakeSource
	backend *dome.Simulated
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2024, 3, 14, 22, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	src := &fakeSource{data: safeData(now)}
	backend := dome.NewSimulated(0)
	daemon, err := New(Options{
		Config:      claspConfig(t),
		Clock:       clk,
		Source:      src,
		DomeBackend: backend,
	})
	require.NoError(t, err)
	t.Cleanup(daemon.Close)
	return &harness{daemon: daemon, clk: clk, src: src, backend: backend}
}

// tick refreshes the fake sensor dates so age is governed by the fake
// clock, then runs one reconciliation pass.
func (h *harness) tick(unsafe bool) {
	if unsafe {
		h.src.data = unsafeData(h.clk.Now())
	} else {
		h.src.data = safeData(h.clk.Now())
	}
	h.daemon.RunTick(context.Background())
}

func (h *harness) enableAutomatic(t *testing.T) {
	t.Helper()
	require.Equal(t, models.Succeeded, h.daemon.DomeControl(true).Code)
	require.Equal(t, models.Succeeded, h.daemon.TelControl(true).Code)
}

func testSchedule(actions string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"night": "2024-03-14",
		"dome": {"open": "2024-03-14T21:00:00Z", "close": "2024-03-15T06:00:00Z"}%s
	}`, actions))
}

func TestSafeOpen(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)

	res := h.daemon.ScheduleObservations(testSchedule(""))
	require.Equal(t, models.Succeeded, res.Code, res.Errors)

	h.tick(false)
	status := h.daemon.Status()
	require.NotNil(t, status.Dome)
	assert.Equal(t, models.DomeOpen, status.Dome.Status)
	require.NotNil(t, status.Dome.RequestedOpenDate)
	require.NotNil(t, status.Dome.RequestedCloseDate)
}

func TestUnsafeBlocksOpen(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(true)

	res := h.daemon.ScheduleObservations(testSchedule(""))
	assert.Equal(t, models.EnvironmentNotSafe, res.Code)

	h.tick(true)
	status := h.daemon.Status()
	assert.Equal(t, models.DomeClosed, status.Dome.Status)
	assert.Nil(t, status.Dome.RequestedOpenDate)
}

func TestManualLockout(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)
	require.Equal(t, models.Succeeded, h.daemon.ScheduleObservations(testSchedule("")).Code)
	h.tick(false)
	require.Equal(t, models.DomeOpen, h.daemon.Status().Dome.Status)

	res := h.daemon.DomeControl(false)
	assert.Equal(t, models.DomeNotClosed, res.Code)
	status := h.daemon.Status()
	assert.Equal(t, models.ModeAutomatic, status.Dome.Mode)
	assert.Equal(t, models.DomeOpen, status.Dome.Status)
}

func TestAtomicRollback(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)

	res := h.daemon.ScheduleObservations(testSchedule(`,
		"actions": [{"type": "Teleport"}]`))
	assert.Equal(t, models.InvalidSchedule, res.Code)
	assert.NotEmpty(t, res.Errors)

	status := h.daemon.Status()
	assert.Nil(t, status.Dome.RequestedOpenDate)
	assert.Empty(t, status.Telescope.Schedule)
}

func TestRollbackWhenTelescopeNotAutomatic(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, models.Succeeded, h.daemon.DomeControl(true).Code)
	h.tick(false)

	// Valid schedule, but the telescope is still Manual: the window set
	// for the dome must be rolled back before the call returns.
	res := h.daemon.ScheduleObservations(testSchedule(`,
		"actions": [{"type": "Wait", "delay": 30}]`))
	assert.Equal(t, models.TelescopeNotAutomatic, res.Code)
	status := h.daemon.Status()
	assert.Nil(t, status.Dome.RequestedOpenDate)
	assert.Empty(t, status.Telescope.Schedule)
}

func TestMidWindowUnsafeClosesAndReopens(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)
	require.Equal(t, models.Succeeded, h.daemon.ScheduleObservations(testSchedule("")).Code)
	h.tick(false)
	require.Equal(t, models.DomeOpen, h.daemon.Status().Dome.Status)

	// Rain at 23:00: the dome closes but the window survives.
	h.clk.Advance(time.Hour)
	h.tick(true)
	status := h.daemon.Status()
	assert.Equal(t, models.DomeClosed, status.Dome.Status)
	assert.NotNil(t, status.Dome.RequestedOpenDate)
	assert.NotNil(t, status.Dome.RequestedCloseDate)

	// Clear at 23:30: the open is re-issued.
	h.clk.Advance(30 * time.Minute)
	h.tick(false)
	assert.Equal(t, models.DomeOpen, h.daemon.Status().Dome.Status)
}

func TestStopTelescopeDrainsQueue(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)

	res := h.daemon.ScheduleObservations(testSchedule(`,
		"actions": [
			{"type": "Wait", "delay": 3600},
			{"type": "Wait", "delay": 3600},
			{"type": "Wait", "delay": 3600}
		]`))
	require.Equal(t, models.Succeeded, res.Code, res.Errors)

	require.Eventually(t, func() bool {
		sched := h.daemon.Status().Telescope.Schedule
		return len(sched) == 3 && sched[0].State == models.ActionRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, models.Succeeded, h.daemon.StopTelescope().Code)
	require.Eventually(t, func() bool {
		sched := h.daemon.Status().Telescope.Schedule
		for _, a := range sched {
			if a.State != models.ActionAborted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.ModeAutomatic, h.daemon.Status().Telescope.Mode)

	// Repeating the stop is a no-op.
	require.Equal(t, models.Succeeded, h.daemon.StopTelescope().Code)
}

func TestValidateSchedule(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, models.Succeeded, h.daemon.ValidateSchedule(testSchedule("")).Code)

	res := h.daemon.ValidateSchedule(json.RawMessage(`{"dome": {"open": "2024-03-14T21:00:00Z", "close": "2024-03-15T06:00:00Z"}}`))
	assert.Equal(t, models.InvalidSchedule, res.Code)
	assert.NotEmpty(t, res.Errors)
}

func TestSetDomeWindowDefaultsToTonight(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)

	res := h.daemon.SetDomeWindow(time.Time{}, time.Time{})
	require.Equal(t, models.Succeeded, res.Code, res.Errors)
	status := h.daemon.Status()
	require.NotNil(t, status.Dome.RequestedOpenDate)
	require.NotNil(t, status.Dome.RequestedCloseDate)
	assert.Equal(t, h.clk.Now(), status.Dome.RequestedOpenDate.Time())
	// Tonight's darkness at La Palma ends in the early morning.
	closeAt := status.Dome.RequestedCloseDate.Time()
	assert.Equal(t, 15, closeAt.Day())
	assert.Less(t, closeAt.Hour(), 10)
}

func TestRunScriptCommitsSchedule(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)

	res := h.daemon.RunScript("flats", []string{"morning"})
	require.Equal(t, models.Succeeded, res.Code, res.Errors)
	status := h.daemon.Status()
	assert.NotNil(t, status.Dome.RequestedOpenDate)
	require.Len(t, status.Telescope.Schedule, 1)
	assert.Equal(t, "SkyFlats", status.Telescope.Schedule[0].Name)

	assert.Equal(t, models.Failed, h.daemon.RunScript("nope", nil).Code)
}

func TestClearDomeWindow(t *testing.T) {
	h := newHarness(t)
	h.enableAutomatic(t)
	h.tick(false)
	require.Equal(t, models.Succeeded, h.daemon.ScheduleObservations(testSchedule("")).Code)
	require.NotNil(t, h.daemon.Status().Dome.RequestedOpenDate)

	require.Equal(t, models.Succeeded, h.daemon.ClearDomeWindow().Code)
	assert.Nil(t, h.daemon.Status().Dome.RequestedOpenDate)
	h.tick(false)
	assert.Equal(t, models.DomeClosed, h.daemon.Status().Dome.Status)
}

func TestHealthSnapshot(t *testing.T) {
	h := newHarness(t)
	h.tick(false)
	health := h.daemon.HealthSnapshot()
	assert.Equal(t, "Manual", health.TelescopeMode)
	assert.Equal(t, "Manual", health.DomeMode)
	assert.Zero(t, health.TickAge)
}
