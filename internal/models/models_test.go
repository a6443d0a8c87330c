package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeJSONRoundTrip(t *testing.T) {
	for _, mode := range []OperationsMode{ModeManual, ModeAutomatic, ModeError, ModeOffline} {
		raw, err := json.Marshal(mode)
		require.NoError(t, err)
		var back OperationsMode
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, mode, back)
	}
	var m OperationsMode
	assert.Error(t, json.Unmarshal([]byte(`"Sideways"`), &m))
}

func TestDomeStatusNames(t *testing.T) {
	assert.Equal(t, "Hardware Error", DomeHardwareError.String())
	raw, err := json.Marshal(DomeTimeout)
	require.NoError(t, err)
	assert.Equal(t, `"Timeout"`, string(raw))
}

func TestUTCTimeFormat(t *testing.T) {
	ts := UTCTime(time.Date(2024, 3, 14, 22, 0, 0, 0, time.UTC))
	raw, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-14T22:00:00Z"`, string(raw))

	var back UTCTime
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-14T21:00Z"`), &back))
	assert.Equal(t, time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC), back.Time())

	assert.Error(t, json.Unmarshal([]byte(`"last tuesday"`), &back))
}

func TestTaskWireShape(t *testing.T) {
	tasks := []Task{
		{Name: "Slew to target"},
		{Sub: []string{"Acquire 10 flats", "Measure levels"}},
	}
	raw, err := json.Marshal(tasks)
	require.NoError(t, err)
	assert.JSONEq(t, `["Slew to target", ["Acquire 10 flats", "Measure levels"]]`, string(raw))

	var back []Task
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "Slew to target", back[0].Name)
	assert.Equal(t, []string{"Acquire 10 flats", "Measure levels"}, back[1].Sub)
}

func TestWindowContains(t *testing.T) {
	open := time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC)
	w := Window{OpenAt: open, CloseAt: open.Add(2 * time.Hour)}
	assert.True(t, w.Contains(open))
	assert.True(t, w.Contains(open.Add(time.Hour)))
	assert.False(t, w.Contains(open.Add(-time.Second)))
	assert.False(t, w.Contains(open.Add(2*time.Hour)))
}

func TestCommandStatusTaxonomy(t *testing.T) {
	assert.Equal(t, 0, int(Succeeded))
	assert.Equal(t, 1, int(Failed))
	assert.Equal(t, -101, int(CommunicationError))
	for _, s := range []CommandStatus{
		Succeeded, Failed, Blocked, InErrorState, InvalidControlIP, InvalidSchedule,
		DomeNotClosed, DomeNotAutomatic, TelescopeNotAutomatic, EnvironmentNotSafe,
		CommunicationError,
	} {
		assert.NotContains(t, s.Message(), "unknown")
	}
	res := ResultErrors(InvalidSchedule, []string{"bad window"})
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code": 5, "message": "schedule failed validation", "errors": ["bad window"]}`, string(raw))
}
