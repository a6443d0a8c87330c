package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is the wire timestamp format: UTC ISO-8601 to whole seconds.
const timeLayout = "2006-01-02T15:04:05Z"

// UTCTime marshals as YYYY-MM-DDTHH:MM:SSZ and accepts RFC3339 input.
type UTCTime time.Time

func (t UTCTime) Time() time.Time { return time.Time(t) }

func (t UTCTime) IsZero() bool { return time.Time(t).IsZero() }

func (t UTCTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(timeLayout))
}

func (t *UTCTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = UTCTime(parsed)
	return nil
}

// ParseTime accepts the wire layout plus general RFC3339 timestamps.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02T15:04Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Task is one entry of an action's task descriptor list: either a bare
// string or a named group of sub-tasks, mirroring the wire shape
// (string | list-of-string).
type Task struct {
	Name string
	Sub  []string
}

func (t Task) MarshalJSON() ([]byte, error) {
	if t.Sub == nil {
		return json.Marshal(t.Name)
	}
	return json.Marshal(t.Sub)
}

func (t *Task) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(b, &t.Sub)
	}
	return json.Unmarshal(b, &t.Name)
}

// SensorStatus is one sensor's contribution to a condition.
type SensorStatus struct {
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
	Unsafe bool    `json:"unsafe"`
	Stale  bool    `json:"stale"`
}

// EnvironmentStatus is the environment block of the status payload.
type EnvironmentStatus struct {
	Updated    UTCTime                   `json:"updated"`
	Safe       bool                      `json:"safe"`
	Conditions map[string][]SensorStatus `json:"conditions"`
}

// DomeStatusPayload is the dome block of the status payload.
type DomeStatusPayload struct {
	Mode               OperationsMode `json:"mode"`
	RequestedMode      OperationsMode `json:"requested_mode"`
	Status             DomeStatus     `json:"status"`
	StatusUpdated      UTCTime        `json:"status_updated"`
	RequestedOpenDate  *UTCTime       `json:"requested_open_date,omitempty"`
	RequestedCloseDate *UTCTime       `json:"requested_close_date,omitempty"`
}

// ActionStatusPayload is one schedule entry of the telescope block.
type ActionStatusPayload struct {
	Name  string      `json:"name"`
	Tasks []Task      `json:"tasks"`
	State ActionState `json:"state"`
}

// TelescopeStatusPayload is the telescope block of the status payload.
type TelescopeStatusPayload struct {
	Mode          OperationsMode        `json:"mode"`
	RequestedMode OperationsMode        `json:"requested_mode"`
	StatusUpdated UTCTime               `json:"status_updated"`
	Schedule      []ActionStatusPayload `json:"schedule"`
}

// StatusPayload is the full status() object.
type StatusPayload struct {
	Environment EnvironmentStatus       `json:"environment"`
	Dome        *DomeStatusPayload      `json:"dome,omitempty"`
	Telescope   *TelescopeStatusPayload `json:"telescope,omitempty"`
	ConfigStale bool                    `json:"config_stale,omitempty"`
}

// ScheduleDome is the optional dome window block of a schedule.
type ScheduleDome struct {
	Open  UTCTime `json:"open"`
	Close UTCTime `json:"close"`
}

// ActionDescriptor is one raw schedule action entry; Type selects the
// registered action and the remainder are its parameters.
type ActionDescriptor map[string]any

// Type returns the descriptor's action type, if present.
func (d ActionDescriptor) Type() (string, bool) {
	t, ok := d["type"].(string)
	return t, ok
}

// Schedule is the external JSON plan for one night.
type Schedule struct {
	Night   string             `json:"night"`
	Dome    *ScheduleDome      `json:"dome,omitempty"`
	Actions []ActionDescriptor `json:"actions,omitempty"`
}
