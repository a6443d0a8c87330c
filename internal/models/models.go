// Package models defines the data model shared by the controllers and the
// remote surface: operations modes, dome status, action state, the command
// status taxonomy, and the JSON wire shapes reported by status().
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationsMode governs a controller's behaviour.
type OperationsMode int

const (
	ModeManual OperationsMode = iota
	ModeAutomatic
	ModeError
	// ModeOffline names a controller with no backend configured. No
	// controller in the daemon reports it: a site without a dome omits the
	// dome block from status instead.
	ModeOffline
)

var modeNames = map[OperationsMode]string{
	ModeManual:    "Manual",
	ModeAutomatic: "Automatic",
	ModeError:     "Error",
	ModeOffline:   "Offline",
}

func (m OperationsMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("OperationsMode(%d)", int(m))
}

func (m OperationsMode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *OperationsMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for k, v := range modeNames {
		if v == s {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("unknown operations mode %q", s)
}

// DomeStatus is the state reported by the dome backend. Timeout and
// HardwareError are sticky until cleared by an operator.
type DomeStatus int

const (
	DomeClosed DomeStatus = iota
	DomeOpen
	DomeMoving
	DomeTimeout
	DomeHardwareError
)

var domeStatusNames = map[DomeStatus]string{
	DomeClosed:        "Closed",
	DomeOpen:          "Open",
	DomeMoving:        "Moving",
	DomeTimeout:       "Timeout",
	DomeHardwareError: "Hardware Error",
}

func (s DomeStatus) String() string {
	if n, ok := domeStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("DomeStatus(%d)", int(s))
}

func (s DomeStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *DomeStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for k, v := range domeStatusNames {
		if v == str {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown dome status %q", str)
}

// ActionState is the lifecycle state of a queued action.
type ActionState int

const (
	ActionPending ActionState = iota
	ActionRunning
	ActionComplete
	ActionAborted
	ActionError
)

var actionStateNames = map[ActionState]string{
	ActionPending:  "Pending",
	ActionRunning:  "Running",
	ActionComplete: "Complete",
	ActionAborted:  "Aborted",
	ActionError:    "Error",
}

func (s ActionState) String() string {
	if n, ok := actionStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ActionState(%d)", int(s))
}

func (s ActionState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *ActionState) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for k, v := range actionStateNames {
		if v == str {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown action state %q", str)
}

// Window is a scheduled dome open interval. OpenAt < CloseAt always.
type Window struct {
	OpenAt  time.Time
	CloseAt time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.OpenAt) && t.Before(w.CloseAt)
}
