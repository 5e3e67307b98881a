package connection

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a connection or, for a target feature,
// the aggregate of its children.
//
// The numeric order is significant: aggregation takes the maximum, so
// states that need the user's attention rank above the healthy ones.
type State int

const (
	Disconnected State = iota
	Connected
	FailureWhileDisconnecting
	Finalizing
	Connecting
	Disconnecting
	ReconnectingAfterFailure
	FailedToConnect
)

var stateNames = [...]string{
	Disconnected:              "DISCONNECTED",
	Connected:                 "CONNECTED",
	FailureWhileDisconnecting: "FAILURE_WHILE_DISCONNECTING",
	Finalizing:                "FINALIZING",
	Connecting:                "CONNECTING",
	Disconnecting:             "DISCONNECTING",
	ReconnectingAfterFailure:  "RECONNECTING_AFTER_FAILURE",
	FailedToConnect:           "FAILED_TO_CONNECT",
}

// String returns the wire name of the state, e.g. "FAILED_TO_CONNECT".
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsFailure reports whether the state carries a failure reason.
func (s State) IsFailure() bool {
	switch s {
	case FailureWhileDisconnecting, ReconnectingAfterFailure, FailedToConnect:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseState returns the state with the given wire name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Disconnected, fmt.Errorf("unknown connection state %q", name)
}

// Status is a state together with the reason for it. Reason is only
// meaningful for failure states; it is cleared for the others.
type Status struct {
	State  State
	Reason string
}

// NewStatus builds a Status, dropping the reason for non-failure states.
func NewStatus(state State, reason string) Status {
	if !state.IsFailure() {
		reason = ""
	}
	return Status{State: state, Reason: reason}
}

// Wire returns the {state, error} object used in connection_state
// notifications. error is empty unless the state is a failure.
func (s Status) Wire() map[string]any {
	reason := ""
	if s.State.IsFailure() {
		reason = s.Reason
	}
	return map[string]any{
		"state": s.State.String(),
		"error": reason,
	}
}

func (s Status) String() string {
	if s.State.IsFailure() && s.Reason != "" {
		return s.State.String() + ": " + s.Reason
	}
	return s.State.String()
}

// Max returns the status ranking highest in state order. Ties keep a.
func Max(a, b Status) Status {
	if b.State > a.State {
		return b
	}
	return a
}
