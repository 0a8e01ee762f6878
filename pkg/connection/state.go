package connection

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateClosed indicates the manager has been closed. It is terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Status is a state together with the error that caused the last
// disconnection. LastError is nil unless State is StateDisconnected.
type Status struct {
	State     State
	LastError error
}

// String returns the state name, with the last error if there is one.
func (s Status) String() string {
	if s.LastError != nil {
		return s.State.String() + " (" + s.LastError.Error() + ")"
	}
	return s.State.String()
}
