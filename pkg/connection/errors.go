package connection

import (
	"errors"
	"fmt"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("not connected")
)

// TransportError wraps a failure of the underlying transport. It always
// leads to a reconnect and is never fatal.
type TransportError struct {
	// Op is "connect", "send", "receive" or "ping".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
