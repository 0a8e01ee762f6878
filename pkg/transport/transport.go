package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	ErrNotConnected = errors.New("transport not connected")
	ErrPongTimeout  = errors.New("pong timeout")
)

// Close codes passed to Transport.Close.
const (
	// CloseNormal is used for an orderly shutdown.
	CloseNormal = 1000

	// CloseAbnormal marks a connection dropped after a liveness failure.
	// No close frame is sent for it.
	CloseAbnormal = 1006
)

// FrameKind distinguishes text and binary frames.
type FrameKind uint8

const (
	// FrameBinary is a binary frame.
	FrameBinary FrameKind = iota

	// FrameText is a UTF-8 text frame.
	FrameText
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameBinary:
		return "BINARY"
	case FrameText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// Frame is one message read from or written to a transport.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Transport is a full-duplex frame connection.
//
// Send, Ping and Close may be called concurrently with each other and with a
// single outstanding Receive. Close must not block for long; it is called
// while the connection manager holds its lock.
type Transport interface {
	// Connect establishes a new connection.
	Connect(ctx context.Context) error

	// Send writes one frame.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next frame arrives, the connection fails or
	// ctx is done.
	Receive(ctx context.Context) (Frame, error)

	// Ping sends a liveness probe and waits for the answer.
	Ping(ctx context.Context) error

	// Close closes the current connection with the given code.
	// Closing a transport that is not connected is a no-op.
	Close(code int, reason string) error
}
