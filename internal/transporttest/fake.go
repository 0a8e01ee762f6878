// Package transporttest provides a scriptable in-memory transport.
package transporttest

import (
	"context"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/transport"
)

// Fake is an in-memory transport.Transport. Tests push inbound frames, read
// captured sends, and inject connect, ping, send and receive failures.
type Fake struct {
	mu sync.Mutex

	connected bool
	done      chan struct{}
	recvFail  chan error

	connects int
	pings    int
	sent     [][]byte
	closes   []int

	connectErr  error
	connectGate chan struct{}
	pingErr     error
	sendErr     error

	inbound chan transport.Frame
}

// NewFake returns a disconnected Fake.
func NewFake() *Fake {
	return &Fake{
		inbound: make(chan transport.Frame, 256),
	}
}

// Connect implements transport.Transport.
func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	gate := f.connectGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connected {
		close(f.done)
	}
	f.connected = true
	f.done = make(chan struct{})
	f.recvFail = make(chan error, 1)
	return nil
}

// Send implements transport.Transport.
func (f *Fake) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

// Receive implements transport.Transport.
func (f *Fake) Receive(ctx context.Context) (transport.Frame, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return transport.Frame{}, transport.ErrNotConnected
	}
	done, fail := f.done, f.recvFail
	f.mu.Unlock()

	select {
	case frame := <-f.inbound:
		return frame, nil
	case err := <-fail:
		return transport.Frame{}, err
	case <-done:
		return transport.Frame{}, transport.ErrNotConnected
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

// Ping implements transport.Transport.
func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pings++
	if !f.connected {
		return transport.ErrNotConnected
	}
	return f.pingErr
}

// Close implements transport.Transport.
func (f *Fake) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes = append(f.closes, code)
	if f.connected {
		f.connected = false
		close(f.done)
	}
	return nil
}

// Push queues an inbound frame.
func (f *Fake) Push(frame transport.Frame) {
	f.inbound <- frame
}

// PushText queues an inbound text frame.
func (f *Fake) PushText(data []byte) {
	f.Push(transport.Frame{Kind: transport.FrameText, Data: data})
}

// PushBinary queues an inbound binary frame.
func (f *Fake) PushBinary(data []byte) {
	f.Push(transport.Frame{Kind: transport.FrameBinary, Data: data})
}

// FailReceive makes the outstanding (or next) Receive on the current
// connection return err.
func (f *Fake) FailReceive(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recvFail == nil {
		return
	}
	select {
	case f.recvFail <- err:
	default:
	}
}

// SetConnectError makes every Connect fail with err until it is reset to nil.
func (f *Fake) SetConnectError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// SetConnectGate makes Connect block until gate is closed. Nil removes it.
func (f *Fake) SetConnectGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectGate = gate
}

// SetPingError makes Ping fail with err until it is reset to nil.
func (f *Fake) SetPingError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// SetSendError makes Send fail with err until it is reset to nil.
func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// Connected reports whether the fake has a live connection.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Connects returns the number of Connect calls.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Pings returns the number of Ping calls.
func (f *Fake) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// Sent returns a copy of every frame sent so far.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// ResetSent clears the captured sends.
func (f *Fake) ResetSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// Closes returns the close codes passed to Close, in order.
func (f *Fake) Closes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.closes...)
}

var _ transport.Transport = (*Fake)(nil)
