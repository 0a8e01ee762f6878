// Package connection manages the lifecycle of the single transport connection
// shared by all channels of a client.
//
// This package handles:
//   - Connection state tracking
//   - Automatic reconnection on connection loss
//   - Liveness checks through periodic pings
//   - The receive loop that feeds inbound frames to the dispatcher
//
// # States
//
//	DISCONNECTED --Connect--> CONNECTING --ok--> CONNECTED
//	     ^                        |                  |
//	     +-------- failure -------+---- loss --------+
//
// Close moves any state to CLOSED, which is terminal.
//
// # Reconnection Strategy
//
// Every failure (connect error, ping error, receive error, send error) moves
// the manager to DISCONNECTED and schedules one reconnect after a fixed delay
// (3 seconds by default). Retries are unbounded and the delay does not grow.
//
// # Generations
//
// Each successful connect starts a new generation with its own receive and
// ping goroutines. Loss reports carry the generation they were observed on,
// so a ping failure and a receive failure caused by the same broken socket
// schedule exactly one reconnect.
//
// # Callbacks
//
// The on-connected hook runs on the connecting goroutine after the state has
// become CONNECTED and before the receive loop starts. The registry uses it to
// replay listen requests. Frame callbacks run on the receive goroutine; they
// must not call Close.
package connection
