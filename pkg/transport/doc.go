// Package transport provides the frame transport used by the connection
// manager.
//
// A Transport carries whole frames over one full-duplex connection. It knows
// nothing about channels or envelopes. The contract is small on purpose so it
// can be faked in tests:
//
//   - Connect dials a new underlying connection, replacing any previous one.
//   - Send writes one frame.
//   - Receive blocks for the next text or binary frame.
//   - Ping round-trips a liveness probe.
//   - Close tears the connection down with a close code.
//
// # WebSocket
//
// WebSocket implements Transport on top of github.com/gorilla/websocket.
// Outbound frames are binary by default. Inbound text and binary frames are
// both passed up; control frames are handled internally.
//
// # TLS
//
// wss:// endpoints use the crypto/tls configuration in WebSocketConfig.TLS.
// NewClientTLSConfig builds one from certificates in memory and
// LoadClientTLSConfig from PEM files. Client certificates are optional.
//
// # Keep-Alive
//
// The transport answers pings from the server and reports pongs for its own
// pings. Ping scheduling is the connection manager's job:
//   - Ping interval: 30 seconds (connection manager default)
//   - Pong timeout: 5 seconds
package transport
