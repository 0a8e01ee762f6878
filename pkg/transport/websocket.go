package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Keep-alive and dial defaults.
const (
	// DefaultPongTimeout is how long Ping waits for the pong.
	DefaultPongTimeout = 5 * time.Second

	// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
	DefaultHandshakeTimeout = 30 * time.Second

	// closeWriteTimeout bounds the close frame write in Close.
	closeWriteTimeout = time.Second
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	// URL is the server endpoint (ws:// or wss://).
	URL string

	// Header is added to the opening handshake request.
	Header http.Header

	// HandshakeTimeout bounds the opening handshake (default: 30s).
	HandshakeTimeout time.Duration

	// PongTimeout bounds Ping (default: 5s).
	PongTimeout time.Duration

	// SendKind selects the frame kind for Send (default: FrameBinary).
	SendKind FrameKind

	// TLS configures wss:// connections. Nil uses the system defaults.
	TLS *tls.Config

	// Dialer overrides the default dialer. HandshakeTimeout and TLS are
	// ignored when set.
	Dialer *websocket.Dialer
}

// WebSocket is a Transport over a gorilla/websocket connection.
// Each Connect dials a fresh connection.
type WebSocket struct {
	config WebSocketConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	// writeMu serializes data frame writes. Control frames use WriteControl,
	// which is safe to call concurrently.
	writeMu sync.Mutex

	pongCh chan struct{}
}

// NewWebSocket creates a WebSocket transport. No connection is made until
// Connect is called.
func NewWebSocket(config WebSocketConfig) (*WebSocket, error) {
	if _, err := ParseEndpoint(config.URL); err != nil {
		return nil, err
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			TLSClientConfig:  config.TLS,
		}
	}

	return &WebSocket{
		config: config,
		dialer: dialer,
		pongCh: make(chan struct{}, 1),
	}, nil
}

// URL returns the configured endpoint.
func (w *WebSocket) URL() string {
	return w.config.URL
}

// Connect dials the server. A previous connection, if any, is closed first.
func (w *WebSocket) Connect(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.config.URL, w.config.Header.Clone())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial %s: %w (status %d)", w.config.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial %s: %w", w.config.URL, err)
	}

	conn.SetPongHandler(func(string) error {
		select {
		case w.pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	w.mu.Lock()
	old := w.conn
	w.conn = conn
	w.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// Send writes data as one frame of the configured kind.
func (w *WebSocket) Send(ctx context.Context, data []byte) error {
	conn := w.current()
	if conn == nil {
		return ErrNotConnected
	}

	mt := websocket.BinaryMessage
	if w.config.SendKind == FrameText {
		mt = websocket.TextMessage
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(mt, data)
}

// Receive reads the next data frame. Control frames are processed by the
// underlying connection while reading and are never returned.
func (w *WebSocket) Receive(ctx context.Context) (Frame, error) {
	conn := w.current()
	if conn == nil {
		return Frame{}, ErrNotConnected
	}

	// Unblock the read when ctx ends. The connection is unusable afterwards,
	// which is fine: ctx ends only when the connection is being torn down.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.NetConn().SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			return Frame{}, err
		}
		switch mt {
		case websocket.TextMessage:
			return Frame{Kind: FrameText, Data: data}, nil
		case websocket.BinaryMessage:
			return Frame{Kind: FrameBinary, Data: data}, nil
		}
	}
}

// Ping sends a ping control frame and waits for the matching pong.
// Pongs are only observed while a Receive is outstanding.
func (w *WebSocket) Ping(ctx context.Context) error {
	conn := w.current()
	if conn == nil {
		return ErrNotConnected
	}

	// Drop a stale pong from an earlier ping.
	select {
	case <-w.pongCh:
	default:
	}

	deadline := time.Now().Add(w.config.PongTimeout)
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return err
	}

	timer := time.NewTimer(w.config.PongTimeout)
	defer timer.Stop()

	select {
	case <-w.pongCh:
		return nil
	case <-timer.C:
		return ErrPongTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the current connection. For codes other than CloseAbnormal a
// close frame is sent first.
func (w *WebSocket) Close(code int, reason string) error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	if code != CloseAbnormal {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	}
	return conn.Close()
}

// Compile-time interface satisfaction check.
var _ Transport = (*WebSocket)(nil)
