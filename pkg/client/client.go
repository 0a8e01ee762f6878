package client

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chanmux/chanmux-go/pkg/connection"
	"github.com/chanmux/chanmux-go/pkg/dispatch"
	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/registry"
	"github.com/chanmux/chanmux-go/pkg/transport"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

// Client errors.
var (
	ErrNoTransport  = errors.New("no transport or URL configured")
	ErrClientClosed = errors.New("client closed")
)

// Config configures a Client.
type Config struct {
	// Transport carries frames. If nil, a WebSocket transport is built from URL.
	Transport transport.Transport

	// URL is the ws:// or wss:// endpoint used when Transport is nil.
	URL string

	// Header is sent with the WebSocket handshake.
	Header http.Header

	// TLS configures wss:// connections when Transport is nil.
	TLS *tls.Config

	// Codec encodes envelopes and payloads (default: JSON).
	Codec wire.Codec

	// HeartbeatInterval is the time between pings (default: 30s).
	HeartbeatInterval time.Duration

	// ReconnectDelay is the delay before reconnecting after a loss (default: 3s).
	ReconnectDelay time.Duration

	// ConnectTimeout bounds each connect attempt (default: 30s).
	ConnectTimeout time.Duration

	// Logger is used for operational logging. If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures frames, envelopes and state changes.
	ProtocolLogger log.Logger
}

// Client multiplexes channel subscriptions over one connection.
type Client struct {
	conn   *connection.Manager
	reg    *registry.Registry
	disp   *dispatch.Dispatcher
	codec  wire.Codec
	logger *slog.Logger

	closed atomic.Bool
}

// New creates a client. No connection is made until Connect is called or the
// first subscription is added.
func New(config Config) (*Client, error) {
	codec := config.Codec
	if codec == nil {
		codec = wire.JSONCodec{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := config.Transport
	endpoint := config.URL
	if t == nil {
		if config.URL == "" {
			return nil, ErrNoTransport
		}
		kind := transport.FrameBinary
		if codec.Name() == "json" {
			kind = transport.FrameText
		}
		ws, err := transport.NewWebSocket(transport.WebSocketConfig{
			URL:              config.URL,
			Header:           config.Header,
			TLS:              config.TLS,
			HandshakeTimeout: config.ConnectTimeout,
			SendKind:         kind,
		})
		if err != nil {
			return nil, err
		}
		t = ws
	}

	conn := connection.NewManager(t, connection.Config{
		HeartbeatInterval: config.HeartbeatInterval,
		ReconnectDelay:    config.ReconnectDelay,
		ConnectTimeout:    config.ConnectTimeout,
		Endpoint:          endpoint,
		Logger:            logger.With("component", "connection"),
		ProtocolLogger:    config.ProtocolLogger,
	})

	// Higher layers log through the manager so their events carry the
	// connection ID.
	plog := log.LoggerFunc(conn.LogEvent)

	reg := registry.New(conn, registry.Config{
		Codec:          codec,
		Logger:         logger.With("component", "registry"),
		ProtocolLogger: plog,
	})
	disp := dispatch.New(reg, dispatch.Config{
		Codec:          codec,
		Logger:         logger.With("component", "dispatch"),
		ProtocolLogger: plog,
	})

	conn.OnConnected(func(ctx context.Context) {
		if n := reg.ReplayAll(ctx); n > 0 {
			logger.Debug("listeners replayed", "count", n)
		}
	})
	conn.OnFrame(disp.HandleFrame)

	return &Client{
		conn:   conn,
		reg:    reg,
		disp:   disp,
		codec:  codec,
		logger: logger,
	}, nil
}

// Connect connects now and waits for the outcome. On failure a reconnect is
// scheduled and the error is returned.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.conn.Connect(ctx)
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.conn.State()
}

// Status returns the connection state and the error behind the last loss.
func (c *Client) Status() connection.Status {
	return c.conn.Status()
}

// OnStateChange sets a callback for connection state changes.
func (c *Client) OnStateChange(fn func(oldState, newState connection.State)) {
	c.conn.OnStateChange(fn)
}

// Len returns the number of registered subscriptions.
func (c *Client) Len() int {
	return c.reg.Len()
}

// Unsubscribe cancels sub. It is the same as sub.Cancel().
func (c *Client) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

// Close closes the connection and stops background work. It must not be
// called from a subscription callback. Later calls do nothing.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.conn.Close()
	c.reg.Close()
	c.logger.Info("client closed")
	return nil
}
