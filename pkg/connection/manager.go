package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/transport"
)

// Config configures a Manager.
type Config struct {
	// HeartbeatInterval is the time between pings (default: 30s).
	HeartbeatInterval time.Duration

	// ReconnectDelay is the fixed delay before a reconnect (default: 3s).
	ReconnectDelay time.Duration

	// Policy overrides ReconnectDelay when set.
	Policy ReconnectPolicy

	// ConnectTimeout bounds each Transport.Connect call (default: 30s).
	ConnectTimeout time.Duration

	// Endpoint is recorded in protocol log events.
	Endpoint string

	// Logger is used for operational logging. If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives frame and state events. If nil, capture is disabled.
	ProtocolLogger log.Logger
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Policy == nil {
		c.Policy = FixedDelay(c.ReconnectDelay)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
}

// Manager owns one transport and keeps it connected.
type Manager struct {
	transport transport.Transport
	config    Config
	logger    *slog.Logger
	plog      log.Logger

	// Lifetime of the manager; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex

	state   State
	lastErr error

	// Current generation and its cancel func and connection ID.
	gen       uint64
	genCancel context.CancelFunc
	connID    string

	attempts       int
	reconnectTimer *time.Timer

	// loops tracks receive and ping goroutines, bg tracks connect
	// goroutines and reconnect timers.
	loops sync.WaitGroup
	bg    sync.WaitGroup

	onStateChange func(oldState, newState State)
	onConnected   func(ctx context.Context)
	onFrame       func(frame transport.Frame)
}

// NewManager creates a manager for t. No connection is made until Connect
// or Start is called.
func NewManager(t transport.Transport, config Config) *Manager {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		transport: t,
		config:    config,
		logger:    config.Logger,
		plog:      config.ProtocolLogger,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current state and the last disconnection error.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, LastError: m.lastErr}
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Connected returns the current generation and whether it is connected.
// The generation changes on every successful connect.
func (m *Manager) Connected() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen, m.state == StateConnected
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets the hook run after every successful connect, before the
// receive loop starts. ctx is cancelled when that connection is lost.
func (m *Manager) OnConnected(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnFrame sets the handler for inbound frames. It takes effect on the next
// connection.
func (m *Manager) OnFrame(fn func(frame transport.Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// Start initiates a connect in the background if the manager is
// disconnected. It never blocks.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.bg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.bg.Done()
		_ = m.Connect(m.ctx)
	}()
}

// Connect connects the transport. It returns nil at once if a connect is in
// progress or the manager is already connected. On failure a reconnect is
// scheduled and the error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrConnectionClosed
	case StateConnecting, StateConnected:
		m.mu.Unlock()
		return nil
	}
	m.stopReconnectTimerLocked()
	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(oldState, StateConnecting, "")

	// The previous generation must be fully stopped before the transport
	// is reused.
	m.loops.Wait()

	connectCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	stop := context.AfterFunc(m.ctx, cancel)
	err := m.transport.Connect(connectCtx)
	stop()
	cancel()

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		if err == nil {
			_ = m.transport.Close(transport.CloseNormal, "client closed")
		}
		return ErrConnectionClosed
	}

	if err != nil {
		terr := &TransportError{Op: "connect", Err: err}
		m.state = StateDisconnected
		m.lastErr = terr
		delay := m.scheduleReconnectLocked()
		m.mu.Unlock()

		m.logger.Warn("connect failed", "error", err, "retry_in", delay)
		m.logError(log.LayerTransport, terr, "connect")
		m.notifyState(StateConnecting, StateDisconnected, terr.Error())
		return terr
	}

	m.gen++
	gen := m.gen
	genCtx, genCancel := context.WithCancel(m.ctx)
	m.genCancel = genCancel
	m.connID = uuid.NewString()
	m.state = StateConnected
	m.lastErr = nil
	m.attempts = 0
	m.loops.Add(2)
	onConnected := m.onConnected
	onFrame := m.onFrame
	m.mu.Unlock()

	m.logger.Info("connected", "endpoint", m.config.Endpoint, "generation", gen)
	m.notifyState(StateConnecting, StateConnected, "")

	if onConnected != nil {
		onConnected(genCtx)
	}

	go m.receiveLoop(genCtx, gen, onFrame)
	go m.heartbeatLoop(genCtx, gen)
	return nil
}

// Send writes data on the current connection. A transport failure is
// reported as connection loss and returned as a *TransportError.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	gen := m.gen
	m.mu.Unlock()

	if err := m.transport.Send(ctx, data); err != nil {
		terr := &TransportError{Op: "send", Err: err}
		if ctx.Err() == nil && !errors.Is(err, transport.ErrNotConnected) {
			m.connectionLost(gen, terr)
		}
		return terr
	}

	m.logEvent(log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame:     log.NewFrameEvent(data, false),
	})
	return nil
}

// Close stops all loops and timers, closes the transport with a normal
// closure and moves to StateClosed. Later calls do nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateClosed
	m.lastErr = nil
	if m.genCancel != nil {
		m.genCancel()
	}
	m.stopReconnectTimerLocked()
	m.mu.Unlock()

	m.cancel()

	if oldState == StateConnected {
		code := transport.CloseNormal
		m.logEvent(log.Event{
			Direction:  log.DirectionOut,
			Layer:      log.LayerTransport,
			Category:   log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code},
		})
	}
	_ = m.transport.Close(transport.CloseNormal, "client closed")

	m.loops.Wait()
	m.bg.Wait()

	m.logger.Info("connection manager closed")
	m.notifyState(oldState, StateClosed, "")
}

// receiveLoop keeps exactly one Receive outstanding until the generation ends.
func (m *Manager) receiveLoop(ctx context.Context, gen uint64, onFrame func(transport.Frame)) {
	defer m.loops.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := m.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectionLost(gen, &TransportError{Op: "receive", Err: err})
			return
		}

		m.logEvent(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerTransport,
			Category:  log.CategoryMessage,
			Frame:     log.NewFrameEvent(frame.Data, frame.Kind == transport.FrameText),
		})
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

// heartbeatLoop pings at the configured interval until the generation ends.
func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64) {
	defer m.loops.Done()

	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.logEvent(log.Event{
			Direction:  log.DirectionOut,
			Layer:      log.LayerTransport,
			Category:   log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPing},
		})
		if err := m.transport.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectionLost(gen, &TransportError{Op: "ping", Err: err})
			return
		}
		m.logEvent(log.Event{
			Direction:  log.DirectionIn,
			Layer:      log.LayerTransport,
			Category:   log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPong},
		})
	}
}

// connectionLost handles a failure observed on generation gen. Only the
// first report for the current connected generation has an effect.
func (m *Manager) connectionLost(gen uint64, err error) {
	m.mu.Lock()
	if m.state != StateConnected || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.lastErr = err
	m.genCancel()
	_ = m.transport.Close(transport.CloseAbnormal, "")
	delay := m.scheduleReconnectLocked()
	m.mu.Unlock()

	code := transport.CloseAbnormal
	m.logEvent(log.Event{
		Direction:  log.DirectionOut,
		Layer:      log.LayerTransport,
		Category:   log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code},
	})
	m.logger.Warn("connection lost", "error", err, "generation", gen, "retry_in", delay)
	m.logError(log.LayerTransport, err, "connection lost")
	m.notifyState(StateConnected, StateDisconnected, err.Error())
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending.
// Must be called with m.mu held.
func (m *Manager) scheduleReconnectLocked() time.Duration {
	if m.state == StateClosed || m.reconnectTimer != nil {
		return 0
	}
	m.attempts++
	delay := m.config.Policy.Delay(m.attempts)

	var timer *time.Timer
	m.bg.Add(1)
	timer = time.AfterFunc(delay, func() {
		defer m.bg.Done()

		m.mu.Lock()
		if m.reconnectTimer == timer {
			m.reconnectTimer = nil
		}
		closed := m.state == StateClosed
		m.mu.Unlock()

		if !closed {
			_ = m.Connect(m.ctx)
		}
	})
	m.reconnectTimer = timer
	return delay
}

// stopReconnectTimerLocked cancels a pending reconnect. Must be called with
// m.mu held.
func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer == nil {
		return
	}
	if m.reconnectTimer.Stop() {
		m.bg.Done()
	}
	m.reconnectTimer = nil
}

func (m *Manager) notifyState(oldState, newState State, reason string) {
	m.logEvent(log.Event{
		Layer:    log.LayerTransport,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})

	m.mu.Lock()
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

func (m *Manager) logError(layer log.Layer, err error, op string) {
	m.logEvent(log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}

// logEvent stamps and records a protocol event.
func (m *Manager) logEvent(event log.Event) {
	m.mu.Lock()
	event.ConnectionID = m.connID
	m.mu.Unlock()

	event.Timestamp = time.Now()
	event.Endpoint = m.config.Endpoint
	m.plog.Log(event)
}

// LogEvent records a protocol event stamped with the current connection ID.
// Higher layers use it so their events correlate with frames.
func (m *Manager) LogEvent(event log.Event) {
	m.logEvent(event)
}
