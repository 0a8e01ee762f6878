package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

// ErrClosed is reported to completions still pending when the registry closes.
var ErrClosed = errors.New("registry closed")

// ErrGone is returned by a DeliverFunc whose subscriber no longer exists.
// The message is not counted as delivered and the subscription is pruned.
var ErrGone = errors.New("subscriber gone")

// Sender is the connection the registry announces listeners on.
type Sender interface {
	// Send writes one frame. It fails when no connection is live.
	Send(ctx context.Context, data []byte) error

	// Connected returns the current connection generation and whether a
	// connection is live.
	Connected() (gen uint64, ok bool)
}

// Key identifies one subscription.
type Key struct {
	// ID is the local listener handle sent to the server.
	ID uuid.UUID

	// Channel is the channel the subscription listens on.
	Channel uuid.UUID
}

// String returns "channel/id".
func (k Key) String() string {
	return k.Channel.String() + "/" + k.ID.String()
}

// DeliverFunc receives the raw payload of one channel message.
type DeliverFunc func(payload []byte) error

// Entry is one registered subscription.
type Entry struct {
	Key Key

	owner   Liveness
	deliver DeliverFunc
	active  atomic.Bool

	// listenedGen is the connection generation the last listen was sent on.
	// Guarded by Registry.mu.
	listenedGen uint64
}

// Alive reports whether the entry is registered and its subscriber still
// exists.
func (e *Entry) Alive() bool {
	return e.active.Load() && e.owner.Alive()
}

// Deliver hands payload to the subscriber.
func (e *Entry) Deliver(payload []byte) error {
	return e.deliver(payload)
}

// CancelFunc removes a subscription. Calling it more than once is a no-op.
type CancelFunc func()

// Config configures a Registry.
type Config struct {
	// Codec encodes listen and ignore envelopes. Required.
	Codec wire.Codec

	// Logger receives diagnostic output. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives structured subscription events. Nil discards.
	ProtocolLogger log.Logger
}

// Registry holds the subscriptions of one client.
type Registry struct {
	sender Sender
	codec  wire.Codec
	logger *slog.Logger
	plog   log.Logger

	mu       sync.Mutex
	entries  map[Key]*Entry
	channels map[uuid.UUID][]*Entry

	queue *sendQueue
}

// New creates a Registry announcing listeners on sender.
func New(sender Sender, config Config) *Registry {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		sender:   sender,
		codec:    config.Codec,
		logger:   logger,
		plog:     log.OrNoop(config.ProtocolLogger),
		entries:  make(map[Key]*Entry),
		channels: make(map[uuid.UUID][]*Entry),
	}
	r.queue = newSendQueue(r.runJob)
	return r
}

// Register adds a subscription on channel owned by owner.
//
// The listen request is sent asynchronously. done, if non-nil, is called once
// with the outcome: nil when the request was sent or deferred to the next
// connect, or the error. Any failure, synchronous or not, leaves nothing
// registered, and the returned CancelFunc then has no effect.
func (r *Registry) Register(owner Liveness, channel uuid.UUID, deliver DeliverFunc, done func(error)) (Key, CancelFunc, error) {
	if owner == nil {
		owner = Forever
	}
	key := Key{ID: uuid.New(), Channel: channel}

	data, err := r.codec.EncodeEnvelope(wire.EventListen, wire.Listener{ID: key.ID, ChannelID: channel})
	if err != nil {
		r.logger.Warn("listen request not encodable", "channel", channel, "error", err)
		if done != nil {
			done(err)
		}
		return Key{}, nil, err
	}

	e := &Entry{Key: key, owner: owner, deliver: deliver}
	e.active.Store(true)

	r.mu.Lock()
	r.entries[key] = e
	r.channels[channel] = append(r.channels[channel], e)
	r.mu.Unlock()

	r.logger.Debug("subscription registered", "key", key)
	r.logSubscription(key, "", "LISTENING", "")

	if _, ok := r.sender.Connected(); ok {
		r.queue.push(job{event: wire.EventListen, entry: e, data: data, done: func(err error) {
			if err != nil {
				r.discard(e, err)
			}
			if done != nil {
				done(err)
			}
		}})
	} else if done != nil {
		// Replayed on connect.
		done(nil)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { r.Unregister(key) })
	}
	return key, cancel, nil
}

// Unregister removes the subscription with key and sends a best-effort ignore
// request. It reports whether the key was registered.
func (r *Registry) Unregister(key Key) bool {
	return r.remove(key, "CANCELLED")
}

// Prune removes the subscription with key because its subscriber is gone.
func (r *Registry) Prune(key Key) bool {
	return r.remove(key, "PRUNED")
}

func (r *Registry) remove(key Key, reason string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	var j job
	if ok {
		j = r.removeLocked(e)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Debug("subscription removed", "key", key, "reason", reason)
	r.logSubscription(key, "LISTENING", "REMOVED", reason)
	r.queue.push(j)
	return true
}

// discard removes e after its listen request failed. No ignore is sent since
// the server never saw the listener.
func (r *Registry) discard(e *Entry, cause error) {
	r.mu.Lock()
	ok := r.entries[e.Key] == e
	if ok {
		r.removeLocked(e)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.logger.Debug("subscription removed", "key", e.Key, "reason", "LISTEN FAILED", "error", cause)
	r.logSubscription(e.Key, "LISTENING", "REMOVED", "LISTEN FAILED")
}

// removeLocked drops e from both indexes and returns the ignore job for it.
func (r *Registry) removeLocked(e *Entry) job {
	e.active.Store(false)
	delete(r.entries, e.Key)

	list := r.channels[e.Key.Channel]
	for i, other := range list {
		if other == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.channels, e.Key.Channel)
	} else {
		r.channels[e.Key.Channel] = list
	}

	return job{event: wire.EventIgnore, entry: e, gen: e.listenedGen}
}

// Match returns the live subscriptions on channel. Subscriptions whose
// subscriber is gone are pruned.
func (r *Registry) Match(channel uuid.UUID) []*Entry {
	r.mu.Lock()
	list := r.channels[channel]
	live := make([]*Entry, 0, len(list))
	var dead []*Entry
	for _, e := range list {
		if e.owner.Alive() {
			live = append(live, e)
		} else {
			dead = append(dead, e)
		}
	}
	jobs := make([]job, 0, len(dead))
	for _, e := range dead {
		jobs = append(jobs, r.removeLocked(e))
	}
	r.mu.Unlock()

	for _, j := range jobs {
		r.logger.Debug("subscription removed", "key", j.entry.Key, "reason", "PRUNED")
		r.logSubscription(j.entry.Key, "LISTENING", "REMOVED", "PRUNED")
		r.queue.push(j)
	}
	return live
}

// ReplayAll sends a listen request for every live subscription not yet
// announced on the current connection. Dead subscriptions are pruned without
// an ignore request since the server has never seen them on this connection.
// It returns the number of listen requests sent and stops at the first send
// failure.
func (r *Registry) ReplayAll(ctx context.Context) int {
	gen, ok := r.sender.Connected()
	if !ok {
		return 0
	}

	r.mu.Lock()
	var todo, dead []*Entry
	for _, e := range r.entries {
		switch {
		case !e.owner.Alive():
			dead = append(dead, e)
		case e.listenedGen != gen:
			todo = append(todo, e)
		}
	}
	for _, e := range dead {
		r.removeLocked(e)
	}
	r.mu.Unlock()

	for _, e := range dead {
		r.logSubscription(e.Key, "LISTENING", "REMOVED", "PRUNED")
	}

	sent := 0
	for _, e := range todo {
		data, err := r.codec.EncodeEnvelope(wire.EventListen, wire.Listener{ID: e.Key.ID, ChannelID: e.Key.Channel})
		if err != nil {
			r.logger.Warn("replay: listen request not encodable", "key", e.Key, "error", err)
			continue
		}

		r.mu.Lock()
		if r.entries[e.Key] != e || e.listenedGen == gen {
			// Cancelled, or announced by the send worker meanwhile.
			r.mu.Unlock()
			continue
		}
		prev := e.listenedGen
		e.listenedGen = gen
		r.mu.Unlock()

		if err := r.sender.Send(ctx, data); err != nil {
			r.mu.Lock()
			e.listenedGen = prev
			r.mu.Unlock()
			r.logger.Debug("replay interrupted", "sent", sent, "error", err)
			break
		}
		r.logEnvelope(log.EnvelopeListen, e.Key, len(data))
		sent++
	}
	if sent > 0 || len(dead) > 0 {
		r.logger.Debug("subscriptions replayed", "sent", sent, "pruned", len(dead), "gen", gen)
	}
	return sent
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the keys of all registered subscriptions.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close stops the send worker. Pending completions receive ErrClosed and
// their subscriptions are discarded. Other subscriptions are kept so they can
// still be inspected.
func (r *Registry) Close() {
	r.queue.close()
}

// runJob performs one queued request on the send worker.
func (r *Registry) runJob(ctx context.Context, j job) error {
	gen, ok := r.sender.Connected()
	if !ok {
		// The server drops listeners with the connection, and replay covers
		// listens on the next one.
		return nil
	}

	switch j.event {
	case wire.EventListen:
		r.mu.Lock()
		current := r.entries[j.entry.Key] == j.entry
		if !current || j.entry.listenedGen == gen {
			r.mu.Unlock()
			return nil
		}
		prev := j.entry.listenedGen
		j.entry.listenedGen = gen
		r.mu.Unlock()

		if err := r.sender.Send(ctx, j.data); err != nil {
			r.mu.Lock()
			j.entry.listenedGen = prev
			r.mu.Unlock()
			return err
		}
		r.logEnvelope(log.EnvelopeListen, j.entry.Key, len(j.data))
		return nil

	case wire.EventIgnore:
		if j.gen != gen {
			// Never announced on this connection.
			return nil
		}
		data, err := r.codec.EncodeEnvelope(wire.EventIgnore, wire.Listener{ID: j.entry.Key.ID, ChannelID: j.entry.Key.Channel})
		if err != nil {
			return err
		}
		if err := r.sender.Send(ctx, data); err != nil {
			r.logger.Debug("ignore request not sent", "key", j.entry.Key, "error", err)
			return nil
		}
		r.logEnvelope(log.EnvelopeIgnore, j.entry.Key, len(data))
	}
	return nil
}

func (r *Registry) logSubscription(key Key, oldState, newState, reason string) {
	r.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerClient,
		Category:  log.CategoryState,
		ChannelID: key.Channel.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (r *Registry) logEnvelope(typ log.EnvelopeType, key Key, size int) {
	r.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		ChannelID: key.Channel.String(),
		Envelope: &log.EnvelopeEvent{
			Type:        typ,
			ListenerID:  key.ID.String(),
			PayloadSize: size,
		},
	})
}
