package registry

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSender records frames and simulates connection generations.
type fakeSender struct {
	mu      sync.Mutex
	gen     uint64
	up      bool
	sendErr error
	sent    [][]byte
}

func (s *fakeSender) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeSender) Connected() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, s.up
}

func (s *fakeSender) connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.up = true
}

func (s *fakeSender) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up = false
}

func (s *fakeSender) setSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *fakeSender) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// requests decodes every sent frame.
func (s *fakeSender) requests(t *testing.T) []*wire.Outbound {
	t.Helper()
	var out []*wire.Outbound
	for _, f := range s.frames() {
		o, err := wire.JSONCodec{}.DecodeOutbound(f)
		require.NoError(t, err)
		out = append(out, o)
	}
	return out
}

type failingCodec struct {
	wire.JSONCodec
}

func (failingCodec) EncodeEnvelope(wire.Event, wire.Listener) ([]byte, error) {
	return nil, &wire.EncodingError{Codec: "json", Err: errors.New("unsupported value")}
}

func newTestRegistry(t *testing.T, sender Sender) *Registry {
	t.Helper()
	r := New(sender, Config{Codec: wire.JSONCodec{}})
	t.Cleanup(r.Close)
	return r
}

func nopDeliver([]byte) error { return nil }

// register registers on channel and waits for the completion.
func register(t *testing.T, r *Registry, owner Liveness, channel uuid.UUID) (Key, CancelFunc) {
	t.Helper()
	done := make(chan error, 1)
	key, cancel, err := r.Register(owner, channel, nopDeliver, func(err error) { done <- err })
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("completion not called")
	}
	return key, cancel
}

func TestRegister(t *testing.T) {
	t.Run("Disconnected", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)

		key, _ := register(t, r, Forever, uuid.New())

		assert.Equal(t, 1, r.Len())
		assert.Equal(t, []Key{key}, r.Keys())
		assert.Empty(t, s.frames())
	})

	t.Run("SendsListen", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		r := newTestRegistry(t, s)
		channel := uuid.New()

		key, _ := register(t, r, Forever, channel)

		reqs := s.requests(t)
		require.Len(t, reqs, 1)
		assert.Equal(t, wire.EventListen, reqs[0].Event)
		l, err := wire.DecodeListener(wire.JSONCodec{}, reqs[0])
		require.NoError(t, err)
		assert.Equal(t, key.ID, l.ID)
		assert.Equal(t, channel, l.ChannelID)
		assert.Equal(t, channel, key.Channel)
	})

	t.Run("DistinctKeysOnSameChannel", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)
		channel := uuid.New()

		k1, _ := register(t, r, Forever, channel)
		k2, _ := register(t, r, Forever, channel)

		assert.NotEqual(t, k1, k2)
		assert.Len(t, r.Match(channel), 2)
	})

	t.Run("EncodingFailure", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		r := New(s, Config{Codec: failingCodec{}})
		t.Cleanup(r.Close)

		var reported error
		_, cancel, err := r.Register(Forever, uuid.New(), nopDeliver, func(err error) { reported = err })

		var encErr *wire.EncodingError
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, err, reported)
		assert.Nil(t, cancel)
		assert.Equal(t, 0, r.Len())
		assert.Empty(t, s.frames())
	})

	t.Run("SendFailureDiscardsEntry", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		sendErr := errors.New("broken pipe")
		s.setSendError(sendErr)
		r := newTestRegistry(t, s)
		channel := uuid.New()

		done := make(chan error, 1)
		_, cancel, err := r.Register(Forever, channel, nopDeliver, func(err error) { done <- err })
		require.NoError(t, err)

		select {
		case err := <-done:
			assert.ErrorIs(t, err, sendErr)
		case <-time.After(time.Second):
			t.Fatal("completion not called")
		}
		assert.Equal(t, 0, r.Len())
		assert.Empty(t, r.Match(channel))

		// Nothing is left to replay or cancel.
		s.setSendError(nil)
		s.disconnect()
		s.connect()
		assert.Equal(t, 0, r.ReplayAll(context.Background()))
		cancel()
		register(t, r, Forever, uuid.New())
		reqs := s.requests(t)
		require.Len(t, reqs, 1)
		assert.Equal(t, wire.EventListen, reqs[0].Event)
	})

	t.Run("NilOwnerLivesForever", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		channel := uuid.New()

		register(t, r, nil, channel)

		assert.Len(t, r.Match(channel), 1)
	})
}

func TestUnregister(t *testing.T) {
	t.Run("SendsIgnoreAfterListen", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		r := newTestRegistry(t, s)
		channel := uuid.New()

		key, cancel := register(t, r, Forever, channel)
		cancel()
		cancel()

		require.Eventually(t, func() bool { return len(s.frames()) == 2 }, time.Second, 5*time.Millisecond)
		reqs := s.requests(t)
		assert.Equal(t, wire.EventListen, reqs[0].Event)
		assert.Equal(t, wire.EventIgnore, reqs[1].Event)
		assert.NotEqual(t, reqs[0].ID, reqs[1].ID)

		l, err := wire.DecodeListener(wire.JSONCodec{}, reqs[1])
		require.NoError(t, err)
		assert.Equal(t, key.ID, l.ID)
		assert.Equal(t, 0, r.Len())
		assert.Empty(t, r.Match(channel))
	})

	t.Run("UnknownKey", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		assert.False(t, r.Unregister(Key{ID: uuid.New(), Channel: uuid.New()}))
	})

	t.Run("NoIgnoreWhenDisconnected", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)

		key, _ := register(t, r, Forever, uuid.New())
		assert.True(t, r.Unregister(key))

		r.Close()
		assert.Empty(t, s.frames())
	})

	t.Run("NoIgnoreForPreviousConnection", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		r := newTestRegistry(t, s)

		key, _ := register(t, r, Forever, uuid.New())
		s.disconnect()
		s.connect()
		assert.True(t, r.Unregister(key))

		r.Close()
		assert.Len(t, s.frames(), 1)
	})

	t.Run("KeepsOtherSubscriptions", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		channel := uuid.New()

		k1, _ := register(t, r, Forever, channel)
		k2, _ := register(t, r, Forever, channel)
		r.Unregister(k1)

		matched := r.Match(channel)
		require.Len(t, matched, 1)
		assert.Equal(t, k2, matched[0].Key)
	})
}

func TestMatch(t *testing.T) {
	t.Run("UnknownChannel", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		assert.Empty(t, r.Match(uuid.New()))
	})

	t.Run("PrunesDeadSubscribers", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		r := newTestRegistry(t, s)
		channel := uuid.New()

		life := NewLifetime()
		dead, _ := register(t, r, life, channel)
		alive, _ := register(t, r, Forever, channel)
		life.End()

		matched := r.Match(channel)
		require.Len(t, matched, 1)
		assert.Equal(t, alive, matched[0].Key)
		assert.Equal(t, 1, r.Len())

		require.Eventually(t, func() bool { return len(s.frames()) == 3 }, time.Second, 5*time.Millisecond)
		reqs := s.requests(t)
		assert.Equal(t, wire.EventIgnore, reqs[2].Event)
		l, err := wire.DecodeListener(wire.JSONCodec{}, reqs[2])
		require.NoError(t, err)
		assert.Equal(t, dead.ID, l.ID)
	})

	t.Run("EntryDelivers", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		channel := uuid.New()

		var got []byte
		_, _, err := r.Register(Forever, channel, func(p []byte) error {
			got = p
			return nil
		}, nil)
		require.NoError(t, err)

		matched := r.Match(channel)
		require.Len(t, matched, 1)
		assert.True(t, matched[0].Alive())
		require.NoError(t, matched[0].Deliver([]byte("hello")))
		assert.Equal(t, []byte("hello"), got)
	})

	t.Run("EntryNotAliveAfterCancel", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		channel := uuid.New()

		_, cancel := register(t, r, Forever, channel)
		entry := r.Match(channel)[0]
		cancel()

		assert.False(t, entry.Alive())
	})

	t.Run("Prune", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})

		key, _ := register(t, r, Forever, uuid.New())

		assert.True(t, r.Prune(key))
		assert.False(t, r.Prune(key))
		assert.Equal(t, 0, r.Len())
	})
}

func TestReplayAll(t *testing.T) {
	t.Run("Disconnected", func(t *testing.T) {
		r := newTestRegistry(t, &fakeSender{})
		register(t, r, Forever, uuid.New())

		assert.Equal(t, 0, r.ReplayAll(context.Background()))
	})

	t.Run("OncePerConnection", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)
		k1, _ := register(t, r, Forever, uuid.New())
		k2, _ := register(t, r, Forever, uuid.New())

		s.connect()
		assert.Equal(t, 2, r.ReplayAll(context.Background()))
		assert.Equal(t, 0, r.ReplayAll(context.Background()))

		s.disconnect()
		s.connect()
		assert.Equal(t, 2, r.ReplayAll(context.Background()))

		reqs := s.requests(t)
		require.Len(t, reqs, 4)
		ids := make(map[uuid.UUID]int)
		requestIDs := make(map[uuid.UUID]bool)
		for _, req := range reqs {
			assert.Equal(t, wire.EventListen, req.Event)
			l, err := wire.DecodeListener(wire.JSONCodec{}, req)
			require.NoError(t, err)
			ids[l.ID]++
			requestIDs[req.ID] = true
		}
		assert.Equal(t, map[uuid.UUID]int{k1.ID: 2, k2.ID: 2}, ids)
		assert.Len(t, requestIDs, 4, "request IDs must be fresh")
	})

	t.Run("SkipsAlreadyListened", func(t *testing.T) {
		s := &fakeSender{}
		s.connect()
		r := newTestRegistry(t, s)

		register(t, r, Forever, uuid.New())

		assert.Equal(t, 0, r.ReplayAll(context.Background()))
		assert.Len(t, s.frames(), 1)
	})

	t.Run("PrunesDead", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)
		life := NewLifetime()
		register(t, r, life, uuid.New())
		register(t, r, Forever, uuid.New())
		life.End()

		s.connect()
		assert.Equal(t, 1, r.ReplayAll(context.Background()))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("StopsOnSendFailure", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)
		register(t, r, Forever, uuid.New())
		register(t, r, Forever, uuid.New())

		s.connect()
		s.setSendError(errors.New("connection reset"))
		assert.Equal(t, 0, r.ReplayAll(context.Background()))

		s.setSendError(nil)
		s.disconnect()
		s.connect()
		assert.Equal(t, 2, r.ReplayAll(context.Background()))
	})

	t.Run("UnsentEntriesStayPending", func(t *testing.T) {
		s := &fakeSender{}
		r := newTestRegistry(t, s)
		first, cancelFirst := register(t, r, Forever, uuid.New())
		second, _ := register(t, r, Forever, uuid.New())

		s.connect()
		s.setSendError(errors.New("connection reset"))
		assert.Equal(t, 0, r.ReplayAll(context.Background()))
		s.setSendError(nil)

		// The listen never went out, so cancelling sends no ignore. The
		// trailing listen orders after the queued ignore.
		cancelFirst()
		third, _ := register(t, r, Forever, uuid.New())

		reqs := s.requests(t)
		require.Len(t, reqs, 1)
		assert.Equal(t, wire.EventListen, reqs[0].Event)
		l, err := wire.DecodeListener(wire.JSONCodec{}, reqs[0])
		require.NoError(t, err)
		assert.Equal(t, third.ID, l.ID)

		// Still unannounced on this connection.
		assert.Equal(t, 1, r.ReplayAll(context.Background()))
		reqs = s.requests(t)
		require.Len(t, reqs, 2)
		l, err = wire.DecodeListener(wire.JSONCodec{}, reqs[1])
		require.NoError(t, err)
		assert.Equal(t, second.ID, l.ID)
		assert.NotEqual(t, first.ID, l.ID)
	})

	t.Run("LogsEnvelopes", func(t *testing.T) {
		s := &fakeSender{}
		var mu sync.Mutex
		var events []log.Event
		r := New(s, Config{
			Codec: wire.JSONCodec{},
			ProtocolLogger: log.LoggerFunc(func(e log.Event) {
				mu.Lock()
				defer mu.Unlock()
				events = append(events, e)
			}),
		})
		t.Cleanup(r.Close)
		channel := uuid.New()
		register(t, r, Forever, channel)

		s.connect()
		r.ReplayAll(context.Background())

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, events, 2)
		assert.Equal(t, log.StateEntitySubscription, events[0].StateChange.Entity)
		assert.Equal(t, "LISTENING", events[0].StateChange.NewState)
		require.NotNil(t, events[1].Envelope)
		assert.Equal(t, log.EnvelopeListen, events[1].Envelope.Type)
		assert.Equal(t, log.DirectionOut, events[1].Direction)
		assert.Equal(t, channel.String(), events[1].ChannelID)
	})
}

func TestClose(t *testing.T) {
	s := &fakeSender{}
	s.connect()
	r := New(s, Config{Codec: wire.JSONCodec{}})
	r.Close()
	r.Close()

	done := make(chan error, 1)
	_, _, err := r.Register(Forever, uuid.New(), nopDeliver, func(err error) { done <- err })
	require.NoError(t, err)
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, 0, r.Len())
}

func TestLifetime(t *testing.T) {
	l := NewLifetime()
	assert.True(t, l.Alive())
	l.End()
	l.End()
	assert.False(t, l.Alive())
	assert.True(t, Forever.Alive())
}

type observer struct {
	name string
	_    [4]int64
}

// weakObserver returns a reference to an observer that nothing else holds.
func weakObserver() WeakRef[observer] {
	return Weak(&observer{name: "gone"})
}

func TestWeakRef(t *testing.T) {
	o := &observer{name: "kept"}
	ref := Weak(o)
	assert.True(t, ref.Alive())
	assert.Equal(t, "kept", ref.Value().name)
	runtime.KeepAlive(o)

	gone := weakObserver()
	assert.Eventually(t, func() bool {
		runtime.GC()
		return !gone.Alive()
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, gone.Value())
}
