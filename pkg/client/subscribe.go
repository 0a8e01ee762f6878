package client

import (
	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/registry"
)

// Subscription is a handle to one registered subscription.
type Subscription struct {
	key    registry.Key
	cancel registry.CancelFunc
}

// Key returns the subscription key.
func (s *Subscription) Key() registry.Key {
	return s.key
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() uuid.UUID {
	return s.key.Channel
}

// Cancel removes the subscription and sends an ignore request. No message is
// delivered to it once Cancel returns, except one already being delivered.
// It is idempotent.
func (s *Subscription) Cancel() {
	s.cancel()
}

type subscribeOptions struct {
	completion func(error)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

// WithCompletion sets a callback for the outcome of the listen request. It is
// called once, possibly on another goroutine: with nil when the request was
// sent or deferred until the next connect, or with the send error. On error
// the subscription has already been removed and Cancel does nothing.
func WithCompletion(fn func(error)) SubscribeOption {
	return func(o *subscribeOptions) {
		o.completion = fn
	}
}

// Subscribe delivers messages on channel to onMessage, decoded into T, for as
// long as owner is alive. A nil owner means the subscription lives until it
// is cancelled. Payloads that do not decode into T are logged and skipped.
//
// onMessage runs on the receive goroutine and must not block for long.
func Subscribe[T any](c *Client, owner registry.Liveness, channel uuid.UUID, onMessage func(T), opts ...SubscribeOption) (*Subscription, error) {
	codec := c.codec
	return c.subscribe(owner, channel, func(payload []byte) error {
		var v T
		if err := codec.DecodePayload(payload, &v); err != nil {
			return err
		}
		onMessage(v)
		return nil
	}, opts)
}

// SubscribeFunc delivers raw payloads on channel to fn.
func SubscribeFunc(c *Client, owner registry.Liveness, channel uuid.UUID, fn func(payload []byte), opts ...SubscribeOption) (*Subscription, error) {
	return c.subscribe(owner, channel, func(payload []byte) error {
		fn(payload)
		return nil
	}, opts)
}

// Observe delivers messages on channel to onMessage together with observer.
// The client holds observer only weakly: once it is garbage collected the
// subscription is pruned without being cancelled explicitly. onMessage must
// not capture observer, or it will never be collected.
func Observe[O, T any](c *Client, observer *O, channel uuid.UUID, onMessage func(*O, T), opts ...SubscribeOption) (*Subscription, error) {
	ref := registry.Weak(observer)
	codec := c.codec
	return c.subscribe(ref, channel, func(payload []byte) error {
		o := ref.Value()
		if o == nil {
			return registry.ErrGone
		}
		var v T
		if err := codec.DecodePayload(payload, &v); err != nil {
			return err
		}
		onMessage(o, v)
		return nil
	}, opts)
}

func (c *Client) subscribe(owner registry.Liveness, channel uuid.UUID, deliver registry.DeliverFunc, opts []SubscribeOption) (*Subscription, error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	key, cancel, err := c.reg.Register(owner, channel, deliver, o.completion)
	if err != nil {
		return nil, err
	}
	c.conn.Start()

	c.logger.Debug("subscribed", "channel", channel, "listener", key.ID)
	return &Subscription{key: key, cancel: cancel}, nil
}
