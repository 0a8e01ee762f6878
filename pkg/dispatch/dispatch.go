// Package dispatch routes inbound frames to the subscriptions of a registry.
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/registry"
	"github.com/chanmux/chanmux-go/pkg/transport"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Config configures a Dispatcher.
type Config struct {
	// Codec decodes inbound envelopes. Required.
	Codec wire.Codec

	// Logger receives diagnostic output. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives decoded envelope events. Nil discards.
	ProtocolLogger log.Logger
}

// Dispatcher decodes inbound frames and fans each message out to the live
// subscriptions on its channel.
type Dispatcher struct {
	reg    *registry.Registry
	codec  wire.Codec
	logger *slog.Logger
	plog   log.Logger
}

// New creates a Dispatcher delivering to the subscriptions in reg.
func New(reg *registry.Registry, config Config) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		reg:    reg,
		codec:  config.Codec,
		logger: logger,
		plog:   log.OrNoop(config.ProtocolLogger),
	}
}

// Decode parses the envelope carried by frame. Text frames, and binary frames
// holding valid UTF-8, are retried without a byte order mark and surrounding
// whitespace when the first attempt fails. Errors wrap wire.ErrBadFrame.
func (d *Dispatcher) Decode(frame transport.Frame) (*wire.Inbound, error) {
	env, err := d.codec.DecodeEnvelope(frame.Data)
	if err == nil {
		return env, nil
	}

	if frame.Kind == transport.FrameText || utf8.Valid(frame.Data) {
		trimmed := bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(frame.Data), utf8BOM))
		if len(trimmed) != len(frame.Data) {
			if env, retryErr := d.codec.DecodeEnvelope(trimmed); retryErr == nil {
				return env, nil
			}
		}
	}

	if !errors.Is(err, wire.ErrBadFrame) {
		err = &wire.DecodingError{Codec: d.codec.Name(), Err: fmt.Errorf("%w: %v", wire.ErrBadFrame, err)}
	}
	return nil, err
}

// HandleFrame decodes frame and routes it. Undecodable frames are logged and
// dropped. It is meant to be installed as the connection's frame callback.
func (d *Dispatcher) HandleFrame(frame transport.Frame) {
	env, err := d.Decode(frame)
	if err != nil {
		d.logger.Warn("dropping undecodable frame", "kind", frame.Kind, "size", len(frame.Data), "error", err)
		d.plog.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerWire,
				Message: err.Error(),
				Context: "decode envelope",
			},
		})
		return
	}
	d.Route(env)
}

// Route delivers env to every live subscription on its channel in
// registration order and returns the number of successful deliveries.
// Subscriptions whose subscriber is gone are pruned, including those whose
// DeliverFunc reports registry.ErrGone. A delivery error is logged and does
// not affect the other subscribers.
func (d *Dispatcher) Route(env *wire.Inbound) int {
	entries := d.reg.Match(env.ChannelID)

	delivered := 0
	for _, e := range entries {
		if !e.Alive() {
			// Cancelled or released after the snapshot was taken.
			d.reg.Prune(e.Key)
			continue
		}
		err := e.Deliver(env.Payload)
		if errors.Is(err, registry.ErrGone) {
			d.reg.Prune(e.Key)
			continue
		}
		if err != nil {
			d.logger.Warn("delivery failed", "key", e.Key, "error", err)
			d.plog.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionIn,
				Layer:     log.LayerClient,
				Category:  log.CategoryError,
				ChannelID: env.ChannelID.String(),
				Error: &log.ErrorEventData{
					Layer:   log.LayerClient,
					Message: err.Error(),
					Context: "deliver " + e.Key.ID.String(),
				},
			})
			continue
		}
		delivered++
	}

	if len(entries) == 0 {
		d.logger.Debug("no subscribers for channel", "channel", env.ChannelID)
	}
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		ChannelID: env.ChannelID.String(),
		Envelope: &log.EnvelopeEvent{
			Type:        log.EnvelopePush,
			PayloadSize: len(env.Payload),
			Delivered:   &delivered,
		},
	})
	return delivered
}
