package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// encMode is the CBOR encoder mode for envelopes.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for envelopes.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient for forward compatibility: unknown keys are skipped.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// CBORCodec encodes envelopes as CBOR maps with the same text keys as the
// JSON form. Payloads are byte strings.
type CBORCodec struct{}

type cborOutbound struct {
	ID      *uuid.UUID `cbor:"id"`
	Event   *Event     `cbor:"event"`
	Payload []byte     `cbor:"payload"`
}

type cborInbound struct {
	ChannelID *uuid.UUID `cbor:"channelId"`
	Payload   []byte     `cbor:"payload"`
}

// Name returns "cbor".
func (CBORCodec) Name() string { return "cbor" }

// EncodeEnvelope implements Codec.
func (c CBORCodec) EncodeEnvelope(event Event, listener Listener) ([]byte, error) {
	if !event.Valid() {
		return nil, &EncodingError{Codec: c.Name(), Err: fmt.Errorf("invalid event %q", event)}
	}
	payload, err := encMode.Marshal(listener)
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	id := newRequestID()
	data, err := encMode.Marshal(cborOutbound{ID: &id, Event: &event, Payload: payload})
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// DecodeEnvelope implements Codec.
func (c CBORCodec) DecodeEnvelope(data []byte) (*Inbound, error) {
	var raw cborInbound
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: %v", ErrBadFrame, err)}
	}
	if raw.ChannelID == nil || raw.Payload == nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: missing channelId or payload", ErrBadFrame)}
	}
	return &Inbound{ChannelID: *raw.ChannelID, Payload: raw.Payload}, nil
}

// DecodePayload implements Codec.
func (c CBORCodec) DecodePayload(payload []byte, v any) error {
	if err := decMode.Unmarshal(payload, v); err != nil {
		return &DecodingError{Codec: c.Name(), Err: err}
	}
	return nil
}

// EncodePayload implements Codec.
func (c CBORCodec) EncodePayload(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// EncodeInbound implements Codec.
func (c CBORCodec) EncodeInbound(env *Inbound) ([]byte, error) {
	payload := env.Payload
	if payload == nil {
		payload = []byte{}
	}
	data, err := encMode.Marshal(cborInbound{ChannelID: &env.ChannelID, Payload: payload})
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// DecodeOutbound implements Codec.
func (c CBORCodec) DecodeOutbound(data []byte) (*Outbound, error) {
	var raw cborOutbound
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: %v", ErrBadFrame, err)}
	}
	if raw.ID == nil || raw.Event == nil || raw.Payload == nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: missing id, event or payload", ErrBadFrame)}
	}
	return &Outbound{ID: *raw.ID, Event: *raw.Event, Payload: raw.Payload}, nil
}

var _ Codec = CBORCodec{}
