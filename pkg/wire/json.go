package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// JSONCodec encodes envelopes as JSON objects. Payloads travel as JSON
// strings holding the encoded value.
type JSONCodec struct{}

type jsonOutbound struct {
	ID      *uuid.UUID `json:"id"`
	Event   *Event     `json:"event"`
	Payload *string    `json:"payload"`
}

type jsonInbound struct {
	ChannelID *uuid.UUID       `json:"channelId"`
	Payload   *json.RawMessage `json:"payload"`
}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// EncodeEnvelope implements Codec.
func (c JSONCodec) EncodeEnvelope(event Event, listener Listener) ([]byte, error) {
	if !event.Valid() {
		return nil, &EncodingError{Codec: c.Name(), Err: fmt.Errorf("invalid event %q", event)}
	}
	payload, err := json.Marshal(listener)
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	id := newRequestID()
	s := string(payload)
	data, err := json.Marshal(jsonOutbound{ID: &id, Event: &event, Payload: &s})
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// DecodeEnvelope implements Codec. The payload may be a JSON string, which is
// unquoted, or any other JSON value, which is passed through as raw bytes.
func (c JSONCodec) DecodeEnvelope(data []byte) (*Inbound, error) {
	var raw jsonInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: %v", ErrBadFrame, err)}
	}
	if raw.ChannelID == nil || raw.Payload == nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: missing channelId or payload", ErrBadFrame)}
	}

	payload := []byte(*raw.Payload)
	if len(payload) > 0 && payload[0] == '"' {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: %v", ErrBadFrame, err)}
		}
		payload = []byte(s)
	}
	return &Inbound{ChannelID: *raw.ChannelID, Payload: payload}, nil
}

// DecodePayload implements Codec.
func (c JSONCodec) DecodePayload(payload []byte, v any) error {
	if err := json.Unmarshal(bytes.TrimSpace(payload), v); err != nil {
		return &DecodingError{Codec: c.Name(), Err: err}
	}
	return nil
}

// EncodePayload implements Codec.
func (c JSONCodec) EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// EncodeInbound implements Codec.
func (c JSONCodec) EncodeInbound(env *Inbound) ([]byte, error) {
	s, err := json.Marshal(string(env.Payload))
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	raw := json.RawMessage(s)
	data, err := json.Marshal(jsonInbound{ChannelID: &env.ChannelID, Payload: &raw})
	if err != nil {
		return nil, &EncodingError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// DecodeOutbound implements Codec.
func (c JSONCodec) DecodeOutbound(data []byte) (*Outbound, error) {
	var raw jsonOutbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: %v", ErrBadFrame, err)}
	}
	if raw.ID == nil || raw.Event == nil || raw.Payload == nil {
		return nil, &DecodingError{Codec: c.Name(), Err: fmt.Errorf("%w: missing id, event or payload", ErrBadFrame)}
	}
	return &Outbound{ID: *raw.ID, Event: *raw.Event, Payload: []byte(*raw.Payload)}, nil
}

var _ Codec = JSONCodec{}
