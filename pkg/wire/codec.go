package wire

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Codec converts envelopes to and from frame bytes.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name returns the codec name used in configuration ("json", "cbor").
	Name() string

	// EncodeEnvelope builds an Outbound envelope with a fresh request ID
	// whose payload is the encoded listener.
	EncodeEnvelope(event Event, listener Listener) ([]byte, error)

	// DecodeEnvelope parses an Inbound envelope from frame bytes.
	DecodeEnvelope(data []byte) (*Inbound, error)

	// DecodePayload decodes an Inbound payload into v.
	DecodePayload(payload []byte, v any) error

	// EncodePayload encodes v as an Inbound payload.
	EncodePayload(v any) ([]byte, error)

	// EncodeInbound encodes an Inbound envelope. Servers and tests use it.
	EncodeInbound(env *Inbound) ([]byte, error)

	// DecodeOutbound parses an Outbound envelope. Servers and tests use it.
	DecodeOutbound(data []byte) (*Outbound, error)
}

// NewCodec returns the codec registered under name. An empty name selects JSON.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// DecodeListener decodes the listener carried by an Outbound envelope.
func DecodeListener(c Codec, out *Outbound) (Listener, error) {
	var l Listener
	if err := c.DecodePayload(out.Payload, &l); err != nil {
		return Listener{}, err
	}
	return l, nil
}

func newRequestID() uuid.UUID {
	return uuid.New()
}
