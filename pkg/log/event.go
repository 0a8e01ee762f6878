package log

import (
	"time"
)

// MaxFrameData is the number of frame bytes kept in a FrameEvent.
const MaxFrameData = 1024

// Event is one record in a channel log. Exactly one payload field is set.
// Fields are keyed by integer in the CBOR stream.
type Event struct {
	// Timestamp is the capture time.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one transport connection (UUID). A new ID is
	// assigned on every successful connect.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction is IN for frames read from the server, OUT otherwise.
	Direction Direction `cbor:"3,keyasint"`

	// Layer that emitted the event.
	Layer Layer `cbor:"4,keyasint"`

	// Category groups events for filtering.
	Category Category `cbor:"5,keyasint"`

	// Endpoint is the server URL, when known.
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// ChannelID is the channel the event concerns, if any.
	ChannelID string `cbor:"7,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Envelope    *EnvelopeEvent    `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction is relative to the client.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the frame layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the envelope layer (decoded listen/ignore/push).
	LayerWire Layer = 1
	// LayerClient is the subscription layer.
	LayerClient Layer = 2
)

func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category groups events by kind.
type Category uint8

const (
	CategoryMessage Category = 0 // frames and envelopes
	CategoryControl Category = 1 // websocket ping, pong and close
	CategoryState   Category = 2
	CategoryError   Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent records one websocket frame as it crossed the socket.
type FrameEvent struct {
	// Size is the full frame length, before any truncation.
	Size int `cbor:"1,keyasint"`

	// Data holds at most MaxFrameData bytes of the frame.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated is set when Data is shorter than Size.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Text is set for text frames.
	Text bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, keeping at most MaxFrameData bytes.
func NewFrameEvent(data []byte, text bool) *FrameEvent {
	fe := &FrameEvent{Size: len(data), Text: text}
	if len(data) > MaxFrameData {
		fe.Data = append([]byte(nil), data[:MaxFrameData]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// EnvelopeEvent captures a decoded envelope at the wire layer.
type EnvelopeEvent struct {
	// Type distinguishes listen/ignore/push.
	Type EnvelopeType `cbor:"1,keyasint"`

	// RequestID is the outbound request ID (listen/ignore only).
	RequestID string `cbor:"2,keyasint,omitempty"`

	// ListenerID is the local subscription handle (listen/ignore only).
	ListenerID string `cbor:"3,keyasint,omitempty"`

	// PayloadSize is the payload length in bytes.
	PayloadSize int `cbor:"4,keyasint,omitempty"`

	// Delivered is the number of subscribers reached (push only).
	Delivered *int `cbor:"5,keyasint,omitempty"`
}

// EnvelopeType distinguishes envelope kinds.
type EnvelopeType uint8

const (
	// EnvelopeListen is an outbound listen request.
	EnvelopeListen EnvelopeType = 0
	// EnvelopeIgnore is an outbound ignore request.
	EnvelopeIgnore EnvelopeType = 1
	// EnvelopePush is an inbound channel message.
	EnvelopePush EnvelopeType = 2
)

// String returns the envelope type name.
func (e EnvelopeType) String() string {
	switch e {
	case EnvelopeListen:
		return "LISTEN"
	case EnvelopeIgnore:
		return "IGNORE"
	case EnvelopePush:
		return "PUSH"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and subscription lifecycle events.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is empty for a subscription that was just registered.
	OldState string `cbor:"2,keyasint,omitempty"`
	NewState string `cbor:"3,keyasint"`

	// Reason is the close cause or subscription removal cause.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity says whether a StateChangeEvent concerns the connection or
// a subscription.
type StateEntity uint8

const (
	StateEntityConnection   StateEntity = 0
	StateEntitySubscription StateEntity = 1
)

func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent records a websocket control frame.
type ControlMsgEvent struct {
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is set for close frames only.
	CloseCode *int `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType is the websocket control opcode.
type ControlMsgType uint8

const (
	ControlMsgPing  ControlMsgType = 0
	ControlMsgPong  ControlMsgType = 1
	ControlMsgClose ControlMsgType = 2
)

func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData records a failure such as a dial error, an undecodable
// push or a handler error.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the websocket close code, when there is one.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context names the failing operation, e.g. "decode envelope".
	Context string `cbor:"4,keyasint,omitempty"`
}
