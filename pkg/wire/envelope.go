package wire

import (
	"github.com/google/uuid"
)

// Event names the request kind of an Outbound envelope.
type Event string

const (
	// EventListen asks the server to start pushing a channel.
	EventListen Event = "listen"

	// EventIgnore asks the server to stop pushing a channel.
	EventIgnore Event = "ignore"
)

// Valid reports whether the event is one the server understands.
func (e Event) Valid() bool {
	return e == EventListen || e == EventIgnore
}

// Listener identifies one local subscription on a channel. It is the payload of
// every Outbound envelope. ID is the local handle, so one channel can carry
// several listeners from the same client.
type Listener struct {
	ID        uuid.UUID `json:"id" cbor:"id"`
	ChannelID uuid.UUID `json:"channelId" cbor:"channelId"`
}

// Outbound is a client to server request.
type Outbound struct {
	// ID is a fresh request identifier.
	ID uuid.UUID

	// Event is listen or ignore.
	Event Event

	// Payload is the encoded Listener.
	Payload []byte
}

// Inbound is a server push for one channel.
type Inbound struct {
	ChannelID uuid.UUID
	Payload   []byte
}
