// Package wire defines the envelope types exchanged with a channel server and
// the codecs that turn them into frame bytes.
//
// Two envelopes exist. The client sends an Outbound envelope to start or stop
// listening on a channel:
//
//	{ "id": <request uuid>, "event": "listen"|"ignore", "payload": <encoded Listener> }
//
// The server pushes an Inbound envelope for every message on a channel:
//
//	{ "channelId": <uuid>, "payload": <channel specific message> }
//
// The payload of an Inbound envelope is opaque to this package. Subscribers
// decode it into their own message type with Codec.DecodePayload.
//
// # Codecs
//
// JSONCodec carries payloads as JSON strings, matching existing servers.
// CBORCodec uses text keys with the same names and carries payloads as byte
// strings.
package wire
