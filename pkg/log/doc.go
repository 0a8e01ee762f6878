// Package log captures protocol events of a channel client.
//
// Protocol capture is separate from operational logging (slog). It records a
// machine-readable trace of frames, envelopes, connection state changes and
// errors that can be replayed with the chanmux-log tool.
//
//	// Development: protocol events on the console
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: binary trace file
//	fl, err := log.NewFileLogger("/var/log/chanmux/client.clog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - Transport: raw frames (FrameEvent) and control messages (ControlMsgEvent)
//   - Wire: decoded listen, ignore and push envelopes (EnvelopeEvent)
//   - Client: subscription changes (StateChangeEvent)
//
// Connection state changes are reported at the transport layer. Errors carry
// the layer they occurred at.
//
// # File Format
//
// Trace files are a plain sequence of CBOR-encoded events with integer keys,
// conventionally using the .clog extension.
package log
