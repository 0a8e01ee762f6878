package wire

import (
	"errors"
	"fmt"
)

// ErrBadFrame is returned when frame bytes do not hold a recognizable envelope.
var ErrBadFrame = errors.New("bad frame")

// EncodingError reports a failure to encode an outbound envelope or payload.
type EncodingError struct {
	Codec string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: encoding failed: %v", e.Codec, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// DecodingError reports a failure to decode an envelope or a payload.
type DecodingError struct {
	Codec string
	Err   error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("%s: decoding failed: %v", e.Codec, e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}
