package codec

import "errors"

// Decoding errors. Every decoder returns one of these, possibly wrapped.
var (
	ErrUnexpectedEOF      = errors.New("codec: unexpected end of input")
	ErrTrailingBytes      = errors.New("codec: trailing bytes after value")
	ErrInvalidVersion     = errors.New("codec: invalid encoding version")
	ErrLengthOverflow     = errors.New("codec: length overflow")
	ErrUnknownMessageType = errors.New("codec: unknown message type")
	ErrInvalidFlag        = errors.New("codec: invalid presence flag")
)
