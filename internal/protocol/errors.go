package protocol

import "errors"

// Codec error taxonomy. Every decode failure wraps one of these so the
// circuit layer can discard the single datagram and keep the session
// alive. None of them is ever fatal on its own.
var (
	ErrTruncated      = errors.New("protocol: truncated datagram")
	ErrBadPrefix      = errors.New("protocol: malformed frequency prefix")
	ErrZeroCoding     = errors.New("protocol: zero-coding underrun or overrun")
	ErrBadLength      = errors.New("protocol: body length violates schema")
	ErrUnknownMessage = errors.New("protocol: unknown message id")
	ErrTooLarge       = errors.New("protocol: datagram exceeds maximum size")
)
