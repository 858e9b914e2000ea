package xge

import "github.com/pkg/errors"

var (
	// ErrNoCodec is returned by Register when the codec lacks Decode or
	// Encode.
	ErrNoCodec = errors.New("xge: codec needs both Decode and Encode")

	// ErrNotGeneric is returned by EventToWire for events that do not carry
	// a GenericEvent header.
	ErrNotGeneric = errors.New("xge: not a generic event")

	// ErrShortEvent is returned when a wire event is shorter than 32 bytes.
	ErrShortEvent = errors.New("xge: generic event shorter than 32 bytes")

	// ErrShortReply is returned when the QueryVersion reply is truncated.
	ErrShortReply = errors.New("xge: short QueryVersion reply")
)
