package display

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by every blocking operation on a connection that
	// has been closed, or whose reader has hit an I/O error.
	ErrClosed = errors.New("display: connection closed")

	// ErrExtensionNotPresent is returned by Extension when the server does
	// not know the requested extension.
	ErrExtensionNotPresent = errors.New("display: extension not present")

	// ErrNoHook is returned by EventToWire when nothing is registered for
	// the event code.
	ErrNoHook = errors.New("display: no event hook")

	errSetupFailed       = errors.New("display: connection setup failed")
	errSetupAuthenticate = errors.New("display: server requires further authentication")
	errResponseTooLong   = errors.New("display: response longer than MaxResponseLength")
)

// Error is an X protocol error as sent by the server.
type Error struct {
	Code        byte
	Sequence    uint16
	BadValue    uint32
	MinorOpcode uint16
	MajorOpcode byte
}

// newError reads an error from the 32 byte wire representation.
func newError(buf []byte) Error {
	return Error{
		Code:        buf[1],
		Sequence:    Get16(buf[2:]),
		BadValue:    Get32(buf[4:]),
		MinorOpcode: Get16(buf[8:]),
		MajorOpcode: buf[10],
	}
}

// ImplementsError mirrors Event's marker so type switches read the same.
func (e Error) ImplementsError() {}

func (e Error) SequenceId() uint16 { return e.Sequence }

func (e Error) Error() string {
	return fmt.Sprintf("x protocol error %d (sequence %d, bad value %d, "+
		"opcode %d.%d)", e.Code, e.Sequence, e.BadValue, e.MajorOpcode,
		e.MinorOpcode)
}
