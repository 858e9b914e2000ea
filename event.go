package xge

import (
	"github.com/BurntSushi/xge/display"
)

// GenericEvent is the header every generic event starts with.
//
// On the wire:
//
//	0  type (35)
//	1  extension, the major opcode of the extension owning the event
//	2  sequence number
//	4  length, in 4 byte units beyond the first 32 bytes
//	8  evtype, the extension's own event number
//
// Extension events embed it, which makes them Generic and display.Event.
type GenericEvent struct {
	Sequence  uint16
	Extension byte
	Length    uint32
	EventType uint16
}

func (GenericEvent) ImplementsEvent() {}

// GenericHeader returns the header itself; it is promoted to every event
// embedding GenericEvent.
func (e GenericEvent) GenericHeader() GenericEvent { return e }

// Generic is a native event that travels as a GenericEvent. EventToWire
// reads the extension from GenericHeader, never from wire bytes.
type Generic interface {
	display.Event
	GenericHeader() GenericEvent
}

// ReadGenericHeader reads the header of a wire generic event.
func ReadGenericHeader(buf []byte) (GenericEvent, error) {
	if len(buf) < 32 {
		return GenericEvent{}, ErrShortEvent
	}
	return GenericEvent{
		Extension: buf[1],
		Sequence:  display.Get16(buf[2:]),
		Length:    display.Get32(buf[4:]),
		EventType: display.Get16(buf[8:]),
	}, nil
}

// PutHeader writes the header into buf, which must hold the whole event.
// The length field is computed from len(buf), not taken from e.Length.
func (e GenericEvent) PutHeader(buf []byte) error {
	if len(buf) < 32 {
		return ErrShortEvent
	}
	buf[0] = display.GenericEvent
	buf[1] = e.Extension
	display.Put16(buf[2:], e.Sequence)
	display.Put32(buf[4:], uint32(len(buf)-32)/4)
	display.Put16(buf[8:], e.EventType)
	return nil
}

// Bytes returns a zeroed wire event of 32+4*e.Length bytes with the header
// filled in. Encoders write their fields after byte 10.
func (e GenericEvent) Bytes() []byte {
	buf := make([]byte, 32+4*int(e.Length))
	e.PutHeader(buf)
	return buf
}
