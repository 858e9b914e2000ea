package display

import (
	"github.com/pkg/errors"
)

// GenericEvent is the event code shared by every extension that sends
// events through the Generic Event Extension. Such events are 32 bytes plus
// 4*length, where length is the CARD32 at offset 4.
const GenericEvent = 35

// Event is an interface that can contain any of the events returned by the
// server. Use a type assertion switch to extract the Event structs.
type Event interface {
	ImplementsEvent()
}

// UnknownEvent is delivered for events whose code has no wire hook.
type UnknownEvent struct {
	Code byte
	Raw  []byte
}

func (UnknownEvent) ImplementsEvent() {}

// WireToEventFunc turns the wire form of an event into an Event. Returning
// false drops the event.
type WireToEventFunc func(buf []byte) (Event, bool)

// EventToWireFunc is the reverse of WireToEventFunc.
type EventToWireFunc func(ev Event) ([]byte, error)

// SetWireToEvent sets the decoder for events with the given code (the send
// event bit is ignored) and returns the previous one. A nil fn removes it.
func (c *Conn) SetWireToEvent(code byte, fn WireToEventFunc) WireToEventFunc {
	code &= 0x7f
	c.hookLock.Lock()
	defer c.hookLock.Unlock()

	old := c.wireToEvent[code]
	if fn == nil {
		delete(c.wireToEvent, code)
	} else {
		c.wireToEvent[code] = fn
	}
	return old
}

// SetEventToWire sets the encoder for events with the given code and
// returns the previous one. A nil fn removes it.
func (c *Conn) SetEventToWire(code byte, fn EventToWireFunc) EventToWireFunc {
	code &= 0x7f
	c.hookLock.Lock()
	defer c.hookLock.Unlock()

	old := c.eventToWire[code]
	if fn == nil {
		delete(c.eventToWire, code)
	} else {
		c.eventToWire[code] = fn
	}
	return old
}

// EventToWire encodes ev with the hook registered for code.
func (c *Conn) EventToWire(code byte, ev Event) ([]byte, error) {
	c.hookLock.RLock()
	fn := c.eventToWire[code&0x7f]
	c.hookLock.RUnlock()

	if fn == nil {
		return nil, errors.Wrapf(ErrNoHook, "event code %d", code&0x7f)
	}
	return fn(ev)
}

func (c *Conn) decodeEvent(buf []byte) (Event, bool) {
	code := buf[0] & 0x7f
	c.hookLock.RLock()
	fn := c.wireToEvent[code]
	c.hookLock.RUnlock()

	if fn == nil {
		return UnknownEvent{Code: code, Raw: buf}, true
	}
	return fn(buf)
}

// WaitForEvent returns the next event from the server.
// It will block until an event is available.
func (c *Conn) WaitForEvent() (Event, error) {
	for {
		if buf := c.dequeueEvent(); buf != nil {
			if ev, ok := c.decodeEvent(buf); ok {
				return ev, nil
			}
			continue
		}
		if _, ok := <-c.eventChan; !ok {
			return nil, ErrClosed
		}
	}
}

// PollForEvent returns the next event from the server if one is available
// in the internal queue. It returns nil, nil when the queue is empty.
func (c *Conn) PollForEvent() (Event, error) {
	for {
		buf := c.dequeueEvent()
		if buf == nil {
			return nil, nil
		}
		if ev, ok := c.decodeEvent(buf); ok {
			return ev, nil
		}
	}
}

func (c *Conn) queueEvent(buf []byte) {
	c.eventLock.Lock()
	c.events.queue(buf)
	c.eventLock.Unlock()

	select {
	case c.eventChan <- struct{}{}:
	default:
	}
}

func (c *Conn) dequeueEvent() []byte {
	c.eventLock.Lock()
	defer c.eventLock.Unlock()
	return c.events.dequeue()
}

// A simple queue used to stow away events.
type queue struct {
	data [][]byte
	a, b int
}

func (q *queue) queue(item []byte) {
	if q.b == len(q.data) {
		if q.a > 0 {
			copy(q.data, q.data[q.a:q.b])
			q.a, q.b = 0, q.b-q.a
		} else {
			newData := make([][]byte, (len(q.data)*3)/2)
			copy(newData, q.data)
			q.data = newData
		}
	}
	q.data[q.b] = item
	q.b++
}

func (q *queue) dequeue() []byte {
	if q.a < q.b {
		item := q.data[q.a]
		q.data[q.a] = nil
		q.a++
		return item
	}
	return nil
}
