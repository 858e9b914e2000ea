// Copyright 2009 The XGB Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package display

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	readBuffer  = 100
	writeBuffer = 100
)

// MaxResponseLength is the largest length, in 4 byte units beyond the first
// 32 bytes, accepted for a reply or generic event. A longer one stops the
// connection.
var MaxResponseLength uint32 = 1 << 24

// A Conn represents a connection to an X server.
type Conn struct {
	display string
	conn    net.Conn
	Setup   SetupInfo

	// mu is the display lock extensions take with Lock and Unlock.
	mu sync.Mutex

	nextCookie uint16
	cookieLock sync.Mutex
	cookies    map[uint16]*Cookie

	requestChan chan *request
	eventChan   chan struct{}
	events      queue
	eventLock   sync.Mutex

	extLock    sync.Mutex
	extensions map[string]Codes

	hookLock    sync.RWMutex
	wireToEvent map[byte]WireToEventFunc
	eventToWire map[byte]EventToWireFunc
	closeHooks  []func()
	closed      bool

	group     *errgroup.Group
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a new connection instance. It dials the display named by
// $DISPLAY, performs the setup handshake and starts the I/O goroutines.
func NewConn() (*Conn, error) {
	return NewConnDisplay("")
}

// NewConnDisplay is just like NewConn, but allows a specific DISPLAY
// string to be used.
// If 'display' is empty it will be taken from os.Getenv("DISPLAY").
//
// Examples:
//
//	NewConnDisplay(":1") -> net.Dial("unix", "/tmp/.X11-unix/X1")
//	NewConnDisplay("/tmp/launch-123/:0") -> net.Dial("unix", "/tmp/launch-123/:0")
//	NewConnDisplay("hostname:2.1") -> net.Dial("tcp", "hostname:6002")
//	NewConnDisplay("tcp/hostname:1.0") -> net.Dial("tcp", "hostname:6001")
func NewConnDisplay(display string) (*Conn, error) {
	conn, addr, err := dial(display)
	if err != nil {
		return nil, err
	}

	var name string
	var data []byte
	auth, err := readAuthority(addr)
	switch {
	case err != nil:
		logger().Debug().Err(err).Msg("connecting without authorization")
	case auth.name != authName:
		logger().Debug().Str("auth", auth.name).
			Msg("unsupported authorization, connecting without")
	default:
		name, data = auth.name, auth.data
	}

	c, err := newConn(conn, name, data)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.display = display
	return c, nil
}

// NewConnNet performs the setup handshake over an already established
// connection. On failure the caller still owns conn.
func NewConnNet(conn net.Conn) (*Conn, error) {
	return newConn(conn, "", nil)
}

func newConn(conn net.Conn, authName string, authData []byte) (*Conn, error) {
	if _, err := conn.Write(setupRequest(authName, authData)); err != nil {
		return nil, errors.Wrap(err, "display: writing setup request")
	}
	setup, err := readSetup(conn)
	if err != nil {
		return nil, err
	}
	return postNewConn(&Conn{conn: conn, Setup: setup})
}

// postNewConn initializes the data structures of a connection whose
// handshake is done and starts its reader and writer.
func postNewConn(c *Conn) (*Conn, error) {
	c.nextCookie = 1
	c.cookies = make(map[uint16]*Cookie)
	c.events = queue{make([][]byte, 100), 0, 0}
	c.eventChan = make(chan struct{}, readBuffer)
	c.extensions = make(map[string]Codes)
	c.wireToEvent = make(map[byte]WireToEventFunc)
	c.eventToWire = make(map[byte]EventToWireFunc)
	c.requestChan = make(chan *request, writeBuffer)
	c.closing = make(chan struct{})
	c.done = make(chan struct{})

	c.group = new(errgroup.Group)
	c.group.Go(c.writeRequests)
	c.group.Go(c.readResponses)
	return c, nil
}

// Close runs the close hooks, most recently added first, and then closes
// the connection to the X server. Calling Close more than once is a no-op.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.hookLock.Lock()
		hooks := c.closeHooks
		c.closeHooks = nil
		c.closed = true
		c.hookLock.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}

		close(c.closing)
		c.conn.Close()
		if err := c.group.Wait(); err != nil {
			logger().Debug().Err(err).Msg("connection stopped with error")
		}
	})
}

// OnClose adds fn to the functions Close runs before tearing down the
// connection. On a connection Close was already called on, fn runs right
// away.
func (c *Conn) OnClose(fn func()) {
	c.hookLock.Lock()
	if c.closed {
		c.hookLock.Unlock()
		fn()
		return
	}
	c.closeHooks = append(c.closeHooks, fn)
	c.hookLock.Unlock()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.hookLock.RLock()
	defer c.hookLock.RUnlock()
	return c.closed
}

// Lock takes the display lock. The connection itself never takes it; it
// serializes multi-step work extensions do on one connection.
func (c *Conn) Lock() { c.mu.Lock() }

// Unlock releases the display lock.
func (c *Conn) Unlock() { c.mu.Unlock() }

// request is a buffered write to net.Conn.
type request struct {
	buf        []byte
	cookieChan chan *Cookie
}

// writeRequests hands out sequence numbers in the order requests hit the
// wire.
func (c *Conn) writeRequests() error {
	for {
		select {
		case <-c.closing:
			return nil
		case req := <-c.requestChan:
			seq := c.nextCookie
			c.nextCookie++

			if req.cookieChan != nil {
				cookie := newCookie(seq, c.done)
				c.cookieLock.Lock()
				c.cookies[seq] = cookie
				c.cookieLock.Unlock()
				req.cookieChan <- cookie
			}
			if _, err := c.conn.Write(req.buf); err != nil {
				logger().Error().Err(err).Msg("x protocol write error")
				// Stops the reader too, so pending cookies are released.
				c.conn.Close()
				return errors.Wrap(err, "display: write")
			}
		}
	}
}

// SendRequest queues the concatenation of bufs for writing. If needsReply
// is set, the returned cookie receives the reply.
func (c *Conn) SendRequest(needsReply bool, bufs ...[]byte) (*Cookie, error) {
	var buf []byte
	if len(bufs) == 1 {
		buf = bufs[0]
	} else {
		for _, b := range bufs {
			buf = append(buf, b...)
		}
	}

	req := &request{buf: buf}
	if needsReply {
		req.cookieChan = make(chan *Cookie, 1)
	}
	select {
	case c.requestChan <- req:
	case <-c.closing:
		return nil, ErrClosed
	case <-c.done:
		return nil, ErrClosed
	}
	if req.cookieChan == nil {
		return nil, nil
	}

	select {
	case cookie := <-req.cookieChan:
		return cookie, nil
	case <-c.closing:
		return nil, ErrClosed
	case <-c.done:
		return nil, ErrClosed
	}
}

// RoundTrip sends a request that has a reply and blocks until the reply or
// an X error arrives. There is no timeout; it fails only when the
// connection does.
func (c *Conn) RoundTrip(req []byte) ([]byte, error) {
	cookie, err := c.SendRequest(true, req)
	if err != nil {
		return nil, err
	}
	return cookie.Reply()
}

func (c *Conn) takeCookie(seq uint16) *Cookie {
	c.cookieLock.Lock()
	defer c.cookieLock.Unlock()

	cookie, ok := c.cookies[seq]
	if !ok {
		return nil
	}
	delete(c.cookies, seq)
	return cookie
}

// readResponses reads replies, errors and events until the connection
// fails or is closed.
func (c *Conn) readResponses() error {
	defer func() {
		close(c.done)
		close(c.eventChan)
	}()

	for {
		buf := make([]byte, 32)
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			return c.readError(err)
		}

		switch buf[0] {
		case 0:
			xerr := newError(buf)
			if cookie := c.takeCookie(xerr.Sequence); cookie != nil {
				cookie.errorChan <- xerr
			} else {
				logger().Warn().Err(xerr).Msg("x protocol error")
			}
		case 1:
			buf, err := c.readExtra(buf, Get32(buf[4:]))
			if err != nil {
				return c.readError(err)
			}
			seq := Get16(buf[2:])
			if cookie := c.takeCookie(seq); cookie != nil {
				cookie.replyChan <- buf
			} else {
				logger().Debug().Uint16("sequence", seq).
					Msg("dropping reply nobody waits for")
			}
		default:
			if buf[0]&0x7f == GenericEvent {
				var err error
				if buf, err = c.readExtra(buf, Get32(buf[4:])); err != nil {
					return c.readError(err)
				}
			}
			c.queueEvent(buf)
		}
	}
}

// readExtra reads the length*4 bytes that follow a 32 byte reply or
// generic event.
func (c *Conn) readExtra(buf []byte, length uint32) ([]byte, error) {
	if length == 0 {
		return buf, nil
	}
	if length > MaxResponseLength {
		return nil, errors.Wrapf(errResponseTooLong, "%d units", length)
	}
	bigbuf := make([]byte, 32+int(length)*4)
	copy(bigbuf[0:32], buf)
	if _, err := io.ReadFull(c.conn, bigbuf[32:]); err != nil {
		return nil, err
	}
	return bigbuf, nil
}

func (c *Conn) readError(err error) error {
	select {
	case <-c.closing:
		return nil
	default:
	}
	logger().Error().Err(err).Msg("x protocol read error")
	return errors.Wrap(err, "display: read")
}
