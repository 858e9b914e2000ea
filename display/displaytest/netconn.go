package displaytest

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

type addr struct {
	s string
}

func (addr) Network() string  { return "dummy" }
func (a addr) String() string { return a.s }

var (
	ErrNotImplemented = errors.New("displaytest: command not implemented")
	ErrClosed         = errors.New("displaytest: server closed")
	ErrWrite          = errors.New("displaytest: server write failed")
	ErrRead           = errors.New("displaytest: server read failed")
)

type ioResult struct {
	n   int
	err error
}

type ioRequest struct {
	b      []byte
	result chan ioResult
}

type (
	ctlWriteLock    struct{}
	ctlWriteUnlock  struct{}
	ctlWriteError   struct{}
	ctlWriteSuccess struct{}
	ctlReadLock     struct{}
	ctlReadUnlock   struct{}
	ctlReadError    struct{}
	ctlReadSuccess  struct{}
	ctlPush         struct{ b []byte }
)

// NetConn is an in-memory net.Conn backed by a server goroutine. Construct
// it with NewNetConn.
type NetConn struct {
	reply   func([]byte) []byte
	addr    addr
	in, out chan ioRequest
	control chan interface{}
	done    chan struct{}
}

var _ net.Conn = (*NetConn)(nil)

// NewNetConn starts a dummy server satisfying net.Conn.
// 'name' is returned via LocalAddr().String() and RemoteAddr().String().
// 'reply' is run on every successful Write with the written bytes; its
// result is appended to an internal buffer that Read drains.
// The caller must stop the server with Close.
// By default Write and Read are unlocked and succeed.
func NewNetConn(name string, reply func([]byte) []byte) *NetConn {
	s := &NetConn{
		reply,
		addr{name},
		make(chan ioRequest), make(chan ioRequest),
		make(chan interface{}),
		make(chan struct{}),
	}

	in, out := s.in, chan ioRequest(nil)
	buf := &bytes.Buffer{}
	errorRead, errorWrite := false, false
	lockRead := false

	go func() {
		defer close(s.done)
		for {
			select {
			case req := <-in:
				if errorWrite {
					req.result <- ioResult{0, ErrWrite}
					break
				}

				buf.Write(s.reply(req.b))
				req.result <- ioResult{len(req.b), nil}

				if !lockRead && buf.Len() > 0 && out == nil {
					out = s.out
				}
			case req := <-out:
				if errorRead {
					req.result <- ioResult{0, ErrRead}
					break
				}

				n, err := buf.Read(req.b)
				req.result <- ioResult{n, err}

				if buf.Len() == 0 {
					out = nil
				}
			case ci := <-s.control:
				if ci == nil {
					return
				}
				switch ci := ci.(type) {
				case ctlWriteLock:
					in = nil
				case ctlWriteUnlock:
					in = s.in
				case ctlWriteError:
					errorWrite = true
				case ctlWriteSuccess:
					errorWrite = false
				case ctlReadLock:
					out = nil
					lockRead = true
				case ctlReadUnlock:
					lockRead = false
					if buf.Len() > 0 && out == nil {
						out = s.out
					}
				case ctlReadError:
					errorRead = true
				case ctlReadSuccess:
					errorRead = false
				case ctlPush:
					buf.Write(ci.b)
					if !lockRead && buf.Len() > 0 && out == nil {
						out = s.out
					}
				default:
				}
			}
		}
	}()
	return s
}

// Close shuts the server down. Every blocked or future call returns an
// error. Closing twice returns ErrClosed.
func (s *NetConn) Close() error {
	select {
	case s.control <- nil:
		<-s.done
		return nil
	case <-s.done:
	}
	return ErrClosed
}

// Write hands b to the server.
// If locked by WriteLock, it blocks until unlocked or closed.
// After WriteError it returns (0, ErrWrite) without calling reply.
// Otherwise reply(b) is buffered for Read and (len(b), nil) is returned.
// After Close it returns (0, ErrClosed).
func (s *NetConn) Write(b []byte) (int, error) {
	resChan := make(chan ioResult)
	select {
	case s.in <- ioRequest{b, resChan}:
		res := <-resChan
		return res.n, res.err
	case <-s.done:
	}
	return 0, ErrClosed
}

// Read drains the server's buffer.
// If locked by ReadLock, or if the buffer is empty, it blocks until data
// is available or the server closes.
// After ReadError a read of available data returns (0, ErrRead).
// After Close it returns (0, io.EOF).
func (s *NetConn) Read(b []byte) (int, error) {
	resChan := make(chan ioResult)
	select {
	case s.out <- ioRequest{b, resChan}:
		res := <-resChan
		return res.n, res.err
	case <-s.done:
	}
	return 0, io.EOF
}

func (s *NetConn) LocalAddr() net.Addr                { return s.addr }
func (s *NetConn) RemoteAddr() net.Addr               { return s.addr }
func (s *NetConn) SetDeadline(t time.Time) error      { return ErrNotImplemented }
func (s *NetConn) SetReadDeadline(t time.Time) error  { return ErrNotImplemented }
func (s *NetConn) SetWriteDeadline(t time.Time) error { return ErrNotImplemented }

func (s *NetConn) send(i interface{}) error {
	select {
	case s.control <- i:
		return nil
	case <-s.done:
	}
	return ErrClosed
}

// Push appends b to the read buffer as if the server had sent it on its
// own, which is how events arrive.
func (s *NetConn) Push(b []byte) error {
	return s.send(ctlPush{append([]byte(nil), b...)})
}

// WriteLock blocks all writes until WriteUnlock or Close.
func (s *NetConn) WriteLock() error {
	return s.send(ctlWriteLock{})
}

// WriteUnlock lets blocked writes through.
func (s *NetConn) WriteUnlock() error {
	return s.send(ctlWriteUnlock{})
}

// WriteError unlocks writing and makes Write return (0, ErrWrite).
func (s *NetConn) WriteError() error {
	if err := s.WriteUnlock(); err != nil {
		return err
	}
	return s.send(ctlWriteError{})
}

// WriteSuccess unlocks writing and makes Write succeed again.
func (s *NetConn) WriteSuccess() error {
	if err := s.WriteUnlock(); err != nil {
		return err
	}
	return s.send(ctlWriteSuccess{})
}

// ReadLock blocks all reads, even when data is buffered, until ReadUnlock
// or Close.
func (s *NetConn) ReadLock() error {
	return s.send(ctlReadLock{})
}

// ReadUnlock lets reads through when the buffer is not empty.
func (s *NetConn) ReadUnlock() error {
	return s.send(ctlReadUnlock{})
}

// ReadError unlocks reading and makes reads of buffered data return
// (0, ErrRead).
func (s *NetConn) ReadError() error {
	if err := s.ReadUnlock(); err != nil {
		return err
	}
	return s.send(ctlReadError{})
}

// ReadSuccess unlocks reading and makes Read serve the buffer again.
func (s *NetConn) ReadSuccess() error {
	if err := s.ReadUnlock(); err != nil {
		return err
	}
	return s.send(ctlReadSuccess{})
}
