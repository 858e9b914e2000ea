package display

// Cookie pairs a request with its reply. Requests without replies get no
// cookie at all.
type Cookie struct {
	Sequence  uint16
	replyChan chan []byte
	errorChan chan error

	// done is closed when the connection's reader stops, so a reply that
	// will never come does not block forever.
	done <-chan struct{}
}

func newCookie(seq uint16, done <-chan struct{}) *Cookie {
	return &Cookie{
		Sequence:  seq,
		replyChan: make(chan []byte, 1),
		errorChan: make(chan error, 1),
		done:      done,
	}
}

// Reply blocks until the reply or an X error for the request arrives.
func (c *Cookie) Reply() ([]byte, error) {
	select {
	case reply := <-c.replyChan:
		return reply, nil
	case err := <-c.errorChan:
		return nil, err
	case <-c.done:
	}

	// The reader may have delivered just before it stopped.
	select {
	case reply := <-c.replyChan:
		return reply, nil
	case err := <-c.errorChan:
		return nil, err
	default:
	}
	return nil, ErrClosed
}
