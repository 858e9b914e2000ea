package display

import (
	"github.com/pkg/errors"
)

const queryExtensionOpcode = 98

// Codes are the numbers the server assigned to an extension on this
// connection.
type Codes struct {
	Name        string
	MajorOpcode byte
	FirstEvent  byte
	FirstError  byte
}

func queryExtensionRequest(name string) []byte {
	buf := make([]byte, 8, 8+Pad(len(name)))
	buf[0] = queryExtensionOpcode
	Put16(buf[2:], uint16((8+Pad(len(name)))/4))
	Put16(buf[4:], uint16(len(name)))
	return append(buf, bytesString(name)...)
}

// Extension finds the codes of the named extension, asking the server the
// first time and using the per-connection copy afterwards. Names are case
// sensitive. ErrExtensionNotPresent is returned if the server does not
// have the extension, ErrClosed once Close was called.
func (c *Conn) Extension(name string) (Codes, error) {
	if c.Closed() {
		return Codes{}, ErrClosed
	}
	c.extLock.Lock()
	codes, ok := c.extensions[name]
	c.extLock.Unlock()
	if ok {
		return codes, nil
	}

	reply, err := c.RoundTrip(queryExtensionRequest(name))
	if err != nil {
		return Codes{}, errors.Wrapf(err, "display: querying extension %q", name)
	}
	if reply[8] == 0 {
		return Codes{}, errors.Wrapf(ErrExtensionNotPresent, "%q", name)
	}

	codes = Codes{
		Name:        name,
		MajorOpcode: reply[9],
		FirstEvent:  reply[10],
		FirstError:  reply[11],
	}
	c.extLock.Lock()
	c.extensions[name] = codes
	c.extLock.Unlock()
	return codes, nil
}
