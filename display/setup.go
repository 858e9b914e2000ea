package display

import (
	"io"

	"github.com/pkg/errors"
)

// Setup reply status codes.
const (
	setupFailed       = 0
	setupSuccess      = 1
	setupAuthenticate = 2
)

const authName = "MIT-MAGIC-COOKIE-1"

// SetupInfo is the part of the connection setup reply clients need after
// the handshake. Screens, formats and visuals are skipped.
type SetupInfo struct {
	ProtocolMajor        uint16
	ProtocolMinor        uint16
	ReleaseNumber        uint32
	ResourceIdBase       uint32
	ResourceIdMask       uint32
	MaximumRequestLength uint16
	NumScreens           byte
	MinKeycode           byte
	MaxKeycode           byte
	Vendor               string
}

// setupRequest builds the little-endian connection setup request.
func setupRequest(authName string, authData []byte) []byte {
	buf := make([]byte, 12, 12+Pad(len(authName))+Pad(len(authData)))
	buf[0] = 'l'
	Put16(buf[2:], 11)
	Put16(buf[4:], 0)
	Put16(buf[6:], uint16(len(authName)))
	Put16(buf[8:], uint16(len(authData)))
	buf = append(buf, bytesString(authName)...)
	buf = append(buf, bytesPadding(append([]byte(nil), authData...))...)
	return buf
}

// readSetup reads the server's answer to the setup request.
func readSetup(r io.Reader) (SetupInfo, error) {
	var s SetupInfo

	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return s, errors.Wrap(err, "display: reading setup reply")
	}
	s.ProtocolMajor = Get16(head[2:])
	s.ProtocolMinor = Get16(head[4:])

	body := make([]byte, int(Get16(head[6:]))*4)
	if _, err := io.ReadFull(r, body); err != nil {
		return s, errors.Wrap(err, "display: reading setup reply")
	}

	switch head[0] {
	case setupSuccess:
	case setupFailed:
		n := int(head[1])
		if n > len(body) {
			n = len(body)
		}
		return s, errors.Wrapf(errSetupFailed, "protocol %d.%d: %s",
			s.ProtocolMajor, s.ProtocolMinor, body[:n])
	case setupAuthenticate:
		return s, errors.Wrap(errSetupAuthenticate, trimZero(body))
	default:
		return s, errors.Errorf("display: unknown setup status %d", head[0])
	}

	if len(body) < 32 {
		return s, errors.New("display: setup reply too short")
	}
	s.ReleaseNumber = Get32(body[0:])
	s.ResourceIdBase = Get32(body[4:])
	s.ResourceIdMask = Get32(body[8:])
	vendorLen := int(Get16(body[16:]))
	s.MaximumRequestLength = Get16(body[18:])
	s.NumScreens = body[20]
	s.MinKeycode = body[26]
	s.MaxKeycode = body[27]
	if 32+vendorLen > len(body) {
		return s, errors.New("display: setup reply vendor overflows")
	}
	s.Vendor = string(body[32 : 32+vendorLen])
	return s, nil
}

func trimZero(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}
