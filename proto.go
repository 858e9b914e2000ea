package xge

import (
	"github.com/BurntSushi/xge/display"
)

// Name is the name the extension is registered under with the server.
const Name = "Generic Event Extension"

// The protocol version this client implements.
const (
	MajorVersion = 1
	MinorVersion = 0
)

const queryVersionOpcode = 0

// Version is the protocol version the server agreed to.
type Version struct {
	Major uint16
	Minor uint16
}

// queryVersionRequest writes a GEQueryVersion request.
func queryVersionRequest(majorOpcode byte) []byte {
	buf := make([]byte, 8)
	buf[0] = majorOpcode
	buf[1] = queryVersionOpcode
	display.Put16(buf[2:], uint16(len(buf)/4))
	display.Put16(buf[4:], MajorVersion)
	display.Put16(buf[6:], MinorVersion)
	return buf
}

func readQueryVersionReply(buf []byte) (Version, error) {
	if len(buf) < 12 {
		return Version{}, ErrShortReply
	}
	return Version{
		Major: display.Get16(buf[8:]),
		Minor: display.Get16(buf[10:]),
	}, nil
}
