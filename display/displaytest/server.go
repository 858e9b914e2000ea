package displaytest

import (
	"encoding/binary"
	"sync"
)

// GEName is the name the Generic Event Extension registers under.
const GEName = "Generic Event Extension"

// Core error codes the server answers with.
const (
	BadRequest        = 1
	BadImplementation = 17
)

const queryExtensionOpcode = 98

// Extension is what the server answers to QueryExtension.
type Extension struct {
	MajorOpcode byte
	FirstEvent  byte
	FirstError  byte
}

// Server is a scripted X server. Its Reply method is meant to be the reply
// function of a NetConn: it answers the setup handshake, QueryExtension and
// the GE QueryVersion request, one write at a time.
//
// Fields must be set before the first request.
type Server struct {
	// SetupFailure, when non-empty, makes the handshake fail with this
	// reason.
	SetupFailure string

	// Extensions the server claims to have.
	Extensions map[string]Extension

	// GEMajor and GEMinor answer GE QueryVersion.
	GEMajor, GEMinor uint16

	// GEVersionError, when non-zero, answers GE QueryVersion with an X
	// error of this code instead.
	GEVersionError byte

	mu             sync.Mutex
	setupDone      bool
	seq            uint16
	versionQueries int
	requests       [][]byte
}

// NewServer returns a server that has the Generic Event Extension at major
// opcode 128 and reports version 1.0.
func NewServer() *Server {
	return &Server{
		Extensions: map[string]Extension{
			GEName: {MajorOpcode: 128},
		},
		GEMajor: 1,
		GEMinor: 0,
	}
}

// VersionQueries is the number of GE QueryVersion requests seen.
func (s *Server) VersionQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionQueries
}

// Requests returns copies of the requests seen after the handshake.
func (s *Server) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.requests...)
}

// Reply answers one write from the client.
func (s *Server) Reply(b []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.setupDone {
		s.setupDone = true
		return s.setupReply()
	}

	s.seq++
	s.requests = append(s.requests, append([]byte(nil), b...))
	if len(b) < 4 {
		return s.errorReply(BadRequest, 0, 0)
	}

	switch op := b[0]; {
	case op == queryExtensionOpcode:
		n := int(binary.LittleEndian.Uint16(b[4:]))
		if 8+n > len(b) {
			return s.errorReply(BadRequest, op, 0)
		}
		ext, ok := s.Extensions[string(b[8:8+n])]
		reply := s.reply(0)
		if ok {
			reply[8] = 1
			reply[9] = ext.MajorOpcode
			reply[10] = ext.FirstEvent
			reply[11] = ext.FirstError
		}
		return reply
	case s.isGE(op) && b[1] == 0:
		s.versionQueries++
		if s.GEVersionError != 0 {
			return s.errorReply(s.GEVersionError, op, 0)
		}
		reply := s.reply(0)
		binary.LittleEndian.PutUint16(reply[8:], s.GEMajor)
		binary.LittleEndian.PutUint16(reply[10:], s.GEMinor)
		return reply
	default:
		return s.errorReply(BadRequest, op, uint16(b[1]))
	}
}

func (s *Server) isGE(op byte) bool {
	ext, ok := s.Extensions[GEName]
	return ok && ext.MajorOpcode == op
}

func (s *Server) reply(length uint32) []byte {
	buf := make([]byte, 32+4*int(length))
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[2:], s.seq)
	binary.LittleEndian.PutUint32(buf[4:], length)
	return buf
}

func (s *Server) errorReply(code, major byte, minor uint16) []byte {
	buf := make([]byte, 32)
	buf[1] = code
	binary.LittleEndian.PutUint16(buf[2:], s.seq)
	binary.LittleEndian.PutUint16(buf[8:], minor)
	buf[10] = major
	return buf
}

func (s *Server) setupReply() []byte {
	if s.SetupFailure != "" {
		reason := pad([]byte(s.SetupFailure))
		buf := make([]byte, 8, 8+len(reason))
		buf[1] = byte(len(s.SetupFailure))
		binary.LittleEndian.PutUint16(buf[2:], 11)
		binary.LittleEndian.PutUint16(buf[6:], uint16(len(reason)/4))
		return append(buf, reason...)
	}

	vendor := pad([]byte("displaytest"))
	body := make([]byte, 32, 32+len(vendor))
	binary.LittleEndian.PutUint32(body[0:], 12101004)
	binary.LittleEndian.PutUint32(body[4:], 0x00200000)
	binary.LittleEndian.PutUint32(body[8:], 0x001fffff)
	binary.LittleEndian.PutUint16(body[16:], uint16(len("displaytest")))
	binary.LittleEndian.PutUint16(body[18:], 0xffff)
	body[26] = 8
	body[27] = 255
	body = append(body, vendor...)

	head := make([]byte, 8)
	head[0] = 1
	binary.LittleEndian.PutUint16(head[2:], 11)
	binary.LittleEndian.PutUint16(head[6:], uint16(len(body)/4))
	return append(head, body...)
}

// GenericEvent builds the wire form of a generic event. payload starts at
// byte 10, right after the event type; the event is padded to at least 32
// bytes and to a multiple of 4.
func GenericEvent(extension byte, seq uint16, evtype uint16, payload []byte) []byte {
	size := 10 + len(payload)
	if size < 32 {
		size = 32
	}
	buf := make([]byte, (size+3)&^3)
	buf[0] = 35
	buf[1] = extension
	binary.LittleEndian.PutUint16(buf[2:], seq)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(buf)-32)/4)
	binary.LittleEndian.PutUint16(buf[8:], evtype)
	copy(buf[10:], payload)
	return buf
}

func pad(b []byte) []byte {
	return append(b, make([]byte, (len(b)+3)&^3-len(b))...)
}
