package display

// Pad rounds a length up so that it aligns on 4 bytes.
func Pad(n int) int { return (n + 3) & ^3 }

// Put16 writes v into buf in the little-endian order negotiated by the
// handshake.
func Put16(buf []byte, v uint16) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
}

// Put32 is Put16 for 32 bit values.
func Put32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func Get16(buf []byte) uint16 {
	v := uint16(buf[0])
	v |= uint16(buf[1]) << 8
	return v
}

func Get32(buf []byte) uint32 {
	v := uint32(buf[0])
	v |= uint32(buf[1]) << 8
	v |= uint32(buf[2]) << 16
	v |= uint32(buf[3]) << 24
	return v
}

// bytesPadding appends zero bytes to buf until it aligns on 4 bytes.
func bytesPadding(buf []byte) []byte {
	return append(buf, make([]byte, Pad(len(buf))-len(buf))...)
}

func bytesString(str string) []byte {
	return bytesPadding([]byte(str))
}
