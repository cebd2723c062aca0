package tcpcore

import "encoding/binary"

// HeaderCodec frames messages on the wire.
type HeaderCodec interface {
	// Encode prepends the header to body, returning the whole frame.
	Encode(body []byte) []byte
	// Decode inspects buffered data and returns the body length announced
	// by the header plus the header length itself.
	// headerLen == 0 means the header has not fully arrived yet.
	Decode(data []byte) (bodyLen, headerLen uint32)
}

const lengthFieldLen = 4

// lengthFieldCodec prefixes every message with a 4-byte big-endian body
// length.
type lengthFieldCodec struct{}

// DefaultHeaderCodec returns the length-field codec.
func DefaultHeaderCodec() HeaderCodec {
	return lengthFieldCodec{}
}

func (lengthFieldCodec) Encode(body []byte) []byte {
	frame := make([]byte, lengthFieldLen+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[lengthFieldLen:], body)
	return frame
}

func (lengthFieldCodec) Decode(data []byte) (bodyLen, headerLen uint32) {
	if len(data) < lengthFieldLen {
		return 0, 0
	}
	return binary.BigEndian.Uint32(data), lengthFieldLen
}
