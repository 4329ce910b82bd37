package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	StreamFrameSize   = 8008
	StreamHeaderSize  = 16
	StreamPayloadSize = StreamFrameSize - StreamHeaderSize
	MarkerSize        = 6
)

// DefaultStreamMarker opens every acquisition block.
var DefaultStreamMarker = [MarkerSize]byte{0xAA, 0x55, 0xAA, 0x55, 0x41, 0x44}

// StreamHeader is the 16-byte prefix of a stream frame:
// marker(6) mode(int8) status(int8) timestamp(uint32 LE) sequence(uint32 LE).
type StreamHeader struct {
	Marker    [MarkerSize]byte
	Mode      int8
	Status    int8
	Timestamp uint32
	Sequence  uint32
}

// CheckMarker reports a *DecodeError when the header marker differs from want.
func (h StreamHeader) CheckMarker(want [MarkerSize]byte) error {
	if h.Marker != want {
		return &DecodeError{
			What:   "stream frame",
			Reason: fmt.Sprintf("marker % x, want % x (seq %d)", h.Marker[:], want[:], h.Sequence),
		}
	}
	return nil
}

// DecodeStreamFrame splits one acquisition block into header and payload.
// The returned payload aliases raw.
func DecodeStreamFrame(raw []byte) (StreamHeader, []byte, error) {
	if len(raw) != StreamFrameSize {
		return StreamHeader{}, nil, &DecodeError{What: "stream frame", Want: StreamFrameSize, Got: len(raw)}
	}
	var h StreamHeader
	copy(h.Marker[:], raw[0:6])
	h.Mode = int8(raw[6])
	h.Status = int8(raw[7])
	h.Timestamp = binary.LittleEndian.Uint32(raw[8:12])
	h.Sequence = binary.LittleEndian.Uint32(raw[12:16])
	return h, raw[StreamHeaderSize:], nil
}

// EncodeStreamFrame builds an acquisition block. Device simulators and
// capture replays use it; the client only decodes.
func EncodeStreamFrame(h StreamHeader, payload []byte) ([]byte, error) {
	if len(payload) != StreamPayloadSize {
		return nil, &ValueError{Field: "payload", Value: len(payload), Reason: fmt.Sprintf("expected %d bytes", StreamPayloadSize)}
	}
	buf := make([]byte, StreamFrameSize)
	copy(buf[0:6], h.Marker[:])
	buf[6] = byte(h.Mode)
	buf[7] = byte(h.Status)
	binary.LittleEndian.PutUint32(buf[8:12], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[12:16], h.Sequence)
	copy(buf[StreamHeaderSize:], payload)
	return buf, nil
}
