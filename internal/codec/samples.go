package codec

import "fmt"

// SampleWidth is the packed width of one sample on the wire.
const SampleWidth = 3

// SamplesPerFrame is the number of packed samples in one stream payload.
const SamplesPerFrame = StreamPayloadSize / SampleWidth

// Widen turns a packed little-endian 3-byte sample into a 32-bit word by
// prefixing a zero byte: the 24-bit value ends up left-justified.
func Widen(b0, b1, b2 byte) int32 {
	return int32(uint32(b0)<<8 | uint32(b1)<<16 | uint32(b2)<<24)
}

// Counts converts a widened word back to the signed 24-bit ADC count.
func Counts(w int32) int32 {
	return w >> 8
}

// Realign widens every packed sample in payload and reshapes the result into
// rows of channels columns. Samples are interleaved sample-major,
// channel-minor: ch0 s0, ch1 s0, ..., ch0 s1, ...
func Realign(payload []byte, channels int) ([][]int32, error) {
	if channels <= 0 {
		return nil, &ValueError{Field: "channels", Value: channels, Reason: "must be positive"}
	}
	if len(payload)%SampleWidth != 0 {
		return nil, &DecodeError{What: "samples", Reason: fmt.Sprintf("payload length %d is not a multiple of %d", len(payload), SampleWidth)}
	}
	n := len(payload) / SampleWidth
	if n%channels != 0 {
		return nil, &DecodeError{What: "samples", Reason: fmt.Sprintf("%d samples do not split into %d channels", n, channels)}
	}

	rows := make([][]int32, n/channels)
	flat := make([]int32, n)
	for i := 0; i < n; i++ {
		p := payload[i*SampleWidth:]
		flat[i] = Widen(p[0], p[1], p[2])
	}
	for r := range rows {
		rows[r] = flat[r*channels : (r+1)*channels : (r+1)*channels]
	}
	return rows, nil
}

// ChannelsFit reports whether a frame payload splits evenly across channels.
func ChannelsFit(channels int) bool {
	return channels > 0 && SamplesPerFrame%channels == 0
}
