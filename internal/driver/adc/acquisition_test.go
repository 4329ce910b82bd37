package adc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"adc-service/internal/codec"
	"adc-service/internal/protocol"
	"adc-service/pkg/driver"
)

var (
	onAck  = []byte{0x55, 0xAA, 0x05, 0x00}
	offAck = []byte{0x55, 0xAA, 0x06, 0x00}
)

type recordingSink struct {
	sequences []uint32
	firstWord []uint32
	closed    bool
	aborted   error
	onWrite   func(n int) error
}

func (s *recordingSink) WriteFrame(h codec.StreamHeader, payload []byte) error {
	if s.onWrite != nil {
		if err := s.onWrite(len(s.sequences)); err != nil {
			return err
		}
	}
	s.sequences = append(s.sequences, h.Sequence)
	s.firstWord = append(s.firstWord, binary.LittleEndian.Uint32(payload))
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) Abort(cause error) error {
	s.aborted = cause
	return nil
}

// streamingDevice answers ADC_ON with its ack followed by frames (delivered
// in chunk-sized pieces) and ADC_OFF with the stopped ack.
func streamingDevice(t *testing.T, seqs []uint32, chunk int) *fakeTransport {
	return &fakeTransport{onSend: func(data []byte) []step {
		switch data[2] {
		case 0x05:
			steps := []step{{data: onAck}}
			for _, s := range seqs {
				steps = append(steps, chunked(streamFrame(t, s), chunk)...)
			}
			return steps
		case 0x06:
			return []step{{data: offAck}}
		}
		return nil
	}}
}

func contiguous(base uint32, n int) []uint32 {
	seqs := make([]uint32, n)
	for i := range seqs {
		seqs[i] = base + uint32(i)
	}
	return seqs
}

func TestAcquisitionContiguousFrames(t *testing.T) {
	for _, base := range []uint32{0, 41, math.MaxUint32 - 2} {
		t.Run(fmt.Sprintf("base=%d", base), func(t *testing.T) {
			const n = 6
			ft := streamingDevice(t, contiguous(base, n), 3000)
			c := newTestClient(t, ft, nil)
			sink := &recordingSink{}

			summary, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: n, Channels: 2}, sink)
			if err != nil {
				t.Fatalf("StartAcquisition: %v", err)
			}
			if len(sink.sequences) != n || summary.Frames != n {
				t.Fatalf("forwarded %d frames, summary %d, want %d", len(sink.sequences), summary.Frames, n)
			}
			for i, seq := range sink.sequences {
				if seq != base+uint32(i) || sink.firstWord[i] != seq {
					t.Fatalf("frame %d: seq %d payload %d", i, seq, sink.firstWord[i])
				}
			}
			if !sink.closed || sink.aborted != nil {
				t.Fatalf("sink closed=%v aborted=%v", sink.closed, sink.aborted)
			}
			if summary.FirstSequence != base || summary.LastSequence != base+n-1 {
				t.Fatalf("summary sequences %d..%d", summary.FirstSequence, summary.LastSequence)
			}
			if summary.Samples != n*codec.SamplesPerFrame {
				t.Fatalf("summary samples = %d", summary.Samples)
			}
			if ft.sentCount(0x06) != 1 {
				t.Fatalf("ADC_OFF sent %d times", ft.sentCount(0x06))
			}
			if c.AcquisitionState() != AcquisitionStopped {
				t.Fatalf("state = %s", c.AcquisitionState())
			}
		})
	}
}

func TestAcquisitionSequenceGap(t *testing.T) {
	const n = 5
	for gapAt := 1; gapAt < n; gapAt++ {
		t.Run(fmt.Sprintf("gap_at=%d", gapAt), func(t *testing.T) {
			seqs := contiguous(100, n)
			for i := gapAt; i < n; i++ {
				seqs[i]++ // frame 100+gapAt never arrives
			}
			ft := streamingDevice(t, seqs, codec.StreamFrameSize)
			c := newTestClient(t, ft, nil)
			sink := &recordingSink{}

			_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: n, Channels: 4}, sink)
			var loss *DataLossError
			if !errors.As(err, &loss) {
				t.Fatalf("error = %v, want *DataLossError", err)
			}
			if loss.Expected != 100+uint32(gapAt) || loss.Actual != 101+uint32(gapAt) || loss.Frame != gapAt {
				t.Fatalf("DataLossError = %+v", loss)
			}
			if len(sink.sequences) != gapAt {
				t.Fatalf("forwarded %d frames, want %d", len(sink.sequences), gapAt)
			}
			if sink.closed || !errors.Is(sink.aborted, ErrDataLoss) {
				t.Fatalf("sink closed=%v aborted=%v", sink.closed, sink.aborted)
			}
			if ft.sentCount(0x06) != 1 {
				t.Fatalf("ADC_OFF sent %d times", ft.sentCount(0x06))
			}
		})
	}
}

func TestAcquisitionTransportFailureStopsOnce(t *testing.T) {
	ft := &fakeTransport{onSend: func(data []byte) []step {
		switch data[2] {
		case 0x05:
			return []step{{data: onAck}, {data: streamFrame(t, 7)}, {data: streamFrame(t, 8)[:100]}, {err: protocol.ErrPeerClosed}}
		case 0x06:
			return []step{{err: fmt.Errorf("%w: reset by peer", protocol.ErrConnection)}}
		}
		return nil
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	c := newTestClient(t, ft, zap.New(core))
	sink := &recordingSink{}

	_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 4, Channels: 1}, sink)
	// A close mid-frame keeps its transport cause.
	if !errors.Is(err, protocol.ErrPeerClosed) || errors.Is(err, codec.ErrDecode) {
		t.Fatalf("error = %v, want ErrPeerClosed", err)
	}
	if !errors.Is(sink.aborted, protocol.ErrPeerClosed) {
		t.Fatalf("sink aborted with %v", sink.aborted)
	}
	if len(sink.sequences) != 1 || sink.aborted == nil {
		t.Fatalf("forwarded %d frames, aborted=%v", len(sink.sequences), sink.aborted)
	}
	if ft.sentCount(0x06) != 1 {
		t.Fatalf("ADC_OFF sent %d times", ft.sentCount(0x06))
	}
	if logs.FilterMessage("Best-effort stop after acquisition failure failed").Len() != 1 {
		t.Fatalf("expected one warning for failed stop, got %v", logs.All())
	}
}

func TestAcquisitionTimeoutMidFrame(t *testing.T) {
	ft := &fakeTransport{onSend: func(data []byte) []step {
		switch data[2] {
		case 0x05:
			return []step{{data: onAck}, {data: streamFrame(t, 1)[:500]}, {err: protocol.ErrReceiveTimeout}}
		case 0x06:
			return []step{{data: offAck}}
		}
		return nil
	}}
	c := newTestClient(t, ft, nil)

	_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 2, Channels: 1}, &recordingSink{})
	var de *codec.DecodeError
	if !errors.As(err, &de) || de.Got != 500 || de.Want != codec.StreamFrameSize {
		t.Fatalf("error = %v, want short frame DecodeError", err)
	}
}

func TestAcquisitionPeerClosedBetweenFrames(t *testing.T) {
	ft := &fakeTransport{onSend: func(data []byte) []step {
		switch data[2] {
		case 0x05:
			return []step{{data: onAck}, {data: streamFrame(t, 1)}, {err: protocol.ErrPeerClosed}}
		case 0x06:
			return []step{{data: offAck}}
		}
		return nil
	}}
	c := newTestClient(t, ft, nil)
	sink := &recordingSink{}

	_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 3, Channels: 1}, sink)
	if !errors.Is(err, protocol.ErrPeerClosed) {
		t.Fatalf("error = %v, want ErrPeerClosed", err)
	}
	if !errors.Is(sink.aborted, protocol.ErrPeerClosed) {
		t.Fatalf("sink aborted with %v", sink.aborted)
	}
}

func TestAcquisitionCancelledBetweenFrames(t *testing.T) {
	ft := streamingDevice(t, contiguous(0, 10), codec.StreamFrameSize)
	c := newTestClient(t, ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onWrite: func(n int) error {
		if n == 2 {
			cancel()
		}
		return nil
	}}

	_, err := c.StartAcquisition(ctx, driver.AcquisitionRequest{Frames: 10, Channels: 2}, sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(sink.sequences) != 3 {
		t.Fatalf("forwarded %d frames, want 3", len(sink.sequences))
	}
	if sink.aborted == nil || sink.closed {
		t.Fatalf("sink closed=%v aborted=%v", sink.closed, sink.aborted)
	}
	if ft.sentCount(0x06) != 1 {
		t.Fatalf("ADC_OFF sent %d times after cancel", ft.sentCount(0x06))
	}
}

func TestAcquisitionBadMarker(t *testing.T) {
	bad := streamFrame(t, 3)
	bad[0] = 0x00
	ft := &fakeTransport{onSend: func(data []byte) []step {
		switch data[2] {
		case 0x05:
			return []step{{data: onAck}, {data: bad}}
		case 0x06:
			return []step{{data: offAck}}
		}
		return nil
	}}
	c := newTestClient(t, ft, nil)
	sink := &recordingSink{}

	_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 1, Channels: 1}, sink)
	if !errors.Is(err, codec.ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
	if len(sink.sequences) != 0 {
		t.Fatal("frame with a bad marker was forwarded")
	}
}

func TestAcquisitionSinkFailure(t *testing.T) {
	ft := streamingDevice(t, contiguous(0, 3), codec.StreamFrameSize)
	c := newTestClient(t, ft, nil)
	diskFull := errors.New("disk full")
	sink := &recordingSink{onWrite: func(n int) error {
		if n == 1 {
			return diskFull
		}
		return nil
	}}

	_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 3, Channels: 1}, sink)
	if !errors.Is(err, diskFull) {
		t.Fatalf("error = %v, want disk full", err)
	}
	if !errors.Is(sink.aborted, diskFull) {
		t.Fatalf("sink aborted with %v", sink.aborted)
	}
}

func TestAcquisitionBusy(t *testing.T) {
	ft := streamingDevice(t, contiguous(0, 2), codec.StreamFrameSize)
	c := newTestClient(t, ft, nil)

	var busyErr, stopErr error
	sink := &recordingSink{onWrite: func(n int) error {
		if n == 0 {
			_, busyErr = c.Call(context.Background(), CmdGetInfo)
			stopErr = c.StopAcquisition(context.Background())
		}
		return nil
	}}

	if _, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 2, Channels: 1}, sink); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if !errors.Is(busyErr, ErrBusy) || !errors.Is(stopErr, ErrBusy) {
		t.Fatalf("calls during acquisition: %v, %v; want ErrBusy", busyErr, stopErr)
	}
}

// gatedTransport holds the first receive until gate is closed.
type gatedTransport struct {
	*fakeTransport
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedTransport) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.fakeTransport.Receive(ctx, maxBytes)
}

func TestCallDuringClaimedAcquisitionIsBusy(t *testing.T) {
	ft := &fakeTransport{onSend: func(data []byte) []step {
		switch data[2] {
		case 0x01:
			return []step{{data: make([]byte, 32)}}
		case 0x05:
			return []step{{data: onAck}, {data: streamFrame(t, 0)}}
		case 0x06:
			return []step{{data: offAck}}
		}
		return nil
	}}
	gated := &gatedTransport{fakeTransport: ft, entered: make(chan struct{}), gate: make(chan struct{})}
	c := NewClientWithTransport(Config{DeviceID: "gated", StopMaxAttempts: 16, CheckMarker: true}, gated, zaptest.NewLogger(t))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), CmdGetInfo)
		firstErr <- err
	}()
	<-gated.entered

	acqErr := make(chan error, 1)
	go func() {
		_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 1, Channels: 1}, &recordingSink{})
		acqErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.AcquisitionState() != AcquisitionStarting {
		if time.Now().After(deadline) {
			t.Fatal("acquisition never claimed the client")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Call(ctx, CmdGetInfo); !errors.Is(err, ErrBusy) {
		t.Fatalf("call after claim: %v, want ErrBusy", err)
	}

	close(gated.gate)
	if err := <-firstErr; err != nil {
		t.Fatalf("admitted call: %v", err)
	}
	if err := <-acqErr; err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if ft.sentCount(0x01) != 1 {
		t.Fatalf("GET_INFO sent %d times", ft.sentCount(0x01))
	}
}

func TestAcquisitionValidation(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, nil)

	cases := []driver.AcquisitionRequest{
		{Frames: 0, Channels: 1},
		{Frames: 1, Channels: 5},
		{Frames: 1, Channels: 0},
	}
	for _, req := range cases {
		if _, err := c.StartAcquisition(context.Background(), req, &recordingSink{}); !errors.Is(err, codec.ErrValue) {
			t.Fatalf("%+v: error = %v, want ErrValue", req, err)
		}
	}
	if _, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 1, Channels: 1}, nil); !errors.Is(err, codec.ErrValue) {
		t.Fatalf("nil sink: error = %v", err)
	}
	if ft.sendCount() != 0 {
		t.Fatalf("%d sends for invalid requests", ft.sendCount())
	}
}

func TestStopAcquisitionFindsSplitAck(t *testing.T) {
	noise := make([]byte, 5000)
	for i := range noise {
		noise[i] = byte(i)
	}
	ft := &fakeTransport{onSend: func(data []byte) []step {
		if data[2] != 0x06 {
			return nil
		}
		tail := append([]byte{0x55, 0xAA}, noise[:10]...)
		return []step{
			{data: noise},
			{data: append(append([]byte(nil), noise[:7]...), 0x55, 0xAA)},
			{data: []byte{0x06, 0x00}},
			{data: tail},
		}
	}}
	c := newTestClient(t, ft, nil)

	if err := c.StopAcquisition(context.Background()); err != nil {
		t.Fatalf("StopAcquisition: %v", err)
	}
	if ft.sentCount(0x06) != 1 {
		t.Fatalf("ADC_OFF sent %d times", ft.sentCount(0x06))
	}
}

// frameWithAck builds a stream frame whose payload carries the stopped ack.
func frameWithAck(t *testing.T, seq uint32) []byte {
	raw := streamFrame(t, seq)
	copy(raw[codec.StreamHeaderSize+100:], offAck)
	return raw
}

func TestStopAcquisitionIgnoresAckInPayload(t *testing.T) {
	ft := &fakeTransport{onSend: func(data []byte) []step {
		if data[2] != 0x06 {
			return nil
		}
		return []step{{data: frameWithAck(t, 9)}}
	}}
	c := newTestClient(t, ft, nil)

	if err := c.StopAcquisition(context.Background()); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("error = %v, want ErrStopTimeout", err)
	}
}

func TestStopAcquisitionDrainsFramesBeforeAck(t *testing.T) {
	ft := &fakeTransport{onSend: func(data []byte) []step {
		if data[2] != 0x06 {
			return nil
		}
		steps := chunked(frameWithAck(t, 10), 3000)
		steps = append(steps, chunked(frameWithAck(t, 11), 4004)...)
		return append(steps, step{data: offAck})
	}}
	c := newTestClient(t, ft, nil)

	if err := c.StopAcquisition(context.Background()); err != nil {
		t.Fatalf("StopAcquisition: %v", err)
	}
	if ft.sentCount(0x06) != 1 {
		t.Fatalf("ADC_OFF sent %d times", ft.sentCount(0x06))
	}
}

func TestScanDrain(t *testing.T) {
	marker := codec.DefaultStreamMarker[:]
	frame := frameWithAck(t, 1)

	tests := []struct {
		name  string
		input []byte
		found bool
		rest  int
	}{
		{"ack at boundary", offAck, true, len(offAck)},
		{"ack in payload", frame, false, 0},
		{"frame then ack", append(append([]byte(nil), frame...), offAck...), true, len(offAck)},
		{"partial frame", frame[:4000], false, 4000},
		{"partial ack", offAck[:2], false, 2},
		{"tail of a frame then ack", append(append([]byte(nil), frame[7000:]...), offAck...), true, len(offAck)},
		{"noise", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, false, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rest, found := scanDrain(append([]byte(nil), tt.input...), marker, offAck)
			if found != tt.found || len(rest) != tt.rest {
				t.Fatalf("found=%v rest=%d, want found=%v rest=%d", found, len(rest), tt.found, tt.rest)
			}
		})
	}
}

func TestStopAcquisitionResendsAfterSilence(t *testing.T) {
	sends := 0
	ft := &fakeTransport{onSend: func(data []byte) []step {
		sends++
		if sends < 3 {
			return nil // silent: the receive times out
		}
		return []step{{data: offAck}}
	}}
	c := newTestClient(t, ft, nil)

	if err := c.StopAcquisition(context.Background()); err != nil {
		t.Fatalf("StopAcquisition: %v", err)
	}
	if ft.sentCount(0x06) != 3 {
		t.Fatalf("ADC_OFF sent %d times, want 3", ft.sentCount(0x06))
	}
}

func TestStopAcquisitionBounded(t *testing.T) {
	ft := &fakeTransport{onSend: func([]byte) []step {
		return []step{{data: []byte{1, 2, 3, 4}}}
	}}
	c := newTestClient(t, ft, nil)

	err := c.StopAcquisition(context.Background())
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("error = %v, want ErrStopTimeout", err)
	}
	if c.CallState() != CallFailed {
		t.Fatalf("CallState = %s", c.CallState())
	}
}

func TestStopAcquisitionTimeBound(t *testing.T) {
	ft := &fakeTransport{onSend: func([]byte) []step { return nil }}
	c := NewClientWithTransport(Config{
		DeviceID:        "slow",
		StopMaxAttempts: math.MaxInt32,
		StopTimeout:     50 * time.Millisecond,
	}, &slowTransport{fakeTransport: ft, delay: 10 * time.Millisecond}, zap.NewNop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	start := time.Now()
	err := c.StopAcquisition(context.Background())
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("error = %v, want ErrStopTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stop took %s", elapsed)
	}
}

// slowTransport delays every receive, honoring ctx like a socket would.
type slowTransport struct {
	*fakeTransport
	delay time.Duration
}

func (s *slowTransport) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.fakeTransport.Receive(ctx, maxBytes)
}

func TestFramesForDuration(t *testing.T) {
	tests := []struct {
		duration   time.Duration
		sampleRate int
		channels   int
		want       int
	}{
		{time.Second, 1332, 2, 1},
		{1500 * time.Millisecond, 1332, 2, 2},
		{time.Second, 2664, 1, 1},
		{10 * time.Second, 51200, 4, 769},
	}
	for _, tt := range tests {
		got, err := FramesForDuration(tt.duration, tt.sampleRate, tt.channels)
		if err != nil {
			t.Fatalf("FramesForDuration(%s, %d, %d): %v", tt.duration, tt.sampleRate, tt.channels, err)
		}
		if got != tt.want {
			t.Fatalf("FramesForDuration(%s, %d, %d) = %d, want %d", tt.duration, tt.sampleRate, tt.channels, got, tt.want)
		}
	}

	if _, err := FramesForDuration(time.Second, 1000, 7); !errors.Is(err, codec.ErrValue) {
		t.Fatalf("7 channels: error = %v", err)
	}
	if _, err := FramesForDuration(0, 1000, 1); !errors.Is(err, codec.ErrValue) {
		t.Fatalf("zero duration: error = %v", err)
	}
}
