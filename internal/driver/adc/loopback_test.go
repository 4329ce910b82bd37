package adc

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"adc-service/internal/codec"
	"adc-service/internal/protocol"
	"adc-service/internal/testutil/fakedevice"
	"adc-service/pkg/driver"
)

func loopbackClient(t *testing.T, opts fakedevice.Options) (*Client, *fakedevice.Server) {
	t.Helper()
	dev, err := fakedevice.Start(opts)
	if err != nil {
		t.Fatalf("start fake device: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	tcp := protocol.DefaultTCPConfig(dev.Host(), dev.Port())
	tcp.ReadTimeout = 300 * time.Millisecond
	c, err := NewClient(Config{
		DeviceID:    "loopback",
		Transport:   protocol.Config{Type: protocol.ConnectionTypeTCP, TCP: tcp},
		CheckMarker: true,
		StopTimeout: 3 * time.Second,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c, dev
}

func TestLoopbackGetLAN(t *testing.T) {
	c, _ := loopbackClient(t, fakedevice.Options{LAN: fakedevice.LAN{
		IP:      [4]byte{192, 168, 0, 10},
		Netmask: [4]byte{255, 255, 255, 0},
		Gateway: [4]byte{192, 168, 0, 1},
		Port:    5025,
	}})

	lan, err := c.GetLANConfig(context.Background())
	if err != nil {
		t.Fatalf("GetLANConfig: %v", err)
	}
	want := driver.LANConfig{IP: "192.168.0.10", Netmask: "255.255.255.0", Gateway: "192.168.0.1", Port: 5025}
	if *lan != want {
		t.Fatalf("LAN = %+v, want %+v", *lan, want)
	}
	if c.CallState() != CallValidated {
		t.Fatalf("call state = %s", c.CallState())
	}
}

func TestLoopbackAcquisition(t *testing.T) {
	c, dev := loopbackClient(t, fakedevice.Options{StartSequence: 7})

	rec := &recordingSink{}
	summary, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 12, Channels: 4}, rec)
	if err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if summary.Frames != 12 || summary.FirstSequence != 7 || summary.LastSequence != 18 {
		t.Fatalf("summary = %+v", summary)
	}
	if !rec.closed || rec.aborted != nil {
		t.Fatalf("sink closed=%v aborted=%v", rec.closed, rec.aborted)
	}

	// The connection is idle again and usable for commands.
	if _, err := c.GetInfo(context.Background()); err != nil {
		t.Fatalf("GetInfo after acquisition: %v", err)
	}
	if dev.CommandCount(0x05) != 1 || dev.CommandCount(0x06) < 1 {
		t.Fatalf("device commands = % X", dev.Commands())
	}
}

func TestLoopbackSequenceGap(t *testing.T) {
	c, _ := loopbackClient(t, fakedevice.Options{GapAfter: 3})

	rec := &recordingSink{}
	_, err := c.StartAcquisition(context.Background(), driver.AcquisitionRequest{Frames: 10, Channels: 1}, rec)
	var loss *DataLossError
	if !errors.As(err, &loss) || loss.Frame != 3 || loss.Actual != loss.Expected+1 {
		t.Fatalf("error = %v", err)
	}
	if len(rec.sequences) != 3 || rec.aborted == nil {
		t.Fatalf("forwarded %d frames, aborted=%v", len(rec.sequences), rec.aborted)
	}
}

func TestLoopbackRealign(t *testing.T) {
	rows, err := codec.Realign(fakedevice.Payload(2, 0), 2)
	if err != nil {
		t.Fatalf("Realign: %v", err)
	}
	if got := codec.Counts(rows[0][1]); got != 2<<16 {
		t.Fatalf("row 0 ch 1 = %d", got)
	}
	if got := codec.Counts(rows[1][0]); got != -(1 << 16) {
		t.Fatalf("row 1 ch 0 = %d", got)
	}
}
