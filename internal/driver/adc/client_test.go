package adc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"adc-service/internal/codec"
	"adc-service/internal/protocol"
	"adc-service/pkg/driver"
)

func TestGetLANConfigKnownResponse(t *testing.T) {
	// 14 fields: ip, netmask, gateway octets, port (BE), dhcp.
	literal := []byte{
		192, 168, 1, 50,
		255, 255, 255, 0,
		192, 168, 1, 1,
		0x13, 0xA5,
		1,
	}
	ft := &fakeTransport{onSend: func(data []byte) []step {
		// Deliver in two pieces to exercise accumulation.
		return []step{{data: literal[:5]}, {data: literal[5:]}}
	}}
	c := newTestClient(t, ft, nil)

	rec, err := c.Call(context.Background(), CmdGetLAN)
	if err != nil {
		t.Fatalf("Call(GET_LAN): %v", err)
	}
	if len(rec) != 14 {
		t.Fatalf("record has %d fields, want 14", len(rec))
	}
	for i, v := range rec[:12] {
		if v.Int != int64(literal[i]) {
			t.Fatalf("field %s = %d, want %d", v.Name, v.Int, literal[i])
		}
	}
	if rec.Int("port") != 5029 || rec.Int("dhcp") != 1 {
		t.Fatalf("port/dhcp = %d/%d", rec.Int("port"), rec.Int("dhcp"))
	}

	ft.onSend = func([]byte) []step { return []step{{data: literal}} }
	lan, err := c.GetLANConfig(context.Background())
	if err != nil {
		t.Fatalf("GetLANConfig: %v", err)
	}
	want := driver.LANConfig{IP: "192.168.1.50", Netmask: "255.255.255.0", Gateway: "192.168.1.1", Port: 5029, DHCP: true}
	if *lan != want {
		t.Fatalf("GetLANConfig = %+v, want %+v", *lan, want)
	}

	if !bytes.Equal(ft.sent[0], []byte{0xAA, 0x55, 0x02, 0x00}) {
		t.Fatalf("request = % X", ft.sent[0])
	}
	if c.CallState() != CallValidated {
		t.Fatalf("CallState = %s", c.CallState())
	}
}

func TestSetLANConfigRejectsOctetBeforeSend(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, nil)

	err := c.SetLANConfig(context.Background(), driver.LANConfig{
		IP:      "192.168.1.256",
		Netmask: "255.255.255.0",
		Gateway: "192.168.1.1",
	})
	var ve *codec.ValueError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want *codec.ValueError", err)
	}
	if ft.sendCount() != 0 {
		t.Fatalf("%d sends before validation failure", ft.sendCount())
	}

	for _, bad := range []string{"10.0.0", "a.b.c.d", "1.2.3.-4", ""} {
		err := c.SetLANConfig(context.Background(), driver.LANConfig{IP: bad, Netmask: "255.0.0.0", Gateway: "10.0.0.1"})
		if !errors.Is(err, codec.ErrValue) {
			t.Fatalf("IP %q: error = %v, want ErrValue", bad, err)
		}
	}
	if ft.sendCount() != 0 {
		t.Fatalf("%d sends before validation failure", ft.sendCount())
	}
}

func TestSetLANConfigAck(t *testing.T) {
	ft := &fakeTransport{onSend: func([]byte) []step {
		return []step{{data: []byte{0x55, 0xAA, 0x03, 0x00}}}
	}}
	c := newTestClient(t, ft, nil)

	err := c.SetLANConfig(context.Background(), driver.LANConfig{
		IP: "10.1.2.3", Netmask: "255.255.0.0", Gateway: "10.1.0.1",
	})
	if err != nil {
		t.Fatalf("SetLANConfig: %v", err)
	}
	want := []byte{0xAA, 0x55, 0x03, 0x00, 10, 1, 2, 3, 255, 255, 0, 0, 10, 1, 0, 1, 0x13, 0xA1, 0}
	if !bytes.Equal(ft.sent[0], want) {
		t.Fatalf("request = % X, want % X", ft.sent[0], want)
	}
}

func TestAckMismatch(t *testing.T) {
	ft := &fakeTransport{onSend: func([]byte) []step {
		return []step{{data: []byte{0x55, 0xAA, 0xEE, 0x00}}}
	}}
	c := newTestClient(t, ft, nil)

	err := c.Reboot(context.Background())
	var mismatch *AckMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *AckMismatchError", err)
	}
	if mismatch.Command != CmdReboot || mismatch.Got[2] != 0xEE {
		t.Fatalf("mismatch = %+v", mismatch)
	}
	if c.CallState() != CallFailed {
		t.Fatalf("CallState = %s", c.CallState())
	}
}

func TestShortResponse(t *testing.T) {
	ft := &fakeTransport{onSend: func([]byte) []step {
		return []step{{data: []byte{1, 2, 3}}}
	}}
	c := newTestClient(t, ft, nil)

	_, err := c.GetInfo(context.Background())
	var de *codec.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *codec.DecodeError", err)
	}
	if de.Want != 32 || de.Got != 3 {
		t.Fatalf("DecodeError = %+v", de)
	}

	ft.onSend = nil
	_, err = c.GetInfo(context.Background())
	if !errors.Is(err, protocol.ErrReceiveTimeout) {
		t.Fatalf("silent device: error = %v, want ErrReceiveTimeout", err)
	}
}

func TestGetInfo(t *testing.T) {
	resp := make([]byte, 0, 32)
	resp = append(resp, []byte("ADC-8000\x00\x00\x00\x00\x00\x00\x00\x00")...)
	resp = append(resp, 0x39, 0x30, 0x00, 0x00) // serial 12345
	resp = append(resp, 2, 1, 7)                // firmware
	resp = append(resp, 4)                      // channels
	resp = append(resp, 0x00, 0xC8, 0x00, 0x00) // 51200 Hz
	resp = append(resp, 0x03, 0x00)             // hw rev
	resp = append(resp, 0x01, 0x00)             // status

	ft := &fakeTransport{onSend: func([]byte) []step { return []step{{data: resp}} }}
	c := newTestClient(t, ft, nil)

	info, err := c.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	want := driver.DeviceInfo{
		Model:            "ADC-8000",
		SerialNumber:     12345,
		FirmwareVersion:  "2.1.7",
		HardwareRevision: 3,
		Channels:         4,
		SampleRate:       51200,
		StatusFlags:      1,
	}
	if *info != want {
		t.Fatalf("GetInfo = %+v, want %+v", *info, want)
	}
}

func TestSetModeValidation(t *testing.T) {
	ft := &fakeTransport{onSend: func([]byte) []step {
		return []step{{data: []byte{0x55, 0xAA, 0x04, 0x00}}}
	}}
	c := newTestClient(t, ft, nil)

	if err := c.SetMode(context.Background(), driver.ModeConfig{Channels: 5}); !errors.Is(err, codec.ErrValue) {
		t.Fatalf("5 channels: error = %v, want ErrValue", err)
	}
	if err := c.SetMode(context.Background(), driver.ModeConfig{Channels: 4, IEPEFlags: 0x10}); !errors.Is(err, codec.ErrValue) {
		t.Fatalf("IEPE beyond channels: error = %v, want ErrValue", err)
	}
	if ft.sendCount() != 0 {
		t.Fatalf("%d sends before validation failure", ft.sendCount())
	}

	if err := c.SetMode(context.Background(), driver.ModeConfig{Channels: 4, IEPEFlags: 0x0F}); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if !bytes.Equal(ft.sent[0], []byte{0xAA, 0x55, 0x04, 0x00, 4, 0x0F}) {
		t.Fatalf("request = % X", ft.sent[0])
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	never := NewClientWithTransport(Config{DeviceID: "never"}, &fakeTransport{}, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		if err := never.Disconnect(context.Background()); err != nil {
			t.Fatalf("Disconnect #%d on never-connected client: %v", i, err)
		}
	}

	ft := &fakeTransport{}
	c := newTestClient(t, ft, nil)
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if ft.closes != 1 {
		t.Fatalf("transport closed %d times", ft.closes)
	}
	if c.IsConnected() {
		t.Fatal("client still connected")
	}

	if _, err := c.GetInfo(context.Background()); !errors.Is(err, protocol.ErrNotOpen) {
		t.Fatalf("call after disconnect: error = %v, want ErrNotOpen", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("reconnect over a released transport: error = %v, want ErrConnection", err)
	}
}

func TestSendFailure(t *testing.T) {
	ft := &fakeTransport{sendErr: errors.New("broken pipe")}
	c := newTestClient(t, ft, nil)

	if _, err := c.GetInfo(context.Background()); !errors.Is(err, protocol.ErrSend) {
		t.Fatalf("error = %v, want ErrSend", err)
	}
	metrics, _ := c.GetHealthMetrics()
	if metrics.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d", metrics.ErrorCount)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := newTestClient(t, &fakeTransport{}, nil)
	if _, err := c.Call(context.Background(), "FORMAT_DISK"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("error = %v, want ErrUnknownCommand", err)
	}
}
