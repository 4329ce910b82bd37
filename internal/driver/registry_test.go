package driver

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"adc-service/internal/config"
	"adc-service/internal/driver/adc"
	"adc-service/internal/model"
	"adc-service/internal/protocol"
)

func deviceConfig() *config.DeviceConfig {
	return &config.DeviceConfig{
		DefaultPort:     5025,
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     500 * time.Millisecond,
		KeepAlive:       true,
		StopMaxAttempts: 16,
		StopTimeout:     time.Second,
		CheckMarker:     true,
		StreamMarker:    "AA 55 AA 55 41 44",
		Serial:          config.SerialDefaults{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "none"},
	}
}

func TestRegistryLookup(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := NewRegistry(logger)

	if registry.IsSupported("ADC-8000") {
		t.Fatal("empty registry supports ADC-8000")
	}
	if _, err := registry.CreateDriver(&model.Device{ID: "x", Model: "ADC"}, deviceConfig()); err == nil {
		t.Fatal("CreateDriver on empty registry succeeded")
	}

	RegisterDefaultDrivers(registry, logger)
	for _, m := range []string{"adc", "ADC-8000", "custom-rig"} {
		if !registry.IsSupported(m) {
			t.Errorf("model %q not supported", m)
		}
	}
	if got := registry.ListDrivers(); len(got) != 3 || got[0] != Wildcard {
		t.Fatalf("ListDrivers = %v", got)
	}

	drv, err := registry.CreateDriver(&model.Device{ID: "adc-1", Model: "adc-8000", Host: "127.0.0.1"}, deviceConfig())
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	if drv.IsConnected() {
		t.Fatal("driver connected before Connect")
	}
}

func TestClientConfig(t *testing.T) {
	cfg := deviceConfig()
	cfg.Commands = map[string]config.CommandOverride{
		"get_info": {Opcode: "AA 55 11 00"},
	}

	device := DeviceFromEntry(config.DeviceEntry{ID: "adc-1", Model: "ADC", Transport: "tcp", Host: "10.0.0.2"})
	if device.Name != "adc-1" || device.ConnectionType != model.ConnectionTypeTCP || device.Status != model.DeviceStatusUnknown {
		t.Fatalf("device = %+v", device)
	}

	c, err := ClientConfig(device, cfg)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if c.Transport.Type != protocol.ConnectionTypeTCP || c.Transport.TCP.Port != 5025 || c.Transport.TCP.ReadTimeout != 500*time.Millisecond {
		t.Fatalf("transport = %+v", c.Transport)
	}
	spec, err := c.Commands.Lookup(adc.CmdGetInfo)
	if err != nil || !bytes.Equal(spec.Opcode, []byte{0xAA, 0x55, 0x11, 0x00}) {
		t.Fatalf("GET_INFO = %X, %v", spec.Opcode, err)
	}
	if c.StreamMarker != [6]byte{0xAA, 0x55, 0xAA, 0x55, 0x41, 0x44} || c.StopMaxAttempts != 16 {
		t.Fatalf("config = %+v", c)
	}

	serial := DeviceFromEntry(config.DeviceEntry{ID: "adc-2", Transport: "serial", SerialPort: "/dev/ttyUSB0"})
	tc := TransportConfig(serial, cfg)
	if tc.Type != protocol.ConnectionTypeSerial || tc.Serial.BaudRate != 115200 || tc.Serial.Port != "/dev/ttyUSB0" {
		t.Fatalf("serial transport = %+v", tc)
	}

	cfg.Commands = map[string]config.CommandOverride{"self_test": {Opcode: "AA 55 09 00"}}
	if _, err := ClientConfig(device, cfg); !errors.Is(err, adc.ErrUnknownCommand) {
		t.Fatalf("unknown override error = %v", err)
	}
}
