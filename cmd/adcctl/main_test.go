package main

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"adc-service/internal/config"
)

func TestResolveDevice(t *testing.T) {
	bench := config.DeviceEntry{ID: "bench", Model: "ADC-8000", Transport: "tcp", Host: "10.0.0.20", Port: 5025}
	rig := config.DeviceEntry{ID: "rig", Model: "ADC", Transport: "serial", SerialPort: "/dev/ttyUSB1"}

	tests := []struct {
		name    string
		devices []config.DeviceEntry
		opts    globalOptions
		want    config.DeviceEntry
		usage   bool
	}{
		{
			name:    "configured id",
			devices: []config.DeviceEntry{bench, rig},
			opts:    globalOptions{deviceID: "rig"},
			want:    rig,
		},
		{
			name:    "unknown id",
			devices: []config.DeviceEntry{bench},
			opts:    globalOptions{deviceID: "missing"},
			usage:   true,
		},
		{
			name: "host with default port",
			opts: globalOptions{host: "192.168.1.50"},
			want: config.DeviceEntry{ID: "adcctl", Model: "ADC", Transport: "tcp", Host: "192.168.1.50", Port: 5025},
		},
		{
			name: "host with explicit port",
			opts: globalOptions{host: "192.168.1.50", port: 6000},
			want: config.DeviceEntry{ID: "adcctl", Model: "ADC", Transport: "tcp", Host: "192.168.1.50", Port: 6000},
		},
		{
			name:    "serial wins over host",
			devices: []config.DeviceEntry{bench},
			opts:    globalOptions{serialPort: "/dev/ttyUSB0", baudRate: 921600, host: "10.0.0.1"},
			want:    config.DeviceEntry{ID: "adcctl", Model: "ADC", Transport: "serial", SerialPort: "/dev/ttyUSB0", BaudRate: 921600},
		},
		{
			name:    "single configured device",
			devices: []config.DeviceEntry{bench},
			want:    bench,
		},
		{
			name:    "ambiguous",
			devices: []config.DeviceEntry{bench, rig},
			usage:   true,
		},
		{
			name:  "nothing configured",
			usage: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Device: config.DeviceConfig{DefaultPort: 5025, Devices: tt.devices}}
			got, err := resolveDevice(cfg, tt.opts)

			var usageErr usageError
			if tt.usage {
				if !errors.As(err, &usageErr) {
					t.Fatalf("error = %v, want usage error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveDevice: %v", err)
			}
			if got != tt.want {
				t.Fatalf("device = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatchUsageErrors(t *testing.T) {
	cfg := &config.Config{}
	logger := zaptest.NewLogger(t)

	tests := []struct {
		command string
		args    []string
	}{
		{"selftest", nil},
		{"set-lan", []string{"--ip", "10.0.0.5"}},
		{"record", nil},
		{"record", []string{"--frames", "10", "--duration", "1s"}},
		{"mode", []string{"--channels", "x"}},
	}
	for _, tt := range tests {
		err := dispatch(context.Background(), cfg, globalOptions{}, tt.command, tt.args, logger)
		var usageErr usageError
		if !errors.As(err, &usageErr) {
			t.Errorf("%s %v: error = %v, want usage error", tt.command, tt.args, err)
		}
	}
}
