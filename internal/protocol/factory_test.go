package protocol

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestCreateTransport(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tr, err := CreateTransport(Config{Type: ConnectionTypeTCP, TCP: TCPConfig{Host: "10.0.0.5", Port: 5025}}, logger)
	if err != nil {
		t.Fatalf("CreateTransport(tcp): %v", err)
	}
	tcp, ok := tr.(*TCPConnection)
	if !ok {
		t.Fatalf("got %T, want *TCPConnection", tr)
	}
	if tcp.config.ReadTimeout != DefaultReadTimeout {
		t.Fatalf("read timeout = %s, want default", tcp.config.ReadTimeout)
	}
	if tcp.Address() != "10.0.0.5:5025" {
		t.Fatalf("Address() = %q", tcp.Address())
	}

	tr, err = CreateTransport(Config{Type: ConnectionTypeSerial, Serial: SerialConfig{Port: "/dev/ttyUSB0"}}, logger)
	if err != nil {
		t.Fatalf("CreateTransport(serial): %v", err)
	}
	if tr.Type() != ConnectionTypeSerial {
		t.Fatalf("Type() = %s", tr.Type())
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"tcp ok", Config{Type: ConnectionTypeTCP, TCP: TCPConfig{Host: "h", Port: 5025}}, false},
		{"tcp missing host", Config{Type: ConnectionTypeTCP, TCP: TCPConfig{Port: 5025}}, true},
		{"tcp port zero", Config{Type: ConnectionTypeTCP, TCP: TCPConfig{Host: "h"}}, true},
		{"tcp port too large", Config{Type: ConnectionTypeTCP, TCP: TCPConfig{Host: "h", Port: 70000}}, true},
		{"serial ok", Config{Type: ConnectionTypeSerial, Serial: SerialConfig{Port: "COM3", BaudRate: 9600}}, false},
		{"serial bad baud", Config{Type: ConnectionTypeSerial, Serial: SerialConfig{Port: "COM3", BaudRate: 1234}}, true},
		{"serial bad parity", Config{Type: ConnectionTypeSerial, Serial: SerialConfig{Port: "COM3", Parity: "space"}}, true},
		{"unknown type", Config{Type: "USB"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
