// internal/protocol/connection.go
package protocol

import "time"

// TCPConfig represents TCP connection configuration
type TCPConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	KeepAlive      bool          `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Config selects and configures one transport.
type Config struct {
	Type   ConnectionType `json:"type"`
	TCP    TCPConfig      `json:"tcp"`
	Serial SerialConfig   `json:"serial"`
}

// DefaultReadTimeout bounds every single receive call.
const DefaultReadTimeout = 2 * time.Second

// DefaultTCPConfig returns the reference timeouts for a host:port pair.
func DefaultTCPConfig(host string, port int) TCPConfig {
	return TCPConfig{
		Host:           host,
		Port:           port,
		KeepAlive:      true,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   5 * time.Second,
	}
}
