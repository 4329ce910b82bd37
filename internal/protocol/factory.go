// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

var validBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// CreateTransport creates a transport based on connection type and configuration
func CreateTransport(cfg Config, logger *zap.Logger) (Transport, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ConnectionTypeTCP:
		tcpConfig := cfg.TCP
		if tcpConfig.ReadTimeout <= 0 {
			tcpConfig.ReadTimeout = DefaultReadTimeout
		}
		logger.Debug("Creating TCP transport",
			zap.String("host", tcpConfig.Host),
			zap.Int("port", tcpConfig.Port),
		)
		return NewTCPConnection(&tcpConfig, logger), nil

	case ConnectionTypeSerial:
		serialConfig := cfg.Serial
		if serialConfig.BaudRate == 0 {
			serialConfig.BaudRate = 115200
		}
		if serialConfig.DataBits == 0 {
			serialConfig.DataBits = 8
		}
		if serialConfig.ReadTimeout <= 0 {
			serialConfig.ReadTimeout = DefaultReadTimeout
		}
		logger.Debug("Creating serial transport",
			zap.String("port", serialConfig.Port),
			zap.Int("baud_rate", serialConfig.BaudRate),
		)
		return NewSerialConnection(&serialConfig, logger), nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %q", cfg.Type)
	}
}

// ValidateConfig validates configuration for the selected transport type
func ValidateConfig(cfg Config) error {
	switch cfg.Type {
	case ConnectionTypeTCP:
		return validateTCPConfig(cfg.TCP)
	case ConnectionTypeSerial:
		return validateSerialConfig(cfg.Serial)
	default:
		return fmt.Errorf("unsupported transport type: %q", cfg.Type)
	}
}

func validateTCPConfig(cfg TCPConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("TCP host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", cfg.Port)
	}
	if cfg.ConnectTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("TCP timeouts must not be negative")
	}
	return nil
}

func validateSerialConfig(cfg SerialConfig) error {
	if cfg.Port == "" {
		return fmt.Errorf("serial port is required")
	}
	if cfg.BaudRate != 0 && !slices.Contains(validBaudRates, cfg.BaudRate) {
		return fmt.Errorf("invalid baud rate: %d", cfg.BaudRate)
	}
	if cfg.DataBits != 0 && (cfg.DataBits < 5 || cfg.DataBits > 8) {
		return fmt.Errorf("invalid data bits: %d", cfg.DataBits)
	}
	if _, err := serialMode(&cfg); err != nil {
		return err
	}
	return nil
}
