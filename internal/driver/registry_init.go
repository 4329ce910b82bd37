// internal/driver/registry_init.go
package driver

import (
	"fmt"

	"go.uber.org/zap"

	"adc-service/internal/codec"
	"adc-service/internal/config"
	"adc-service/internal/driver/adc"
	"adc-service/internal/model"
	"adc-service/internal/protocol"
	"adc-service/pkg/driver"
)

// RegisterDefaultDrivers registers all default device drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registry.Register("ADC", NewADCDriver)
	registry.Register("ADC-8000", NewADCDriver)

	// Any other model speaks the same command set unless overridden.
	registry.Register(Wildcard, NewADCDriver)

	logger.Info("ADC drivers registered", zap.Int("models", 3))
}

// NewADCDriver builds an ADC client from the instrument entry and the
// shared device settings.
func NewADCDriver(device *model.Device, deviceConfig *config.DeviceConfig, logger *zap.Logger) (driver.DeviceDriver, error) {
	cfg, err := ClientConfig(device, deviceConfig)
	if err != nil {
		return nil, err
	}
	return adc.NewClient(cfg, logger)
}

// ClientConfig translates configuration into an adc.Config
func ClientConfig(device *model.Device, deviceConfig *config.DeviceConfig) (adc.Config, error) {
	overrides := make(map[string]adc.Override, len(deviceConfig.Commands))
	for name, o := range deviceConfig.Commands {
		overrides[name] = adc.Override{Opcode: o.Opcode, Ack: o.Ack}
	}
	commands, err := adc.NewCommandSet(overrides)
	if err != nil {
		return adc.Config{}, fmt.Errorf("device %s: %w", device.ID, err)
	}

	var marker [codec.MarkerSize]byte
	if deviceConfig.StreamMarker != "" {
		if marker, err = adc.ParseMarker(deviceConfig.StreamMarker); err != nil {
			return adc.Config{}, fmt.Errorf("device %s: %w", device.ID, err)
		}
	}

	return adc.Config{
		DeviceID:        device.ID,
		Model:           device.Model,
		Transport:       TransportConfig(device, deviceConfig),
		Commands:        commands,
		StopMaxAttempts: deviceConfig.StopMaxAttempts,
		StopTimeout:     deviceConfig.StopTimeout,
		CheckMarker:     deviceConfig.CheckMarker,
		StreamMarker:    marker,
	}, nil
}

// TransportConfig builds the link settings for one instrument
func TransportConfig(device *model.Device, deviceConfig *config.DeviceConfig) protocol.Config {
	switch device.ConnectionType {
	case model.ConnectionTypeSerial:
		baud := device.BaudRate
		if baud == 0 {
			baud = deviceConfig.Serial.BaudRate
		}
		return protocol.Config{
			Type: protocol.ConnectionTypeSerial,
			Serial: protocol.SerialConfig{
				Port:        device.SerialPort,
				BaudRate:    baud,
				DataBits:    deviceConfig.Serial.DataBits,
				StopBits:    deviceConfig.Serial.StopBits,
				Parity:      deviceConfig.Serial.Parity,
				ReadTimeout: deviceConfig.ReadTimeout,
			},
		}
	default:
		port := device.Port
		if port == 0 {
			port = deviceConfig.DefaultPort
		}
		tcp := protocol.DefaultTCPConfig(device.Host, port)
		if deviceConfig.ConnectTimeout > 0 {
			tcp.ConnectTimeout = deviceConfig.ConnectTimeout
		}
		if deviceConfig.ReadTimeout > 0 {
			tcp.ReadTimeout = deviceConfig.ReadTimeout
		}
		if deviceConfig.WriteTimeout > 0 {
			tcp.WriteTimeout = deviceConfig.WriteTimeout
		}
		tcp.KeepAlive = deviceConfig.KeepAlive
		return protocol.Config{Type: protocol.ConnectionTypeTCP, TCP: tcp}
	}
}

// DeviceFromEntry converts a configured instrument into its model
func DeviceFromEntry(entry config.DeviceEntry) *model.Device {
	connType := model.ConnectionTypeTCP
	if entry.Transport == "serial" {
		connType = model.ConnectionTypeSerial
	}
	name := entry.Name
	if name == "" {
		name = entry.ID
	}
	return &model.Device{
		ID:             entry.ID,
		Name:           name,
		Model:          entry.Model,
		ConnectionType: connType,
		Host:           entry.Host,
		Port:           entry.Port,
		SerialPort:     entry.SerialPort,
		BaudRate:       entry.BaudRate,
		Status:         model.DeviceStatusUnknown,
	}
}
