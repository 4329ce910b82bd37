// internal/events/nats_publisher.go
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"adc-service/internal/config"
	"adc-service/internal/model"
)

// NATSPublisher forwards device events to NATS. Each event goes to a
// per-device subject and to the aggregate "<prefix>.events.all".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to the configured NATS server
func NewNATSPublisher(cfg *config.NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	logger = logger.With(zap.String("component", "nats-publisher"))

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Publish sends one event. Failures are logged, not returned.
func (p *NATSPublisher) Publish(event model.DeviceEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	for _, subject := range []string{DeviceSubject(p.prefix, event), AllSubject(p.prefix)} {
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.Warn("Failed to publish event",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	}
}

// Forward publishes every event from ch until it is closed
func (p *NATSPublisher) Forward(ch <-chan model.DeviceEvent) {
	for event := range ch {
		p.Publish(event)
	}
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn("NATS flush failed", zap.Error(err))
	}
	p.conn.Close()
	return nil
}

// DeviceSubject returns "<prefix>.events.<device>.<type>". Subject
// delimiters and wildcards in the device id are replaced with '_'.
func DeviceSubject(prefix string, event model.DeviceEvent) string {
	device := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, event.DeviceID)
	if device == "" {
		device = "_"
	}
	return fmt.Sprintf("%s.events.%s.%s", prefix, device, strings.ToLower(string(event.EventType)))
}

// AllSubject returns the aggregate subject
func AllSubject(prefix string) string {
	return prefix + ".events.all"
}
