// Package broker provides the pub/sub connection carrying Corrade group
// traffic. Two backends are supported: MQTT (eclipse paho) and NATS. Both
// are bound to the single group topic and delegate reconnection to the
// underlying client library.
package broker

import (
	"fmt"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/logger"
	"corrade-discord-bridge/internal/metrics"
)

// MessageHandler processes a raw payload received on the group topic.
type MessageHandler func(payload []byte)

// Conn is a pub/sub connection bound to the Corrade group topic.
type Conn interface {
	// Subscribe registers the handler for inbound group traffic.
	Subscribe(handler MessageHandler) error

	// Publish sends a payload to the group topic. Delivery is
	// fire-and-forget: failures are logged, not returned.
	Publish(payload []byte) error

	// IsConnected returns the current connection state.
	IsConnected() bool

	// Close disconnects from the broker.
	Close()
}

// New creates and connects the configured broker backend.
func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (Conn, error) {
	switch cfg.Broker.Type {
	case "mqtt":
		return NewMQTTConn(cfg, log, m)
	case "nats":
		return NewNATSConn(cfg, log, m)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Broker.Type)
	}
}
