package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/logger"
	"corrade-discord-bridge/internal/metrics"
)

// NATSConn implements Conn over a NATS server.
type NATSConn struct {
	conn    *nats.Conn
	subject string
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewNATSConn connects to the NATS server and returns the connection.
func NewNATSConn(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*NATSConn, error) {
	c := &NATSConn{
		subject: ToSubject(cfg.GroupTopic()),
		logger:  log,
		metrics: m,
	}

	opts := []nats.Option{
		nats.Name(cfg.NATS.ClientID),
		nats.ReconnectWait(time.Second * 2),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}

	// Add authentication if configured
	if cfg.NATS.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password))
	}

	// Configure TLS if enabled
	if cfg.NATS.TLS.Enable {
		opts = append(opts, nats.ClientCert(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile))
		if cfg.NATS.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.NATS.TLS.CAFile))
		}
	}

	c.logger.Info("connecting to NATS server", "urls", cfg.NATS.URLs)

	conn, err := nats.Connect(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	c.conn = conn

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(true)
	})

	c.logger.Info("connected to NATS server", "url", conn.ConnectedUrl())

	return c, nil
}

// Subscribe registers the handler for inbound group traffic. NATS restores
// subscriptions on reconnect, so one registration suffices.
func (c *NATSConn) Subscribe(handler MessageHandler) error {
	_, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		c.logger.Error("error subscribing to corrade group messages",
			"subject", c.subject,
			"error", err)
		return fmt.Errorf("failed to subscribe to subject %s: %w", c.subject, err)
	}

	c.logger.Info("subscribed to corrade group messages", "subject", c.subject)
	return nil
}

// Publish sends a payload to the group subject. NATS publishes are buffered
// client-side, so the caller never blocks on delivery.
func (c *NATSConn) Publish(payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to NATS server")
	}

	if err := c.conn.Publish(c.subject, payload); err != nil {
		c.logger.Error("failed to publish message",
			"subject", c.subject,
			"error", err)
		return err
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *NATSConn) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close disconnects from the NATS server.
func (c *NATSConn) Close() {
	if c.conn != nil {
		c.logger.Info("disconnecting from NATS server")
		c.conn.Close()
	}
}

func (c *NATSConn) handleDisconnect(conn *nats.Conn, err error) {
	c.logger.Error("disconnected from NATS server", "error", err)

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(false)
	})
}

func (c *NATSConn) handleReconnect(conn *nats.Conn) {
	c.logger.Info("reconnected to NATS server", "url", conn.ConnectedUrl())

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(true)
		m.IncBrokerReconnects()
	})
}

func (c *NATSConn) handleClosed(conn *nats.Conn) {
	c.logger.Warn("NATS connection closed")

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(false)
	})
}

func (c *NATSConn) safeMetricsUpdate(fn func(m *metrics.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

// ToSubject converts a slash-separated group topic to a NATS subject.
func ToSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}
