package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/logger"
	"corrade-discord-bridge/internal/metrics"
)

// MQTTConn implements Conn over an MQTT broker.
type MQTTConn struct {
	client    mqtt.Client
	topic     string
	logger    *logger.Logger
	metrics   *metrics.Metrics
	connected atomic.Bool

	mu      sync.Mutex
	handler MessageHandler
}

// NewMQTTConn connects to the MQTT broker and returns the connection.
func NewMQTTConn(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*MQTTConn, error) {
	c := &MQTTConn{
		topic:   cfg.GroupTopic(),
		logger:  log,
		metrics: m,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID).
		SetUsername(cfg.MQTT.Username).
		SetPassword(cfg.MQTT.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute) // Prevent exponential backoff from growing too large

	// Set up connection handlers
	opts.OnConnect = c.handleConnect
	opts.OnConnectionLost = c.handleDisconnect
	opts.OnReconnecting = c.handleReconnecting

	// Configure TLS if enabled
	if cfg.MQTT.TLS.Enable {
		tlsConfig, err := newTLSConfig(
			cfg.MQTT.TLS.CertFile,
			cfg.MQTT.TLS.KeyFile,
			cfg.MQTT.TLS.CAFile,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = mqtt.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", token.Error())
	}

	return c, nil
}

// Subscribe registers the handler for inbound group traffic.
func (c *MQTTConn) Subscribe(handler MessageHandler) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	return c.subscribe(handler)
}

func (c *MQTTConn) subscribe(handler MessageHandler) error {
	token := c.client.Subscribe(c.topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		c.logger.Error("error subscribing to corrade group messages",
			"topic", c.topic,
			"error", token.Error())
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, token.Error())
	}

	c.logger.Info("subscribed to corrade group messages", "topic", c.topic)
	return nil
}

// Publish sends a payload to the group topic. The paho token is awaited on
// a separate goroutine so the caller never blocks on delivery.
func (c *MQTTConn) Publish(payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	token := c.client.Publish(c.topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			c.logger.Error("failed to publish message",
				"topic", c.topic,
				"error", token.Error())
		}
	}()

	return nil
}

// IsConnected returns the current connection state.
func (c *MQTTConn) IsConnected() bool {
	return c.connected.Load()
}

// Close disconnects from the MQTT broker.
func (c *MQTTConn) Close() {
	c.logger.Info("disconnecting from corrade mqtt server")
	c.client.Disconnect(250)
	c.connected.Store(false)
}

// handleConnect processes successful connections and resubscribes to the
// group topic; with clean sessions the subscription is lost on reconnect.
func (c *MQTTConn) handleConnect(client mqtt.Client) {
	c.logger.Info("connected to corrade mqtt server")
	c.connected.Store(true)

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(true)
	})

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		if err := c.subscribe(handler); err != nil {
			c.logger.Error("failed to resubscribe after reconnect", "error", err)
		}
	}
}

// handleDisconnect processes connection loss.
func (c *MQTTConn) handleDisconnect(client mqtt.Client, err error) {
	c.logger.Error("disconnected from corrade mqtt server", "error", err)
	c.connected.Store(false)

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(false)
	})
}

// handleReconnecting processes reconnection attempts.
func (c *MQTTConn) handleReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.logger.Info("reconnecting to corrade mqtt server")

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncBrokerReconnects()
	})
}

func (c *MQTTConn) safeMetricsUpdate(fn func(m *metrics.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

// newTLSConfig creates a new TLS configuration
func newTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
