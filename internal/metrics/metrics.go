// Package metrics provides prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all prometheus collectors for the bridge
type Metrics struct {
	relayedTotal     *prometheus.CounterVec
	suppressedTotal  *prometheus.CounterVec
	acksTotal        *prometheus.CounterVec
	pendingAcks      prometheus.Gauge
	connectionStatus *prometheus.GaugeVec
	reconnectsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all bridge metrics
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		relayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_messages_relayed_total",
				Help: "Total number of messages relayed, by direction",
			},
			[]string{"direction"},
		),
		suppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_messages_suppressed_total",
				Help: "Total number of messages suppressed, by direction and reason",
			},
			[]string{"direction", "reason"},
		),
		acksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_acks_total",
				Help: "Total number of delivery status reports processed, by result",
			},
			[]string{"result"},
		),
		pendingAcks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_pending_acks",
				Help: "Number of outbound messages awaiting a status report",
			},
		),
		connectionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_connection_status",
				Help: "Connection status per transport (1 = connected, 0 = disconnected)",
			},
			[]string{"transport"},
		),
		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_reconnects_total",
				Help: "Total number of reconnection attempts per transport",
			},
			[]string{"transport"},
		),
	}

	collectors := []prometheus.Collector{
		m.relayedTotal,
		m.suppressedTotal,
		m.acksTotal,
		m.pendingAcks,
		m.connectionStatus,
		m.reconnectsTotal,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// IncRelayed increments the relayed message counter for a direction
func (m *Metrics) IncRelayed(direction string) {
	m.relayedTotal.WithLabelValues(direction).Inc()
}

// IncSuppressed increments the suppressed message counter for a direction and reason
func (m *Metrics) IncSuppressed(direction, reason string) {
	m.suppressedTotal.WithLabelValues(direction, reason).Inc()
}

// IncAcks increments the status report counter for a result
func (m *Metrics) IncAcks(result string) {
	m.acksTotal.WithLabelValues(result).Inc()
}

// SetPendingAcks sets the current size of the pending acknowledgment table
func (m *Metrics) SetPendingAcks(n float64) {
	m.pendingAcks.Set(n)
}

// SetBrokerConnectionStatus updates the broker connection status gauge
func (m *Metrics) SetBrokerConnectionStatus(connected bool) {
	m.connectionStatus.WithLabelValues("broker").Set(boolToFloat(connected))
}

// SetDiscordConnectionStatus updates the discord connection status gauge
func (m *Metrics) SetDiscordConnectionStatus(connected bool) {
	m.connectionStatus.WithLabelValues("discord").Set(boolToFloat(connected))
}

// IncBrokerReconnects increments the broker reconnect counter
func (m *Metrics) IncBrokerReconnects() {
	m.reconnectsTotal.WithLabelValues("broker").Inc()
}

// IncDiscordReconnects increments the discord reconnect counter
func (m *Metrics) IncDiscordReconnects() {
	m.reconnectsTotal.WithLabelValues("discord").Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
