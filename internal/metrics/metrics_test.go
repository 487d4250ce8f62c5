package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	assert.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	assert.NoError(t, err)

	// Registering the same collectors twice must fail.
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetricsSetConnectionStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	assert.NoError(t, err)

	m.SetBrokerConnectionStatus(true)
	m.SetBrokerConnectionStatus(false)
	m.SetDiscordConnectionStatus(true)
	m.SetDiscordConnectionStatus(false)
}

func TestMetricsIncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	assert.NoError(t, err)

	m.IncRelayed("broker_to_discord")
	m.IncRelayed("discord_to_broker")
	m.IncSuppressed("broker_to_discord", "foreign_group")
	m.IncSuppressed("discord_to_broker", "bot_author")
	m.IncAcks("success")
	m.IncAcks("failure")
	m.IncAcks("orphaned")
	m.IncBrokerReconnects()
	m.IncDiscordReconnects()
	m.SetPendingAcks(3)
}
