// Package config loads and validates the bridge configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	NATS    NATSConfig    `yaml:"nats"`
	Corrade CorradeConfig `yaml:"corrade"`
	Discord DiscordConfig `yaml:"discord"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BrokerConfig selects the pub/sub backend carrying Corrade group traffic.
type BrokerConfig struct {
	Type string `yaml:"type"` // mqtt or nats
}

type TLSConfig struct {
	Enable   bool   `yaml:"enable"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

type MQTTConfig struct {
	Broker   string    `yaml:"broker"`
	ClientID string    `yaml:"clientId"`
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	TLS      TLSConfig `yaml:"tls"`
}

type NATSConfig struct {
	URLs     []string  `yaml:"urls"`
	ClientID string    `yaml:"clientId"`
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	TLS      TLSConfig `yaml:"tls"`
}

// CorradeConfig identifies the Second Life group bridged by Corrade.
type CorradeConfig struct {
	Group GroupConfig `yaml:"group"`
}

type GroupConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	UUID     string `yaml:"uuid"`
}

type DiscordConfig struct {
	Token   string `yaml:"token"`
	Server  string `yaml:"server"`
	Channel string `yaml:"channel"`
}

type LogConfig struct {
	Level       string `yaml:"level"`    // debug, info, warn, error
	Encoding    string `yaml:"encoding"` // json or console
	LogToStdout bool   `yaml:"logToStdout"`
	LogToFile   bool   `yaml:"logToFile"`
	Directory   string `yaml:"directory"`
	MaxSize     int    `yaml:"maxSize"` // megabytes
	MaxAge      int    `yaml:"maxAge"`  // days
	MaxBackups  int    `yaml:"maxBackups"`
	Compress    bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for the broker backend
	if config.Broker.Type == "" {
		config.Broker.Type = "mqtt"
	}
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "corrade-discord-bridge"
	}
	if config.NATS.ClientID == "" {
		config.NATS.ClientID = "corrade-discord-bridge"
	}

	// Set defaults for logging
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Encoding == "" {
		config.Logging.Encoding = "json"
	}
	if !config.Logging.LogToStdout && !config.Logging.LogToFile {
		config.Logging.LogToStdout = true
	}
	if config.Logging.LogToFile && config.Logging.Directory == "" {
		config.Logging.Directory = "log"
	}
	if config.Logging.MaxSize <= 0 {
		config.Logging.MaxSize = 100
	}
	if config.Logging.MaxAge <= 0 {
		config.Logging.MaxAge = 7
	}
	if config.Logging.MaxBackups <= 0 {
		config.Logging.MaxBackups = 5
	}

	// Set defaults for metrics
	if config.Metrics.Address == "" {
		config.Metrics.Address = ":2112"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GroupTopic returns the broker topic that carries group notifications,
// status reports and outbound commands for the configured group.
func (c *Config) GroupTopic() string {
	return c.Corrade.Group.Name + "/" + c.Corrade.Group.Password + "/group"
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	// Validate broker backend selection
	switch cfg.Broker.Type {
	case "mqtt":
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker address is required")
		}
		if err := validateTLS(&cfg.MQTT.TLS); err != nil {
			return err
		}
	case "nats":
		if len(cfg.NATS.URLs) == 0 {
			return fmt.Errorf("at least one nats server url is required")
		}
		if err := validateTLS(&cfg.NATS.TLS); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid broker type: %s", cfg.Broker.Type)
	}

	// Validate Corrade group config
	if cfg.Corrade.Group.Name == "" {
		return fmt.Errorf("corrade group name is required")
	}
	if cfg.Corrade.Group.Password == "" {
		return fmt.Errorf("corrade group password is required")
	}
	if cfg.Corrade.Group.UUID == "" {
		return fmt.Errorf("corrade group uuid is required")
	}

	// Validate Discord config
	if cfg.Discord.Token == "" {
		return fmt.Errorf("discord bot token is required")
	}
	if cfg.Discord.Server == "" {
		return fmt.Errorf("discord server name is required")
	}
	if cfg.Discord.Channel == "" {
		return fmt.Errorf("discord channel name is required")
	}

	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	return nil
}

// validateTLS checks that a TLS section is complete when enabled
func validateTLS(tls *TLSConfig) error {
	if !tls.Enable {
		return nil
	}
	if tls.CertFile == "" {
		return fmt.Errorf("tls cert file is required when tls is enabled")
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("tls key file is required when tls is enabled")
	}
	if tls.CAFile == "" {
		return fmt.Errorf("tls ca file is required when tls is enabled")
	}
	return nil
}
