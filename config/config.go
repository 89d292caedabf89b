// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the middleware layer.
type Config struct {
	Entities  EntitiesConfig  `yaml:"entities"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// EntitiesConfig bounds the per-entity delivery queues. Effective depth is
// max(configured, 1); a zero depth would make evict-then-insert undefined.
type EntitiesConfig struct {
	// Maximum queued messages per subscription
	SubscriptionQueueDepth int `yaml:"subscription_queue_depth"`

	// Maximum queued requests per service
	ServiceQueueDepth int `yaml:"service_queue_depth"`

	// Maximum queued replies per client
	ClientQueueDepth int `yaml:"client_queue_depth"`

	// Maximum queued event statuses per event kind
	EventQueueDepth int `yaml:"event_queue_depth"`
}

// TransportConfig selects and configures the transport binding.
type TransportConfig struct {
	Type string `yaml:"type"` // inproc, mqtt

	// MQTT binding settings
	MQTTAddr       string        `yaml:"mqtt_addr"`
	MQTTClientID   string        `yaml:"mqtt_client_id"`
	MQTTQoS        byte          `yaml:"mqtt_qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Outbound publish pacing; zero disables the limiter
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds OpenTelemetry configuration.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Entities: EntitiesConfig{
			SubscriptionQueueDepth: 10,
			ServiceQueueDepth:      10,
			ClientQueueDepth:       10,
			EventQueueDepth:        10,
		},
		Transport: TransportConfig{
			Type:           "inproc",
			MQTTQoS:        1,
			ConnectTimeout: 10 * time.Second,
			PublishBurst:   1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Endpoint:       "localhost:4317",
			ServiceName:    "rmw-zenoh",
			ServiceVersion: "0.1.0",
		},
	}
}

// Load reads configuration from path, falling back to defaults when path is
// empty. Queue depths are clamped during validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.Validate()
	return cfg, nil
}

// Validate clamps out-of-range values to their effective minimums.
func (c *Config) Validate() {
	if c.Entities.SubscriptionQueueDepth < 1 {
		c.Entities.SubscriptionQueueDepth = 1
	}
	if c.Entities.ServiceQueueDepth < 1 {
		c.Entities.ServiceQueueDepth = 1
	}
	if c.Entities.ClientQueueDepth < 1 {
		c.Entities.ClientQueueDepth = 1
	}
	if c.Entities.EventQueueDepth < 1 {
		c.Entities.EventQueueDepth = 1
	}
	if c.Transport.Type == "" {
		c.Transport.Type = "inproc"
	}
	if c.Transport.PublishBurst < 1 {
		c.Transport.PublishBurst = 1
	}
}
