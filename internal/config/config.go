// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the YAML configuration for a brokerlink client.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the full configuration for a connection to a broker.
type ClientConfig struct {
	Broker        BrokerAddr    `yaml:"broker"`
	AutoReconnect bool          `yaml:"auto_reconnect"`
	Logging       LoggingInfo   `yaml:"logging"`
	Observability Observability `yaml:"observability"`
	Poll          PollInfo      `yaml:"poll"`
}

// BrokerAddr identifies the broker endpoint and the per-request timeout.
type BrokerAddr struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	TimeoutMs int           `yaml:"timeout_ms"`
	Timeout   time.Duration `yaml:"-"` // derived from TimeoutMs
}

// LoggingInfo configures the structured logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Observability optionally exposes the introspection HTTP API.
type Observability struct {
	ListenAddress string `yaml:"listen_address"` // empty disables the endpoint
	Token         string `yaml:"token"`           // empty disables the ACL bearer check
}

// PollInfo optionally schedules periodic enumerate() broadcasts.
type PollInfo struct {
	Schedule string `yaml:"schedule"` // empty disables scheduled enumeration
}

// DefaultTimeoutMs is applied when timeout_ms is absent or zero (spec.md §3).
const DefaultTimeoutMs = 2500

// Load reads and validates a client configuration file.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	cfg := &ClientConfig{AutoReconnect: true}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535, got %d", c.Broker.Port)
	}
	if c.Broker.TimeoutMs <= 0 {
		c.Broker.TimeoutMs = DefaultTimeoutMs
	}
	c.Broker.Timeout = time.Duration(c.Broker.TimeoutMs) * time.Millisecond

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
