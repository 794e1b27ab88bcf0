package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nmxmxh/ringswap/internal/core"
	"github.com/nmxmxh/ringswap/internal/network"
	"github.com/nmxmxh/ringswap/internal/reputation"
	"github.com/nmxmxh/ringswap/internal/swap"
	"github.com/nmxmxh/ringswap/internal/utils"
)

// NodeConfig describes the node's identity and where it connects.
type NodeConfig struct {
	network.HostConfig `yaml:",inline"`

	Bootstrap      []string      `json:"bootstrap" yaml:"bootstrap"`             // /p2p multiaddrs dialed at startup
	DialAttempts   uint          `json:"dial_attempts" yaml:"dial_attempts"`     // Attempts per bootstrap peer
	DialTimeout    time.Duration `json:"dial_timeout" yaml:"dial_timeout"`       // Bound on all attempts for one peer
	Location       *float64      `json:"location,omitempty" yaml:"location"`     // Fixed starting location, random if unset
	ShutdownGrace  time.Duration `json:"shutdown_grace" yaml:"shutdown_grace"`   // Bound on graceful shutdown
	SnapshotPeriod time.Duration `json:"snapshot_period" yaml:"snapshot_period"` // Reputation persistence cadence
}

// StatusConfig configures the HTTP status surface. An empty Addr disables it.
type StatusConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig configures console logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	Color bool   `json:"color" yaml:"color"`
}

// Config is the complete node configuration.
type Config struct {
	Node       NodeConfig              `json:"node" yaml:"node"`
	Swap       swap.Config             `json:"swap" yaml:"swap"`
	Transport  network.TransportConfig `json:"transport" yaml:"transport"`
	RateLimit  network.RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Reputation reputation.Config       `json:"reputation" yaml:"reputation"`
	Status     StatusConfig            `json:"status" yaml:"status"`
	Log        LogConfig               `json:"log" yaml:"log"`
}

// DefaultNodeConfig returns production-ready defaults
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		HostConfig: network.HostConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		},
		DialAttempts:   5,
		DialTimeout:    time.Minute,
		ShutdownGrace:  10 * time.Second,
		SnapshotPeriod: 5 * time.Minute,
	}
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	return &Config{
		Node:       DefaultNodeConfig(),
		Swap:       swap.DefaultConfig(),
		Transport:  network.DefaultTransportConfig(),
		RateLimit:  network.DefaultRateLimitConfig(),
		Reputation: reputation.DefaultConfig(),
		Status:     StatusConfig{Addr: "127.0.0.1:9090"},
		Log:        LogConfig{Level: "info", Color: true},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Swap.Validate(); err != nil {
		return err
	}
	if c.Node.Location != nil && !core.IsValid(*c.Node.Location) {
		return fmt.Errorf("node location %v out of range [0,1)", *c.Node.Location)
	}
	for _, addr := range c.Node.Bootstrap {
		if _, err := network.ParsePeerAddr(addr); err != nil {
			return fmt.Errorf("bootstrap address %q: %w", addr, err)
		}
	}
	if c.Node.DialAttempts == 0 {
		return errors.New("dial attempts must be at least 1")
	}
	if c.Transport.MaxMessageSize <= 0 {
		return errors.New("transport max message size must be positive")
	}
	if c.Transport.Breaker.ConsecutiveFailures == 0 {
		return errors.New("breaker needs at least one consecutive failure to trip")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate limit needs positive requests per second and burst")
	}
	if c.Reputation.BanThreshold < 0 || c.Reputation.BanThreshold >= 1 {
		return fmt.Errorf("ban threshold %v out of range [0,1)", c.Reputation.BanThreshold)
	}
	if _, err := utils.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
