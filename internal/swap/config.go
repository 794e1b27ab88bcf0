package swap

import (
	"fmt"
	"time"
)

// Relay identifier modes.
const (
	RelayIDsAdjacent = "adjacent"
	RelayIDsRandom   = "random"
)

// Config holds swap protocol configuration
type Config struct {
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`                 // Bound on every wait for a peer message
	InitialHTL     int           `json:"initial_htl" yaml:"initial_htl"`         // Hop limit on originated requests
	MinInterval    time.Duration `json:"min_interval" yaml:"min_interval"`       // Shortest pause between attempts
	IntervalSpread time.Duration `json:"interval_spread" yaml:"interval_spread"` // Uniform extra pause on top of MinInterval
	SweepInterval  time.Duration `json:"sweep_interval" yaml:"sweep_interval"`   // Cadence of forwarding-table expiry
	RelayIDs       string        `json:"relay_ids" yaml:"relay_ids"`             // "adjacent" or "random"
	LoopFilter     struct {
		ExpectedElements  uint    `json:"expected_elements" yaml:"expected_elements"`
		FalsePositiveRate float64 `json:"false_positive_rate" yaml:"false_positive_rate"`
	} `json:"loop_filter" yaml:"loop_filter"`
}

// DefaultConfig returns the protocol's standard constants.
func DefaultConfig() Config {
	config := Config{
		Timeout:        60 * time.Second,
		InitialHTL:     6,
		MinInterval:    600 * time.Millisecond,
		IntervalSpread: 1 * time.Second,
		SweepInterval:  30 * time.Second,
		RelayIDs:       RelayIDsAdjacent,
	}

	config.LoopFilter.ExpectedElements = 10000
	config.LoopFilter.FalsePositiveRate = 0.001

	return config
}

// MaxIdle is how long a forwarding entry may go without traffic.
func (c Config) MaxIdle() time.Duration {
	return 2 * c.Timeout
}

// Validate checks the configuration for values the protocol cannot run with.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("swap timeout must be positive, got %s", c.Timeout)
	}
	if c.InitialHTL < 1 {
		return fmt.Errorf("initial htl must be at least 1, got %d", c.InitialHTL)
	}
	if c.MinInterval < 0 || c.IntervalSpread < 0 {
		return fmt.Errorf("scheduler intervals must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if _, err := c.idSource(); err != nil {
		return err
	}
	if c.LoopFilter.ExpectedElements == 0 || c.LoopFilter.FalsePositiveRate <= 0 || c.LoopFilter.FalsePositiveRate >= 1 {
		return fmt.Errorf("loop filter needs expected elements and a false positive rate in (0,1)")
	}
	return nil
}

func (c Config) idSource() (IDSource, error) {
	switch c.RelayIDs {
	case RelayIDsAdjacent, "":
		return AdjacentIDs, nil
	case RelayIDsRandom:
		return RandomIDs, nil
	default:
		return nil, fmt.Errorf("unknown relay id mode %q", c.RelayIDs)
	}
}
