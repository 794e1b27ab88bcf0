package network

import (
	"fmt"
	"log/slog"
	"time"

	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// RateLimitConfig bounds how often one peer may ask us to swap.
type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int `json:"burst" yaml:"burst"`
}

// DefaultRateLimitConfig returns production-ready defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// Advisor answers whether a swap request from a peer should be refused.
// Peers exceeding their token bucket or reported as banned are refused.
type Advisor struct {
	limiter *limiter.TokenBucket
	banned  func(peer.ID) bool
	logger  *slog.Logger
}

// NewAdvisor creates an advisor. banned may be nil.
func NewAdvisor(cfg RateLimitConfig, banned func(peer.ID) bool, logger *slog.Logger) (*Advisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tb, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     int64(cfg.RequestsPerSecond),
			Duration: time.Second,
			Burst:    int64(cfg.Burst),
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("swap rate limiter: %w", err)
	}
	return &Advisor{
		limiter: tb,
		banned:  banned,
		logger:  logger.With("component", "advisor"),
	}, nil
}

// ShouldRejectSwapRequest implements swap.RateAdvisor.
func (a *Advisor) ShouldRejectSwapRequest(p peer.ID) bool {
	if a.banned != nil && a.banned(p) {
		a.logger.Debug("refusing swap request from banned peer", "peer", p)
		return true
	}
	if !a.limiter.Allow(p.String()) {
		a.logger.Debug("peer exceeded swap request rate", "peer", p)
		return true
	}
	return false
}
