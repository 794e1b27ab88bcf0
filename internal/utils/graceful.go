package utils

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownTimeout is returned when registered functions outlive the
// shutdown timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout")

type shutdownStep struct {
	name string
	fn   func() error
}

// GracefulShutdown manages graceful shutdown of components
type GracefulShutdown struct {
	mu      sync.Mutex
	steps   []shutdownStep
	timeout time.Duration
	logger  *slog.Logger
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(timeout time.Duration, logger *slog.Logger) *GracefulShutdown {
	if logger == nil {
		logger = slog.Default()
	}
	return &GracefulShutdown{
		timeout: timeout,
		logger:  logger.With("component", "shutdown"),
	}
}

// Register adds a named shutdown function. Functions run in reverse
// registration order, each after the previous one has returned, so a
// component is stopped before the things it depends on.
func (g *GracefulShutdown) Register(name string, fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = append(g.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown executes all registered shutdown functions. It returns the
// joined errors of failed steps, or ErrShutdownTimeout.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	steps := append([]shutdownStep(nil), g.steps...)
	g.steps = nil
	g.mu.Unlock()

	g.logger.Info("starting graceful shutdown", "components", len(steps))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(steps) - 1; i >= 0; i-- {
			if err := steps[i].fn(); err != nil {
				g.logger.Error("shutdown step failed", "step", steps[i].name, "error", err)
				errs = append(errs, err)
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		g.logger.Info("graceful shutdown complete")
		return err
	case <-shutdownCtx.Done():
		g.logger.Warn("graceful shutdown timed out")
		return ErrShutdownTimeout
	}
}
