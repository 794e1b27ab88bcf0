package utils

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Output: &buf, Level: slog.LevelDebug})

	logger.With("component", "swap").Info("swap completed", "peer", "abc", "uid", uint64(7), "took", 2*time.Second)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "["))
	assert.Contains(t, line, "] [INFO ] [swap] swap completed")
	assert.Contains(t, line, `peer="abc"`)
	assert.Contains(t, line, "uid=7")
	assert.Contains(t, line, "took=2s")
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.NotContains(t, line, "\033[")
}

func TestConsoleHandler_LevelAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Output: &buf, Level: slog.LevelWarn, Colorize: true})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.WithGroup("lock").Warn("held too long", "since", "x", "err", errors.New("boom"))
	line := buf.String()
	assert.Contains(t, line, "\033[33m")
	assert.Contains(t, line, `lock.since="x"`)
	assert.Contains(t, line, `lock.err="boom"`)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestGracefulShutdown_ReverseOrder(t *testing.T) {
	g := NewGracefulShutdown(time.Second, nil)

	var mu sync.Mutex
	var order []string
	step := func(name string, err error) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return err
		}
	}
	g.Register("host", step("host", nil))
	g.Register("transport", step("transport", errors.New("close failed")))
	g.Register("swap", step("swap", nil))

	err := g.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Equal(t, []string{"swap", "transport", "host"}, order)
}

func TestGracefulShutdown_Timeout(t *testing.T) {
	g := NewGracefulShutdown(20*time.Millisecond, nil)
	release := make(chan struct{})
	defer close(release)
	g.Register("stuck", func() error {
		<-release
		return nil
	})

	assert.ErrorIs(t, g.Shutdown(context.Background()), ErrShutdownTimeout)
}
