package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sony/gobreaker"

	"github.com/nmxmxh/ringswap/internal/swap"
)

// ProtocolID is the libp2p protocol carrying swap messages, one per stream.
const ProtocolID protocol.ID = "/ringswap/swap/1.0.0"

// BreakerConfig controls the per-peer circuit breakers on outbound streams.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// TransportConfig holds stream transport configuration
type TransportConfig struct {
	MaxMessageSize int           `json:"max_message_size" yaml:"max_message_size"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	Breaker        BreakerConfig `json:"breaker" yaml:"breaker"`
}

// DefaultTransportConfig returns production-ready defaults
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxMessageSize: 64 * 1024,
		WriteTimeout:   10 * time.Second,
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
	}
}

// Handler consumes an inbound message no session was waiting for and
// reports whether it recognized it.
type Handler func(*swap.Message) bool

// Transport sends swap messages over libp2p streams and routes inbound
// messages first to waiting sessions, then to the handler.
type Transport struct {
	host    libp2p_host.Host
	cfg     TransportConfig
	waits   *swap.WaitRegistry
	logger  *slog.Logger
	handler Handler

	breakers   map[peer.ID]*gobreaker.CircuitBreaker
	breakersMu sync.Mutex
	handlerMu  sync.RWMutex
}

// NewTransport creates a transport on host. Call Start to accept streams.
func NewTransport(host libp2p_host.Host, cfg TransportConfig, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		host:     host,
		cfg:      cfg,
		waits:    swap.NewWaitRegistry(),
		logger:   logger.With("component", "transport"),
		breakers: make(map[peer.ID]*gobreaker.CircuitBreaker),
	}
}

// SetHandler installs the dispatcher for unmatched inbound messages.
func (t *Transport) SetHandler(h Handler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// Start registers the stream handler.
func (t *Transport) Start() {
	t.host.SetStreamHandler(ProtocolID, t.handleStream)
}

// Close removes the stream handler.
func (t *Transport) Close() {
	t.host.RemoveStreamHandler(ProtocolID)
}

// Send opens a stream to a peer and writes one message.
func (t *Transport) Send(ctx context.Context, to peer.ID, msg *swap.Message) error {
	_, err := t.breaker(to).Execute(func() (interface{}, error) {
		return nil, t.write(ctx, to, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return swap.WrapError(swap.ErrCodeCircuitOpen, "peer circuit open", err).
			WithContext("peer", to.String())
	}
	return err
}

// SendAndWait registers f, sends msg and waits for a matching message.
func (t *Transport) SendAndWait(ctx context.Context, to peer.ID, msg *swap.Message, f swap.Filter, timeout time.Duration) (*swap.Message, error) {
	p := t.waits.Register(f)
	if err := t.Send(ctx, to, msg); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.Wait(ctx, timeout)
}

// BreakerOpen reports whether outbound traffic to p is currently refused.
func (t *Transport) BreakerOpen(p peer.ID) bool {
	t.breakersMu.Lock()
	cb, ok := t.breakers[p]
	t.breakersMu.Unlock()
	return ok && cb.State() == gobreaker.StateOpen
}

// Forget drops the breaker of a disconnected peer.
func (t *Transport) Forget(p peer.ID) {
	t.breakersMu.Lock()
	defer t.breakersMu.Unlock()
	delete(t.breakers, p)
}

func (t *Transport) breaker(p peer.ID) *gobreaker.CircuitBreaker {
	t.breakersMu.Lock()
	defer t.breakersMu.Unlock()

	if cb, ok := t.breakers[p]; ok {
		return cb
	}
	threshold := t.cfg.Breaker.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.String(),
		MaxRequests: 1,
		Timeout:     t.cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Info("peer circuit changed", "peer", name, "from", from.String(), "to", to.String())
		},
	})
	t.breakers[p] = cb
	return cb
}

func (t *Transport) write(ctx context.Context, to peer.ID, msg *swap.Message) error {
	s, err := t.host.NewStream(ctx, to, ProtocolID)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", to, err)
	}
	defer s.Close()

	if t.cfg.WriteTimeout > 0 {
		_ = s.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if _, err := s.Write(EncodeMessage(msg)); err != nil {
		_ = s.Reset()
		return fmt.Errorf("write %s to %s: %w", msg.Type, to, err)
	}
	return s.CloseWrite()
}

func (t *Transport) handleStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("stream handler panic", "peer", remote, "panic", r)
		}
	}()
	defer s.Close()

	data, err := io.ReadAll(io.LimitReader(s, int64(t.cfg.MaxMessageSize)+1))
	if err != nil {
		t.logger.Debug("error reading swap message", "peer", remote, "error", err)
		_ = s.Reset()
		return
	}
	if len(data) > t.cfg.MaxMessageSize {
		t.logger.Warn("oversized swap message", "peer", remote, "limit", t.cfg.MaxMessageSize)
		_ = s.Reset()
		return
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		t.logger.Warn("undecodable swap message", "peer", remote, "error", err)
		return
	}
	msg.Source = remote
	t.Deliver(msg)
}

// Deliver routes an inbound message to a waiting session or the handler.
func (t *Transport) Deliver(msg *swap.Message) {
	if t.waits.Deliver(msg) {
		return
	}

	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()

	if h == nil || !h(msg) {
		t.logger.Debug("unhandled swap message", "peer", msg.Source, "message", msg.String())
	}
}
