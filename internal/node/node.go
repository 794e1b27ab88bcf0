package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmxmxh/ringswap/internal/config"
	"github.com/nmxmxh/ringswap/internal/core"
	"github.com/nmxmxh/ringswap/internal/metrics"
	"github.com/nmxmxh/ringswap/internal/network"
	"github.com/nmxmxh/ringswap/internal/reputation"
	"github.com/nmxmxh/ringswap/internal/swap"
)

// Node is one participant in the swap overlay: a libp2p host with the
// transport, peer directory, reputation table and swap manager on top.
type Node struct {
	Host       libp2p_host.Host
	Transport  *network.Transport
	Directory  *network.Directory
	Reputation *reputation.Manager
	Swap       *swap.Manager
	Registry   *prometheus.Registry

	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New assembles a node on an existing host. events may be nil.
func New(h libp2p_host.Host, cfg *config.Config, events swap.EventSink, logger *slog.Logger) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", h.ID().ShortString())

	loc, err := startLocation(cfg.Node.Location)
	if err != nil {
		return nil, err
	}

	var store reputation.Store
	if cfg.Reputation.StoreFile != "" {
		store = reputation.FileStore{Path: cfg.Reputation.StoreFile}
	}
	rep := reputation.NewManager(cfg.Reputation, store, logger)

	transport := network.NewTransport(h, cfg.Transport, logger)
	directory := network.NewDirectory(h, transport, logger)
	advisor, err := network.NewAdvisor(cfg.RateLimit, rep.IsBanned, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewSwapMetrics(reg)

	mgr, err := swap.New(cfg.Swap, loc, swap.Deps{
		Transport: transport,
		Directory: directory,
		Advisor:   advisor,
		Reporter:  rep,
		Events:    events,
	}, m, logger)
	if err != nil {
		return nil, err
	}

	return &Node{
		Host:       h,
		Transport:  transport,
		Directory:  directory,
		Reputation: rep,
		Swap:       mgr,
		Registry:   reg,
		cfg:        cfg,
		logger:     logger.With("component", "node"),
	}, nil
}

func startLocation(fixed *float64) (*core.Location, error) {
	if fixed == nil {
		return core.RandomLocation(), nil
	}
	return core.NewLocation(*fixed)
}

// Start wires inbound dispatch, announces the location to every peer that
// connects and starts the swap manager.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("node already started")
	}
	n.started = true

	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})

	n.Transport.SetHandler(n.Swap.HandleMessage)
	n.Transport.Start()
	n.Directory.OnConnect(func(p peer.ID) {
		if err := n.Swap.AnnounceTo(ctx, p); err != nil {
			n.logger.Debug("location announcement failed", "peer", p, "error", err)
		}
	})
	n.Directory.Start()

	for _, p := range n.Host.Network().Peers() {
		if p == n.Host.ID() {
			continue
		}
		go func(p peer.ID) {
			if err := n.Swap.AnnounceTo(ctx, p); err != nil {
				n.logger.Debug("location announcement failed", "peer", p, "error", err)
			}
		}(p)
	}

	n.Swap.Start(ctx)
	go n.snapshotLoop(ctx)

	n.logger.Info("node started",
		"peer_id", n.Host.ID().String(),
		"location", n.Swap.Location(),
		"addrs", network.FullAddrs(n.Host),
	)
	return nil
}

// snapshotLoop persists reputation scores periodically.
func (n *Node) snapshotLoop(ctx context.Context) {
	defer close(n.done)
	if n.cfg.Node.SnapshotPeriod <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(n.cfg.Node.SnapshotPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Reputation.Snapshot(); err != nil {
				n.logger.Warn("reputation snapshot failed", "error", err)
			}
		}
	}
}

// Bootstrap dials every configured bootstrap peer with exponential backoff.
// It returns how many were reached; failures are logged.
func (n *Node) Bootstrap(ctx context.Context) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		connected int
	)
	for _, addr := range n.cfg.Node.Bootstrap {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			id, err := n.dial(ctx, addr)
			if err != nil {
				n.logger.Warn("bootstrap peer unreachable", "addr", addr, "error", err)
				return
			}
			n.logger.Info("connected to bootstrap peer", "peer", id)
			mu.Lock()
			connected++
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return connected
}

func (n *Node) dial(ctx context.Context, addr string) (peer.ID, error) {
	info, err := network.ParsePeerAddr(addr)
	if err != nil {
		return "", err
	}
	if info.ID == n.Host.ID() {
		return "", fmt.Errorf("bootstrap address %s is this node", addr)
	}

	operation := func() (peer.ID, error) {
		if err := n.Host.Connect(ctx, *info); err != nil {
			n.logger.Debug("bootstrap dial failed", "peer", info.ID, "error", err)
			return "", err
		}
		return info.ID, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Node.DialTimeout)
	defer cancel()

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(n.cfg.Node.DialAttempts),
	)
}

// Status is the node-level view served over HTTP.
type Status struct {
	PeerID     string             `json:"peer_id"`
	Addrs      []string           `json:"addrs"`
	Swap       swap.Status        `json:"swap"`
	Peers      []network.PeerInfo `json:"peers"`
	Reputation reputation.Stats   `json:"reputation"`
}

// Status returns a snapshot of the node.
func (n *Node) Status() Status {
	return Status{
		PeerID:     n.Host.ID().String(),
		Addrs:      network.FullAddrs(n.Host),
		Swap:       n.Swap.Status(),
		Peers:      n.Directory.Peers(),
		Reputation: n.Reputation.Stats(),
	}
}

// Stop stops the swap manager, detaches from the host and persists
// reputation. The host itself is left to the caller.
func (n *Node) Stop() error {
	n.mu.Lock()
	started := n.started
	n.started = false
	n.mu.Unlock()

	n.Swap.Stop()
	if started {
		n.cancel()
		<-n.done
		n.Directory.Close()
		n.Transport.Close()
	}
	return n.Reputation.Snapshot()
}
