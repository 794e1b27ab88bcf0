package network

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/nmxmxh/ringswap/internal/core"
	"github.com/nmxmxh/ringswap/internal/swap"
)

// PeerInfo describes a connected peer for status reporting.
type PeerInfo struct {
	ID          string   `json:"id"`
	Location    *float64 `json:"location,omitempty"`
	CircuitOpen bool     `json:"circuit_open"`
}

// Directory tracks connected peers and the locations they announce. It
// implements swap.PeerDirectory.
type Directory struct {
	host      libp2p_host.Host
	transport *Transport
	logger    *slog.Logger

	mu        sync.RWMutex
	locations map[peer.ID]float64
	onConnect func(peer.ID)

	notifiee *network.NotifyBundle
}

// NewDirectory creates a directory over host. Call Start to follow
// connection events.
func NewDirectory(host libp2p_host.Host, transport *Transport, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		host:      host,
		transport: transport,
		logger:    logger.With("component", "directory"),
		locations: make(map[peer.ID]float64),
	}
}

// OnConnect installs a callback run on its own goroutine for every newly
// connected peer.
func (d *Directory) OnConnect(fn func(peer.ID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConnect = fn
}

// Start subscribes to connection events.
func (d *Directory) Start() {
	d.notifiee = &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			p := c.RemotePeer()
			d.logger.Debug("peer connected", "peer", p)
			d.mu.RLock()
			fn := d.onConnect
			d.mu.RUnlock()
			if fn != nil {
				go fn(p)
			}
		},
		DisconnectedF: func(n network.Network, c network.Conn) {
			p := c.RemotePeer()
			if n.Connectedness(p) == network.Connected {
				return
			}
			d.mu.Lock()
			delete(d.locations, p)
			d.mu.Unlock()
			d.transport.Forget(p)
			d.logger.Debug("peer disconnected", "peer", p)
		},
	}
	d.host.Network().Notify(d.notifiee)
}

// Close unsubscribes from connection events.
func (d *Directory) Close() {
	if d.notifiee != nil {
		d.host.Network().StopNotify(d.notifiee)
	}
}

// connected lists peers with an open connection, excluding this host.
func (d *Directory) connected() []peer.ID {
	self := d.host.ID()
	var out []peer.ID
	for _, p := range d.host.Network().Peers() {
		if p != self && d.host.Network().Connectedness(p) == network.Connected {
			out = append(out, p)
		}
	}
	return out
}

// RandomPeer picks a connected peer whose circuit is closed.
func (d *Directory) RandomPeer(exclude ...peer.ID) (peer.ID, bool) {
	var candidates []peer.ID
	for _, p := range d.connected() {
		if slices.Contains(exclude, p) || d.transport.BreakerOpen(p) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.IntN(len(candidates))], true
}

// PeerLocations returns the announced locations of connected peers.
func (d *Directory) PeerLocations() []float64 {
	peers := d.connected()

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]float64, 0, len(peers))
	for _, p := range peers {
		if loc, ok := d.locations[p]; ok {
			out = append(out, loc)
		}
	}
	return out
}

// SetPeerLocation records a location announced by p.
func (d *Directory) SetPeerLocation(p peer.ID, loc float64) {
	if !core.IsValid(loc) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[p] = loc
}

// Broadcast sends msg to every connected peer.
func (d *Directory) Broadcast(ctx context.Context, msg *swap.Message) {
	for _, p := range d.connected() {
		if err := d.transport.Send(ctx, p, msg); err != nil {
			d.logger.Debug("broadcast to peer failed", "peer", p, "message", msg.String(), "error", err)
		}
	}
}

// Peers describes every connected peer.
func (d *Directory) Peers() []PeerInfo {
	peers := d.connected()

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		info := PeerInfo{ID: p.String(), CircuitOpen: d.transport.BreakerOpen(p)}
		if loc, ok := d.locations[p]; ok {
			info.Location = &loc
		}
		out = append(out, info)
	}
	return out
}
