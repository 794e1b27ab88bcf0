package network

import (
	"context"
	"testing"
	"time"

	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ringswap/internal/swap"
)

var _ swap.PeerDirectory = (*Directory)(nil)
var _ swap.Transport = (*Transport)(nil)
var _ swap.RateAdvisor = (*Advisor)(nil)

func TestDirectory_RandomPeerAndLocations(t *testing.T) {
	hosts := newMockHosts(t, 3)
	tr := newTestTransport(t, hosts[0])
	d := NewDirectory(hosts[0], tr, nil)

	seen := map[peer.ID]bool{}
	for i := 0; i < 50; i++ {
		p, ok := d.RandomPeer()
		require.True(t, ok)
		seen[p] = true
	}
	assert.NotContains(t, seen, hosts[0].ID())
	assert.Len(t, seen, 2)

	p, ok := d.RandomPeer(hosts[1].ID())
	require.True(t, ok)
	assert.Equal(t, hosts[2].ID(), p)

	_, ok = d.RandomPeer(hosts[1].ID(), hosts[2].ID())
	assert.False(t, ok)

	assert.Empty(t, d.PeerLocations())
	d.SetPeerLocation(hosts[1].ID(), 0.25)
	d.SetPeerLocation(hosts[2].ID(), 1.5)
	assert.Equal(t, []float64{0.25}, d.PeerLocations())

	// Announcements from peers we are not connected to are kept but unused.
	d.SetPeerLocation("elsewhere", 0.75)
	assert.Equal(t, []float64{0.25}, d.PeerLocations())
	assert.Len(t, d.Peers(), 2)
}

func TestDirectory_Broadcast(t *testing.T) {
	hosts := newMockHosts(t, 3)
	tr := newTestTransport(t, hosts[0])
	d := NewDirectory(hosts[0], tr, nil)

	got := make(chan peer.ID, 2)
	for _, h := range hosts[1:] {
		rt := newTestTransport(t, h)
		self := h.ID()
		rt.SetHandler(func(m *swap.Message) bool {
			if m.Type == swap.MsgLocationChanged && m.Location == 0.5 {
				got <- self
			}
			return true
		})
	}

	d.Broadcast(context.Background(), swap.NewLocationChanged(0.5))

	received := map[peer.ID]bool{}
	for len(received) < 2 {
		select {
		case p := <-got:
			received[p] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("broadcast reached %d of 2 peers", len(received))
		}
	}
}

func TestDirectory_DisconnectForgetsLocation(t *testing.T) {
	hosts := newMockHosts(t, 2)
	tr := newTestTransport(t, hosts[0])
	d := NewDirectory(hosts[0], tr, nil)
	d.Start()
	t.Cleanup(d.Close)

	d.SetPeerLocation(hosts[1].ID(), 0.3)
	require.Equal(t, []float64{0.3}, d.PeerLocations())

	require.NoError(t, hosts[0].Network().ClosePeer(hosts[1].ID()))

	assert.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		_, ok := d.locations[hosts[1].ID()]
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	_, ok := d.RandomPeer()
	assert.False(t, ok)
}
