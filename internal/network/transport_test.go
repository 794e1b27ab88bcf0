package network

import (
	"context"
	"testing"
	"time"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ringswap/internal/swap"
)

// newMockHosts creates n linked and connected hosts.
func newMockHosts(t *testing.T, n int) []libp2p_host.Host {
	t.Helper()
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })

	hosts := make([]libp2p_host.Host, n)
	for i := range hosts {
		h, err := mn.GenPeer()
		require.NoError(t, err)
		hosts[i] = h
	}
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())
	return hosts
}

func newTestTransport(t *testing.T, h libp2p_host.Host) *Transport {
	t.Helper()
	cfg := DefaultTransportConfig()
	cfg.WriteTimeout = time.Second
	tr := NewTransport(h, cfg, nil)
	tr.Start()
	t.Cleanup(tr.Close)
	return tr
}

func TestTransport_SendReachesHandler(t *testing.T) {
	hosts := newMockHosts(t, 2)
	a, b := newTestTransport(t, hosts[0]), newTestTransport(t, hosts[1])

	got := make(chan *swap.Message, 1)
	b.SetHandler(func(m *swap.Message) bool {
		got <- m
		return true
	})

	hash := swap.Commit([]byte("payload"))
	require.NoError(t, a.Send(context.Background(), hosts[1].ID(), &swap.Message{
		Type: swap.MsgSwapRequest, UID: 11, Hash: hash, HTL: 3,
	}))

	select {
	case m := <-got:
		assert.Equal(t, swap.MsgSwapRequest, m.Type)
		assert.Equal(t, uint64(11), m.UID)
		assert.Equal(t, hash, m.Hash)
		assert.Equal(t, 3, m.HTL)
		assert.Equal(t, hosts[0].ID(), m.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestTransport_SendAndWait(t *testing.T) {
	hosts := newMockHosts(t, 2)
	a, b := newTestTransport(t, hosts[0]), newTestTransport(t, hosts[1])

	b.SetHandler(func(m *swap.Message) bool {
		go func() {
			_ = b.Send(context.Background(), m.Source, &swap.Message{Type: swap.MsgSwapReply, UID: m.UID, Hash: m.Hash})
		}()
		return true
	})

	handled := make(chan *swap.Message, 1)
	a.SetHandler(func(m *swap.Message) bool {
		handled <- m
		return true
	})

	f := swap.Filter{Types: []swap.MessageType{swap.MsgSwapReply}, UID: 5, Source: hosts[1].ID()}
	reply, err := a.SendAndWait(context.Background(), hosts[1].ID(),
		&swap.Message{Type: swap.MsgSwapRequest, UID: 5, Hash: swap.Commit(nil), HTL: 1}, f, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, swap.MsgSwapReply, reply.Type)
	assert.Equal(t, hosts[1].ID(), reply.Source)

	select {
	case m := <-handled:
		t.Fatalf("awaited reply also reached the handler: %s", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransport_SendAndWaitTimeout(t *testing.T) {
	hosts := newMockHosts(t, 2)
	a, b := newTestTransport(t, hosts[0]), newTestTransport(t, hosts[1])
	b.SetHandler(func(*swap.Message) bool { return true })

	f := swap.Filter{Types: []swap.MessageType{swap.MsgSwapReply}, UID: 1}
	_, err := a.SendAndWait(context.Background(), hosts[1].ID(),
		&swap.Message{Type: swap.MsgSwapRequest, UID: 1, Hash: swap.Commit(nil), HTL: 1}, f, 50*time.Millisecond)
	assert.ErrorIs(t, err, swap.ErrTimeout)
}

func TestTransport_BreakerOpensForUnreachablePeer(t *testing.T) {
	hosts := newMockHosts(t, 1)
	cfg := DefaultTransportConfig()
	cfg.Breaker.ConsecutiveFailures = 2
	cfg.Breaker.OpenTimeout = time.Hour
	tr := NewTransport(hosts[0], cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stranger := peer.ID("not-a-real-peer")
	msg := swap.NewLocationChanged(0.5)
	assert.Error(t, tr.Send(ctx, stranger, msg))
	assert.False(t, tr.BreakerOpen(stranger))
	assert.Error(t, tr.Send(ctx, stranger, msg))
	assert.True(t, tr.BreakerOpen(stranger))

	err := tr.Send(ctx, stranger, msg)
	assert.Equal(t, swap.ErrCodeCircuitOpen, swap.ErrorCode(err))

	tr.Forget(stranger)
	assert.False(t, tr.BreakerOpen(stranger))
}

func TestTransport_DropsOversizedMessages(t *testing.T) {
	hosts := newMockHosts(t, 2)
	a := newTestTransport(t, hosts[0])

	cfg := DefaultTransportConfig()
	cfg.MaxMessageSize = 16
	b := NewTransport(hosts[1], cfg, nil)
	b.Start()
	t.Cleanup(b.Close)

	got := make(chan *swap.Message, 1)
	b.SetHandler(func(m *swap.Message) bool {
		got <- m
		return true
	})

	big := swap.Payload{Nonce: 1, Location: 0.5, Neighbors: []float64{0.1, 0.2, 0.3}}.Encode()
	// The receiver resets the stream, which the sender may see before its
	// write side closes.
	if err := a.Send(context.Background(), hosts[1].ID(), &swap.Message{Type: swap.MsgSwapCommit, UID: 1, Data: big}); err != nil {
		assert.Contains(t, err.Error(), "reset")
	}

	select {
	case m := <-got:
		t.Fatalf("oversized message delivered: %s", m)
	case <-time.After(200 * time.Millisecond):
	}
}
