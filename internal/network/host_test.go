package network

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateKey_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, first.Equals(second))

	id, err := LoadIdentity(path)
	require.NoError(t, err)
	pid, err := peer.IDFromPrivateKey(first)
	require.NoError(t, err)
	assert.Equal(t, pid.String(), id.PeerID)
}

func TestLoadOrCreateKey_RejectsMismatchedPeerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	_, err := LoadOrCreateKey(path)
	require.NoError(t, err)

	id, err := LoadIdentity(path)
	require.NoError(t, err)
	id.PeerID = "12D3KooWsomethingelse"
	require.NoError(t, SaveIdentity(path, id))

	_, err = LoadOrCreateKey(path)
	assert.Error(t, err)
}

func TestNewHost_ConnectByAddress(t *testing.T) {
	a, err := NewHost(HostConfig{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewHost(HostConfig{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	require.NoError(t, err)
	defer b.Close()

	addrs := FullAddrs(b)
	require.NotEmpty(t, addrs)

	id, err := Connect(context.Background(), a, addrs[0])
	require.NoError(t, err)
	assert.Equal(t, b.ID(), id)

	_, err = ParsePeerAddr("not a multiaddr")
	assert.Error(t, err)
}
