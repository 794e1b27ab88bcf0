package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	libp2p "github.com/libp2p/go-libp2p"
	crypto "github.com/libp2p/go-libp2p/core/crypto"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// PersistentIdentity holds the private key and peer ID.
type PersistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// SaveIdentity saves identity to path.
func SaveIdentity(path string, id *PersistentIdentity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadIdentity loads identity from path.
func LoadIdentity(path string) (*PersistentIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id PersistentIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// LoadOrCreateKey returns the key stored at path, generating and saving a
// new Ed25519 key if the file does not exist. An empty path always yields a
// fresh, unsaved key.
func LoadOrCreateKey(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateEd25519Key(nil)
		return priv, err
	}

	id, err := LoadIdentity(path)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(id.PrivKey)
		if err != nil {
			return nil, fmt.Errorf("identity %s: %w", path, err)
		}
		pid, err := peer.IDFromPrivateKey(priv)
		if err != nil {
			return nil, err
		}
		if id.PeerID != "" && id.PeerID != pid.String() {
			return nil, fmt.Errorf("identity %s: peer id does not match key", path)
		}
		return priv, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := SaveIdentity(path, &PersistentIdentity{PrivKey: privBytes, PeerID: pid.String()}); err != nil {
		return nil, err
	}
	return priv, nil
}

// HostConfig describes the libp2p host of a node.
type HostConfig struct {
	ListenAddrs  []string `json:"listen_addrs" yaml:"listen_addrs"`
	IdentityFile string   `json:"identity_file" yaml:"identity_file"`
}

// NewHost starts a libp2p host with a persistent identity.
func NewHost(cfg HostConfig) (libp2p_host.Host, error) {
	priv, err := LoadOrCreateKey(cfg.IdentityFile)
	if err != nil {
		return nil, err
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}
	return libp2p.New(opts...)
}

// ParsePeerAddr parses a /p2p multiaddress into dialable peer info.
func ParsePeerAddr(peerAddr string) (*peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(maddr)
}

// Connect dials a peer given its /p2p multiaddress.
func Connect(ctx context.Context, host libp2p_host.Host, peerAddr string) (peer.ID, error) {
	info, err := ParsePeerAddr(peerAddr)
	if err != nil {
		return "", err
	}
	if err := host.Connect(ctx, *info); err != nil {
		return "", err
	}
	return info.ID, nil
}

// FullAddrs lists the host's listen addresses with its /p2p component.
func FullAddrs(host libp2p_host.Host) []string {
	addrs := host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a.String(), host.ID().String()))
	}
	return out
}
