package swap

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Hop is the record of one swap attempt passing through this node. The two
// identifiers name the two legs of the hop: RequesterID is used with the
// peer the request came from, ResponderID with the peer it was sent on to.
// For attempts this node originates or answers, both identifiers are equal
// and one of the peers is empty.
type Hop struct {
	RequesterID   uint64
	ResponderID   uint64
	RequestSender peer.ID // empty if originated here
	RoutedTo      peer.ID // empty if answered here
	Added         time.Time
	LastMessage   time.Time
}

// Originated reports whether this node started the attempt.
func (h Hop) Originated() bool { return h.RequestSender == "" }

// Terminal reports whether this node is the responder for the attempt.
func (h Hop) Terminal() bool { return h.RoutedTo == "" }

// IDSource derives the identifier of a relay's outbound leg.
type IDSource func(incoming uint64) uint64

// AdjacentIDs uses incoming+1, matching nodes that expect paired identifiers.
func AdjacentIDs(incoming uint64) uint64 { return incoming + 1 }

// RandomIDs draws an unrelated opaque identifier for every leg.
func RandomIDs(uint64) uint64 { return randomUint64() }

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("swap: crypto/rand failed: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

var errHopNoPeers = errors.New("hop needs a request sender or a routed-to peer")

// ForwardingTable indexes in-flight hops by both of their identifiers.
// All operations are serialized by a single mutex.
type ForwardingTable struct {
	mu   sync.Mutex
	byID map[uint64]*Hop
	now  func() time.Time
}

// NewForwardingTable creates an empty table.
func NewForwardingTable() *ForwardingTable {
	return &ForwardingTable{
		byID: make(map[uint64]*Hop),
		now:  time.Now,
	}
}

// Add registers a hop under both of its identifiers. It fails without
// changing the table if either identifier is already in use.
func (t *ForwardingTable) Add(h Hop) error {
	if h.RequestSender == "" && h.RoutedTo == "" {
		return errHopNoPeers
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[h.RequesterID]; ok {
		return errDuplicateID(h.RequesterID)
	}
	if _, ok := t.byID[h.ResponderID]; ok {
		return errDuplicateID(h.ResponderID)
	}

	now := t.now()
	rec := h
	rec.Added = now
	rec.LastMessage = now
	t.byID[rec.RequesterID] = &rec
	t.byID[rec.ResponderID] = &rec
	return nil
}

// Lookup returns a copy of the hop indexed under id.
func (t *ForwardingTable) Lookup(id uint64) (Hop, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byID[id]
	if !ok {
		return Hop{}, false
	}
	return *h, true
}

// Contains reports whether id is indexed.
func (t *ForwardingTable) Contains(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byID[id]
	return ok
}

// Touch refreshes the idle timer of the hop indexed under id.
func (t *ForwardingTable) Touch(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.byID[id]; ok {
		h.LastMessage = t.now()
	}
}

// Remove drops the hop indexed under id, under both of its identifiers.
func (t *ForwardingTable) Remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byID[id]
	if !ok {
		return false
	}
	t.unlink(h)
	return true
}

// Sweep drops hops that have seen no message for longer than maxIdle and
// returns how many were dropped.
func (t *ForwardingTable) Sweep(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxIdle)
	stale := make(map[*Hop]struct{})
	for _, h := range t.byID {
		if h.LastMessage.Before(cutoff) {
			stale[h] = struct{}{}
		}
	}
	for h := range stale {
		t.unlink(h)
	}
	return len(stale)
}

// Len returns the number of hops, not identifiers.
func (t *ForwardingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*Hop]struct{}, len(t.byID))
	for _, h := range t.byID {
		seen[h] = struct{}{}
	}
	return len(seen)
}

// Hops returns a snapshot of all hops.
func (t *ForwardingTable) Hops() []Hop {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*Hop]struct{}, len(t.byID))
	out := make([]Hop, 0, len(t.byID))
	for _, h := range t.byID {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, *h)
	}
	return out
}

func (t *ForwardingTable) unlink(h *Hop) {
	if t.byID[h.RequesterID] == h {
		delete(t.byID, h.RequesterID)
	}
	if t.byID[h.ResponderID] == h {
		delete(t.byID, h.ResponderID)
	}
}
