package swap

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Filter selects the message a session is waiting for. A zero Source
// matches any sender.
type Filter struct {
	Types  []MessageType
	UID    uint64
	Source peer.ID
}

// Match reports whether m satisfies the filter.
func (f Filter) Match(m *Message) bool {
	if m.UID != f.UID {
		return false
	}
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	return slices.Contains(f.Types, m.Type)
}

// Pending is one registered wait.
type Pending struct {
	filter Filter
	ch     chan *Message
	reg    *WaitRegistry
}

// Wait blocks until a matching message arrives, the timeout elapses or ctx
// is done. The registration is always removed before Wait returns.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (*Message, error) {
	defer p.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-p.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel drops the registration; later matches fall through to dispatch.
func (p *Pending) Cancel() {
	p.reg.remove(p)
}

// WaitRegistry matches inbound messages against sessions waiting for them.
// Transports offer every inbound message to Deliver before dispatching it.
type WaitRegistry struct {
	mu      sync.Mutex
	pending []*Pending
}

// NewWaitRegistry creates an empty registry.
func NewWaitRegistry() *WaitRegistry {
	return &WaitRegistry{}
}

// Register adds a wait for messages matching f. Register before sending the
// message that provokes the reply, or the reply may be dispatched instead.
func (r *WaitRegistry) Register(f Filter) *Pending {
	p := &Pending{filter: f, ch: make(chan *Message, 1), reg: r}
	r.mu.Lock()
	r.pending = append(r.pending, p)
	r.mu.Unlock()
	return p
}

// Deliver hands msg to the first matching wait. It returns false when no
// session is waiting for it.
func (r *WaitRegistry) Deliver(msg *Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.pending {
		if p.filter.Match(msg) {
			r.pending = slices.Delete(r.pending, i, i+1)
			p.ch <- msg
			return true
		}
	}
	return false
}

// Len returns the number of outstanding waits.
func (r *WaitRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *WaitRegistry) remove(p *Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.pending, p); i >= 0 {
		r.pending = slices.Delete(r.pending, i, i+1)
	}
}
