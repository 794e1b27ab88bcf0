package swap

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Transport delivers swap messages to peers.
type Transport interface {
	// Send delivers msg to a peer without waiting for an answer.
	Send(ctx context.Context, to peer.ID, msg *Message) error
	// SendAndWait registers f, sends msg and waits up to timeout for a
	// message matching f. It returns ErrTimeout when nothing matches.
	SendAndWait(ctx context.Context, to peer.ID, msg *Message, f Filter, timeout time.Duration) (*Message, error)
}

// PeerDirectory knows the connected peers and their advertised locations.
type PeerDirectory interface {
	RandomPeer(exclude ...peer.ID) (peer.ID, bool)
	PeerLocations() []float64
	SetPeerLocation(p peer.ID, loc float64)
	Broadcast(ctx context.Context, msg *Message)
}

// RateAdvisor decides whether a peer is sending swap requests too often.
type RateAdvisor interface {
	ShouldRejectSwapRequest(p peer.ID) bool
}

// Reporter receives peer behaviour observed by swap sessions.
type Reporter interface {
	ReportViolation(p peer.ID, reason string)
	ReportTimeout(p peer.ID)
	ReportSuccess(p peer.ID)
}

// EventSink receives a record of every finished session.
type EventSink interface {
	Publish(ev Event)
}

// Event describes a finished swap session.
type Event struct {
	Role        string    `json:"role"` // "initiator" or "responder"
	UID         uint64    `json:"uid"`
	Peer        string    `json:"peer"`
	Outcome     string    `json:"outcome"`
	OldLocation float64   `json:"old_location"`
	NewLocation float64   `json:"new_location"`
	Time        time.Time `json:"time"`
}

// Deps bundles the collaborators of a Manager. Transport and Directory are
// required; the rest may be nil.
type Deps struct {
	Transport Transport
	Directory PeerDirectory
	Advisor   RateAdvisor
	Reporter  Reporter
	Events    EventSink
}

type nopAdvisor struct{}

func (nopAdvisor) ShouldRejectSwapRequest(peer.ID) bool { return false }

type nopReporter struct{}

func (nopReporter) ReportViolation(peer.ID, string) {}
func (nopReporter) ReportTimeout(peer.ID)           {}
func (nopReporter) ReportSuccess(peer.ID)           {}

type nopSink struct{}

func (nopSink) Publish(Event) {}
