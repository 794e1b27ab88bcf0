package swap

import (
	"github.com/libp2p/go-libp2p/core/peer"
)

// HandleContinuation relays a reply, rejection, commit or completion that no
// local session was waiting for, using the forwarding entry for its
// identifier. It returns false when the message belongs to no relayed hop.
//
// Replies, rejections and completions travel back toward the requester and
// must come from the peer the request was routed to. Commits travel toward
// the responder and must come from the peer that sent the request.
// Rejections and completions close the hop.
func (m *Manager) HandleContinuation(msg *Message) bool {
	log := m.logger.With("uid", msg.UID, "peer", msg.Source, "type", msg.Type)

	hop, ok := m.table.Lookup(msg.UID)
	if !ok {
		log.Debug("no forwarding entry for swap message")
		return false
	}

	var (
		from, to peer.ID
		fromID   uint64
		toID     uint64
	)
	switch msg.Type {
	case MsgSwapReply, MsgSwapRejected, MsgSwapComplete:
		from, fromID = hop.RoutedTo, hop.ResponderID
		to, toID = hop.RequestSender, hop.RequesterID
	case MsgSwapCommit:
		from, fromID = hop.RequestSender, hop.RequesterID
		to, toID = hop.RoutedTo, hop.ResponderID
	default:
		return false
	}

	if to == "" {
		// Originated or answered here; only a local session consumes it.
		log.Debug("swap message for local attempt with no waiting session")
		return false
	}

	if msg.Source != from || msg.UID != fromID {
		m.violation(log, msg.Source, NewSwapError(ErrCodeWrongSource, "swap message from unexpected peer").
			WithContext("expected", from.String()).
			WithContext("expected_uid", fromID))
		return true
	}

	fwd := msg.Clone()
	fwd.UID = toID
	fwd.Source = ""

	if msg.Type == MsgSwapRejected || msg.Type == MsgSwapComplete {
		m.removeHop(msg.UID)
	} else {
		m.table.Touch(msg.UID)
	}

	if err := m.transport.Send(m.ctx, to, fwd); err != nil {
		log.Warn("failed to relay swap message", "to", to, "error", err)
		return true
	}
	m.metrics.Relayed.WithLabelValues(msg.Type.String()).Inc()
	log.Debug("relayed swap message", "to", to, "out_uid", toID)
	return true
}
