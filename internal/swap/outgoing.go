package swap

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Outcome is how a swap session ended.
type Outcome int

const (
	OutcomeLocked    Outcome = iota // another session held the lock
	OutcomeNoPeers                  // nobody to swap with
	OutcomeTimeout                  // the peer went quiet
	OutcomeRejected                 // the request was refused somewhere on the path
	OutcomeViolation                // the peer broke the protocol
	OutcomeFailed                   // transport error or shutdown
	OutcomeSwapped
	OutcomeNotSwapped
)

var outcomeNames = [...]string{
	OutcomeLocked:     "locked",
	OutcomeNoPeers:    "no_peers",
	OutcomeTimeout:    "timeout",
	OutcomeRejected:   "rejected",
	OutcomeViolation:  "violation",
	OutcomeFailed:     "failed",
	OutcomeSwapped:    "swapped",
	OutcomeNotSwapped: "not_swapped",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Completed reports whether both payloads were exchanged and the acceptance
// rule ran.
func (o Outcome) Completed() bool {
	return o == OutcomeSwapped || o == OutcomeNotSwapped
}

// Err returns nil for a completed attempt and otherwise a *SwapError whose
// code says why the attempt ended early.
func (o Outcome) Err() error {
	var code string
	switch o {
	case OutcomeSwapped, OutcomeNotSwapped:
		return nil
	case OutcomeLocked:
		code = ErrCodeLocked
	case OutcomeNoPeers:
		code = ErrCodeNoPeers
	case OutcomeTimeout:
		code = ErrCodeTimeout
	case OutcomeRejected:
		code = ErrCodeRejected
	default:
		code = ErrCodeAttemptFailed
	}
	return NewSwapError(code, "swap attempt ended early").WithContext("outcome", o.String())
}

// TrySwap runs one outgoing swap attempt with a random neighbor. The swap
// lock is held for the whole attempt, and the forwarding entry is removed
// when it ends.
func (m *Manager) TrySwap(ctx context.Context) Outcome {
	if !m.lock.TryAcquire() {
		m.logger.Debug("swap already in progress, not starting another")
		return OutcomeLocked
	}
	defer m.lock.Release()
	m.metrics.Started.Inc()

	before := m.location.Value()
	uid, target, outcome := m.initiate(ctx)
	if outcome != OutcomeNoPeers {
		m.publish("initiator", uid, target, outcome, before)
	}
	return outcome
}

func (m *Manager) initiate(ctx context.Context) (uint64, peer.ID, Outcome) {
	uid := m.newUID()
	own := m.ownPayload()
	encoded := own.Encode()
	commitment := Commit(encoded)

	target, ok := m.directory.RandomPeer()
	if !ok {
		m.logger.Debug("no peers to swap with")
		return uid, "", OutcomeNoPeers
	}
	log := m.logger.With("uid", uid, "peer", target, "role", "initiator")

	if err := m.addHop(Hop{RequesterID: uid, ResponderID: uid, RoutedTo: target}); err != nil {
		log.Warn("could not register swap attempt", "error", err)
		return uid, target, OutcomeFailed
	}
	defer m.removeHop(uid)
	m.loops.Add(commitment)

	reply, err := m.transport.SendAndWait(ctx, target,
		newRequest(uid, commitment, m.cfg.InitialHTL),
		Filter{Types: []MessageType{MsgSwapReply, MsgSwapRejected}, UID: uid, Source: target},
		m.cfg.Timeout,
	)
	if err != nil {
		return uid, target, m.waitFailed(log, target, MsgSwapReply, err)
	}
	if reply.Type == MsgSwapRejected {
		log.Debug("swap request rejected")
		return uid, target, OutcomeRejected
	}
	if err := CheckCommitment(reply.Hash); err != nil {
		m.violation(log, target, err)
		return uid, target, OutcomeViolation
	}
	hisCommitment := reply.Hash

	complete, err := m.transport.SendAndWait(ctx, target,
		newCommit(uid, encoded),
		Filter{Types: []MessageType{MsgSwapComplete, MsgSwapRejected}, UID: uid, Source: target},
		m.cfg.Timeout,
	)
	if err != nil {
		// The peer has our reveal but never sent its own.
		return uid, target, m.waitFailed(log, target, MsgSwapComplete, err)
	}
	if complete.Type == MsgSwapRejected {
		log.Debug("swap rejected after commit")
		return uid, target, OutcomeRejected
	}

	his, err := OpenCommitment(hisCommitment, complete.Data)
	if err != nil {
		m.violation(log, target, err)
		return uid, target, OutcomeViolation
	}

	return uid, target, m.decide(ctx, log, target, own, his)
}
