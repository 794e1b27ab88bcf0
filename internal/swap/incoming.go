package swap

import (
	"context"
	"log/slog"
)

// HandleSwapRequest answers or relays an inbound swap request. It always
// recognizes the message; refusals are sent back to the requester.
func (m *Manager) HandleSwapRequest(msg *Message) bool {
	src := msg.Source
	log := m.logger.With("uid", msg.UID, "peer", src)

	if m.advisor.ShouldRejectSwapRequest(src) {
		m.metrics.RejectedRateLimit.Inc()
		log.Debug("rejecting swap request on rate-limit advice")
		m.reject(m.ctx, src, msg.UID)
		return true
	}

	if m.table.Contains(msg.UID) || m.loops.Test(msg.Hash) {
		m.metrics.RejectedLoop.Inc()
		log.Debug("rejecting looped swap request")
		m.reject(m.ctx, src, msg.UID)
		return true
	}

	htl := min(msg.HTL, m.cfg.InitialHTL) - 1
	if htl > 0 {
		m.relayRequest(log, msg, htl)
		return true
	}
	m.acceptRequest(log, msg)
	return true
}

// relayRequest passes a request on to another random neighbor under a fresh
// identifier. Relays see only the commitment and do no cryptography.
func (m *Manager) relayRequest(log *slog.Logger, msg *Message, htl int) {
	src := msg.Source

	next, ok := m.directory.RandomPeer(src)
	if !ok {
		m.metrics.RejectedNowhere.Inc()
		log.Debug("nowhere to relay swap request")
		m.reject(m.ctx, src, msg.UID)
		return
	}

	outID := m.nextID(msg.UID)
	hop := Hop{RequesterID: msg.UID, ResponderID: outID, RequestSender: src, RoutedTo: next}
	if err := m.addHop(hop); err != nil {
		m.metrics.RejectedLoop.Inc()
		log.Debug("relay identifier already in use", "out_uid", outID, "error", err)
		m.reject(m.ctx, src, msg.UID)
		return
	}

	fwd := msg.Clone()
	fwd.UID = outID
	fwd.HTL = htl
	fwd.Source = ""
	if err := m.transport.Send(m.ctx, next, fwd); err != nil {
		log.Warn("failed to relay swap request", "to", next, "error", err)
		m.removeHop(outID)
		m.reject(m.ctx, src, msg.UID)
		return
	}
	m.metrics.Relayed.WithLabelValues(msg.Type.String()).Inc()
	log.Debug("relayed swap request", "to", next, "out_uid", outID, "htl", htl)
}

// acceptRequest makes this node the responder if it is not already swapping.
func (m *Manager) acceptRequest(log *slog.Logger, msg *Message) {
	src := msg.Source

	if !m.lock.TryAcquire() {
		m.metrics.RejectedLocked.Inc()
		log.Debug("already swapping, rejecting request")
		m.reject(m.ctx, src, msg.UID)
		return
	}

	if err := m.addHop(Hop{RequesterID: msg.UID, ResponderID: msg.UID, RequestSender: src}); err != nil {
		m.lock.Release()
		m.metrics.RejectedLoop.Inc()
		log.Debug("swap identifier already in use", "error", err)
		m.reject(m.ctx, src, msg.UID)
		return
	}

	req := msg.Clone()
	started := m.spawn("responder", func(ctx context.Context) {
		defer m.lock.Release()
		defer m.removeHop(req.UID)

		before := m.location.Value()
		outcome := m.respond(ctx, log.With("role", "responder"), req)
		m.publish("responder", req.UID, req.Source, outcome, before)
	})
	if !started {
		m.removeHop(msg.UID)
		m.lock.Release()
	}
}

// respond runs the responder side of a swap: answer the commitment with our
// own, wait for the requester's reveal, then reveal ours.
func (m *Manager) respond(ctx context.Context, log *slog.Logger, req *Message) Outcome {
	src := req.Source

	if err := CheckCommitment(req.Hash); err != nil {
		m.violation(log, src, err)
		m.reject(ctx, src, req.UID)
		return OutcomeViolation
	}

	own := m.ownPayload()
	encoded := own.Encode()

	commit, err := m.transport.SendAndWait(ctx, src,
		newReply(req.UID, Commit(encoded)),
		Filter{Types: []MessageType{MsgSwapCommit, MsgSwapRejected}, UID: req.UID, Source: src},
		m.cfg.Timeout,
	)
	if err != nil {
		return m.waitFailed(log, src, MsgSwapCommit, err)
	}
	if commit.Type == MsgSwapRejected {
		log.Debug("swap rejected before commit")
		return OutcomeRejected
	}

	his, err := OpenCommitment(req.Hash, commit.Data)
	if err != nil {
		m.violation(log, src, err)
		m.reject(ctx, src, req.UID)
		return OutcomeViolation
	}

	if err := m.transport.Send(ctx, src, newComplete(req.UID, encoded)); err != nil {
		log.Warn("failed to send swap completion", "error", err)
		return OutcomeFailed
	}

	return m.decide(ctx, log, src, own, his)
}
