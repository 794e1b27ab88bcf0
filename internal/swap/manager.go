package swap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nmxmxh/ringswap/internal/core"
	"github.com/nmxmxh/ringswap/internal/metrics"
)

// Manager runs the location swap protocol for one node: the scheduler that
// starts outgoing attempts, the handlers for inbound swap messages, and the
// forwarding table shared by relayed attempts.
type Manager struct {
	cfg      Config
	location *core.Location
	lock     *Lock
	table    *ForwardingTable
	loops    *LoopFilter
	nextID   IDSource
	random   func() uint64

	transport Transport
	directory PeerDirectory
	advisor   RateAdvisor
	reporter  Reporter
	events    EventSink

	metrics *metrics.SwapMetrics
	logger  *slog.Logger

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   sync.WaitGroup
	tasksMu sync.Mutex
	stopped bool
	running atomic.Bool
}

// New creates a swap manager for the node at location loc.
func New(cfg Config, loc *core.Location, deps Deps, m *metrics.SwapMetrics, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, errors.New("swap manager needs a location")
	}
	if deps.Transport == nil || deps.Directory == nil {
		return nil, errors.New("swap manager needs a transport and a peer directory")
	}
	ids, _ := cfg.idSource()

	if m == nil {
		m = metrics.NewSwapMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "swap")

	mgr := &Manager{
		cfg:       cfg,
		location:  loc,
		lock:      NewLock(logger),
		table:     NewForwardingTable(),
		loops:     NewLoopFilter(cfg.LoopFilter.ExpectedElements, cfg.LoopFilter.FalsePositiveRate),
		nextID:    ids,
		random:    randomUint64,
		transport: deps.Transport,
		directory: deps.Directory,
		advisor:   deps.Advisor,
		reporter:  deps.Reporter,
		events:    deps.Events,
		metrics:   m,
		logger:    logger,
	}
	if mgr.advisor == nil {
		mgr.advisor = nopAdvisor{}
	}
	if mgr.reporter == nil {
		mgr.reporter = nopReporter{}
	}
	if mgr.events == nil {
		mgr.events = nopSink{}
	}
	mgr.ctx, mgr.cancel = context.WithCancel(context.Background())
	mgr.metrics.Location.Set(loc.Value())

	return mgr, nil
}

// Start launches the scheduler and the forwarding-table sweep. They run
// until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	context.AfterFunc(ctx, m.cancel)

	m.spawn("scheduler", m.runScheduler)
	m.spawn("sweep", m.runSweep)

	m.logger.Info("swap manager started",
		"location", m.location.Value(),
		"timeout", m.cfg.Timeout,
		"relay_ids", m.cfg.RelayIDs,
	)
}

// Stop cancels every running task and waits for them to finish. Sessions
// blocked on a peer return through their abort path.
func (m *Manager) Stop() {
	m.tasksMu.Lock()
	m.stopped = true
	m.tasksMu.Unlock()

	m.cancel()
	m.tasks.Wait()

	if m.running.CompareAndSwap(true, false) {
		m.logger.Info("swap manager stopped")
	}
}

// Location returns this node's current ring location.
func (m *Manager) Location() float64 {
	return m.location.Value()
}

// Locked reports whether a swap session is active.
func (m *Manager) Locked() bool {
	return m.lock.Held()
}

// ForwardingTable exposes the table for diagnostics.
func (m *Manager) ForwardingTable() *ForwardingTable {
	return m.table
}

// Metrics returns the counters the manager updates.
func (m *Manager) Metrics() *metrics.SwapMetrics {
	return m.metrics
}

// HandleMessage dispatches an inbound message that no waiting session
// claimed. It reports whether the message was recognized; unrecognized
// messages are left to the caller.
func (m *Manager) HandleMessage(msg *Message) bool {
	if msg == nil {
		return false
	}
	switch msg.Type {
	case MsgSwapRequest:
		return m.HandleSwapRequest(msg)
	case MsgSwapReply, MsgSwapRejected, MsgSwapCommit, MsgSwapComplete:
		return m.HandleContinuation(msg)
	case MsgLocationChanged:
		return m.HandleLocationChanged(msg)
	default:
		return false
	}
}

// HandleLocationChanged records a neighbor's announced location.
func (m *Manager) HandleLocationChanged(msg *Message) bool {
	if !core.IsValid(msg.Location) {
		m.violation(m.logger.With("peer", msg.Source), msg.Source, errLocationRange("announced", msg.Location))
		return true
	}
	m.directory.SetPeerLocation(msg.Source, msg.Location)
	m.logger.Debug("peer location updated", "peer", msg.Source, "location", msg.Location)
	return true
}

// AnnounceTo sends this node's location to a single peer, typically one
// that has just connected.
func (m *Manager) AnnounceTo(ctx context.Context, p peer.ID) error {
	return m.transport.Send(ctx, p, NewLocationChanged(m.location.Value()))
}

// Status is a point-in-time view of the manager.
type Status struct {
	Location          float64          `json:"location"`
	Locked            bool             `json:"locked"`
	LockedSince       *time.Time       `json:"locked_since,omitempty"`
	ForwardingEntries int              `json:"forwarding_entries"`
	Counters          metrics.Snapshot `json:"counters"`
}

// Status returns the current state for diagnostics.
func (m *Manager) Status() Status {
	st := Status{
		Location:          m.location.Value(),
		Locked:            m.lock.Held(),
		ForwardingEntries: m.table.Len(),
		Counters:          m.metrics.Snapshot(),
	}
	if since := m.lock.HeldSince(); !since.IsZero() {
		st.LockedSince = &since
	}
	return st
}

// spawn runs fn on its own goroutine bound to the manager's context. It
// returns false once the manager is stopping.
func (m *Manager) spawn(name string, fn func(ctx context.Context)) bool {
	m.tasksMu.Lock()
	if m.stopped {
		m.tasksMu.Unlock()
		return false
	}
	m.tasks.Add(1)
	m.tasksMu.Unlock()

	go func() {
		defer m.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("swap task panicked", "task", name, "panic", r)
			}
		}()
		fn(m.ctx)
	}()
	return true
}

func (m *Manager) runSweep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep expires idle forwarding entries and ages the loop filter. A
// generation outlives the longest attempt.
func (m *Manager) sweep() int {
	removed := m.table.Sweep(m.cfg.MaxIdle())
	m.loops.RotateAfter(m.cfg.MaxIdle())
	m.metrics.ForwardingEntries.Set(float64(m.table.Len()))
	if removed > 0 {
		m.logger.Debug("expired forwarding entries", "count", removed)
	}
	return removed
}

// ownPayload snapshots this node's location and neighbors with a fresh nonce.
func (m *Manager) ownPayload() Payload {
	return Payload{
		Nonce:     m.random(),
		Location:  m.location.Value(),
		Neighbors: m.directory.PeerLocations(),
	}
}

// newUID draws an attempt identifier not already indexed here.
func (m *Manager) newUID() uint64 {
	for {
		uid := m.random()
		if !m.table.Contains(uid) {
			return uid
		}
	}
}

func (m *Manager) addHop(h Hop) error {
	if err := m.table.Add(h); err != nil {
		return err
	}
	m.metrics.ForwardingEntries.Set(float64(m.table.Len()))
	return nil
}

func (m *Manager) removeHop(id uint64) {
	m.table.Remove(id)
	m.metrics.ForwardingEntries.Set(float64(m.table.Len()))
}

func (m *Manager) reject(ctx context.Context, to peer.ID, uid uint64) {
	if err := m.transport.Send(ctx, to, newRejected(uid)); err != nil {
		m.logger.Debug("failed to send swap rejection", "peer", to, "uid", uid, "error", err)
	}
}

func (m *Manager) violation(log *slog.Logger, p peer.ID, err error) {
	m.metrics.ProtocolViolations.Inc()
	m.reporter.ReportViolation(p, ErrorCode(err))
	log.Error("swap protocol violation", "error", err)
}

// waitFailed accounts for a wait that ended without the expected message.
func (m *Manager) waitFailed(log *slog.Logger, p peer.ID, waitingFor MessageType, err error) Outcome {
	if errors.Is(err, ErrTimeout) {
		m.metrics.Timeouts.Inc()
		m.reporter.ReportTimeout(p)
		log.Warn("swap timed out", "waiting_for", waitingFor)
		return OutcomeTimeout
	}
	log.Warn("swap aborted", "waiting_for", waitingFor, "error", err)
	return OutcomeFailed
}

// decide runs the acceptance rule on both revealed payloads and, if it
// passes, takes the peer's location and announces it.
func (m *Manager) decide(ctx context.Context, log *slog.Logger, p peer.ID, own, his Payload) Outcome {
	m.reporter.ReportSuccess(p)

	shared := own.Nonce ^ his.Nonce
	if !ShouldSwap(own.Location, own.Neighbors, his.Location, his.Neighbors, shared) {
		m.metrics.NoSwaps.Inc()
		log.Debug("swap declined by acceptance rule", "location", own.Location, "peer_location", his.Location)
		return OutcomeNotSwapped
	}

	if err := m.location.Set(his.Location); err != nil {
		m.violation(log, p, errLocationRange("location", his.Location))
		return OutcomeViolation
	}
	m.metrics.Swaps.Inc()
	m.metrics.Location.Set(his.Location)
	log.Info("swapped location", "from", own.Location, "to", his.Location)

	m.directory.Broadcast(ctx, NewLocationChanged(his.Location))
	return OutcomeSwapped
}

func (m *Manager) publish(role string, uid uint64, p peer.ID, outcome Outcome, before float64) {
	m.events.Publish(Event{
		Role:        role,
		UID:         uid,
		Peer:        p.String(),
		Outcome:     outcome.String(),
		OldLocation: before,
		NewLocation: m.location.Value(),
		Time:        time.Now(),
	})
}
