package swap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ringswap/internal/core"
	"github.com/nmxmxh/ringswap/internal/metrics"
)

// sent is one message observed on the in-memory network.
type sent struct {
	From, To peer.ID
	Type     MessageType
	UID      uint64
}

// memNet is an in-memory overlay. Every node has an ordered inbox served by
// one goroutine, which offers each message to the node's waiters before
// handing it to the node's handler.
type memNet struct {
	t     *testing.T
	mu    sync.Mutex
	nodes map[peer.ID]*memNode
	log   []sent
}

func newMemNet(t *testing.T) *memNet {
	return &memNet{t: t, nodes: make(map[peer.ID]*memNode)}
}

func (n *memNet) sent() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.log)
}

// sentFor returns the swap messages of one attempt in send order, across
// every identifier in uids.
func (n *memNet) sentFor(uids ...uint64) []sent {
	var out []sent
	for _, s := range n.sent() {
		if s.Type != MsgLocationChanged && slices.Contains(uids, s.UID) {
			out = append(out, s)
		}
	}
	return out
}

// memNode is one participant. It implements Transport and PeerDirectory.
type memNode struct {
	id        peer.ID
	net       *memNet
	waits     *WaitRegistry
	inbox     chan *Message
	stop      chan struct{}
	handler   func(*Message) bool
	neighbors []peer.ID
	locations []float64 // reported neighbor locations

	mu       sync.Mutex
	received []*Message
	peerLocs map[peer.ID]float64
}

func (n *memNet) addNode(name string) *memNode {
	node := &memNode{
		id:       peer.ID(name),
		net:      n,
		waits:    NewWaitRegistry(),
		inbox:    make(chan *Message, 256),
		stop:     make(chan struct{}),
		peerLocs: make(map[peer.ID]float64),
		handler:  func(*Message) bool { return false },
	}
	n.mu.Lock()
	n.nodes[node.id] = node
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg *Message
			select {
			case msg = <-node.inbox:
			case <-node.stop:
				return
			}
			node.mu.Lock()
			node.received = append(node.received, msg)
			node.mu.Unlock()
			if !node.waits.Deliver(msg) {
				node.handler(msg)
			}
		}
	}()
	n.t.Cleanup(func() {
		close(node.stop)
		<-done
	})
	return node
}

// link connects two nodes in both directions.
func (n *memNet) link(a, b *memNode) {
	a.neighbors = append(a.neighbors, b.id)
	b.neighbors = append(b.neighbors, a.id)
}

func (node *memNode) Send(ctx context.Context, to peer.ID, msg *Message) error {
	node.net.mu.Lock()
	dst, ok := node.net.nodes[to]
	if ok {
		node.net.log = append(node.net.log, sent{From: node.id, To: to, Type: msg.Type, UID: msg.UID})
	}
	node.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown peer %s", to)
	}

	out := msg.Clone()
	out.Source = node.id
	select {
	case dst.inbox <- out:
		return nil
	case <-dst.stop:
		return fmt.Errorf("peer %s is gone", to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (node *memNode) SendAndWait(ctx context.Context, to peer.ID, msg *Message, f Filter, timeout time.Duration) (*Message, error) {
	p := node.waits.Register(f)
	if err := node.Send(ctx, to, msg); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.Wait(ctx, timeout)
}

func (node *memNode) RandomPeer(exclude ...peer.ID) (peer.ID, bool) {
	var candidates []peer.ID
	for _, p := range node.neighbors {
		if !slices.Contains(exclude, p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.IntN(len(candidates))], true
}

func (node *memNode) PeerLocations() []float64 {
	return slices.Clone(node.locations)
}

func (node *memNode) SetPeerLocation(p peer.ID, loc float64) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.peerLocs[p] = loc
}

func (node *memNode) peerLocation(p peer.ID) (float64, bool) {
	node.mu.Lock()
	defer node.mu.Unlock()
	loc, ok := node.peerLocs[p]
	return loc, ok
}

func (node *memNode) Broadcast(ctx context.Context, msg *Message) {
	for _, p := range node.neighbors {
		_ = node.Send(ctx, p, msg)
	}
}

// receivedTypes lists the types of messages that reached this node.
func (node *memNode) receivedTypes() []MessageType {
	node.mu.Lock()
	defer node.mu.Unlock()
	out := make([]MessageType, 0, len(node.received))
	for _, m := range node.received {
		out = append(out, m.Type)
	}
	return out
}

// syncBuffer collects log output from many goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeAdvisor struct {
	mu     sync.Mutex
	reject map[peer.ID]bool
}

func (a *fakeAdvisor) ShouldRejectSwapRequest(p peer.ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reject[p]
}

type fakeReporter struct {
	mu         sync.Mutex
	violations map[peer.ID][]string
	timeouts   map[peer.ID]int
	successes  map[peer.ID]int
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{
		violations: make(map[peer.ID][]string),
		timeouts:   make(map[peer.ID]int),
		successes:  make(map[peer.ID]int),
	}
}

func (r *fakeReporter) ReportViolation(p peer.ID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations[p] = append(r.violations[p], reason)
}

func (r *fakeReporter) ReportTimeout(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts[p]++
}

func (r *fakeReporter) ReportSuccess(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes[p]++
}

func (r *fakeReporter) violationsFor(p peer.ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.violations[p])
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// swapNode is a memNode driven by a real Manager.
type swapNode struct {
	*memNode
	mgr      *Manager
	logs     *syncBuffer
	reporter *fakeReporter
	advisor  *fakeAdvisor
	events   *fakeSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MinInterval = 10 * time.Millisecond
	cfg.IntervalSpread = 20 * time.Millisecond
	cfg.SweepInterval = 50 * time.Millisecond
	return cfg
}

func (n *memNet) addSwapNode(name string, loc float64, cfg Config) *swapNode {
	node := n.addNode(name)
	location, err := core.NewLocation(loc)
	require.NoError(n.t, err)

	sn := &swapNode{
		memNode:  node,
		logs:     &syncBuffer{},
		reporter: newFakeReporter(),
		advisor:  &fakeAdvisor{reject: make(map[peer.ID]bool)},
		events:   &fakeSink{},
	}
	logger := slog.New(slog.NewTextHandler(sn.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mgr, err := New(cfg, location, Deps{
		Transport: node,
		Directory: node,
		Advisor:   sn.advisor,
		Reporter:  sn.reporter,
		Events:    sn.events,
	}, metrics.NewSwapMetrics(nil), logger.With("node", name))
	require.NoError(n.t, err)

	sn.mgr = mgr
	node.handler = mgr.HandleMessage
	n.t.Cleanup(mgr.Stop)
	return sn
}

// idle reports whether the node has no session and no forwarding entries.
func (sn *swapNode) idle() bool {
	return !sn.mgr.Locked() && sn.mgr.ForwardingTable().Len() == 0
}
