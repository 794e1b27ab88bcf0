package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "ringswap"

// SwapMetrics counts swap outcomes and rejection causes.
type SwapMetrics struct {
	Swaps              prometheus.Counter
	NoSwaps            prometheus.Counter
	Started            prometheus.Counter
	RejectedLocked     prometheus.Counter
	RejectedNowhere    prometheus.Counter
	RejectedRateLimit  prometheus.Counter
	RejectedLoop       prometheus.Counter
	Timeouts           prometheus.Counter
	ProtocolViolations prometheus.Counter
	Relayed            *prometheus.CounterVec
	Location           prometheus.Gauge
	ForwardingEntries  prometheus.Gauge
}

// NewSwapMetrics creates the swap counters and registers them with reg.
// A nil reg leaves them unregistered, which is what most tests want.
func NewSwapMetrics(reg prometheus.Registerer) *SwapMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      name,
			Help:      help,
		})
	}

	m := &SwapMetrics{
		Swaps:              counter("swaps_total", "Swap attempts that exchanged locations."),
		NoSwaps:            counter("no_swaps_total", "Completed swap attempts that kept locations."),
		Started:            counter("started_total", "Outgoing swap attempts started while holding the lock."),
		RejectedLocked:     counter("rejected_locked_total", "Requests rejected because the node was already swapping."),
		RejectedNowhere:    counter("rejected_nowhere_total", "Requests rejected because there was no peer to relay to."),
		RejectedRateLimit:  counter("rejected_rate_limit_total", "Requests rejected on rate-limit advice."),
		RejectedLoop:       counter("rejected_loop_total", "Requests rejected as routing loops."),
		Timeouts:           counter("timeouts_total", "Swap sessions that gave up waiting for a peer."),
		ProtocolViolations: counter("protocol_violations_total", "Malformed or inconsistent messages from peers."),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "relayed_total",
			Help:      "Swap messages relayed on behalf of other nodes.",
		}, []string{"type"}),
		Location: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "location",
			Help:      "Current ring location of this node.",
		}),
		ForwardingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "forwarding_entries",
			Help:      "Relay hops currently tracked.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Swaps, m.NoSwaps, m.Started,
			m.RejectedLocked, m.RejectedNowhere, m.RejectedRateLimit, m.RejectedLoop,
			m.Timeouts, m.ProtocolViolations, m.Relayed,
			m.Location, m.ForwardingEntries,
		)
	}
	return m
}

// Snapshot is a plain view of the counters for status reporting.
type Snapshot struct {
	Swaps              uint64 `json:"swaps"`
	NoSwaps            uint64 `json:"no_swaps"`
	Started            uint64 `json:"started"`
	RejectedLocked     uint64 `json:"rejected_locked"`
	RejectedNowhere    uint64 `json:"rejected_nowhere"`
	RejectedRateLimit  uint64 `json:"rejected_rate_limit"`
	RejectedLoop       uint64 `json:"rejected_loop"`
	Timeouts           uint64 `json:"timeouts"`
	ProtocolViolations uint64 `json:"protocol_violations"`
}

// Snapshot reads the current counter values.
func (m *SwapMetrics) Snapshot() Snapshot {
	return Snapshot{
		Swaps:              read(m.Swaps),
		NoSwaps:            read(m.NoSwaps),
		Started:            read(m.Started),
		RejectedLocked:     read(m.RejectedLocked),
		RejectedNowhere:    read(m.RejectedNowhere),
		RejectedRateLimit:  read(m.RejectedRateLimit),
		RejectedLoop:       read(m.RejectedLoop),
		Timeouts:           read(m.Timeouts),
		ProtocolViolations: read(m.ProtocolViolations),
	}
}

func read(c prometheus.Counter) uint64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil || out.Counter == nil {
		return 0
	}
	return uint64(out.Counter.GetValue())
}
