package reputation

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nmxmxh/ringswap/internal/swap"
)

// Store defines persistence for trust scores.
type Store interface {
	SaveScores(scores map[string]Score) error
	LoadScores() (map[string]Score, error)
}

// Penalty is a kind of misbehaviour observed during a swap.
type Penalty int

const (
	PenaltyTimeout Penalty = iota
	PenaltyMalformed
	PenaltyWrongSource
	PenaltyBrokenCommitment
)

func (p Penalty) amount() float64 {
	switch p {
	case PenaltyTimeout:
		return 0.02
	case PenaltyMalformed:
		return 0.15
	case PenaltyWrongSource:
		return 0.15
	case PenaltyBrokenCommitment:
		return 0.30
	default:
		return 0.05
	}
}

// penaltyFor maps a swap error code to a penalty.
func penaltyFor(code string) Penalty {
	switch code {
	case swap.ErrCodeHashMismatch:
		return PenaltyBrokenCommitment
	case swap.ErrCodeWrongSource:
		return PenaltyWrongSource
	default:
		return PenaltyMalformed
	}
}

// Score is the trust record of one peer.
type Score struct {
	PeerID      string  `json:"peer_id"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	Successes   uint64  `json:"successes"`
	Failures    uint64  `json:"failures"`
	Violations  uint64  `json:"violations"`
	LastUpdated int64   `json:"last_updated"` // Unix Nano
}

// Config holds reputation configuration
type Config struct {
	HalfLife     time.Duration `json:"half_life" yaml:"half_life"`         // Time for a score to decay halfway to neutral
	BanThreshold float64       `json:"ban_threshold" yaml:"ban_threshold"` // Peers scoring below are refused
	StoreFile    string        `json:"store_file" yaml:"store_file"`       // Optional JSON snapshot path
}

// DefaultConfig returns production-ready defaults
func DefaultConfig() Config {
	return Config{
		HalfLife:     24 * time.Hour,
		BanThreshold: 0.1,
	}
}

// Manager keeps EMA-based trust scores fed by swap session outcomes. It
// implements swap.Reporter.
type Manager struct {
	scores   map[string]Score
	scoresMu sync.RWMutex

	halfLife     time.Duration
	banThreshold float64
	defaultScore float64
	alpha        float64

	now    func() time.Time
	store  Store
	logger *slog.Logger
}

// NewManager creates a manager, restoring scores from store if present.
func NewManager(cfg Config, store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		scores:       make(map[string]Score),
		halfLife:     cfg.HalfLife,
		banThreshold: cfg.BanThreshold,
		defaultScore: 0.5,
		alpha:        0.15,
		now:          time.Now,
		store:        store,
		logger:       logger.With("component", "reputation"),
	}

	if store != nil {
		if loaded, err := store.LoadScores(); err == nil && len(loaded) > 0 {
			m.scores = loaded
			m.logger.Info("restored reputation scores", "count", len(loaded))
		}
	}
	return m
}

// Snapshot persists current scores.
func (m *Manager) Snapshot() error {
	if m.store == nil {
		return nil
	}

	m.scoresMu.RLock()
	snapshot := make(map[string]Score, len(m.scores))
	for k, v := range m.scores {
		snapshot[k] = v
	}
	m.scoresMu.RUnlock()

	return m.store.SaveScores(snapshot)
}

// ReportSuccess records a completed exchange with p.
func (m *Manager) ReportSuccess(p peer.ID) {
	m.update(p, func(s *Score) {
		s.Successes++
		s.Score = (1-m.alpha)*s.Score + m.alpha*1.0
	})
}

// ReportTimeout records that p went quiet during a swap.
func (m *Manager) ReportTimeout(p peer.ID) {
	m.Penalize(p, PenaltyTimeout)
}

// ReportViolation records a protocol violation by p; reason is a swap
// error code.
func (m *Manager) ReportViolation(p peer.ID, reason string) {
	penalty := penaltyFor(reason)
	m.update(p, func(s *Score) { s.Violations++ })
	m.Penalize(p, penalty)
	m.logger.Warn("peer violated swap protocol", "peer", p, "reason", reason)
}

// Penalize lowers p's score.
func (m *Manager) Penalize(p peer.ID, reason Penalty) {
	penalty := reason.amount()
	m.update(p, func(s *Score) {
		s.Failures++
		s.Score = math.Max(0, s.Score-penalty)
	})
	m.logger.Debug("applied reputation penalty", "peer", p, "reason", reason, "penalty", penalty)
}

// TrustScore returns p's decayed score and confidence.
func (m *Manager) TrustScore(p peer.ID) (float64, float64) {
	m.scoresMu.RLock()
	defer m.scoresMu.RUnlock()

	score, exists := m.scores[p.String()]
	if !exists {
		return m.defaultScore, 0.0
	}
	m.applyDecay(&score)
	return score.Score, score.Confidence
}

// IsBanned reports whether p has fallen below the ban threshold.
func (m *Manager) IsBanned(p peer.ID) bool {
	score, _ := m.TrustScore(p)
	return score < m.banThreshold
}

// TopPeers returns up to n peers ordered by confidence-weighted score.
func (m *Manager) TopPeers(n int) []Score {
	m.scoresMu.RLock()
	defer m.scoresMu.RUnlock()

	list := make([]Score, 0, len(m.scores))
	for _, s := range m.scores {
		m.applyDecay(&s)
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Confidence*list[i].Score > list[j].Confidence*list[j].Score
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}

// Stats summarizes the table.
type Stats struct {
	TotalPeers    int     `json:"total_peers"`
	AvgScore      float64 `json:"avg_score"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Stats returns aggregate figures for status reporting.
func (m *Manager) Stats() Stats {
	m.scoresMu.RLock()
	defer m.scoresMu.RUnlock()

	st := Stats{TotalPeers: len(m.scores)}
	if st.TotalPeers == 0 {
		return st
	}
	for _, s := range m.scores {
		st.AvgScore += s.Score
		st.AvgConfidence += s.Confidence
	}
	st.AvgScore /= float64(st.TotalPeers)
	st.AvgConfidence /= float64(st.TotalPeers)
	return st
}

func (m *Manager) update(p peer.ID, fn func(*Score)) {
	m.scoresMu.Lock()
	defer m.scoresMu.Unlock()

	id := p.String()
	score, exists := m.scores[id]
	if !exists {
		score = Score{PeerID: id, Score: m.defaultScore, LastUpdated: m.now().UnixNano()}
	}
	m.applyDecay(&score)
	fn(&score)
	m.updateConfidence(&score)
	score.LastUpdated = m.now().UnixNano()
	m.scores[id] = score
}

func (m *Manager) applyDecay(s *Score) {
	dt := m.now().UnixNano() - s.LastUpdated
	if dt <= 0 || m.halfLife <= 0 {
		return
	}

	// Score decays toward neutral, confidence toward 0.
	decayFactor := math.Pow(0.5, float64(dt)/float64(m.halfLife))
	s.Score = m.defaultScore + (s.Score-m.defaultScore)*decayFactor
	s.Confidence *= decayFactor
}

func (m *Manager) updateConfidence(s *Score) {
	total := s.Successes + s.Failures
	if total == 0 {
		s.Confidence = 0
		return
	}
	// 5 interactions -> ~0.67, 20 -> ~0.9
	s.Confidence = 1.0 - (1.0 / float64(total/2+1))
}

// FileStore keeps scores in a JSON file.
type FileStore struct {
	Path string
}

// SaveScores writes scores to the file.
func (f FileStore) SaveScores(scores map[string]Score) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0600)
}

// LoadScores reads scores from the file. A missing file is an empty table.
func (f FileStore) LoadScores() (map[string]Score, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Score{}, nil
	}
	if err != nil {
		return nil, err
	}
	scores := make(map[string]Score)
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}
