package swap

import (
	"context"
	"math/rand/v2"
	"time"
)

// runScheduler starts an outgoing attempt after every randomized pause,
// skipping cycles while a session holds the lock.
func (m *Manager) runScheduler(ctx context.Context) {
	timer := time.NewTimer(m.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.schedulerCycle()
		timer.Reset(m.nextInterval())
	}
}

func (m *Manager) schedulerCycle() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("swap scheduler cycle panicked", "panic", r)
		}
	}()

	if m.lock.Held() {
		return
	}
	m.spawn("initiator", func(ctx context.Context) {
		outcome := m.TrySwap(ctx)
		if err := outcome.Err(); err != nil {
			m.logger.Debug("swap attempt not completed", "outcome", outcome, "code", ErrorCode(err))
			return
		}
		m.logger.Debug("swap attempt finished", "outcome", outcome)
	})
}

// nextInterval draws the pause before the next attempt, uniform over
// [MinInterval, MinInterval+IntervalSpread).
func (m *Manager) nextInterval() time.Duration {
	d := m.cfg.MinInterval
	if m.cfg.IntervalSpread > 0 {
		d += rand.N(m.cfg.IntervalSpread)
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
