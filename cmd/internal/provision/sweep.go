package provision

import (
	"context"
	"time"
)

// Sweep tears down every session older than the session timeout. Non-terminal
// sessions become EXPIRED; unclaimed LINKED and FAILED ones are dropped.
// It returns the number of removed sessions.
func (m *Manager) Sweep(now time.Time) int {
	n := m.store.ForEachExpired(m.cfg.SessionTimeout, now, func(rec *Record) {
		from, expired := rec.transition(StateExpired, now, ReasonTimeout)
		rec.markReady()
		m.teardown(rec)

		switch {
		case expired:
			m.metrics.transitioned(StateExpired)
			m.record(context.Background(), rec, ActionExpired, StateExpired, ReasonTimeout)
			m.log.Info("link.expired", "session_id", rec.ID, "kind", string(rec.Kind), "from", string(from))
		case from == StateLinked:
			m.log.Warn("link.sweep.unclaimed", "session_id", rec.ID, "kind", string(rec.Kind))
		default:
			m.log.Debug("link.sweep.removed", "session_id", rec.ID, "state", string(from))
		}
	})
	if n > 0 {
		m.metrics.setActive(m.store.Len())
	}
	return n
}

// Run sweeps every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.log.Info("link.sweeper.start", "interval", m.cfg.SweepInterval.String(), "timeout", m.cfg.SessionTimeout.String())
	for {
		select {
		case <-ctx.Done():
			m.log.Info("link.sweeper.stop")
			return nil
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
