package session

import (
	"context"
	"time"
)

// CleanupExpired deactivates every active session past its access or its
// refresh expiry. It only touches sessions that are already dead, so it is
// safe to run alongside normal traffic.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeactivateExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info().Int("sessions", n).Msg("expired sessions cleaned up")
	}
	return n, nil
}

// Start runs CleanupExpired every CleanupInterval until Close.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)
		t := time.NewTicker(m.cfg.CleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := m.CleanupExpired(ctx); err != nil {
					m.log.Warn().Err(err).Msg("session cleanup failed")
				}
				cancel()
			}
		}
	}()
}

func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
	return nil
}
