package pool

import "time"

// SetClock overrides the manager clock.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
