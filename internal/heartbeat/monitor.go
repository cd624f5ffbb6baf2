// Package heartbeat implements per-channel watchdog timers that detect a
// stalled agent turn and fire a callback so the gateway can recover the
// session (e.g. mark the run failed and release its write lock).
package heartbeat

import (
	"sync"
	"time"
)

// DefaultTimeout is the watchdog's fire interval absent explicit
// configuration, per spec.md §4.11.
const DefaultTimeout = 30 * time.Minute

// Callback is invoked (in its own goroutine) when a watchdog expires
// without being reset in time.
type Callback func(channel string)

// Monitor tracks one watchdog timer per channel key. Each timer is
// reset-driven: Reset re-arms a fresh Timeout window, and on expiry the
// callback fires once and a new timer is immediately re-armed as long as
// the channel is still registered as running.
type Monitor struct {
	mu      sync.Mutex
	timeout time.Duration
	cb      Callback
	entries map[string]*watchdog
}

type watchdog struct {
	timer   *time.Timer
	running bool
}

// NewMonitor builds a Monitor with the given per-channel timeout (defaults
// to DefaultTimeout if zero) and expiry callback.
func NewMonitor(timeout time.Duration, cb Callback) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		timeout: timeout,
		cb:      cb,
		entries: make(map[string]*watchdog),
	}
}

// Start arms a fresh watchdog for channel, replacing any existing one.
func (m *Monitor) Start(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.entries[channel]; ok {
		w.timer.Stop()
	}
	w := &watchdog{running: true}
	w.timer = time.AfterFunc(m.timeout, func() { m.fire(channel) })
	m.entries[channel] = w
}

// Reset re-arms channel's timer for another full Timeout window. It is a
// no-op if the channel has no running watchdog.
func (m *Monitor) Reset(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.entries[channel]
	if !ok || !w.running {
		return
	}
	w.timer.Stop()
	w.timer = time.AfterFunc(m.timeout, func() { m.fire(channel) })
}

// Stop cancels channel's watchdog and drops it; any in-flight callback
// still fires but further re-arms are suppressed.
func (m *Monitor) Stop(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.entries[channel]
	if !ok {
		return
	}
	w.running = false
	w.timer.Stop()
	delete(m.entries, channel)
}

// IsRunning reports whether channel currently has an armed watchdog.
func (m *Monitor) IsRunning(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.entries[channel]
	return ok && w.running
}

func (m *Monitor) fire(channel string) {
	m.mu.Lock()
	w, ok := m.entries[channel]
	if !ok || !w.running {
		m.mu.Unlock()
		return
	}
	w.timer = time.AfterFunc(m.timeout, func() { m.fire(channel) })
	m.mu.Unlock()

	if m.cb != nil {
		m.cb(channel)
	}
}
