package heartbeat

import (
	"sync"
	"testing"
	"time"
)

func TestMonitorFiresAfterTimeout(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	m := NewMonitor(30*time.Millisecond, func(channel string) {
		mu.Lock()
		fired = append(fired, channel)
		mu.Unlock()
	})

	m.Start("sess1")
	defer m.Stop("sess1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) == 0 || fired[0] != "sess1" {
		t.Fatalf("expected callback fired for sess1, got %v", fired)
	}
}

func TestMonitorResetDelaysFire(t *testing.T) {
	var mu sync.Mutex
	fireCount := 0
	m := NewMonitor(40*time.Millisecond, func(channel string) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	m.Start("sess1")
	defer m.Stop("sess1")

	// Keep resetting faster than the timeout elapses; the callback must
	// never fire.
	for i := 0; i < 5; i++ {
		time.Sleep(15 * time.Millisecond)
		m.Reset("sess1")
	}

	mu.Lock()
	defer mu.Unlock()
	if fireCount != 0 {
		t.Fatalf("expected no fire while resets keep outpacing the timeout, got %d", fireCount)
	}
}

func TestMonitorStopPreventsFurtherFires(t *testing.T) {
	var mu sync.Mutex
	fireCount := 0
	m := NewMonitor(20*time.Millisecond, func(channel string) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	m.Start("sess1")
	m.Stop("sess1")

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fireCount != 0 {
		t.Fatalf("expected zero fires after Stop, got %d", fireCount)
	}
	if m.IsRunning("sess1") {
		t.Fatal("expected IsRunning false after Stop")
	}
}

func TestMonitorResetNoopWithoutStart(t *testing.T) {
	m := NewMonitor(time.Second, func(string) {})
	m.Reset("never-started")
	if m.IsRunning("never-started") {
		t.Fatal("expected Reset on an unstarted channel to remain a no-op")
	}
}

func TestMonitorIsRunning(t *testing.T) {
	m := NewMonitor(time.Second, func(string) {})
	if m.IsRunning("sess1") {
		t.Fatal("expected not running before Start")
	}
	m.Start("sess1")
	if !m.IsRunning("sess1") {
		t.Fatal("expected running after Start")
	}
	m.Stop("sess1")
	if m.IsRunning("sess1") {
		t.Fatal("expected not running after Stop")
	}
}

func TestNewMonitorDefaultsTimeout(t *testing.T) {
	m := NewMonitor(0, func(string) {})
	if m.timeout != DefaultTimeout {
		t.Fatalf("expected default timeout %v, got %v", DefaultTimeout, m.timeout)
	}
}
