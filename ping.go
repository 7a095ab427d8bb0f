package tempest

import (
	"sync"
	"time"
)

// PingTracker holds one connection's keep-alive state (spec.md §4.10):
// the timestamp of the last Ping sent, the measured round-trip time, and
// the count of consecutive un-answered pings. A peer that misses
// outstanding_pings >= 2 is disconnected with TimedOut.
type PingTracker struct {
	mu               sync.Mutex
	lastSent         time.Time
	outstandingPings int32
	lastRTT          time.Duration
}

// NewPingTracker returns a fresh tracker with no outstanding pings.
func NewPingTracker() *PingTracker { return &PingTracker{} }

// RecordSent marks that a Ping was just sent, incrementing the outstanding
// count. Returns the new outstanding count.
func (t *PingTracker) RecordSent(now time.Time) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = now
	t.outstandingPings++
	return t.outstandingPings
}

// RecordPong records a Pong's arrival, computing RTT from the last sent
// timestamp and resetting the outstanding count to zero.
func (t *PingTracker) RecordPong(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastSent.IsZero() {
		t.lastRTT = now.Sub(t.lastSent)
	}
	t.outstandingPings = 0
	return t.lastRTT
}

// Outstanding returns the current consecutive-miss count.
func (t *PingTracker) Outstanding() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstandingPings
}

// LastRTT returns the most recently measured round-trip time.
func (t *PingTracker) LastRTT() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRTT
}

// pingLoop is the per-connection timer a Provider drives: it sends a Ping
// every interval and disconnects the connection once maxMissed consecutive
// Pongs are missing (spec.md §4.8). Each connection runs its own pingLoop.
// sendPing and disconnect are supplied by the caller so pingLoop stays
// transport-agnostic between tcpconn.go and udpconn.go.
func pingLoop(stop <-chan struct{}, interval time.Duration, maxMissed int, tracker *PingTracker, sendPing func() error, disconnect func(ConnectionResult, string)) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if maxMissed <= 0 {
		maxMissed = 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if tracker.Outstanding() >= int32(maxMissed) {
				disconnect(TimedOut, "missed consecutive pings")
				return
			}
			tracker.RecordSent(now)
			if err := sendPing(); err != nil {
				disconnect(ConnectionFailed, "ping send failed")
				return
			}
		}
	}
}
