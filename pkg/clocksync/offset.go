// ABOUTME: Offset estimation from one two-way exchange
// ABOUTME: Computes offset and round-trip time and tracks sync quality
package clocksync

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

// goodRTT is the round-trip time below which a sample is considered clean
const goodRTT = 50

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// exchange holds the four timestamps of one follower round.
// syncTimestamp and pingDelay are master time, the others raw follower time.
type exchange struct {
	syncTimestamp protocol.Timestamp
	syncArrival   protocol.Timestamp
	pingDeparture protocol.Timestamp
	pingDelay     protocol.Timestamp
}

// estimate returns the follower's offset and the round-trip time in milliseconds.
// Forward and backward legs are assumed equal, so the latency cancels out.
func (e exchange) estimate() (offset, rtt int64) {
	forward := int64(e.syncArrival.Sub(e.syncTimestamp))
	backward := int64(e.pingDeparture.Sub(e.pingDelay))

	offset = -(forward + backward) / 2
	rtt = forward - backward
	return
}

// plausible reports whether the four timestamps can belong to one exchange:
// the master heard the request no earlier than it sent the ping, and the
// round trip is not negative. Both may be zero on sub-millisecond links.
func (e exchange) plausible() bool {
	_, rtt := e.estimate()
	return e.pingDelay.Sub(e.syncTimestamp) >= 0 && rtt >= 0
}

// Stats is a snapshot of the node's last synchronization
type Stats struct {
	Offset   int64
	RTT      int64
	Quality  Quality
	Rounds   uint64
	Failed   uint64
	LastSync time.Time
}

// tracker accumulates Stats across rounds
type tracker struct {
	mu    sync.RWMutex
	stats Stats
}

func newTracker() *tracker {
	return &tracker{stats: Stats{Quality: QualityLost}}
}

// record stores a completed round. Masters pass rtt 0.
func (t *tracker) record(offset, rtt int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Offset = offset
	t.stats.RTT = rtt
	t.stats.Rounds++
	t.stats.LastSync = time.Now()

	if rtt < goodRTT {
		t.stats.Quality = QualityGood
	} else {
		t.stats.Quality = QualityDegraded
	}
}

// fail marks the last round as unfinished
func (t *tracker) fail() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Failed++
	t.stats.Quality = QualityLost
}

func (t *tracker) snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
