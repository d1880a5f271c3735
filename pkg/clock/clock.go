// ABOUTME: Raw clock implementations
// ABOUTME: System clock counting milliseconds since start, and a skewed wrapper for simulation
package clock

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

// Clock is a monotonic millisecond clock with a cooperative sleep
type Clock interface {
	// Now returns the current reading in milliseconds. It wraps at 2^32.
	Now() protocol.Timestamp

	// Sleep blocks for d or until ctx is done, whichever comes first
	Sleep(ctx context.Context, d time.Duration) error
}

// System counts milliseconds since it was created, like a device uptime counter
type System struct {
	start time.Time
}

// NewSystem creates a clock that reads 0 now
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NewSystemAt creates a clock whose zero is at start
func NewSystemAt(start time.Time) *System {
	return &System{start: start}
}

// Now returns milliseconds elapsed since start
func (s *System) Now() protocol.Timestamp {
	return protocol.Timestamp(uint32(time.Since(s.start).Milliseconds()))
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation
func (s *System) Sleep(ctx context.Context, d time.Duration) error {
	return sleepContext(ctx, d)
}

// Skew wraps a clock and shifts its readings by a fixed number of milliseconds
type Skew struct {
	base Clock
	skew int64
}

// Skewed returns a clock that reads base.Now() + skewMs
func Skewed(base Clock, skewMs int64) *Skew {
	return &Skew{base: base, skew: skewMs}
}

// Now returns the skewed reading
func (s *Skew) Now() protocol.Timestamp {
	return s.base.Now().Add(s.skew)
}

// Sleep delegates to the base clock
func (s *Skew) Sleep(ctx context.Context, d time.Duration) error {
	return s.base.Sleep(ctx, d)
}

// After runs c.Sleep(ctx, d) in the background and delivers its result on the
// returned channel. Cancel ctx to release the sleeper early.
func After(ctx context.Context, c Clock, d time.Duration) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Sleep(ctx, d)
	}()
	return done
}

// Millis converts a signed millisecond count into a duration
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
