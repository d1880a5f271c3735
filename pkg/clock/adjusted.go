// ABOUTME: Adjusted clock carrying the synchronization offset
// ABOUTME: SystemTime = raw clock + offset, safe for concurrent readers
package clock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

// Adjusted is a raw clock corrected by a signed offset in milliseconds.
// The offset is written by a single synchronizer and read from anywhere.
type Adjusted struct {
	raw    Clock
	offset atomic.Int64
}

// NewAdjusted wraps raw with a zero offset
func NewAdjusted(raw Clock) *Adjusted {
	return &Adjusted{raw: raw}
}

// Raw returns the underlying clock
func (a *Adjusted) Raw() Clock {
	return a.raw
}

// Now returns raw.Now() + offset
func (a *Adjusted) Now() protocol.Timestamp {
	return a.raw.Now().Add(a.offset.Load())
}

// Offset returns the current correction in milliseconds
func (a *Adjusted) Offset() int64 {
	return a.offset.Load()
}

// SetOffset replaces the correction
func (a *Adjusted) SetOffset(ms int64) {
	a.offset.Store(ms)
}

// Until returns how long until deadline is reached in adjusted time.
// Negative when the deadline already passed.
func (a *Adjusted) Until(deadline protocol.Timestamp) time.Duration {
	return Millis(int64(deadline.Sub(a.Now())))
}

// Sleep delegates to the raw clock
func (a *Adjusted) Sleep(ctx context.Context, d time.Duration) error {
	return a.raw.Sleep(ctx, d)
}

// SleepUntil blocks until the adjusted clock reaches deadline
func (a *Adjusted) SleepUntil(ctx context.Context, deadline protocol.Timestamp) error {
	for {
		remaining := a.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		if err := a.raw.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
