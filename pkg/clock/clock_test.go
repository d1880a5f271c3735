// ABOUTME: Tests for raw and adjusted clocks
// ABOUTME: Covers skew, offset application, sleeping and cancellation
package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock is a manual clock; Sleep advances it instead of waiting
type stepClock struct {
	mu  sync.Mutex
	now protocol.Timestamp
}

func (c *stepClock) Now() protocol.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d.Milliseconds())
	c.mu.Unlock()
	return ctx.Err()
}

func TestSystemStartsNearZero(t *testing.T) {
	c := NewSystem()
	if now := c.Now(); now > 50 {
		t.Errorf("expected fresh clock near 0ms, got %d", now)
	}
}

func TestSystemAtEpoch(t *testing.T) {
	c := NewSystemAt(time.Now().Add(-2 * time.Second))
	now := c.Now()
	if now < 2000 || now > 2100 {
		t.Errorf("expected ~2000ms, got %d", now)
	}
}

func TestSkewed(t *testing.T) {
	base := &stepClock{now: 1000}

	assert.Equal(t, protocol.Timestamp(1050), Skewed(base, 50).Now())
	assert.Equal(t, protocol.Timestamp(950), Skewed(base, -50).Now())
}

func TestAdjustedOffset(t *testing.T) {
	base := &stepClock{now: 1000}
	adj := NewAdjusted(base)

	assert.Equal(t, protocol.Timestamp(1000), adj.Now())

	adj.SetOffset(-50)
	assert.Equal(t, int64(-50), adj.Offset())
	assert.Equal(t, protocol.Timestamp(950), adj.Now())
	assert.Equal(t, 100*time.Millisecond, adj.Until(1050))
	assert.Equal(t, -50*time.Millisecond, adj.Until(900))
}

func TestAdjustedSleepUntil(t *testing.T) {
	base := &stepClock{now: 1000}
	adj := NewAdjusted(base)
	adj.SetOffset(25)

	require.NoError(t, adj.SleepUntil(context.Background(), 2000))
	assert.Equal(t, protocol.Timestamp(2000), adj.Now())
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := NewSystem().Sleep(ctx, time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSleepWaits(t *testing.T) {
	start := time.Now()
	require.NoError(t, NewSystem().Sleep(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAfter(t *testing.T) {
	base := &stepClock{now: 100}

	require.NoError(t, <-After(context.Background(), base, 40*time.Millisecond))
	assert.Equal(t, protocol.Timestamp(140), base.Now(), "sleep goes through the clock")

	ctx, cancel := context.WithCancel(context.Background())
	done := After(ctx, NewSystem(), time.Hour)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("After did not return on cancel")
	}
}
