// ABOUTME: Tests for the node runner
// ABOUTME: Checks it returns when rounds fail or the caller cancels during playback
package main

import (
	"context"
	"testing"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/ui"
	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/score"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(t *testing.T, medium *transport.Medium, serial protocol.Serial) *clocksync.Node {
	t.Helper()

	n, err := clocksync.New(clocksync.Config{
		Serial:           serial,
		Transport:        medium.Attach(0),
		ElectionInterval: 10 * time.Millisecond,
		ElectionWindow:   50 * time.Millisecond,
		PingInterval:     20 * time.Millisecond,
		UnblockDelay:     40 * time.Millisecond,
		ElectionTimeout:  2 * time.Second,
		RoundTimeout:     300 * time.Millisecond,
	})
	require.NoError(t, err)
	return n
}

func testRunner(n *clocksync.Node, s *score.Score) *runner {
	return &runner{
		node:   n,
		score:  s,
		rounds: 1,
		logger: hclog.NewNullLogger(),
		update: func(ui.StatusMsg) {},
	}
}

// runAsync starts r.run and returns its result channel
func runAsync(ctx context.Context, r *runner) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.run(ctx, 2) }()
	return done
}

func TestRunnerReturnsWhenNoRoundCompletes(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{Seed: 1})
	defer medium.Close()

	// The master takes part in the election and then never syncs
	master := testNode(t, medium, 1)
	elected := make(chan error, 1)
	go func() {
		_, err := master.Init(context.Background(), 2)
		elected <- err
	}()

	r := testRunner(testNode(t, medium, 2), &score.Score{Parts: [][]score.Event{{{PeriodUs: 2272, DurationMs: 100, Velocity: 500}}}})

	select {
	case err := <-runAsync(context.Background(), r):
		assert.ErrorIs(t, err, clocksync.ErrTimedOut)
	case <-time.After(3 * time.Second):
		t.Fatal("runner blocked after its only round timed out")
	}
	require.NoError(t, <-elected)
	assert.Nil(t, r.seq.Load(), "nothing should play without a completed round")
}

func TestRunnerStopsOnCancelDuringPlayback(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{Seed: 1})
	defer medium.Close()

	master := testNode(t, medium, 1)
	served := make(chan error, 1)
	go func() {
		if _, err := master.Init(context.Background(), 2); err != nil {
			served <- err
			return
		}
		_, err := master.Sync(context.Background())
		served <- err
	}()

	long := &score.Score{Parts: [][]score.Event{{{PeriodUs: 2272, DurationMs: 60_000, Velocity: 500}}}}
	r := testRunner(testNode(t, medium, 2), long)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, r)

	require.Eventually(t, func() bool { return r.seq.Load() != nil }, 3*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner ignored cancellation during playback")
	}
	require.NoError(t, <-served)
}
