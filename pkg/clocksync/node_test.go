// ABOUTME: End-to-end tests for election and rounds over the simulated medium
// ABOUTME: Checks roles, offsets under skew and latency, the release barrier and timeouts
package clocksync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(tr transport.Transport, serial protocol.Serial, c clock.Clock) Config {
	return Config{
		Serial:           serial,
		Transport:        tr,
		Clock:            c,
		ElectionInterval: 10 * time.Millisecond,
		ElectionWindow:   100 * time.Millisecond,
		PingInterval:     40 * time.Millisecond,
		UnblockDelay:     60 * time.Millisecond,
		ElectionTimeout:  5 * time.Second,
		RoundTimeout:     5 * time.Second,
	}
}

type group struct {
	medium *transport.Medium
	nodes  []*Node
}

// newGroup builds one node per serial on a shared medium. skews are added to a
// common base clock, so relative offsets are known exactly.
func newGroup(t *testing.T, mc transport.MediumConfig, serials []protocol.Serial, skews []int64, tweak func(*Config)) *group {
	t.Helper()

	medium := transport.NewMedium(mc)
	t.Cleanup(func() { medium.Close() })

	base := clock.NewSystem()
	g := &group{medium: medium}
	for i, serial := range serials {
		var c clock.Clock = base
		if skews != nil && skews[i] != 0 {
			c = clock.Skewed(base, skews[i])
		}
		cfg := fastConfig(medium.Attach(0), serial, c)
		if tweak != nil {
			tweak(&cfg)
		}
		n, err := New(cfg)
		require.NoError(t, err)
		g.nodes = append(g.nodes, n)
	}
	return g
}

func (g *group) init(t *testing.T) []Role {
	t.Helper()

	roles := make([]Role, len(g.nodes))
	errs := make([]error, len(g.nodes))

	var wg sync.WaitGroup
	for i, n := range g.nodes {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			roles[i], errs[i] = n.Init(context.Background(), len(g.nodes))
		}(i, n)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	return roles
}

type released struct {
	result Result
	at     time.Time
	err    error
}

func (g *group) sync(t *testing.T) []released {
	t.Helper()

	out := make([]released, len(g.nodes))

	var wg sync.WaitGroup
	for i, n := range g.nodes {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			res, err := n.Sync(context.Background())
			out[i] = released{result: res, at: time.Now(), err: err}
		}(i, n)
	}
	wg.Wait()
	return out
}

func TestElectionPicksLowestSerial(t *testing.T) {
	g := newGroup(t, transport.MediumConfig{Seed: 1}, []protocol.Serial{500, 100, 300}, nil, nil)

	roles := g.init(t)

	assert.Equal(t, FollowerRole(100), roles[0])
	assert.Equal(t, MasterRole(100), roles[1])
	assert.Equal(t, FollowerRole(100), roles[2])

	for _, r := range roles {
		assert.Equal(t, protocol.Serial(100), r.Master())
	}

	assert.Equal(t, []protocol.Serial{300, 500}, g.nodes[1].Peers())
	assert.Equal(t, 0, g.nodes[1].Rank())
	assert.Equal(t, 1, g.nodes[2].Rank())
	assert.Equal(t, 2, g.nodes[0].Rank())
}

func TestRoundCorrectsSkew(t *testing.T) {
	g := newGroup(t,
		transport.MediumConfig{Latency: 20 * time.Millisecond, Seed: 1},
		[]protocol.Serial{500, 100, 300},
		[]int64{50, 0, 0},
		nil)
	g.init(t)

	out := g.sync(t)
	for _, r := range out {
		require.NoError(t, r.err)
		assert.False(t, r.result.Skipped)
	}

	assert.InDelta(t, -50, g.nodes[0].Offset(), 10, "skewed follower")
	assert.Equal(t, int64(0), g.nodes[1].Offset(), "master never adjusts")
	assert.InDelta(t, 0, g.nodes[2].Offset(), 10, "aligned follower")

	assert.InDelta(t, 40, out[0].result.RTT, 10)

	// Every node releases at the same moment in master time
	deadline := out[1].result.Deadline
	for i, r := range out {
		assert.Equal(t, deadline, r.result.Deadline, "node %d", i)
		assert.Equal(t, uint64(1), r.result.Round)
	}
	for i := range out {
		assert.WithinDuration(t, out[1].at, out[i].at, 25*time.Millisecond, "node %d released late", i)
	}

	// Adjusted clocks agree after the round
	master := g.nodes[1].SystemTime()
	for i, n := range g.nodes {
		assert.InDelta(t, 0, int64(n.SystemTime().Sub(master)), 10, "node %d", i)
	}

	stats := g.nodes[0].Stats()
	assert.Equal(t, uint64(1), stats.Rounds)
	assert.Equal(t, QualityGood, stats.Quality)
}

func TestRoundOnLinkSlowerThanPingInterval(t *testing.T) {
	// 40ms round trip against a 30ms ping interval: the master pings every
	// follower twice before the first DELAY_REQ reaches it
	g := newGroup(t,
		transport.MediumConfig{Latency: 20 * time.Millisecond, Seed: 1},
		[]protocol.Serial{500, 100, 300},
		[]int64{50, 0, 0},
		func(c *Config) { c.PingInterval = 30 * time.Millisecond })
	g.init(t)

	out := g.sync(t)
	for i, r := range out {
		require.NoError(t, r.err)
		assert.False(t, r.result.Skipped, "node %d", i)
	}

	assert.InDelta(t, -50, out[0].result.Offset, 10, "skewed follower")
	assert.InDelta(t, 0, out[2].result.Offset, 10, "aligned follower")
	for _, i := range []int{0, 2} {
		assert.InDelta(t, 40, out[i].result.RTT, 10, "node %d", i)
	}
	for i := range out {
		assert.WithinDuration(t, out[1].at, out[i].at, 25*time.Millisecond, "node %d released late", i)
	}
}

func TestRoundsSurviveLoss(t *testing.T) {
	g := newGroup(t,
		transport.MediumConfig{Loss: 0.2, Latency: 5 * time.Millisecond, Seed: 7},
		[]protocol.Serial{42, 17, 99},
		[]int64{-120, 0, 300},
		func(c *Config) { c.UnblockRepeats = 5 })
	g.init(t)

	for round := 1; round <= 3; round++ {
		out := g.sync(t)
		for i, r := range out {
			require.NoError(t, r.err, "round %d node %d", round, i)
			assert.Equal(t, uint64(round), r.result.Round)
		}
	}

	assert.InDelta(t, 120, g.nodes[0].Offset(), 10)
	assert.InDelta(t, -300, g.nodes[2].Offset(), 10)
	assert.Positive(t, g.medium.Stats().Lost)
}

func TestElectionTimesOut(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{Seed: 1})
	defer medium.Close()

	cfg := fastConfig(medium.Attach(0), 1, nil)
	cfg.ElectionTimeout = 150 * time.Millisecond
	n, err := New(cfg)
	require.NoError(t, err)

	_, err = n.Init(context.Background(), 3)
	assert.ErrorIs(t, err, ErrTimedOut)

	_, ok := n.Role()
	assert.False(t, ok)
}

func TestRoundTimesOutWithoutMaster(t *testing.T) {
	g := newGroup(t, transport.MediumConfig{Seed: 1}, []protocol.Serial{2, 1}, nil,
		func(c *Config) { c.RoundTimeout = 150 * time.Millisecond })
	g.init(t)

	// Only the follower runs a round
	_, err := g.nodes[0].Sync(context.Background())
	assert.ErrorIs(t, err, ErrTimedOut)

	stats := g.nodes[0].Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, QualityLost, stats.Quality)
}

func TestCallerCancellation(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{Seed: 1})
	defer medium.Close()

	n, err := New(fastConfig(medium.Attach(0), 1, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = n.Init(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimedOut)
}

func TestLifecycleErrors(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	g := newGroup(t, transport.MediumConfig{Seed: 1}, []protocol.Serial{2, 1}, nil, nil)
	n := g.nodes[0]

	_, err = n.Sync(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = n.Init(context.Background(), 1)
	assert.ErrorIs(t, err, ErrGroupTooSmall)

	g.init(t)

	_, err = n.Init(context.Background(), 2)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	n.busy.Store(true)
	_, err = n.Sync(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	n.busy.Store(false)
}

func TestDefaultSystemTime(t *testing.T) {
	SetDefault(nil)
	before := SystemTime()
	time.Sleep(5 * time.Millisecond)
	assert.Positive(t, SystemTime().Sub(before))

	medium := transport.NewMedium(transport.MediumConfig{Seed: 1})
	defer medium.Close()

	n, err := New(fastConfig(medium.Attach(0), 1, clock.Skewed(clock.NewSystem(), 10_000)))
	require.NoError(t, err)
	n.Clock().SetOffset(-10_000)

	SetDefault(n)
	defer SetDefault(nil)

	assert.Same(t, n, Default())
	assert.InDelta(t, 0, int64(SystemTime()), 50)
}

func TestDefaultsFilled(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{Seed: 1})
	defer medium.Close()

	n, err := New(Config{Transport: medium.Attach(0)})
	require.NoError(t, err)

	assert.NotZero(t, n.Serial())
	assert.Equal(t, DefaultPingInterval, n.config.PingInterval)
	assert.Equal(t, DefaultUnblockRepeats, n.config.UnblockRepeats)
	assert.Equal(t, "idle", n.Phase())
}
