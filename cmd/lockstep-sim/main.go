// ABOUTME: In-process simulation of a lockstep group
// ABOUTME: Runs N skewed nodes over a lossy medium and reports offset error per round
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/rand"
)

var (
	nodes          = flag.Int("nodes", 3, "Number of simulated nodes")
	loss           = flag.Float64("loss", 0.1, "Probability that a frame is lost")
	latency        = flag.Duration("latency", 20*time.Millisecond, "One-way radio latency")
	jitter         = flag.Duration("jitter", 0, "Maximum extra random latency per frame")
	skew           = flag.Int64("skew", 200, "Maximum clock skew in ms, drawn per node from [-skew, skew]")
	rounds         = flag.Int("rounds", 3, "Sync rounds to run")
	seed           = flag.Uint64("seed", 1, "Seed for serials, skews and the medium")
	unblockRepeats = flag.Int("unblock-repeats", 3, "How many times the master broadcasts the release deadline")
	roundTimeout   = flag.Duration("round-timeout", 30*time.Second, "Give up on a round after this long")
	debug          = flag.Bool("debug", false, "Show node logs")
)

type simNode struct {
	node *clocksync.Node
	skew int64
}

func main() {
	flag.Parse()

	level := hclog.Warn
	if *debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "sim",
		Level:      level,
		Output:     os.Stderr,
		TimeFormat: "15:04:05.000",
	})

	if *nodes < 2 {
		fmt.Fprintln(os.Stderr, "need at least two nodes")
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(*seed))
	medium := transport.NewMedium(transport.MediumConfig{
		Loss:    *loss,
		Latency: *latency,
		Jitter:  *jitter,
		Seed:    *seed,
		Logger:  logger,
	})
	defer medium.Close()

	fmt.Println("=== Lockstep Simulation ===")
	fmt.Printf("nodes=%d loss=%.2f latency=%s jitter=%s skew=±%dms seed=%d\n\n",
		*nodes, *loss, *latency, *jitter, *skew, *seed)

	base := clock.NewSystem()
	group := make([]simNode, *nodes)
	for i := range group {
		s := int64(0)
		if *skew > 0 {
			s = rng.Int63n(2*(*skew)+1) - *skew
		}

		config := clocksync.DefaultConfig()
		config.Serial = protocol.Serial(rng.Uint32()>>1 + 1)
		config.Transport = medium.Attach(0)
		config.Clock = clock.Skewed(base, s)
		config.UnblockRepeats = *unblockRepeats
		config.RoundTimeout = *roundTimeout
		config.ElectionTimeout = *roundTimeout
		config.Logger = logger

		n, err := clocksync.New(config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create node: %v\n", err)
			os.Exit(1)
		}
		group[i] = simNode{node: n, skew: s}
	}

	ctx := context.Background()

	start := time.Now()
	errs := runAll(group, func(n *clocksync.Node) error {
		_, err := n.Init(ctx, len(group))
		return err
	})
	if report(errs) {
		os.Exit(1)
	}
	fmt.Printf("Election finished in %s\n", time.Since(start).Round(time.Millisecond))

	masterSkew := int64(0)
	for _, s := range group {
		if role, _ := s.node.Role(); role.IsMaster() {
			masterSkew = s.skew
		}
	}

	sort.Slice(group, func(i, j int) bool { return group[i].node.Serial() < group[j].node.Serial() })

	for round := 1; round <= *rounds; round++ {
		released := make([]time.Time, len(group))
		results := make([]clocksync.Result, len(group))

		var mu sync.Mutex
		errs := runAll(group, func(n *clocksync.Node) error {
			res, err := n.Sync(ctx)
			mu.Lock()
			defer mu.Unlock()
			for i := range group {
				if group[i].node == n {
					released[i] = time.Now()
					results[i] = res
				}
			}
			return err
		})
		if report(errs) {
			os.Exit(1)
		}

		fmt.Printf("\nRound %d\n", round)
		fmt.Printf("  %-12s %-9s %8s %8s %8s %6s\n", "serial", "role", "skew", "offset", "error", "rtt")
		for i, s := range group {
			role, _ := s.node.Role()
			name := "follower"
			if role.IsMaster() {
				name = "master"
			}
			// A perfect offset cancels this node's skew relative to the master
			errMs := s.skew - masterSkew + results[i].Offset
			fmt.Printf("  %-12d %-9s %+8d %+8d %+8d %6d\n",
				s.node.Serial(), name, s.skew-masterSkew, results[i].Offset, errMs, results[i].RTT)
		}
		fmt.Printf("  release spread: %s\n", spread(released).Round(100*time.Microsecond))
	}

	stats := medium.Stats()
	fmt.Printf("\nMedium: sent=%d delivered=%d lost=%d overflow=%d\n",
		stats.Sent, stats.Delivered, stats.Lost, stats.Overflow)
}

// runAll calls fn on every node concurrently
func runAll(group []simNode, fn func(*clocksync.Node) error) []error {
	errs := make([]error, len(group))

	var wg sync.WaitGroup
	for i := range group {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(group[i].node)
		}(i)
	}
	wg.Wait()
	return errs
}

func report(errs []error) bool {
	failed := false
	for _, err := range errs {
		if err != nil {
			fmt.Fprintf(os.Stderr, "node failed: %v\n", err)
			failed = true
		}
	}
	return failed
}

func spread(times []time.Time) time.Duration {
	if len(times) == 0 {
		return 0
	}
	lo, hi := times[0], times[0]
	for _, t := range times[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return hi.Sub(lo)
}
