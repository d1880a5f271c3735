// ABOUTME: Transport selection for the node binary
// ABOUTME: Opens multicast, a relay connection, or an in-process medium with simulated peers
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/discovery"
	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/hashicorp/go-hclog"
)

const discoveryTimeout = 10 * time.Second

type transportOptions struct {
	Name      string
	Group     uint8
	RelayAddr string
	Port      int
	Interface string

	// Used by the memory transport to run the rest of the group in-process
	GroupSize int
	Serial    protocol.Serial
	Rounds    int
	Interval  time.Duration

	Logger hclog.Logger
}

// openTransport returns the transport and a function that releases it
func openTransport(ctx context.Context, opts transportOptions) (transport.Transport, func(), error) {
	switch opts.Name {
	case "multicast":
		m, err := transport.DialMulticast(transport.MulticastConfig{
			Group:     opts.Group,
			Port:      opts.Port,
			Interface: opts.Interface,
			Logger:    opts.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close() }, nil

	case "relay":
		addr := opts.RelayAddr
		if addr == "" {
			opts.Logger.Info("searching for a relay via mDNS")
			findCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
			relay, err := discovery.FindRelay(findCtx, opts.Logger)
			cancel()
			if err != nil {
				return nil, nil, err
			}
			addr = relay.Addr()
			opts.Logger.Info("discovered relay", "name", relay.Name, "addr", addr)
		}

		dialCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		defer cancel()
		c, err := transport.DialRelay(dialCtx, transport.RelayClientConfig{
			Addr:   addr,
			Group:  opts.Group,
			Logger: opts.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil

	case "memory":
		return openMemory(ctx, opts)

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", opts.Name)
	}
}

// openMemory attaches this node to an in-process medium and starts
// groupSize-1 headless peers on it
func openMemory(ctx context.Context, opts transportOptions) (transport.Transport, func(), error) {
	medium := transport.NewMedium(transport.MediumConfig{
		Latency: 5 * time.Millisecond,
		Jitter:  time.Millisecond,
		Seed:    uint64(opts.Serial),
		Logger:  opts.Logger,
	})
	self := medium.Attach(opts.Group)

	peerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	for i := 1; i < opts.GroupSize; i++ {
		config := clocksync.DefaultConfig()
		config.Transport = medium.Attach(opts.Group)
		config.Logger = opts.Logger.Named(fmt.Sprintf("peer-%d", i))

		peer, err := clocksync.New(config)
		if err != nil {
			cancel()
			medium.Close()
			return nil, nil, err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runPeer(peerCtx, peer, opts)
		}()
	}

	closeFn := func() {
		cancel()
		wg.Wait()
		medium.Close()
	}
	return self, closeFn, nil
}

// runPeer mirrors the main node's schedule so rounds line up
func runPeer(ctx context.Context, node *clocksync.Node, opts transportOptions) {
	if _, err := node.Init(ctx, opts.GroupSize); err != nil {
		return
	}
	for i := 1; opts.Rounds == 0 || i <= opts.Rounds; i++ {
		if _, err := node.Sync(ctx); err != nil && ctx.Err() != nil {
			return
		}
		if err := sleepContext(ctx, opts.Interval); err != nil {
			return
		}
	}
}
