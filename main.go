// ABOUTME: Entry point for a lockstep node
// ABOUTME: Parses CLI flags, elects a master, runs sync rounds and plays a score part
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/ui"
	"github.com/Resonate-Protocol/lockstep-go/internal/version"
	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/score"
	"github.com/hashicorp/go-hclog"
)

var (
	groupSize       = flag.Int("group-size", 3, "Number of nodes in the group")
	group           = flag.Uint("group", 0, "Radio group (0-255); nodes only hear their own group")
	transportName   = flag.String("transport", "multicast", "Transport: memory, multicast or relay")
	relayAddr       = flag.String("relay", "", "Relay address host:port (default: discover via mDNS)")
	port            = flag.Int("port", 7977, "Multicast port")
	iface           = flag.String("iface", "", "Network interface for multicast")
	serialFlag      = flag.String("serial", "", "Node serial, decimal or 0x hex (default: random)")
	rounds          = flag.Int("rounds", 1, "Sync rounds to run, 0 for continuous")
	interval        = flag.Duration("interval", 5*time.Second, "Pause between continuous rounds")
	roundTimeout    = flag.Duration("round-timeout", 0, "Give up on a round after this long (0 waits forever)")
	electionTimeout = flag.Duration("election-timeout", 0, "Give up on the election after this long (0 waits forever)")
	unblockRepeats  = flag.Int("unblock-repeats", clocksync.DefaultUnblockRepeats, "How many times the master broadcasts the release deadline")
	scoreFile       = flag.String("score", "", "YAML score to play after the first round")
	partFlag        = flag.Int("part", -1, "Score part to play (default: this node's rank)")
	tone            = flag.Bool("tone", false, "Play the part on the audio device instead of logging it")
	logFile         = flag.String("log-file", "lockstep.log", "Log file path")
	noTUI           = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	debug           = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var output io.Writer = f
	if !useTUI {
		output = io.MultiWriter(os.Stdout, f)
	}
	logger := newLogger("lockstep", output, *debug)

	if *group > 255 {
		logger.Error("group must be between 0 and 255", "group", *group)
		os.Exit(2)
	}

	serial := clocksync.RandomSerial()
	if *serialFlag != "" {
		if serial, err = clocksync.ParseSerial(*serialFlag); err != nil {
			logger.Error("bad serial", "error", err)
			os.Exit(2)
		}
	}

	var sc *score.Score
	if *scoreFile != "" {
		if sc, err = score.Load(*scoreFile); err != nil {
			logger.Error("failed to load score", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("starting node", "product", version.Product, "version", version.Version,
		"serial", serial, "group", *group, "transport", *transportName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, closeTransport, err := openTransport(ctx, transportOptions{
		Name:      *transportName,
		Group:     uint8(*group),
		RelayAddr: *relayAddr,
		Port:      *port,
		Interface: *iface,
		GroupSize: *groupSize,
		Serial:    serial,
		Rounds:    *rounds,
		Interval:  *interval,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to open transport", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	config := nodeConfig(serial, logger)
	config.Transport = tr

	node, err := clocksync.New(config)
	if err != nil {
		logger.Error("failed to create node", "error", err)
		os.Exit(1)
	}
	clocksync.SetDefault(node)

	var tui *ui.TUI
	updateTUI := func(ui.StatusMsg) {}
	if useTUI {
		tui = ui.NewTUI()
		updateTUI = tui.Update
		go func() {
			if err := tui.Start(); err != nil {
				logger.Error("tui failed", "error", err)
			}
			cancel()
		}()
	}

	g := uint8(*group)
	updateTUI(ui.StatusMsg{Serial: uint32(serial), Group: &g, Transport: *transportName, GroupSize: *groupSize})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()
	}()

	r := &runner{
		node:     node,
		score:    sc,
		part:     *partFlag,
		tone:     *tone,
		rounds:   *rounds,
		interval: *interval,
		logger:   logger,
		update:   updateTUI,
	}

	go statsUpdateLoop(ctx, r)

	if err := r.run(ctx, *groupSize); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("node stopped", "error", err)
		if tui != nil {
			tui.Stop()
		}
		os.Exit(1)
	}

	logger.Info("node stopped")
	if tui != nil && ctx.Err() == nil {
		// Keep the final status on screen until the user quits
		<-tui.QuitChan()
	}
}

// newLogger builds the process logger; -debug lowers the level
func newLogger(name string, output io.Writer, debug bool) hclog.Logger {
	level := hclog.Info
	if debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     output,
		TimeFormat: "15:04:05.000",
	})
}

// nodeConfig applies the timing flags to the protocol defaults
func nodeConfig(serial protocol.Serial, logger hclog.Logger) clocksync.Config {
	config := clocksync.DefaultConfig()
	config.Serial = serial
	config.RoundTimeout = *roundTimeout
	config.ElectionTimeout = *electionTimeout
	config.UnblockRepeats = *unblockRepeats
	config.Logger = logger
	return config
}

// runner drives one node through election, rounds and playback
type runner struct {
	node     *clocksync.Node
	score    *score.Score
	part     int
	tone     bool
	rounds   int
	interval time.Duration
	logger   hclog.Logger
	update   func(ui.StatusMsg)

	seq atomic.Pointer[score.Sequencer]
}

func (r *runner) run(ctx context.Context, groupSize int) error {
	role, err := r.node.Init(ctx, groupSize)
	if err != nil {
		r.update(ui.StatusMsg{Err: err})
		return fmt.Errorf("election failed: %w", err)
	}

	rank := r.node.Rank()
	r.update(ui.StatusMsg{Role: roleName(role), Master: uint32(role.Master()), Rank: &rank})

	var (
		playing chan error
		lastErr error
	)
	for i := 1; r.rounds == 0 || i <= r.rounds; i++ {
		result, err := r.node.Sync(ctx)
		if err != nil {
			r.update(ui.StatusMsg{Err: err})
			if errors.Is(err, clocksync.ErrTimedOut) {
				r.logger.Warn("round timed out, retrying", "error", err)
				lastErr = err
				continue
			}
			return err
		}
		lastErr = nil

		r.logger.Info("round complete", "round", result.Round, "offset", result.Offset,
			"rtt", result.RTT, "skipped", result.Skipped, "system_time", clocksync.SystemTime())
		r.update(ui.StatusMsg{Deadline: uint32(result.Deadline)})

		// Every node leaves a round at the same instant, so parts start together
		if playing == nil && r.score != nil {
			playing = make(chan error, 1)
			go func(done chan<- error) { done <- r.play(ctx) }(playing)
		}

		if r.rounds == 0 || i < r.rounds {
			if err := sleepContext(ctx, r.interval); err != nil {
				return err
			}
		}
	}

	if playing == nil {
		return lastErr
	}
	select {
	case err := <-playing:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *runner) play(ctx context.Context) error {
	part := r.part
	if part < 0 {
		part = r.node.Rank()
	}
	events := r.score.Part(part)

	var out score.Output = score.NewLogOutput(r.logger)
	if r.tone {
		toneOut, err := score.NewToneOutput(0, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open audio: %w", err)
		}
		defer toneOut.Close()
		out = toneOut
	}

	seq := score.NewSequencer(score.SequencerConfig{
		Clock:  r.node.Clock(),
		Output: out,
		Logger: r.logger,
	})
	r.seq.Store(seq)
	r.update(ui.StatusMsg{ScoreTitle: r.score.Title, Part: &part, Total: len(events)})

	r.logger.Info("playing part", "title", r.score.Title, "part", part, "events", len(events),
		"duration", score.Duration(events))
	return seq.Play(ctx, events)
}

func roleName(role clocksync.Role) string {
	if role.IsMaster() {
		return "master"
	}
	return "follower"
}

// statsUpdateLoop periodically updates the TUI with sync statistics
func statsUpdateLoop(ctx context.Context, r *runner) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.node.Stats()
			msg := ui.StatusMsg{
				Phase:   r.node.Phase(),
				Round:   stats.Rounds,
				Failed:  stats.Failed,
				Offset:  &stats.Offset,
				RTT:     stats.RTT,
				Quality: &stats.Quality,
				Now:     uint32(r.node.SystemTime()),
			}
			if seq := r.seq.Load(); seq != nil {
				msg.Current, msg.Total = seq.Progress()
			}
			r.update(msg)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
