// ABOUTME: Synchronizing node
// ABOUTME: Owns the adjusted clock, the election result and the receive dispatcher
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/hashicorp/go-hclog"
)

// Result describes one completed round
type Result struct {
	Round    uint64
	Role     Role
	Offset   int64
	RTT      int64
	Deadline protocol.Timestamp

	// Skipped is set when a follower missed its exchange and kept its previous offset
	Skipped bool
}

// Node is one member of a synchronized group
type Node struct {
	config    Config
	serial    protocol.Serial
	transport transport.Transport
	raw       clock.Clock
	clock     *clock.Adjusted
	logger    hclog.Logger
	stats     *tracker

	// phase, election and round are read by the receive handler
	phase    atomic.Int32
	election atomic.Pointer[election]
	round    atomic.Pointer[round]

	busy   atomic.Bool
	rounds atomic.Uint64

	mu          sync.RWMutex
	initialized bool
	role        Role
	peers       []protocol.Serial
	groupSize   int
}

// New creates a node. Call Init before Sync.
func New(config Config) (*Node, error) {
	if config.Transport == nil {
		return nil, errors.New("transport is required")
	}
	config = config.withDefaults()

	n := &Node{
		config:    config,
		serial:    config.Serial,
		transport: config.Transport,
		raw:       config.Clock,
		clock:     clock.NewAdjusted(config.Clock),
		logger:    config.Logger.Named("clocksync").With("serial", config.Serial),
		stats:     newTracker(),
	}
	return n, nil
}

// Serial returns this node's identity
func (n *Node) Serial() protocol.Serial {
	return n.serial
}

// Role returns the elected role and whether Init has completed
func (n *Node) Role() (Role, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role, n.initialized
}

// Peers returns the other serials found during election, ascending
func (n *Node) Peers() []protocol.Serial {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]protocol.Serial(nil), n.peers...)
}

// Rank returns this node's position in the group ordered by serial.
// The master is rank 0.
func (n *Node) Rank() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	rank := 0
	for _, s := range n.peers {
		if s < n.serial {
			rank++
		}
	}
	return rank
}

// SystemTime returns the raw clock plus the current offset.
// Before the first round completes it equals the raw clock.
func (n *Node) SystemTime() protocol.Timestamp {
	return n.clock.Now()
}

// Offset returns the current correction in milliseconds
func (n *Node) Offset() int64 {
	return n.clock.Offset()
}

// Clock exposes the adjusted clock for schedulers that sleep on master time
func (n *Node) Clock() *clock.Adjusted {
	return n.clock
}

// Stats returns a snapshot of sync statistics
func (n *Node) Stats() Stats {
	return n.stats.snapshot()
}

// Phase names what the node is currently waiting for
func (n *Node) Phase() string {
	return phase(n.phase.Load()).String()
}

// Init runs the election and fixes this node's role
func (n *Node) Init(ctx context.Context, groupSize int) (Role, error) {
	if groupSize < 2 {
		return Role{}, ErrGroupTooSmall
	}
	if _, ok := n.Role(); ok {
		return Role{}, ErrAlreadyInitialized
	}
	if !n.busy.CompareAndSwap(false, true) {
		return Role{}, ErrBusy
	}
	defer n.busy.Store(false)

	ctx, cancel := withTimeout(ctx, n.config.ElectionTimeout)
	defer cancel()

	e := newElection(n.serial)
	n.election.Store(e)
	n.setPhase(phaseElection)
	unsubscribe := n.transport.Subscribe(n.handle)
	defer func() {
		unsubscribe()
		n.setPhase(phaseIdle)
		n.election.Store(nil)
	}()

	n.logger.Info("starting election", "group_size", groupSize)

	start := n.raw.Now()
	window := n.config.ElectionWindow.Milliseconds()
	for {
		n.send(protocol.MasterSelection, n.serial, protocol.EmptyField)
		if err := n.raw.Sleep(ctx, n.config.ElectionInterval); err != nil {
			return Role{}, waitErr("election", err)
		}
		if e.count() >= groupSize-1 && int64(n.raw.Now().Sub(start)) >= window {
			break
		}
	}

	// One more announcement for peers that joined late in the window
	n.send(protocol.MasterSelection, n.serial, protocol.EmptyField)

	peers := e.peers()
	if len(peers) > groupSize-1 {
		n.logger.Warn("heard more nodes than expected", "expected", groupSize-1, "heard", len(peers))
	}

	var role Role
	if lowest := e.lowest(); lowest == n.serial {
		role = MasterRole(n.serial)
	} else {
		role = FollowerRole(lowest)
	}

	n.mu.Lock()
	n.role = role
	n.peers = peers
	n.groupSize = groupSize
	n.initialized = true
	n.mu.Unlock()

	n.logger.Info("election complete", "role", role.String(), "master", role.Master(), "peers", len(peers))
	return role, nil
}

// Sync runs one round. It returns once the group-wide deadline is reached.
func (n *Node) Sync(ctx context.Context) (Result, error) {
	role, ok := n.Role()
	if !ok {
		return Result{}, ErrNotInitialized
	}
	if !n.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer n.busy.Store(false)

	ctx, cancel := withTimeout(ctx, n.config.RoundTimeout)
	defer cancel()

	r := newRound(n.rounds.Add(1))
	n.round.Store(r)
	unsubscribe := n.transport.Subscribe(n.handle)
	defer func() {
		unsubscribe()
		n.setPhase(phaseIdle)
		n.round.Store(nil)
	}()

	var (
		result Result
		err    error
	)
	if role.IsMaster() {
		result, err = n.lead(ctx, r)
	} else {
		result, err = n.follow(ctx, r, role.Master())
	}
	if err != nil {
		n.stats.fail()
		n.logger.Warn("round failed", "round", r.number, "phase", n.Phase(), "error", err)
		return Result{}, waitErr(fmt.Sprintf("round %d", r.number), err)
	}

	result.Round = r.number
	result.Role = role
	n.stats.record(result.Offset, result.RTT)
	return result, nil
}

// handle is the only receive handler; the current phase decides what it acts on
func (n *Node) handle(frame []byte) {
	arrival := n.raw.Now()

	p, err := protocol.Decode(frame)
	if err != nil {
		n.logger.Debug("dropping frame", "error", err)
		return
	}

	switch ph := phase(n.phase.Load()); ph {
	case phaseElection:
		if p.Flag != protocol.MasterSelection {
			return
		}
		if e := n.election.Load(); e != nil && e.observe(p.Serial) {
			n.logger.Debug("discovered peer", "peer", p.Serial)
		}

	case phaseServe:
		if p.Flag != protocol.DelayReq {
			return
		}
		if r := n.round.Load(); r != nil {
			n.serveDelayReq(r, p.Serial, arrival)
		}

	case phaseAwaitSync, phaseAwaitDelayResp, phaseAwaitUnblock:
		if r := n.round.Load(); r != nil {
			n.receiveAsFollower(r, ph, p, arrival)
		}
	}
}

func (n *Node) send(flag protocol.Flag, serial protocol.Serial, ts protocol.Timestamp) {
	p := protocol.Packet{Flag: flag, Serial: serial, Timestamp: ts}
	if err := n.transport.Send(p.Bytes()); err != nil {
		// The channel is lossy anyway; retries cover a failed send
		n.logger.Debug("send failed", "flag", flag.String(), "error", err)
	}
}

func (n *Node) setPhase(p phase) {
	n.phase.Store(int32(p))
}

func (n *Node) masterSerial() protocol.Serial {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role.Master()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// waitSignal waits up to d on c for s. It returns nil on signal or timeout.
func waitSignal(ctx context.Context, c clock.Clock, s *signal, d time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case <-s.done():
		return nil
	case err := <-clock.After(ctx, c, d):
		return err
	}
}
