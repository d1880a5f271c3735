// ABOUTME: Per-round and per-election state shared between Sync and the receive handler
// ABOUTME: Mutex-guarded fields with one-shot signals for completion
package clocksync

import (
	"sync"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

// phase selects which packets the receive handler acts on
type phase int32

const (
	phaseIdle phase = iota
	phaseElection
	phaseServe
	phaseAwaitSync
	phaseAwaitDelayResp
	phaseAwaitUnblock
)

func (p phase) String() string {
	switch p {
	case phaseElection:
		return "election"
	case phaseServe:
		return "serve"
	case phaseAwaitSync:
		return "await-sync"
	case phaseAwaitDelayResp:
		return "await-delay-resp"
	case phaseAwaitUnblock:
		return "await-unblock"
	default:
		return "idle"
	}
}

// signal is a one-shot event
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *signal) done() <-chan struct{} {
	return s.ch
}

func (s *signal) fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// election collects serials heard during Init
type election struct {
	mu         sync.Mutex
	self       protocol.Serial
	discovered *treeset.Set
}

func newElection(self protocol.Serial) *election {
	return &election{
		self:       self,
		discovered: treeset.NewWith(utils.UInt32Comparator),
	}
}

// observe records a peer serial. Own echoes are ignored.
func (e *election) observe(serial protocol.Serial) bool {
	if serial == e.self {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.discovered.Contains(uint32(serial)) {
		return false
	}
	e.discovered.Add(uint32(serial))
	return true
}

// peers returns discovered serials in ascending order
func (e *election) peers() []protocol.Serial {
	e.mu.Lock()
	defer e.mu.Unlock()

	peers := make([]protocol.Serial, 0, e.discovered.Size())
	for _, v := range e.discovered.Values() {
		peers = append(peers, protocol.Serial(v.(uint32)))
	}
	return peers
}

func (e *election) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discovered.Size()
}

// lowest returns the smallest serial seen, own serial included
func (e *election) lowest() protocol.Serial {
	e.mu.Lock()
	defer e.mu.Unlock()

	lowest := e.self
	if values := e.discovered.Values(); len(values) > 0 {
		if s := protocol.Serial(values[0].(uint32)); s < lowest {
			lowest = s
		}
	}
	return lowest
}

// round is the state of one Sync call
type round struct {
	number uint64

	mu sync.Mutex

	// follower side
	ping        exchange
	attempts    []exchange
	ex          exchange
	syncSeen    *signal
	delayResp   *signal
	unblock     *signal
	deadline    protocol.Timestamp
	hasDeadline bool

	// master side
	responded map[protocol.Serial]*signal
	replies   map[protocol.Serial]int
}

func newRound(number uint64) *round {
	return &round{
		number:    number,
		syncSeen:  newSignal(),
		delayResp: newSignal(),
		unblock:   newSignal(),
		responded: make(map[protocol.Serial]*signal),
		replies:   make(map[protocol.Serial]int),
	}
}

// respondedSignal returns the signal fired by the first DELAY_REQ from serial
func (r *round) respondedSignal(serial protocol.Serial) *signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.respondedLocked(serial)
}

func (r *round) respondedLocked(serial protocol.Serial) *signal {
	s, ok := r.responded[serial]
	if !ok {
		s = newSignal()
		r.responded[serial] = s
	}
	return s
}

// markResponded counts a DELAY_REQ. Repeats are harmless.
func (r *round) markResponded(serial protocol.Serial) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.replies[serial]++
	r.respondedLocked(serial).fire()
}

func (r *round) replyCount(serial protocol.Serial) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replies[serial]
}

// recordSync stores the latest SYNC_PING. It is used by the next DELAY_REQ;
// requests already sent keep the ping they answered.
func (r *round) recordSync(sent, arrival protocol.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.delayResp.fired() {
		return
	}
	r.ping.syncTimestamp = sent
	r.ping.syncArrival = arrival
	r.syncSeen.fire()
}

// departing records a DELAY_REQ about to leave at now, paired with the latest ping
func (r *round) departing(now protocol.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := r.ping
	attempt.pingDeparture = now
	r.attempts = append(r.attempts, attempt)
}

// recordDelayResp matches a DELAY_RESP to the newest request it can answer.
// The reply carries no request id, so a request is a candidate only if it left
// before the reply arrived and the pairing is plausible. It reports whether the
// reply completed the exchange.
func (r *round) recordDelayResp(masterReceive, arrival protocol.Timestamp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.delayResp.fired() {
		return false
	}
	for i := len(r.attempts) - 1; i >= 0; i-- {
		candidate := r.attempts[i]
		candidate.pingDelay = masterReceive
		if arrival.Sub(candidate.pingDeparture) < 0 || !candidate.plausible() {
			continue
		}
		r.ex = candidate
		r.delayResp.fire()
		return true
	}
	return false
}

// requests returns how many DELAY_REQ went out this round
func (r *round) requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// masterNow estimates the master's clock from the latest ping alone. It lags
// the master by the one-way latency and needs no prior offset.
func (r *round) masterNow(raw protocol.Timestamp) protocol.Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return raw.Add(int64(r.ping.syncTimestamp.Sub(r.ping.syncArrival)))
}

// recordDeadline keeps the first SET_UNBLOCK_TIME of the round
func (r *round) recordDeadline(deadline protocol.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasDeadline {
		return
	}
	r.deadline = deadline
	r.hasDeadline = true
	r.unblock.fire()
}

func (r *round) exchange() exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ex
}

func (r *round) barrier() protocol.Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}
