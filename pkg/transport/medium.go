// ABOUTME: In-process simulated radio medium
// ABOUTME: Delivers frames to every endpoint of a group with loss, latency and jitter
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/rand"
)

const defaultInboxSize = 256

// MediumConfig describes the simulated channel
type MediumConfig struct {
	// Loss is the probability in [0, 1] that a single delivery is dropped
	Loss float64

	// Latency is the base one-way delay of every delivery
	Latency time.Duration

	// Jitter spreads each delay uniformly over Latency ± Jitter
	Jitter time.Duration

	// Seed makes loss and jitter reproducible. Zero picks a time-based seed.
	Seed uint64

	// InboxSize bounds frames queued per endpoint; overflow counts as loss
	InboxSize int

	Logger hclog.Logger
}

// MediumStats counts what happened to frames on the medium
type MediumStats struct {
	Sent      int64
	Delivered int64
	Lost      int64
	Overflow  int64
}

// Medium is a shared broadcast channel living in one process
type Medium struct {
	config MediumConfig
	logger hclog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	queue     *priorityqueue.Queue
	seq       uint64
	endpoints map[*Endpoint]struct{}
	stats     MediumStats

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// delivery is one frame in flight towards one endpoint
type delivery struct {
	at    time.Time
	seq   uint64
	to    *Endpoint
	frame []byte
}

func byDeliveryTime(a, b interface{}) int {
	da := a.(*delivery)
	db := b.(*delivery)
	switch {
	case da.at.Before(db.at):
		return -1
	case da.at.After(db.at):
		return 1
	case da.seq < db.seq:
		return -1
	case da.seq > db.seq:
		return 1
	default:
		return 0
	}
}

// NewMedium creates a medium and starts its delivery loop
func NewMedium(config MediumConfig) *Medium {
	if config.InboxSize <= 0 {
		config.InboxSize = defaultInboxSize
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Medium{
		config:    config,
		logger:    config.Logger.Named("medium"),
		rng:       rand.New(rand.NewSource(seed)),
		queue:     priorityqueue.NewWith(byDeliveryTime),
		endpoints: make(map[*Endpoint]struct{}),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.wg.Add(1)
	go m.deliverLoop()

	return m
}

// Attach creates a new endpoint listening on group
func (m *Medium) Attach(group uint8) *Endpoint {
	ctx, cancel := context.WithCancel(m.ctx)
	e := &Endpoint{
		medium: m,
		group:  group,
		inbox:  make(chan []byte, m.config.InboxSize),
		ctx:    ctx,
		cancel: cancel,
	}

	m.mu.Lock()
	m.endpoints[e] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go e.receiveLoop(&m.wg)

	return e
}

// Stats returns a snapshot of the delivery counters
func (m *Medium) Stats() MediumStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close stops delivery and every attached endpoint
func (m *Medium) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

// broadcast schedules a copy of frame for every other endpoint in the group
func (m *Medium) broadcast(from *Endpoint, frame []byte) {
	now := time.Now()

	m.mu.Lock()
	m.stats.Sent++
	for e := range m.endpoints {
		if e == from || e.group != from.group {
			continue
		}
		if m.config.Loss > 0 && m.rng.Float64() < m.config.Loss {
			m.stats.Lost++
			continue
		}

		m.seq++
		m.queue.Enqueue(&delivery{
			at:    now.Add(m.delayLocked(from)),
			seq:   m.seq,
			to:    e,
			frame: append([]byte(nil), frame...),
		})
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// delayLocked draws the one-way delay for a delivery. Caller holds m.mu.
func (m *Medium) delayLocked(from *Endpoint) time.Duration {
	d := m.config.Latency + from.egressDelay()
	if m.config.Jitter > 0 {
		d += time.Duration(m.rng.Int63n(int64(2*m.config.Jitter)+1)) - m.config.Jitter
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (m *Medium) detach(e *Endpoint) {
	m.mu.Lock()
	delete(m.endpoints, e)
	m.mu.Unlock()
}

// deliverLoop pops due deliveries in time order and pushes them to inboxes
func (m *Medium) deliverLoop() {
	defer m.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.mu.Lock()
		head, ok := m.queue.Peek()
		if ok && !head.(*delivery).at.After(time.Now()) {
			m.queue.Dequeue()
			m.mu.Unlock()
			m.push(head.(*delivery))
			continue
		}
		m.mu.Unlock()

		wait := time.Hour
		if ok {
			wait = time.Until(head.(*delivery).at)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
		}
	}
}

func (m *Medium) push(d *delivery) {
	select {
	case d.to.inbox <- d.frame:
		m.mu.Lock()
		m.stats.Delivered++
		m.mu.Unlock()
	case <-d.to.ctx.Done():
	default:
		m.mu.Lock()
		m.stats.Overflow++
		m.mu.Unlock()
		m.logger.Debug("inbox full, dropping frame", "group", d.to.group)
	}
}

// Endpoint is one node's radio on a Medium
type Endpoint struct {
	medium   *Medium
	group    uint8
	inbox    chan []byte
	listener listener

	delayMu sync.RWMutex
	delay   time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Group returns the logical channel the endpoint is tuned to
func (e *Endpoint) Group() uint8 {
	return e.group
}

// SetEgressDelay adds d to the one-way delay of every frame this endpoint sends.
// Used to model asymmetric links.
func (e *Endpoint) SetEgressDelay(d time.Duration) {
	e.delayMu.Lock()
	e.delay = d
	e.delayMu.Unlock()
}

func (e *Endpoint) egressDelay() time.Duration {
	e.delayMu.RLock()
	defer e.delayMu.RUnlock()
	return e.delay
}

// Send broadcasts frame to the other endpoints of the group
func (e *Endpoint) Send(frame []byte) error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	e.medium.broadcast(e, frame)
	return nil
}

// Subscribe installs h as the only receive handler
func (e *Endpoint) Subscribe(h Handler) func() {
	return e.listener.subscribe(h)
}

// Close detaches the endpoint from the medium
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.medium.detach(e)
		e.cancel()
	})
	return nil
}

func (e *Endpoint) receiveLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case frame := <-e.inbox:
			e.listener.dispatch(frame)
		}
	}
}
