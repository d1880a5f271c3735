// ABOUTME: Node configuration
// ABOUTME: Protocol intervals, bounded-wait timeouts and injected collaborators
package clocksync

import (
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/hashicorp/go-hclog"
)

const (
	DefaultElectionInterval = 100 * time.Millisecond
	DefaultElectionWindow   = 1000 * time.Millisecond
	DefaultPingInterval     = 500 * time.Millisecond
	DefaultUnblockDelay     = 500 * time.Millisecond
	DefaultUnblockRepeats   = 1
)

// Config holds node configuration
type Config struct {
	// Serial identifies this node. Zero draws a random serial.
	Serial protocol.Serial

	// Transport is the shared broadcast channel. Required.
	Transport transport.Transport

	// Clock is the raw monotonic clock. Nil uses clock.NewSystem().
	Clock clock.Clock

	// ElectionInterval spaces MASTER_SELECTION broadcasts
	ElectionInterval time.Duration

	// ElectionWindow is the minimum time spent electing, even once all peers are known
	ElectionWindow time.Duration

	// PingInterval spaces SYNC_PING resends on the master and DELAY_REQ resends on followers
	PingInterval time.Duration

	// UnblockDelay is the margin between the last reply and the barrier deadline
	UnblockDelay time.Duration

	// UnblockRepeats is how many times the master broadcasts SET_UNBLOCK_TIME.
	// One keeps the single unacknowledged send.
	UnblockRepeats int

	// ElectionTimeout bounds Init. Zero waits forever.
	ElectionTimeout time.Duration

	// RoundTimeout bounds each Sync. Zero waits forever.
	RoundTimeout time.Duration

	Logger hclog.Logger
}

// DefaultConfig returns the protocol's standard timings
func DefaultConfig() Config {
	return Config{
		ElectionInterval: DefaultElectionInterval,
		ElectionWindow:   DefaultElectionWindow,
		PingInterval:     DefaultPingInterval,
		UnblockDelay:     DefaultUnblockDelay,
		UnblockRepeats:   DefaultUnblockRepeats,
	}
}

// withDefaults fills zero fields
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ElectionInterval <= 0 {
		c.ElectionInterval = d.ElectionInterval
	}
	if c.ElectionWindow <= 0 {
		c.ElectionWindow = d.ElectionWindow
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.UnblockDelay <= 0 {
		c.UnblockDelay = d.UnblockDelay
	}
	if c.UnblockRepeats <= 0 {
		c.UnblockRepeats = d.UnblockRepeats
	}
	if c.Clock == nil {
		c.Clock = clock.NewSystem()
	}
	if c.Serial == 0 {
		c.Serial = RandomSerial()
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	return c
}
