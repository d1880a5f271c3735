// ABOUTME: Lock-step sequencer
// ABOUTME: Steps through a part on the synchronized clock with a short gap between notes
package score

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/hashicorp/go-hclog"
)

const (
	// ArticulationMs is the silence between consecutive events
	ArticulationMs = 10

	defaultMaxStep = 10 * time.Millisecond
)

// Clock is the time base the sequencer follows
type Clock interface {
	Now() protocol.Timestamp
}

// Output renders a tone. A zero period or level is silence.
type Output interface {
	SetTone(periodUs, level uint32) error
}

// SequencerConfig holds sequencer configuration
type SequencerConfig struct {
	Clock  Clock
	Output Output

	// MaxStep caps each sleep so offset changes are picked up mid-part
	MaxStep time.Duration

	Logger hclog.Logger
}

// Sequencer plays one part at a time
type Sequencer struct {
	config SequencerConfig
	logger hclog.Logger

	current atomic.Int64
	total   atomic.Int64
}

// NewSequencer creates a sequencer
func NewSequencer(config SequencerConfig) *Sequencer {
	if config.MaxStep <= 0 {
		config.MaxStep = defaultMaxStep
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	return &Sequencer{
		config: config,
		logger: config.Logger.Named("sequencer"),
	}
}

// Progress returns the index of the playing event and the part length
func (s *Sequencer) Progress() (current, total int) {
	return int(s.current.Load()), int(s.total.Load())
}

// Play starts the part now and returns when it ends or ctx is done.
// The first event holds for its full duration; later events give up
// ArticulationMs to the gap before them.
func (s *Sequencer) Play(ctx context.Context, events []Event) error {
	s.total.Store(int64(len(events)))
	s.current.Store(0)
	if len(events) == 0 {
		return nil
	}
	defer s.silence()

	if err := s.tone(events[0]); err != nil {
		return err
	}
	next := s.config.Clock.Now().Add(int64(events[0].DurationMs))

	articulated := false
	for cur := 0; cur < len(events); {
		if err := s.waitUntil(ctx, next); err != nil {
			return err
		}

		if !articulated {
			if err := s.config.Output.SetTone(0, 0); err != nil {
				return fmt.Errorf("output failed: %w", err)
			}
			next = next.Add(ArticulationMs)
			articulated = true
			continue
		}

		articulated = false
		cur++
		s.current.Store(int64(cur))
		if cur >= len(events) {
			break
		}
		if err := s.tone(events[cur]); err != nil {
			return err
		}
		next = next.Add(int64(events[cur].DurationMs) - ArticulationMs)
	}

	s.logger.Debug("part finished", "events", len(events))
	return nil
}

func (s *Sequencer) tone(e Event) error {
	if err := s.config.Output.SetTone(e.PeriodUs, e.Velocity); err != nil {
		return fmt.Errorf("output failed: %w", err)
	}
	return nil
}

func (s *Sequencer) silence() {
	if err := s.config.Output.SetTone(0, 0); err != nil {
		s.logger.Warn("failed to silence output", "error", err)
	}
}

// waitUntil sleeps in steps of at most MaxStep until the clock passes t
func (s *Sequencer) waitUntil(ctx context.Context, t protocol.Timestamp) error {
	for {
		remaining := time.Duration(t.Sub(s.config.Clock.Now())) * time.Millisecond
		if remaining < 0 {
			return nil
		}
		step := min(max(remaining, time.Millisecond), s.config.MaxStep)

		timer := time.NewTimer(step)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
