// ABOUTME: Tests for the sequencer and tone outputs
// ABOUTME: Checks event timing, articulation gaps, cancellation and square wave samples
package score

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type change struct {
	periodUs, level uint32
	at              time.Duration
}

type recordingOutput struct {
	mu      sync.Mutex
	start   time.Time
	changes []change
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{start: time.Now()}
}

func (r *recordingOutput) SetTone(periodUs, level uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change{periodUs, level, time.Since(r.start)})
	return nil
}

func (r *recordingOutput) tones() []change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []change
	for _, c := range r.changes {
		if c.periodUs != 0 {
			out = append(out, c)
		}
	}
	return out
}

func TestSequencerPlaysInOrder(t *testing.T) {
	out := newRecordingOutput()
	seq := NewSequencer(SequencerConfig{Clock: clock.NewSystem(), Output: out, MaxStep: 2 * time.Millisecond})

	events := []Event{
		{PeriodUs: 2000, DurationMs: 50, Velocity: 100},
		Rest(30),
		{PeriodUs: 1000, DurationMs: 40, Velocity: 200},
	}

	start := time.Now()
	require.NoError(t, seq.Play(context.Background(), events))
	elapsed := time.Since(start)

	// durations plus the trailing articulation gap
	assert.InDelta(t, 130, elapsed.Milliseconds(), 25)

	tones := out.tones()
	require.Len(t, tones, 2)
	assert.Equal(t, uint32(2000), tones[0].periodUs)
	assert.Equal(t, uint32(100), tones[0].level)
	assert.Equal(t, uint32(1000), tones[1].periodUs)
	assert.InDelta(t, 90, tones[1].at.Milliseconds(), 20)

	last := out.changes[len(out.changes)-1]
	assert.Equal(t, uint32(0), last.periodUs, "ends silent")

	current, total := seq.Progress()
	assert.Equal(t, 3, current)
	assert.Equal(t, 3, total)
}

func TestSequencerCancel(t *testing.T) {
	out := newRecordingOutput()
	seq := NewSequencer(SequencerConfig{Clock: clock.NewSystem(), Output: out})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := seq.Play(ctx, []Event{{PeriodUs: 2000, DurationMs: 5000, Velocity: 100}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	last := out.changes[len(out.changes)-1]
	assert.Equal(t, uint32(0), last.periodUs)
}

func TestSequencerEmptyPart(t *testing.T) {
	out := newRecordingOutput()
	seq := NewSequencer(SequencerConfig{Clock: clock.NewSystem(), Output: out})

	require.NoError(t, seq.Play(context.Background(), nil))
	assert.Empty(t, out.changes)
}

func TestSquareWave(t *testing.T) {
	w := &squareWave{sampleRate: 8000}

	buf := make([]byte, 33)
	n, err := w.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 32, n)
	assert.Equal(t, make([]byte, 32), buf[:32], "silence")

	// 1 kHz at 8 kHz sample rate: 4 high samples then 4 low
	w.set(1000, MaxLevel)
	buf = make([]byte, 16)
	_, err = w.Read(buf)
	require.NoError(t, err)

	amp := int16(peakAmplitude)
	for i := 0; i < 8; i++ {
		sample := int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
		if i < 4 {
			assert.Equal(t, amp, sample, "sample %d", i)
		} else {
			assert.Equal(t, -amp, sample, "sample %d", i)
		}
	}

	w.set(1000, 5000)
	assert.Equal(t, uint32(MaxLevel), w.level)
}

func TestLogOutput(t *testing.T) {
	out := NewLogOutput(nil)
	assert.NoError(t, out.SetTone(2273, 100))
	assert.NoError(t, out.SetTone(0, 0))
}
