// ABOUTME: Tone outputs
// ABOUTME: Square-wave synthesis through oto and a logging output for headless nodes
package score

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/hashicorp/go-hclog"
)

const (
	defaultSampleRate = 44100

	// peakAmplitude leaves headroom below int16 full scale
	peakAmplitude = math.MaxInt16 * 3 / 10
)

// LogOutput writes every tone change to a logger
type LogOutput struct {
	logger hclog.Logger
}

// NewLogOutput creates a logging output
func NewLogOutput(logger hclog.Logger) *LogOutput {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LogOutput{logger: logger.Named("tone")}
}

// SetTone logs the change
func (l *LogOutput) SetTone(periodUs, level uint32) error {
	if periodUs == 0 || level == 0 {
		l.logger.Trace("silence")
		return nil
	}
	l.logger.Debug("tone", "hz", math.Round(1_000_000/float64(periodUs)), "level", level)
	return nil
}

// squareWave generates mono signed 16-bit samples for the current tone
type squareWave struct {
	mu         sync.Mutex
	sampleRate int
	periodUs   uint32
	level      uint32
	phase      float64
}

func (w *squareWave) set(periodUs, level uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.periodUs = periodUs
	w.level = min(level, MaxLevel)
}

// Read never ends; silence is written as zero samples
func (w *squareWave) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p) &^ 1
	if w.periodUs == 0 || w.level == 0 {
		clear(p[:n])
		w.phase = 0
		return n, nil
	}

	step := 1_000_000 / float64(w.periodUs) / float64(w.sampleRate)
	amp := int16(peakAmplitude * float64(w.level) / MaxLevel)

	for i := 0; i < n; i += 2 {
		sample := amp
		if w.phase >= 0.5 {
			sample = -amp
		}
		binary.LittleEndian.PutUint16(p[i:], uint16(sample))

		w.phase += step
		w.phase -= math.Floor(w.phase)
	}
	return n, nil
}

// ToneOutput plays a square wave on the default audio device
type ToneOutput struct {
	otoCtx *oto.Context
	player *oto.Player
	wave   *squareWave
	logger hclog.Logger
}

// NewToneOutput opens the audio device. A zero sampleRate uses 44.1 kHz.
func NewToneOutput(sampleRate int, logger hclog.Logger) (*ToneOutput, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	wave := &squareWave{sampleRate: sampleRate}
	player := ctx.NewPlayer(wave)
	player.Play()

	logger = logger.Named("tone")
	logger.Info("tone output initialized", "sample_rate", sampleRate)

	return &ToneOutput{otoCtx: ctx, player: player, wave: wave, logger: logger}, nil
}

// SetTone switches the wave. It takes effect at the player's next buffer.
func (t *ToneOutput) SetTone(periodUs, level uint32) error {
	t.wave.set(periodUs, level)
	return nil
}

// Close stops playback and releases the device
func (t *ToneOutput) Close() error {
	t.wave.set(0, 0)
	err := t.player.Close()
	if serr := t.otoCtx.Suspend(); serr != nil && err == nil {
		err = serr
	}
	return err
}
