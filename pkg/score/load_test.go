// ABOUTME: Tests for YAML score loading
// ABOUTME: Covers pre-arranged parts, note lists and rejected files
package score

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arranged = `
title: two voices
parts:
  - - {period_us: 3822, duration_ms: 1000, velocity: 78}
    - {period_us: 0, duration_ms: 200, velocity: 0}
    - {period_us: 0, duration_ms: 300, velocity: 0}
  - - {period_us: 3405, duration_ms: 1000, velocity: 78}
`

const flat = `
title: notes
voices: 2
notes:
  - {start_ms: 0, duration_ms: 400, key: 60, velocity: 100}
  - {start_ms: 0, duration_ms: 400, key: 64, velocity: 100}
`

func TestParseParts(t *testing.T) {
	s, err := Parse([]byte(arranged))
	require.NoError(t, err)

	assert.Equal(t, "two voices", s.Title)
	require.Len(t, s.Parts, 2)
	assert.Equal(t, []Event{{PeriodUs: 3822, DurationMs: 1000, Velocity: 78}, Rest(500)}, s.Parts[0])
	assert.Equal(t, 1500*time.Millisecond, Duration(s.Parts[0]))

	assert.Equal(t, s.Parts[0], s.Part(0))
	assert.Equal(t, s.Parts[1], s.Part(1))
	assert.Equal(t, s.Parts[0], s.Part(2), "ranks wrap")
	assert.Nil(t, s.Part(-1))
}

func TestParseNotes(t *testing.T) {
	s, err := Parse([]byte(flat))
	require.NoError(t, err)

	require.Len(t, s.Parts, 2)
	assert.Equal(t, MidiPeriodUs(60), s.Parts[0][0].PeriodUs)
	assert.Equal(t, MidiPeriodUs(64), s.Parts[1][0].PeriodUs)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("title: nothing\n"))
	assert.ErrorIs(t, err, ErrEmptyScore)

	_, err = Parse([]byte("tempo: 120\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = Parse([]byte("parts:\n  - - {period_us: 1, duration_ms: 1, velocity: 5000}\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "score.yaml")
	require.NoError(t, os.WriteFile(path, []byte(arranged), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Parts, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
