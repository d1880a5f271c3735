// ABOUTME: Score data model
// ABOUTME: Events hold a tone period, a duration and an output level
package score

import (
	"errors"
	"time"
)

// MaxLevel is the highest output level, matching a 10-bit analog pin
const MaxLevel = 1023

var ErrEmptyScore = errors.New("score has no parts")

// Event is one note or rest. PeriodUs 0 is a rest.
type Event struct {
	PeriodUs   uint32 `yaml:"period_us"`
	DurationMs uint32 `yaml:"duration_ms"`
	Velocity   uint32 `yaml:"velocity"`
}

// IsRest reports whether the event is silent
func (e Event) IsRest() bool {
	return e.PeriodUs == 0
}

// Rest returns a silent event of the given length
func Rest(durationMs uint32) Event {
	return Event{DurationMs: durationMs}
}

// Score is a piece split into parts, one per node
type Score struct {
	Title string
	Parts [][]Event
}

// Part returns the events for a node rank. Ranks beyond the part count wrap.
func (s *Score) Part(rank int) []Event {
	if len(s.Parts) == 0 || rank < 0 {
		return nil
	}
	return s.Parts[rank%len(s.Parts)]
}

// Duration returns the total length of a part
func Duration(events []Event) time.Duration {
	var total uint64
	for _, e := range events {
		total += uint64(e.DurationMs)
	}
	return time.Duration(total) * time.Millisecond
}
