// ABOUTME: Converts timed MIDI notes into per-part event lists
// ABOUTME: Allocates each note to the first free part and fills gaps with rests
package score

import (
	"math"
	"sort"
)

// minLevel drops notes too quiet to be heard on a buzzer
const minLevel = 10

// Note is a MIDI note with absolute timing
type Note struct {
	StartMs    uint32 `yaml:"start_ms"`
	DurationMs uint32 `yaml:"duration_ms"`
	Key        int    `yaml:"key"`
	Velocity   int    `yaml:"velocity"`
}

// MidiPeriodUs converts a MIDI key to a tone period in microseconds. Key 0 is silence.
func MidiPeriodUs(key int) uint32 {
	if key == 0 {
		return 0
	}
	freq := 27.5 * math.Pow(2, float64(key-21)/12)
	return uint32(math.Round(1_000_000 / freq))
}

// MidiVelocity maps a MIDI velocity onto an output level on an exponential curve
func MidiVelocity(velocity int) uint32 {
	if velocity <= 0 {
		return 0
	}
	return uint32(math.Round(math.Pow(128, float64(velocity)/100) - 1))
}

// Arrange spreads notes over parts. A note goes to the first part that is
// silent at its start time; notes overlapping every part are dropped.
func Arrange(notes []Note, parts int) [][]Event {
	if parts <= 0 {
		return nil
	}

	sorted := append([]Note(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	out := make([][]Event, parts)
	cursor := make([]uint32, parts)

	for _, n := range sorted {
		level := MidiVelocity(n.Velocity)
		if level <= minLevel || n.DurationMs == 0 {
			continue
		}

		for i := range out {
			if cursor[i] > n.StartMs {
				continue
			}
			if gap := n.StartMs - cursor[i]; gap > 0 {
				out[i] = append(out[i], Rest(gap))
			}
			out[i] = append(out[i], Event{
				PeriodUs:   MidiPeriodUs(n.Key),
				DurationMs: n.DurationMs,
				Velocity:   level,
			})
			cursor[i] = n.StartMs + n.DurationMs
			break
		}
	}

	for i := range out {
		out[i] = MergeRests(out[i])
	}
	return out
}

// MergeRests collapses consecutive rests into one and drops empty ones
func MergeRests(events []Event) []Event {
	out := make([]Event, 0, len(events))

	var rest uint32
	for _, e := range events {
		if e.IsRest() {
			rest += e.DurationMs
			continue
		}
		if rest > 0 {
			out = append(out, Rest(rest))
			rest = 0
		}
		out = append(out, e)
	}
	if rest > 0 {
		out = append(out, Rest(rest))
	}
	return out
}
