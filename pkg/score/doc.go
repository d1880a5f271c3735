// ABOUTME: Score package for playing one part of a piece in lock-step
// ABOUTME: Note events, voice arrangement, YAML score files and tone outputs
// Package score plays a multi-part piece across a synchronized group.
//
// Each node plays the part matching its rank. The sequencer schedules every
// event against the synchronized clock, so parts started at the same barrier
// stay aligned without further messages.
//
// Example:
//
//	s, err := score.Load("canon.yaml")
//	seq := score.NewSequencer(score.SequencerConfig{Clock: node.Clock(), Output: out})
//	err = seq.Play(ctx, s.Part(node.Rank()))
package score
