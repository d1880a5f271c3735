// ABOUTME: Clock adapter package
// ABOUTME: Raw monotonic millisecond clocks, cooperative sleep and the adjusted clock
// Package clock provides the time sources used by lockstep nodes.
//
// A Clock yields a wrapping millisecond reading and a context-aware sleep.
// Adjusted layers a signed offset on top of a raw clock, which is how a
// follower exposes the master's notion of time.
//
// Example:
//
//	raw := clock.NewSystem()
//	adj := clock.NewAdjusted(raw)
//	adj.SetOffset(-50)
//	now := adj.Now()
package clock
