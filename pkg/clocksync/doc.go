// ABOUTME: Lockstep clock synchronization package
// ABOUTME: Master election, PTP-style offset exchange and a group-wide release barrier
// Package clocksync synchronizes the clocks of a fixed-size group of nodes that
// share one lossy broadcast channel.
//
// Init elects the node with the lowest serial as master. Every call to Sync then
// runs one PTP exchange between the master and each follower, stores the
// follower's offset, and holds every node until a deadline broadcast by the
// master, so that all nodes leave Sync at the same moment in master time.
//
// Example:
//
//	node := clocksync.New(clocksync.Config{Transport: tr, Logger: logger})
//	role, err := node.Init(ctx, 3)
//	result, err := node.Sync(ctx)
//	now := node.SystemTime()
package clocksync
