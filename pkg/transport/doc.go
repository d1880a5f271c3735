// ABOUTME: Transport adapter package
// ABOUTME: Broadcast media carrying 9-byte lockstep frames between nodes
// Package transport provides the shared broadcast channel lockstep nodes talk over.
//
// Every medium behaves like a radio: a frame sent by one endpoint is offered to
// every other endpoint on the same group, may be lost, and carries no
// addressing. Receivers filter by the serial embedded in the frame.
//
// Three media are provided:
//   - Medium: in-process simulation with loss, latency and jitter
//   - Multicast: UDP multicast on the local network
//   - RelayClient: WebSocket client of a Relay that fans frames out per group
//
// Example:
//
//	medium := transport.NewMedium(transport.MediumConfig{Loss: 0.1, Latency: 20 * time.Millisecond})
//	a, b := medium.Attach(3), medium.Attach(3)
//	unsubscribe := b.Subscribe(func(frame []byte) { ... })
//	defer unsubscribe()
//	a.Send(frame)
package transport
