// ABOUTME: Lockstep wire protocol package
// ABOUTME: Defines the fixed 9-byte synchronization packet and its codec
// Package protocol implements the lockstep wire format.
//
// Every frame on the shared channel is exactly 9 bytes: a flag byte followed
// by a big-endian serial number and a big-endian millisecond timestamp.
//
// Example:
//
//	frame := protocol.Packet{Flag: protocol.SyncPing, Serial: 100, Timestamp: now}.Bytes()
//	p, err := protocol.Decode(frame)
package protocol
