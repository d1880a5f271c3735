// ABOUTME: Lockstep packet definitions and binary codec
// ABOUTME: Encodes FLAG | SERIAL | TIMESTAMP frames in big-endian order
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// PacketSize is the size of every frame on the wire (1 byte flag + 4 byte serial + 4 byte timestamp)
	PacketSize = 1 + 4 + 4

	// EmptyField fills the timestamp of packets that carry no time
	EmptyField Timestamp = 0
)

var (
	// ErrPacketSize is returned when a frame is not exactly PacketSize bytes
	ErrPacketSize = errors.New("invalid packet size")

	// ErrUnknownFlag is returned when a frame carries a flag outside the protocol
	ErrUnknownFlag = errors.New("unknown packet flag")
)

// Serial identifies a node. Unique per device, stable for the process lifetime.
type Serial uint32

// Timestamp is a monotonic millisecond clock reading. It wraps at 2^32.
type Timestamp uint32

// Sub returns the signed distance a-b, tolerant of a single wraparound
func (t Timestamp) Sub(other Timestamp) int32 {
	return int32(t - other)
}

// Add shifts a timestamp by a signed number of milliseconds
func (t Timestamp) Add(ms int64) Timestamp {
	return t + Timestamp(uint32(ms))
}

// Flag describes the purpose of a packet
type Flag uint8

const (
	// SyncPing carries the master's send time to one follower
	SyncPing Flag = iota
	// DelayReq is a follower's ping to the master
	DelayReq
	// DelayResp carries the master's receive time of a DelayReq
	DelayResp
	// MasterSelection announces a serial during election
	MasterSelection
	// SetUnblockTime carries the barrier deadline in master time
	SetUnblockTime
)

func (f Flag) String() string {
	switch f {
	case SyncPing:
		return "SYNC_PING"
	case DelayReq:
		return "DELAY_REQ"
	case DelayResp:
		return "DELAY_RESP"
	case MasterSelection:
		return "MASTER_SELECTION"
	case SetUnblockTime:
		return "SET_UNBLOCK_TIME"
	default:
		return fmt.Sprintf("FLAG(%d)", uint8(f))
	}
}

// Valid reports whether the flag is part of the protocol
func (f Flag) Valid() bool {
	return f <= SetUnblockTime
}

// Packet is a single synchronization message
type Packet struct {
	Flag      Flag
	Serial    Serial
	Timestamp Timestamp
}

// Encode writes the packet into a fixed-size frame
func Encode(p Packet) [PacketSize]byte {
	var buf [PacketSize]byte
	buf[0] = byte(p.Flag)
	binary.BigEndian.PutUint32(buf[1:5], uint32(p.Serial))
	binary.BigEndian.PutUint32(buf[5:9], uint32(p.Timestamp))
	return buf
}

// Bytes returns the encoded frame as a slice
func (p Packet) Bytes() []byte {
	buf := Encode(p)
	return buf[:]
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p Packet) MarshalBinary() ([]byte, error) {
	return p.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *Packet) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Decode parses a frame received from the channel
func Decode(data []byte) (Packet, error) {
	if len(data) != PacketSize {
		return Packet{}, fmt.Errorf("%w: got %d bytes, want %d", ErrPacketSize, len(data), PacketSize)
	}

	p := Packet{
		Flag:      Flag(data[0]),
		Serial:    Serial(binary.BigEndian.Uint32(data[1:5])),
		Timestamp: Timestamp(binary.BigEndian.Uint32(data[5:9])),
	}
	if !p.Flag.Valid() {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownFlag, data[0])
	}

	return p, nil
}

func (p Packet) String() string {
	return fmt.Sprintf("%s(serial=%d, ts=%d)", p.Flag, p.Serial, p.Timestamp)
}
