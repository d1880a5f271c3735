// ABOUTME: Node identity helpers
// ABOUTME: Serial numbers from flags or drawn from a random UUID
package clocksync

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/google/uuid"
)

// RandomSerial draws a non-zero serial for hosts without a hardware serial number
func RandomSerial() protocol.Serial {
	for {
		id := uuid.New()
		if s := protocol.Serial(binary.BigEndian.Uint32(id[:4])); s != 0 {
			return s
		}
	}
}

// ParseSerial accepts decimal or 0x-prefixed hex
func ParseSerial(s string) (protocol.Serial, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid serial %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid serial %q: must be non-zero", s)
	}
	return protocol.Serial(v), nil
}
