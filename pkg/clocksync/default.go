package clocksync

import (
	"sync/atomic"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

var (
	defaultNode  atomic.Pointer[Node]
	processClock = clock.NewSystem()
)

// SetDefault makes n the node behind the package-level SystemTime
func SetDefault(n *Node) {
	defaultNode.Store(n)
}

// Default returns the node set by SetDefault, or nil
func Default() *Node {
	return defaultNode.Load()
}

// SystemTime reads the default node's adjusted clock. Without a default node
// it returns milliseconds since the process started.
func SystemTime() protocol.Timestamp {
	if n := defaultNode.Load(); n != nil {
		return n.SystemTime()
	}
	return processClock.Now()
}
