// ABOUTME: Transport interface shared by all broadcast media
// ABOUTME: Single active receive subscription per endpoint, swapped at phase boundaries
package transport

import (
	"errors"
	"sync"
)

// ErrClosed is returned when sending on a closed endpoint
var ErrClosed = errors.New("transport closed")

// Handler receives one frame. It runs on the transport's receive goroutine,
// concurrently with the code that subscribed it, and must not block for long.
type Handler func(frame []byte)

// Transport is a broadcast endpoint bound to one logical group
type Transport interface {
	// Send broadcasts a frame to every other endpoint of the group
	Send(frame []byte) error

	// Subscribe makes h the only active handler and returns a function that
	// removes it again. Removing a handler that was already replaced is a no-op.
	Subscribe(h Handler) (unsubscribe func())

	// Close releases the endpoint
	Close() error
}

// listener holds the single active subscription of an endpoint
type listener struct {
	mu      sync.RWMutex
	handler Handler
	gen     uint64
}

func (l *listener) subscribe(h Handler) func() {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.handler = h
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen == gen {
			l.handler = nil
		}
	}
}

// dispatch hands frame to the current handler, reporting whether one was set
func (l *listener) dispatch(frame []byte) bool {
	l.mu.RLock()
	h := l.handler
	l.mu.RUnlock()

	if h == nil {
		return false
	}
	h(frame)
	return true
}
