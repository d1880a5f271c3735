package clocksync

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimedOut is returned when an election or a round outlives its deadline
	ErrTimedOut = errors.New("timed out waiting for the group")

	ErrNotInitialized     = errors.New("node not initialized")
	ErrAlreadyInitialized = errors.New("node already initialized")
	ErrGroupTooSmall      = errors.New("group needs at least two nodes")

	// ErrBusy is returned when Init or Sync is called while another call is running
	ErrBusy = errors.New("another election or round is in progress")
)

// waitErr converts a context error from a blocking wait into the package's error
func waitErr(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", stage, ErrTimedOut, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}
