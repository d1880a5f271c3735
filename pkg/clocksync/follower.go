// ABOUTME: Follower side of a round
// ABOUTME: AwaitSync, AwaitDelayResp and AwaitUnblock phases ending at the master's deadline
package clocksync

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clock"
	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

func (n *Node) follow(ctx context.Context, r *round, master protocol.Serial) (Result, error) {
	n.setPhase(phaseAwaitSync)
	select {
	case <-r.syncSeen.done():
	case <-r.unblock.done():
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	measured := false
	if r.syncSeen.fired() {
		n.setPhase(phaseAwaitDelayResp)
		var err error
		if measured, err = n.exchangeDelay(ctx, r); err != nil {
			return Result{}, err
		}
	}

	result := Result{Offset: n.clock.Offset(), Skipped: !measured}
	if measured {
		result.Offset, result.RTT = r.exchange().estimate()
		n.clock.SetOffset(result.Offset)
		n.logger.Debug("offset updated", "round", r.number, "offset", result.Offset, "rtt", result.RTT)
	} else {
		n.logger.Warn("exchange missed, keeping previous offset", "round", r.number, "offset", result.Offset)
	}

	n.setPhase(phaseAwaitUnblock)
	select {
	case <-r.unblock.done():
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	result.Deadline = r.barrier()
	if late := -n.clock.Until(result.Deadline); late > 0 && measured {
		n.logger.Warn("deadline already passed", "round", r.number, "late", late, "master", master)
	}
	if err := n.clock.SleepUntil(ctx, result.Deadline); err != nil {
		return Result{}, err
	}

	return result, nil
}

// maxRetryGap caps the DELAY_REQ backoff, in PingIntervals
const maxRetryGap = 8

// exchangeDelay sends DELAY_REQ until a matching DELAY_RESP arrives. Retries
// start two PingIntervals apart and back off, so requests only overlap when a
// reply is slower than the gap. Once the barrier is known it gives up when the
// master, judged from the ping alone, has passed it.
func (n *Node) exchangeDelay(ctx context.Context, r *round) (bool, error) {
	gap := 2 * n.config.PingInterval
	for {
		if r.unblock.fired() && n.untilBarrier(r) <= 0 {
			return false, nil
		}

		r.departing(n.raw.Now())
		n.send(protocol.DelayReq, n.serial, protocol.EmptyField)

		if done, err := n.awaitDelayResp(ctx, r, gap); done || err != nil {
			return done, err
		}
		gap = min(2*gap, maxRetryGap*n.config.PingInterval)
		n.logger.Debug("no delay response, retrying", "round", r.number, "requests", r.requests(), "gap", gap)
	}
}

// awaitDelayResp waits up to gap for the reply, or until a known barrier passes.
// It returns false with a nil error when the caller should retry or give up.
func (n *Node) awaitDelayResp(ctx context.Context, r *round, gap time.Duration) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	retry := clock.After(ctx, n.raw, gap)
	unblock := r.unblock.done()
	var barrier <-chan error

	for {
		select {
		case <-r.delayResp.done():
			return true, nil
		case <-unblock:
			unblock = nil
			barrier = clock.After(ctx, n.raw, n.untilBarrier(r))
		case err := <-barrier:
			return false, err
		case err := <-retry:
			return false, err
		}
	}
}

// untilBarrier is the time left before the master reaches the barrier. It
// uses the ping timestamps, not the offset from an earlier round.
func (n *Node) untilBarrier(r *round) time.Duration {
	return clock.Millis(int64(r.barrier().Sub(r.masterNow(n.raw.Now()))))
}

func (n *Node) receiveAsFollower(r *round, ph phase, p protocol.Packet, arrival protocol.Timestamp) {
	switch p.Flag {
	case protocol.SyncPing:
		if p.Serial == n.serial && ph != phaseAwaitUnblock {
			r.recordSync(p.Timestamp, arrival)
		}
	case protocol.DelayResp:
		if p.Serial == n.serial && ph == phaseAwaitDelayResp && !r.recordDelayResp(p.Timestamp, arrival) {
			n.logger.Debug("delay response ignored", "round", r.number, "master_receive", p.Timestamp)
		}
	case protocol.SetUnblockTime:
		if p.Serial != n.masterSerial() {
			return
		}
		// Before our ping only a future deadline counts; an old one is a straggler
		// from the previous round
		if ph == phaseAwaitSync && n.clock.Until(p.Timestamp) <= 0 {
			return
		}
		r.recordDeadline(p.Timestamp)
	}
}
