// ABOUTME: Master side of a round
// ABOUTME: Pings each follower until it answers, then broadcasts the release deadline
package clocksync

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
)

func (n *Node) lead(ctx context.Context, r *round) (Result, error) {
	// DELAY_REQ is answered until the barrier passes so that late retries still get a reply
	n.setPhase(phaseServe)

	for _, follower := range n.Peers() {
		responded := r.respondedSignal(follower)

		pings := 0
		for !responded.fired() {
			pings++
			n.send(protocol.SyncPing, follower, n.raw.Now())
			if err := waitSignal(ctx, n.raw, responded, n.config.PingInterval); err != nil {
				return Result{}, err
			}
		}
		n.logger.Debug("follower answered", "round", r.number, "follower", follower, "pings", pings)
	}

	deadline := n.raw.Now().Add(n.config.UnblockDelay.Milliseconds())

	repeats := n.config.UnblockRepeats
	spacing := n.config.UnblockDelay / time.Duration(2*repeats)
	for i := 0; i < repeats; i++ {
		if i > 0 {
			if err := n.raw.Sleep(ctx, spacing); err != nil {
				return Result{}, err
			}
		}
		n.send(protocol.SetUnblockTime, n.serial, deadline)
	}
	n.logger.Debug("barrier set", "round", r.number, "deadline", deadline)

	if err := n.clock.SleepUntil(ctx, deadline); err != nil {
		return Result{}, err
	}

	return Result{Deadline: deadline}, nil
}

// serveDelayReq answers every DELAY_REQ, repeats included. The reply carries
// the receive time captured before decoding.
func (n *Node) serveDelayReq(r *round, follower protocol.Serial, arrival protocol.Timestamp) {
	n.send(protocol.DelayResp, follower, arrival)
	r.markResponded(follower)
}
