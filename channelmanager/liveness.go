package channelmanager

import "time"

// livenessExpiryMargin is how many blocks of headroom an outstanding
// HTLC must retain before its RefundTimeout before the FSM treats it as
// a liveness hazard. Five blocks mirrors the commitment broadcast's own
// worst-case confirmation latency plus one block of margin, so a
// force-close triggered at this threshold still gets the local
// commitment and any second-stage transactions confirmed before the
// HTLC's timeout path becomes spendable by the counterparty.
const livenessExpiryMargin = 5

// checkLiveness reevaluates every outstanding HTLC on the local
// commitment against the current chain tip; an HTLC whose RefundTimeout
// is within livenessExpiryMargin blocks of that tip is a liveness hazard
// per spec's error taxonomy, and the channel is force-closed
// unilaterally rather than risk losing the HTLC outright.
func (f *ChannelFSM) checkLiveness(now time.Time) error {
	if f.state != Normal && f.state != Shutdown && f.state != Negotiating {
		return nil
	}

	height := f.currentHeight
	if height == 0 {
		return nil
	}

	for _, htlc := range f.lc.State().LocalCommitment.Htlcs {
		if int64(htlc.RefundTimeout)-int64(height) > livenessExpiryMargin {
			continue
		}

		f.state = ForceClosing
		if err := f.forceClose(); err != nil {
			return newError(KindLivenessHazard,
				"force-close on expiry of htlc %d failed: %v",
				htlc.HtlcIndex, err)
		}
		return nil
	}

	return nil
}

// onBlockEpoch updates the chain tip height the liveness check compares
// outstanding HTLC expiries against.
func (f *ChannelFSM) onBlockEpoch(height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentHeight = height
}
