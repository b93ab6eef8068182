package funding

import (
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// Attempt is one funding candidate tracked for a channel: the session
// that built it (nil once superseded and pruned) and whether the chain
// watcher has confirmed it. A successful RBF adds a new Attempt at the
// same depth rather than replacing this one in place, so that — per
// SPEC_FULL.md's "three (or more) active commitments that pairwise
// double-spend each other" — every still-unconfirmed candidate stays
// independently trackable until one of them confirms.
type Attempt struct {
	Session        *Session
	FundingTxIndex uint64
	FeePerKw       chainfee.SatPerKWeight
	Confirmed      bool

	// LiquidityAmt is the acceptor-funded amount this attempt's
	// splice_init/splice_ack liquidity purchase committed to, zero if
	// this attempt carries no liquidity purchase.
	LiquidityAmt btcutil.Amount
}

// RBFTracker holds every live funding attempt for a single channel's
// current funding depth (the initial open, or one splice), enforcing the
// replace-only-the-latest and monotonic-feerate rules SPEC_FULL.md's RBF
// paragraph describes.
type RBFTracker struct {
	attempts []*Attempt
}

// NewRBFTracker starts a tracker with the first (non-RBF) attempt.
func NewRBFTracker(first *Attempt) *RBFTracker {
	return &RBFTracker{attempts: []*Attempt{first}}
}

// Latest returns the most recently proposed attempt — the only one a new
// tx_init_rbf is allowed to replace.
func (t *RBFTracker) Latest() *Attempt {
	return t.attempts[len(t.attempts)-1]
}

// BeginRBF validates and registers a new attempt proposed by tx_init_rbf,
// enforcing SPEC_FULL.md's RBF error cases: a strictly higher feerate
// than every existing attempt, and refusing to replace an attempt that
// has already confirmed or that belongs to a zero-conf channel (which has
// no unconfirmed mempool entry to replace).
func (t *RBFTracker) BeginRBF(msg *lnwire.TxInitRBF, isZeroConf bool,
	newFeePerKw chainfee.SatPerKWeight, newLiquidityAmt btcutil.Amount) (*Attempt, error) {

	latest := t.Latest()
	if latest.Confirmed {
		return nil, newSessionError(ErrKindRBFOfConfirmed,
			"funding tx index %d already confirmed", latest.FundingTxIndex)
	}
	if isZeroConf {
		return nil, newSessionError(ErrKindRBFOfZeroConf,
			"channel is zero-conf, no unconfirmed tx to replace")
	}
	if newFeePerKw <= latest.FeePerKw {
		return nil, newSessionError(ErrKindFeerateBelowMinimum,
			"rbf feerate %v must exceed latest attempt's %v",
			newFeePerKw, latest.FeePerKw)
	}
	if err := requireLiquidityCarryover(latest.LiquidityAmt, newLiquidityAmt); err != nil {
		return nil, err
	}

	attempt := &Attempt{
		FundingTxIndex: latest.FundingTxIndex,
		FeePerKw:       newFeePerKw,
		LiquidityAmt:   newLiquidityAmt,
	}
	t.attempts = append(t.attempts, attempt)
	return attempt, nil
}

// Confirm marks the attempt matching fundingTxIndex as the winner and
// reports the others, which the caller should cancel chain watches on and
// prune (per SPEC_FULL.md's "only one will confirm; the rest are
// pruned on confirmation").
func (t *RBFTracker) Confirm(fundingTxIndex uint64) (winner *Attempt, pruned []*Attempt) {
	var kept []*Attempt
	for _, a := range t.attempts {
		if a.FundingTxIndex == fundingTxIndex && !a.Confirmed {
			a.Confirmed = true
			winner = a
			kept = append(kept, a)
			continue
		}
		if a != winner {
			pruned = append(pruned, a)
		}
	}
	t.attempts = kept
	return winner, pruned
}

// requireLiquidityCarryover enforces SPEC_FULL.md's "missing
// liquidity-purchase on subsequent rbf" error: once a splice's first
// attempt includes a liquidity purchase, every RBF of it must re-quote
// one at the same or a greater amount, since the acceptor's committed
// funds are what backs the earlier attempt's balance split.
func requireLiquidityCarryover(priorAmt, newAmt btcutil.Amount) error {
	if priorAmt > 0 && newAmt < priorAmt {
		return newSessionError(ErrKindMissingLiquidityPurchase,
			"rbf must carry over liquidity purchase of at least %v, got %v",
			priorAmt, newAmt)
	}
	return nil
}
