package contractcourt

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/lnwallet"
)

// CloseKind is the five-way classification SPEC_FULL.md's §4.5 assigns
// to an observed spend of a channel's funding output.
type CloseKind int

const (
	// CloseLocalForce is our own latest commitment, published by us.
	CloseLocalForce CloseKind = iota

	// CloseRemoteCurrent is the remote party's current (not yet
	// revoked) commitment, published by them.
	CloseRemoteCurrent

	// CloseRemoteNext is the remote party's next commitment — one
	// we've already signed but they haven't yet revoked their
	// predecessor for, so it could legitimately be published.
	CloseRemoteNext

	// CloseRemoteRevoked is a commitment the remote party revoked by
	// sending us its per-commitment secret, then published anyway —
	// a breach. The penalty path applies.
	CloseRemoteRevoked

	// CloseFuture is a commitment from beyond any state we
	// participated in — recoverable only passively, via a previously
	// received option_data_loss_protect point.
	CloseFuture
)

// Candidate is one commitment transaction the reactor already knows how
// to react to, because it built (or was given) the transaction itself:
// our own latest commitment, the remote's current commitment, or the
// remote's next (already-signed, not-yet-revoked) one. Classification
// for the two remaining cases — a revoked commitment, or a future one —
// is done by unobscuring the observed transaction's own commitment
// number instead, since we hold no pre-built candidate for either.
type Candidate struct {
	Kind CloseKind
	Txid chainhashLike
	Data *lnwallet.ForceCloseSummary
}

// chainhashLike avoids importing chainhash here solely for a field type;
// classify.go only ever compares these for equality against an observed
// TxHash(), so a plain [32]byte alias suffices.
type chainhashLike = [32]byte

// Classifier holds everything needed to resolve the two candidate-less
// cases: the parties' payment basepoints (to unobscure the commitment
// number BOLT3 embeds in locktime/sequence) and the revocation chain
// (to tell a revoked height apart from a future one).
type Classifier struct {
	OpenerPayBase, AccepterPayBase *btcec.PublicKey

	// RevokedUpTo is the first commitment height NOT yet revoked —
	// every height strictly below it has a secret available through
	// LookupSecret.
	RevokedUpTo uint64

	// LookupSecret returns the per-commitment secret revealed at
	// height, if the channel has it.
	LookupSecret func(height uint64) (*btcec.PrivateKey, error)
}

// Classify identifies which of the five force-close scenarios the
// observed transaction matches. known is consulted first since it's
// exact; falling through to commitment-number unobscuring only happens
// for a transaction that matches none of our own pre-built candidates.
func (c *Classifier) Classify(spendingTx *wire.MsgTx,
	known []Candidate) (CloseKind, uint64, *btcec.PrivateKey, error) {

	txid := spendingTx.TxHash()
	for _, cand := range known {
		if [32]byte(txid) == cand.Txid {
			return cand.Kind, 0, nil, nil
		}
	}

	if len(spendingTx.TxIn) == 0 {
		return 0, 0, nil, fmt.Errorf("contractcourt: spending tx has no inputs")
	}

	height := lnwallet.UnobscureCommitNumber(
		c.OpenerPayBase, c.AccepterPayBase,
		spendingTx.LockTime, spendingTx.TxIn[0].Sequence,
	)

	if height >= c.RevokedUpTo {
		// Neither a known candidate nor a height we've already
		// revoked past: this is a state we never signed off on, or
		// information about it was lost (e.g. restored from seed).
		return CloseFuture, height, nil, nil
	}

	secret, err := c.LookupSecret(height)
	if err != nil {
		return 0, height, nil, fmt.Errorf(
			"contractcourt: revoked commitment at height %d but no "+
				"secret on file: %w", height, err)
	}

	return CloseRemoteRevoked, height, secret, nil
}
