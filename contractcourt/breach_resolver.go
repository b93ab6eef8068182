package contractcourt

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwallet"
	"github.com/lightninglabs/htlcengine/sweep"
)

// breachResolver carries out the penalty path (CloseRemoteRevoked): the
// counterparty published a commitment they'd already revoked, handing us
// the per-commitment secret that unlocks every output on it. Grounded on
// breacharbiter.go's createJusticeTx, generalized from that function's
// single combined two-input transaction into one independent
// fee-escalating transaction per penalty output — main and each HTLC on
// the revoked commitment — so a slow confirmation on one output never
// holds up the others, and so PublishReplaceable's per-output rebuild
// closure can re-derive each claim at a higher feerate without needing
// to re-sign every other input in lockstep. Second-level HTLC
// transactions the counterparty publishes afterward are not claimed by
// this resolver.
type breachResolver struct {
	commitOutpoint wire.OutPoint
	commitSecret   *btcec.PrivateKey
	revocationBase input.KeyDescriptor

	mainPenalty *penaltyOutput
	htlcs       []*htlcBreach

	resolved bool

	ResolverKit
}

// penaltyOutput is one output claimable via the revocation clause.
type penaltyOutput struct {
	outpoint      wire.OutPoint
	amt           btcutil.Amount
	witnessScript []byte
}

// htlcBreach is one breached HTLC output, plus the revocation public key
// its penalty witness carries; Resolve passes both the witness script and
// that key to lnwallet.HtlcPenaltyTx.
type htlcBreach struct {
	htlc          channeldb.HTLC
	outpoint      wire.OutPoint
	witnessScript []byte
	revocationKey *btcec.PublicKey
}

func (b *breachResolver) ResolverKey() []byte {
	key := newResolverID(b.commitOutpoint)
	return key[:]
}

// Resolve publishes a penalty transaction for the main output (if
// present — the counterparty may have swept an already-dust to_local
// output into fee) and one for each breached HTLC, then waits for every
// one of them to confirm.
func (b *breachResolver) Resolve() (ContractResolver, error) {
	if b.resolved {
		return nil, nil
	}

	var pending []*wire.MsgTx

	if b.mainPenalty != nil {
		rebuild := func(feePerKw chainfee.SatPerKWeight) (*wire.MsgTx, error) {
			fee := feePerKw.FeeForWeight(int64(input.P2WKHWitnessSize) + 200)
			if b.mainPenalty.amt <= fee {
				return nil, errOutputBelowFee
			}
			return lnwallet.MainPenaltyTx(
				b.Signer, b.mainPenalty.outpoint, b.mainPenalty.amt-fee,
				b.mainPenalty.witnessScript, b.SweepScript,
				b.revocationBase, b.commitSecret,
			)
		}
		tx, err := rebuild(chainfee.FeePerKwFloor)
		if err != nil {
			return nil, err
		}
		if err := b.Publisher.PublishReplaceable(
			tx.TxHash(), rebuild, sweep.AtPriority(sweep.PriorityFast), b.Quit,
		); err != nil {
			return nil, err
		}
		pending = append(pending, tx)
	}

	for _, h := range b.htlcs {
		h := h
		rebuild := func(feePerKw chainfee.SatPerKWeight) (*wire.MsgTx, error) {
			fee := feePerKw.FeeForWeight(int64(input.P2WKHWitnessSize) + 200)
			amt := h.htlc.Amt.ToSatoshis()
			if amt <= fee {
				return nil, errOutputBelowFee
			}
			return lnwallet.HtlcPenaltyTx(
				b.Signer, h.outpoint, amt-fee, h.witnessScript, b.SweepScript,
				b.revocationBase, b.commitSecret, h.revocationKey,
			)
		}
		tx, err := rebuild(chainfee.FeePerKwFloor)
		if err != nil {
			return nil, err
		}
		if err := b.Publisher.PublishReplaceable(
			tx.TxHash(), rebuild, sweep.AtPriority(sweep.PriorityFast), b.Quit,
		); err != nil {
			return nil, err
		}
		pending = append(pending, tx)
	}

	for _, tx := range pending {
		if err := b.waitForConf(tx, 1); err != nil {
			return nil, err
		}
	}

	b.resolved = true
	return nil, b.Checkpoint(b)
}

func (b *breachResolver) IsResolved() bool { return b.resolved }

func (b *breachResolver) Stop() { close(b.Quit) }

func (b *breachResolver) Encode(w io.Writer) error {
	_, err := w.Write(b.commitOutpoint.Hash[:])
	return err
}

var _ ContractResolver = (*breachResolver)(nil)

// errOutputBelowFee is returned by a penalty rebuild closure once
// escalating fees would consume the entire output; the publisher's
// escalation loop simply stops trying to bump further at that point.
var errOutputBelowFee = &belowFeeError{}

type belowFeeError struct{}

func (*belowFeeError) Error() string { return "contractcourt: penalty output below current fee" }
