package contractcourt

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/sweep"
)

// htlcTimeoutResolver handles an HTLC we offered. On our own commitment
// it broadcasts the pre-signed second-level timeout transaction (with the
// HTLC's CLTV expiry as its confirmation target), waits for it to
// confirm, and then waits for that transaction's CSV-delayed output to be
// spent; it does not publish a sweep of that output itself. On the remote
// party's commitment it only waits for the HTLC output to be spent; it
// does not publish a direct timeout claim. Adapted from the teacher's
// htlcTimeoutResolver (same file, same shape) to this engine's
// ForceCloseSummary/HtlcResolution types and chainntnfs/sweep
// collaborators in place of the teacher's utxo nursery.
type htlcTimeoutResolver struct {
	htlc           channeldb.HTLC
	commitOutpoint wire.OutPoint
	secondLevelTx  *wire.MsgTx

	// onOurCommit distinguishes the two-stage (our commitment) path
	// from the one-stage (remote commitment) path.
	onOurCommit bool

	outputIncubating bool
	resolved         bool

	ResolverKit
}

// ResolverKey identifies this resolver by the HTLC's outpoint on the
// commitment that carries it — the second-level transaction's input, if
// this is our commitment, or the commitment output itself otherwise.
func (h *htlcTimeoutResolver) ResolverKey() []byte {
	var op wire.OutPoint
	if h.secondLevelTx != nil {
		op = h.secondLevelTx.TxIn[0].PreviousOutPoint
	} else {
		op = h.commitOutpoint
	}
	key := newResolverID(op)
	return key[:]
}

// Resolve drives the offered HTLC's timeout path. On our own commitment
// this means: publish the pre-signed second-level transaction with the
// CLTV expiry as its confirmation target, wait for it to confirm, then
// wait for its CSV-delayed output to be spent. On the remote's commitment
// it waits for the HTLC output to be spent. Neither path publishes a
// sweep transaction of its own.
func (h *htlcTimeoutResolver) Resolve() (ContractResolver, error) {
	if h.resolved {
		return nil, nil
	}

	if h.onOurCommit {
		if !h.outputIncubating {
			target := sweep.Absolute(h.htlc.RefundTimeout)
			rebuild := func(chainfee.SatPerKWeight) (*wire.MsgTx, error) {
				return h.secondLevelTx, nil
			}
			txid := h.secondLevelTx.TxHash()
			if err := h.Publisher.PublishReplaceable(
				txid, rebuild, target, h.Quit,
			); err != nil {
				return nil, err
			}

			h.outputIncubating = true
			if err := h.Checkpoint(h); err != nil {
				return nil, err
			}
		}

		if err := h.waitForConf(h.secondLevelTx, 1); err != nil {
			return nil, err
		}

		delayOutpoint := wire.OutPoint{Hash: h.secondLevelTx.TxHash(), Index: 0}
		if _, err := h.waitForSpend(&delayOutpoint); err != nil {
			return nil, err
		}
	} else {
		if _, err := h.waitForSpend(&h.commitOutpoint); err != nil {
			return nil, err
		}
	}

	h.resolved = true
	return nil, h.Checkpoint(h)
}

func (h *htlcTimeoutResolver) IsResolved() bool { return h.resolved }

func (h *htlcTimeoutResolver) Stop() { close(h.Quit) }

func (h *htlcTimeoutResolver) Encode(w io.Writer) error {
	if _, err := w.Write(h.htlc.RHash[:]); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d", h.htlc.HtlcIndex)
	return err
}

var _ ContractResolver = (*htlcTimeoutResolver)(nil)
