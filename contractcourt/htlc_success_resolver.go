package contractcourt

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/sweep"
)

// PreimageLookup resolves an HTLC's payment hash to its preimage, once
// known. A force close cannot complete an incoming HTLC's success path
// until the preimage surfaces — from a downstream settle, or from
// witness data on a spend of the matching output elsewhere on chain.
type PreimageLookup interface {
	LookupPreimage(hash [32]byte) ([32]byte, bool)
}

// htlcSuccessResolver claims an HTLC accepted by us, once we learn its
// payment preimage: on our own commitment, via the pre-signed
// second-level success transaction (which additionally needs the
// preimage to complete its witness); on the remote's commitment, via a
// single direct redemption. Mirrors htlcTimeoutResolver's two-path
// shape, grounded on the pack's htlc_success_resolver.go
// (kaotisk-hund-cjdcoind/lnd/contractcourt), adapted to this engine's
// resolver kit and synchronous Resolve style.
type htlcSuccessResolver struct {
	htlc           channeldb.HTLC
	commitOutpoint wire.OutPoint
	onOurCommit    bool

	preimages PreimageLookup

	// buildSecondLevel completes the second-level success transaction
	// once the preimage is known; unused on the remote-commitment
	// path, where buildDirectClaim is used instead.
	buildSecondLevel func(preimage [32]byte) (*wire.MsgTx, error)
	buildDirectClaim func(preimage [32]byte) (*wire.MsgTx, error)

	outputIncubating bool
	resolved         bool

	ResolverKit
}

func (h *htlcSuccessResolver) ResolverKey() []byte {
	key := newResolverID(h.commitOutpoint)
	return key[:]
}

// Resolve looks up the preimage first and, if it is not known, returns an
// error without publishing anything (the pre-publication check in
// SPEC_FULL.md's §4.5); otherwise it completes and publishes the
// appropriate claim path.
func (h *htlcSuccessResolver) Resolve() (ContractResolver, error) {
	if h.resolved {
		return nil, nil
	}

	preimage, ok := h.preimages.LookupPreimage(h.htlc.RHash)
	if !ok {
		return nil, fmt.Errorf(
			"contractcourt: preimage for %x not yet known, skipping "+
				"htlc-success publication", h.htlc.RHash)
	}

	if h.onOurCommit {
		if !h.outputIncubating {
			tx, err := h.buildSecondLevel(preimage)
			if err != nil {
				return nil, err
			}
			rebuild := func(chainfee.SatPerKWeight) (*wire.MsgTx, error) { return tx, nil }
			txid := tx.TxHash()
			if err := h.Publisher.PublishReplaceable(
				txid, rebuild, sweep.AtPriority(sweep.PriorityFast), h.Quit,
			); err != nil {
				return nil, err
			}

			h.outputIncubating = true
			if err := h.Checkpoint(h); err != nil {
				return nil, err
			}

			if err := h.waitForConf(tx, 1); err != nil {
				return nil, err
			}

			delayOutpoint := wire.OutPoint{Hash: tx.TxHash(), Index: 0}
			if _, err := h.waitForSpend(&delayOutpoint); err != nil {
				return nil, err
			}
		}
	} else {
		tx, err := h.buildDirectClaim(preimage)
		if err != nil {
			return nil, err
		}
		rebuild := func(chainfee.SatPerKWeight) (*wire.MsgTx, error) { return tx, nil }
		txid := tx.TxHash()
		if err := h.Publisher.PublishReplaceable(
			txid, rebuild, sweep.AtPriority(sweep.PriorityFast), h.Quit,
		); err != nil {
			return nil, err
		}

		if err := h.waitForConf(tx, 1); err != nil {
			return nil, err
		}
	}

	h.resolved = true
	return nil, h.Checkpoint(h)
}

func (h *htlcSuccessResolver) IsResolved() bool { return h.resolved }

func (h *htlcSuccessResolver) Stop() { close(h.Quit) }

func (h *htlcSuccessResolver) Encode(w io.Writer) error {
	_, err := w.Write(h.htlc.RHash[:])
	return err
}

var _ ContractResolver = (*htlcSuccessResolver)(nil)
