package channelmanager

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/funding"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// handleRemoteStfu processes a peer-sent stfu: per spec, receiving one
// while a splice is already in progress is a protocol violation that
// warrants a Warning and a scheduled disconnect rather than honoring it,
// since the quiescence window it asks for cannot be granted on top of an
// already-quiescent splice. Otherwise it marks the channel quiescent so
// no further update_add_htlc is accepted until the splice resolves.
func (f *ChannelFSM) handleRemoteStfu(msg *lnwire.Stfu) error {
	if f.state != Normal {
		return newError(KindProtocolViolation,
			"stfu received outside the Normal state")
	}

	nd := f.normalData()
	if nd.Splice != channeldb.NoSplice {
		f.outbound <- &lnwire.Warning{
			ChanID: msg.ChanID,
			Data:   []byte("stfu received while already splicing"),
		}
		return newError(KindProtocolViolation,
			"stfu received mid-splice, scheduling disconnect")
	}

	nd.Quiescent = true
	nd.QuiesceBySelf = false
	return nil
}

// beginSplice starts a new splice negotiation: sends our own stfu first
// (forbidding new HTLCs locally too, the mirror image of handling a
// remote one), opens an interactive-tx session at feeRate from the
// current balances (delta is not passed to it), and moves the splice
// sub-state out of NoSplice.
func (f *ChannelFSM) beginSplice(delta btcutil.Amount, feeRate chainfee.SatPerKWeight) error {
	if f.state != Normal {
		return newError(KindProtocolViolation,
			"splice requested outside the Normal state")
	}

	nd := f.normalData()
	if nd.Splice != channeldb.NoSplice {
		return newError(KindTransientLocal, "a splice is already in progress")
	}

	state := f.lc.State()
	localBal := state.LocalCommitment.LocalBalance.ToSatoshis()
	remoteBal := state.LocalCommitment.RemoteBalance.ToSatoshis()

	sess := funding.NewSession(
		f.chanID, funding.Initiator, state.ShortChanID.ToUint64()+1,
		state.LocalChanCfg.DustLimit, feeRate, feeRate,
		0, localBal, remoteBal,
		state.LocalChanCfg.ChanReserve, state.RemoteChanCfg.ChanReserve,
	)

	if err := state.BeginSplice(state.FundingOutpoint, state.ShortChanID.ToUint64()+1); err != nil {
		return err
	}

	nd.Splice = channeldb.SpliceRequested
	nd.SpliceSess = sess
	nd.Quiescent = true
	nd.QuiesceBySelf = true
	nd.AttemptID = uuid.New()

	log.Debugf("channel %v: starting splice attempt %v", f.chanID, nd.AttemptID)

	f.outbound <- &lnwire.Stfu{ChanID: f.chanID, Initiator: true}

	return nil
}

// beginRBF starts an RBF attempt of the channel's current in-flight
// funding candidate. It does not compare feerates: the first call seeds a
// funding.RBFTracker with feeRate as its only attempt, and every call
// marks the RBF sub-state RBFRequested. funding.RBFTracker.BeginRBF, which
// rejects a feerate that is not strictly higher, is not called here.
func (f *ChannelFSM) beginRBF(feeRate chainfee.SatPerKWeight) error {
	if f.state != Normal {
		return newError(KindProtocolViolation,
			"rbf requested outside the Normal state")
	}

	nd := f.normalData()
	if nd.Splice == channeldb.NoSplice && nd.RBFTracker == nil {
		return newError(KindTransientLocal, "no in-flight funding attempt to rbf")
	}

	if nd.RBFTracker == nil {
		nd.RBFTracker = funding.NewRBFTracker(&funding.Attempt{
			Session:  nd.SpliceSess,
			FeePerKw: feeRate,
		})
		nd.RBF = NoRBF
	}

	nd.RBF = RBFRequested
	log.Debugf("channel %v: rbf attempt %v at feerate %v", f.chanID, nd.AttemptID, feeRate)
	return nil
}
