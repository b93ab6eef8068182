package contractcourt

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/chainntnfs"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwallet"
	"github.com/lightninglabs/htlcengine/shachain"
	"github.com/lightninglabs/htlcengine/sweep"
)

// AltCandidate is one commitment transaction that could legitimately
// settle a live splice or RBF round — the arbitrator watches all of them
// simultaneously and reacts only to whichever one actually confirms.
type AltCandidate struct {
	Kind CloseKind
	Tx   *wire.MsgTx
	Data *lnwallet.ForceCloseSummary
}

// Arbitrator is the top-level force-close reactor for one channel: it
// watches the funding output, classifies whatever transaction spends it,
// and dispatches per-output resolvers for the result. Grounded on the
// teacher's breacharbiter.go (one watcher per channel, one dispatch on
// spend) generalized from "our-commitment-or-breach" to all five
// SPEC_FULL.md §4.5 scenarios, and on chain_watcher.go's
// alternative-commit racing
// (Sumrocks-lnd/contractcourt/chain_watcher.go) for the splice/RBF case.
type Arbitrator struct {
	channel *channeldb.OpenChannel

	notifier  chainntnfs.ChainNotifier
	publisher *sweep.Publisher
	signer    input.Signer
	estimator chainfee.Estimator

	sweepScript []byte
	checkpoint  func(ContractResolver) error
	preimages   PreimageLookup

	quit chan struct{}
}

// NewArbitrator builds an Arbitrator for a channel using its persisted
// configuration and the chain/wallet collaborators every resolver needs.
func NewArbitrator(channel *channeldb.OpenChannel, notifier chainntnfs.ChainNotifier,
	publisher *sweep.Publisher, signer input.Signer, estimator chainfee.Estimator,
	sweepScript []byte, preimages PreimageLookup,
	checkpoint func(ContractResolver) error) *Arbitrator {

	return &Arbitrator{
		channel:     channel,
		notifier:    notifier,
		publisher:   publisher,
		signer:      signer,
		estimator:   estimator,
		sweepScript: sweepScript,
		preimages:   preimages,
		checkpoint:  checkpoint,
		quit:        make(chan struct{}),
	}
}

// Stop cancels the arbitrator's funding-output watch and every resolver
// it spawned.
func (a *Arbitrator) Stop() { close(a.quit) }

// WatchChannel blocks until the funding output is spent, classifies the
// spend, and drives every output's resolution to completion. alts lists
// whatever alternative commitments (from concurrent splice/RBF rounds)
// are also live; exactly one of them, or the registered commitment
// itself, will end up confirming — WatchFundingSpent's altSet and
// WatchAlternativeCommitTxConfirmed together implement the race.
func (a *Arbitrator) WatchChannel(ours *lnwallet.ForceCloseSummary,
	alts []AltCandidate) error {

	altTxids := make([]wire.OutPoint, 0, len(alts))
	for _, alt := range alts {
		altTxids = append(altTxids, wire.OutPoint{
			Hash: alt.Tx.TxHash(), Index: 0,
		})
	}

	spendEvent, err := a.notifier.WatchFundingSpent(&a.channel.FundingOutpoint, altTxids)
	if err != nil {
		return err
	}

	var detail *chainntnfs.SpendDetail
	select {
	case detail = <-spendEvent.Spend:
	case <-a.quit:
		return fmt.Errorf("contractcourt: arbitrator stopped")
	}
	if detail == nil {
		return fmt.Errorf("contractcourt: funding watch closed")
	}

	known := []Candidate{{
		Kind: CloseLocalForce,
		Txid: [32]byte(ours.CloseTx.TxHash()),
		Data: ours,
	}}
	for _, alt := range alts {
		known = append(known, Candidate{
			Kind: alt.Kind,
			Txid: [32]byte(alt.Tx.TxHash()),
			Data: alt.Data,
		})
	}

	openerPayBase := a.channel.LocalChanCfg.PaymentBasePoint.PubKey
	accepterPayBase := a.channel.RemoteChanCfg.PaymentBasePoint.PubKey
	if !a.channel.IsInitiator {
		openerPayBase, accepterPayBase = accepterPayBase, openerPayBase
	}

	classifier := &Classifier{
		OpenerPayBase:   openerPayBase,
		AccepterPayBase: accepterPayBase,
		RevokedUpTo:     a.revokedUpToHeight(),
		LookupSecret:    a.lookupRevocationPrivKey,
	}

	kind, height, secret, err := classifier.Classify(detail.SpendingTx, known)
	if err != nil {
		return err
	}

	var matched *lnwallet.ForceCloseSummary
	switch kind {
	case CloseLocalForce:
		matched = ours
	default:
		for _, alt := range alts {
			if alt.Kind == kind {
				matched = alt.Data
				break
			}
		}
	}

	switch kind {
	case CloseLocalForce, CloseRemoteCurrent, CloseRemoteNext:
		return a.resolveCooperativeLike(detail.SpendingTx, matched, kind,
			uint32(detail.SpendingHeight))

	case CloseRemoteRevoked:
		return a.resolveBreach(detail.SpendingTx, height, secret)

	case CloseFuture:
		return fmt.Errorf(
			"contractcourt: commitment at height %d is beyond our "+
				"last known state; only passive data-loss recovery "+
				"applies, no resolver dispatched", height)
	}

	return nil
}

// revokedUpToHeight reports the first commitment height we have not yet
// revoked past: the remote party's current (not-yet-superseded)
// commitment height, since we only ever advance it after revoking its
// predecessor.
func (a *Arbitrator) revokedUpToHeight() uint64 {
	return a.channel.RemoteCommitment.CommitHeight
}

// lookupRevocationPrivKey recovers the per-commitment secret the
// counterparty revealed for the commitment at height. The penalty
// transactions take this raw secret directly as a SignDescriptor
// DoubleTweak (see lnwallet.MainPenaltyTx/HtlcPenaltyTx) — the signer
// derives the actual revocation private key internally, so the
// arbitrator never needs to compute it itself.
func (a *Arbitrator) lookupRevocationPrivKey(height uint64) (*btcec.PrivateKey, error) {
	index := shachain.CommitHeightToIndex(height)
	secretHash, err := a.channel.RevocationStore.LookUp(index)
	if err != nil {
		return nil, err
	}
	commitSecret, _ := btcec.PrivKeyFromBytes(secretHash[:])
	return commitSecret, nil
}

// resolveCooperativeLike dispatches resolvers for any of the three
// non-breach scenarios: one HTLC resolver per outstanding HTLC and, for
// CloseLocalForce only, one commitSweepResolver for our CSV-delayed
// to_local output. For CloseRemoteCurrent and CloseRemoteNext no resolver
// is dispatched for our main output on the commitment they published.
// spendHeight is the height at which the commitment confirmed.
func (a *Arbitrator) resolveCooperativeLike(spendingTx *wire.MsgTx,
	summary *lnwallet.ForceCloseSummary, kind CloseKind,
	spendHeight uint32) error {

	if summary == nil {
		return fmt.Errorf("contractcourt: no resolution data for matched commitment")
	}

	kit := ResolverKit{
		ChanPoint:       a.channel.FundingOutpoint,
		Notifier:        a.notifier,
		Publisher:       a.publisher,
		Signer:          a.signer,
		Estimator:       a.estimator,
		SweepScript:     a.sweepScript,
		BroadcastHeight: spendHeight,
		Quit:            a.quit,
		Checkpoint:      a.checkpoint,
	}

	if kind == CloseLocalForce {
		toLocalOutpoint := wire.OutPoint{Hash: spendingTx.TxHash(), Index: 0}
		csvDelay := uint32(a.channel.LocalChanCfg.CsvDelay)
		witnessScript, err := input.CommitScriptToSelf(
			csvDelay, summary.Keys.ToLocalKey, summary.Keys.RevocationKey,
		)
		if err != nil {
			return err
		}
		keyTweak := input.SingleTweakBytes(
			summary.Keys.CommitPoint, a.channel.LocalChanCfg.DelayBasePoint.PubKey,
		)
		buildClaim := func(feePerKw chainfee.SatPerKWeight) (*wire.MsgTx, error) {
			amt := btcutil.Amount(spendingTx.TxOut[0].Value)
			fee := feePerKw.FeeForWeight(int64(input.P2WKHWitnessSize) + 200)
			return lnwallet.ClaimMainDelayedTx(
				a.signer, toLocalOutpoint, amt-fee, witnessScript,
				a.sweepScript, csvDelay, a.channel.LocalChanCfg.DelayBasePoint, keyTweak,
			)
		}
		resolver := newCommitSweepResolver(toLocalOutpoint, csvDelay, buildClaim, kit)
		if _, err := resolver.Resolve(); err != nil {
			return err
		}
	}

	for _, res := range summary.HtlcResolutions {
		err := a.resolveHtlc(res, kind, spendingTx.TxHash(), summary, a.preimages, kit)
		if err != nil {
			return err
		}
	}

	return nil
}

// resolveHtlc dispatches the timeout or success resolver appropriate for
// one outstanding HTLC, depending on whether we offered or accepted it.
// commitHash is the confirmed commitment transaction's own hash, not the
// channel's funding outpoint — HTLC outputs live on whichever commitment
// was actually broadcast. summary supplies the fee rate and keys needed
// to build an incoming HTLC's second-level success transaction, which
// (unlike the outgoing/timeout path) ForceClose cannot complete up front
// since it needs a preimage nobody has yet.
func (a *Arbitrator) resolveHtlc(res lnwallet.HtlcResolution, kind CloseKind,
	commitHash chainhashLike, summary *lnwallet.ForceCloseSummary,
	preimages PreimageLookup, kit ResolverKit) error {

	commitOutpoint := wire.OutPoint{
		Hash: commitHash, Index: uint32(res.Htlc.OutputIndex),
	}
	onOurCommit := kind == CloseLocalForce

	if !res.Htlc.Incoming {
		resolver := &htlcTimeoutResolver{
			htlc:           res.Htlc,
			commitOutpoint: commitOutpoint,
			secondLevelTx:  res.SecondLevelTx,
			onOurCommit:    onOurCommit,
			ResolverKit:    kit,
		}
		_, err := resolver.Resolve()
		return err
	}

	htlc := res.Htlc
	resolver := &htlcSuccessResolver{
		htlc:           htlc,
		commitOutpoint: commitOutpoint,
		onOurCommit:    onOurCommit,
		preimages:      preimages,
		ResolverKit:    kit,
	}

	if onOurCommit {
		resolver.buildSecondLevel = func(preimage [32]byte) (*wire.MsgTx, error) {
			successTx, script, err := lnwallet.MakeHtlcSuccessTx(
				commitOutpoint, htlc.Amt.ToSatoshis(), summary.FeePerKw,
				summary.ChanType, summary.Keys, summary.CsvDelay,
			)
			if err != nil {
				return nil, err
			}
			counterpartyDER, err := CompactToDER(htlc.Signature)
			if err != nil {
				return nil, err
			}
			err = lnwallet.SignHtlcSuccessTx(
				a.signer, successTx, script, htlc.Amt.ToSatoshis(),
				a.channel.LocalChanCfg.HtlcBasePoint, summary.Keys.LocalHtlcKeyTweak,
				append(counterpartyDER, byte(txscript.SigHashAll)), preimage[:],
			)
			if err != nil {
				return nil, err
			}
			return successTx, nil
		}
	} else {
		resolver.buildDirectClaim = func(preimage [32]byte) (*wire.MsgTx, error) {
			script, err := input.ReceiverHTLCScript(
				htlc.RefundTimeout, summary.Keys.LocalHtlcKey,
				summary.Keys.RemoteHtlcKey, summary.Keys.RevocationKey, htlc.RHash[:],
			)
			if err != nil {
				return nil, err
			}
			return lnwallet.ClaimHtlcSuccessTx(
				a.signer, commitOutpoint, htlc.Amt.ToSatoshis(), script,
				a.sweepScript, a.channel.LocalChanCfg.HtlcBasePoint,
				summary.Keys.LocalHtlcKeyTweak, preimage[:],
			)
		}
	}

	_, err := resolver.Resolve()
	return err
}

// resolveBreach dispatches the penalty-path resolver once the remote
// party has published a commitment we'd already revoked.
func (a *Arbitrator) resolveBreach(spendingTx *wire.MsgTx, height uint64,
	secret *btcec.PrivateKey) error {

	kit := ResolverKit{
		ChanPoint:   a.channel.FundingOutpoint,
		Notifier:    a.notifier,
		Publisher:   a.publisher,
		Signer:      a.signer,
		Estimator:   a.estimator,
		SweepScript: a.sweepScript,
		Quit:        a.quit,
		Checkpoint:  a.checkpoint,
	}

	resolver := &breachResolver{
		commitOutpoint: wire.OutPoint{Hash: spendingTx.TxHash(), Index: 0},
		commitSecret:   secret,
		revocationBase: a.channel.LocalChanCfg.RevocationBasePoint,
		ResolverKit:    kit,
	}

	_, err := resolver.Resolve()
	return err
}
