// Package lnwallet builds and signs the transactions a channel's commitment
// chain is made of: the commitment transaction itself, its HTLC outputs,
// the second-level HTLC-success/HTLC-timeout transactions, and every
// unilateral/cooperative claim transaction that spends out of them. It
// generalizes the teacher's lnwallet/channel.go commitment-construction
// code (commitmentKeyRing, deriveCommitmentKeys, the output-sorting and
// dust-trimming logic folded into the old CommitmentSpec) from the
// package's single shared revocation hash onto channeldb's per-commitment
// ChannelConfig/ChannelCommitment types and the input package's BOLT3 key
// derivation.
package lnwallet

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// CommitmentKeyRing holds every key derived for one side's view of one
// commitment height. It generalizes the teacher's commitmentKeyRing
// (lnwallet/channel.go:769) from a single hard-coded local/remote pair to
// explicit ToLocal/ToRemote roles so the same struct serves either party's
// perspective without the caller juggling "ours vs theirs" separately.
type CommitmentKeyRing struct {
	// CommitPoint is the per-commitment point this ring was derived
	// against.
	CommitPoint *btcec.PublicKey

	// ToLocalKey is the key guarding the to_local output on this
	// commitment: spendable after CsvDelay by its owner, or immediately
	// by RevocationKey.
	ToLocalKey *btcec.PublicKey

	// ToRemoteKey is the key the counterparty sweeps the to_remote
	// output with; unencumbered under DefaultSegwit, CSV-1 gated under
	// the anchor formats.
	ToRemoteKey *btcec.PublicKey

	// LocalHtlcKey and RemoteHtlcKey are the tweaked keys each side uses
	// in HTLC scripts on this commitment.
	LocalHtlcKey  *btcec.PublicKey
	RemoteHtlcKey *btcec.PublicKey

	// RevocationKey is this commitment's homomorphically-derived
	// revocation key; its matching private key becomes known to the
	// counterparty the moment this commitment is superseded and its
	// per-commitment secret revealed.
	RevocationKey *btcec.PublicKey

	// LocalHtlcKeyTweak is the single-tweak applied to the local HTLC
	// base point to arrive at LocalHtlcKey, recorded so a SignDescriptor
	// can reproduce it.
	LocalHtlcKeyTweak []byte

	// ToLocalKeyTweak is the corresponding tweak for ToLocalKey.
	ToLocalKeyTweak []byte
}

// DeriveCommitmentKeys computes every key needed to build or spend one
// party's commitment transaction at a given per-commitment point.
// ownerLocal selects whose commitment this is: true derives the keys for
// localChanCfg's owner's own commitment (ToLocalKey comes from
// localChanCfg's delay base point), false derives them for the
// commitment localChanCfg's owner is viewing of the counterparty's side.
func DeriveCommitmentKeys(commitPoint *btcec.PublicKey, ownerLocal bool,
	localChanCfg, remoteChanCfg *channeldb.ChannelConfig) *CommitmentKeyRing {

	ring := &CommitmentKeyRing{CommitPoint: commitPoint}

	ring.LocalHtlcKeyTweak = input.SingleTweakBytes(
		commitPoint, localChanCfg.HtlcBasePoint.PubKey,
	)
	ring.LocalHtlcKey = input.TweakPubKey(
		localChanCfg.HtlcBasePoint.PubKey, commitPoint,
	)
	ring.RemoteHtlcKey = input.TweakPubKey(
		remoteChanCfg.HtlcBasePoint.PubKey, commitPoint,
	)

	// The revocation key is always derived against the counterparty's
	// revocation base point, so that only the party who did not publish
	// the commitment can compute its private key, and only once the owner
	// has revealed the per-commitment secret: on our own commitment it's
	// the remote's revocation base point in play; on the remote's
	// commitment it's ours.
	var delayBase, noDelayBase, revokeBase *input.KeyDescriptor
	if ownerLocal {
		delayBase = &localChanCfg.DelayBasePoint
		noDelayBase = &remoteChanCfg.PaymentBasePoint
		revokeBase = &remoteChanCfg.RevocationBasePoint
	} else {
		delayBase = &remoteChanCfg.DelayBasePoint
		noDelayBase = &localChanCfg.PaymentBasePoint
		revokeBase = &localChanCfg.RevocationBasePoint
	}

	ring.ToLocalKeyTweak = input.SingleTweakBytes(commitPoint, delayBase.PubKey)
	ring.ToLocalKey = input.TweakPubKey(delayBase.PubKey, commitPoint)
	ring.ToRemoteKey = input.TweakPubKey(noDelayBase.PubKey, commitPoint)
	ring.RevocationKey = input.DeriveRevocationPubkey(revokeBase.PubKey, commitPoint)

	return ring
}

// CommitmentSpec is the channel's balance sheet at one commitment height,
// before it has been turned into scripts and outputs: the generalized
// successor of the teacher's CommitmentSpec, narrowed to exactly what
// make_commit_tx_outputs needs.
type CommitmentSpec struct {
	Htlcs         []channeldb.HTLC
	FeePerKw      chainfee.SatPerKWeight
	LocalBalance  lnwire.MilliSatoshi
	RemoteBalance lnwire.MilliSatoshi
}

// CommitOutputKind tags which of the six possible commitment output types
// a CommitmentOutput is, per SPEC_FULL.md's output-construction contract.
type CommitOutputKind uint8

const (
	OutputToLocal CommitOutputKind = iota
	OutputToRemote
	OutputOfferedHTLC
	OutputReceivedHTLC
	OutputAnchor
)

// CommitmentOutput is one output make_commit_tx_outputs places on a
// commitment transaction, carrying enough of its witness script alongside
// the raw wire.TxOut so a later claim transaction doesn't need to
// re-derive it.
type CommitmentOutput struct {
	Kind          CommitOutputKind
	Amount        btcutil.Amount
	PkScript      []byte
	WitnessScript []byte
	Htlc          *channeldb.HTLC
	CltvExpiry    uint32
}

// commitWeight is the fixed, HTLC-independent weight of a commitment
// transaction: version/locktime/input/two-anchor-or-not baseline from
// input.EstimateCommitTxWeight with zero HTLCs.
func commitWeight(format input.CommitmentFormat) int64 {
	return input.EstimateCommitTxWeight(0, format, false)
}

// htlcTrimThreshold returns the amount, in satoshis, below which an HTLC
// of the given direction must be trimmed from the commitment transaction:
// BOLT3 omits any HTLC whose value wouldn't cover its own second-level
// claim transaction's fee plus the dust limit, rather than let the
// commitment transaction carry an output nobody could profitably spend.
func htlcTrimThreshold(offered bool, feePerKw chainfee.SatPerKWeight,
	dustLimit btcutil.Amount, format input.CommitmentFormat) btcutil.Amount {

	if offered {
		return dustLimit + btcutil.Amount(input.HtlcTimeoutFee(int64(feePerKw), format))
	}
	return dustLimit + btcutil.Amount(input.HtlcSuccessFee(int64(feePerKw), format))
}

// CommitTxOutputs builds the ordered, dust-trimmed output set for one
// commitment transaction, implementing SPEC_FULL.md's
// make_commit_tx_outputs. ownerLocal selects which side's
// delay/penalty branch ToLocal gets; localIsInitiator selects which
// balance absorbs the commitment fee, per BOLT3 (the channel funder always
// pays commitment fees, regardless of whose commitment is being built).
func CommitTxOutputs(format input.CommitmentFormat, ownerLocal, localIsInitiator bool,
	dustLimit btcutil.Amount, spec *CommitmentSpec,
	keys *CommitmentKeyRing, csvDelay uint32) ([]CommitmentOutput, btcutil.Amount, error) {

	var (
		outputs      []CommitmentOutput
		trimmedValue btcutil.Amount
		includedHtlc int
	)

	for i := range spec.Htlcs {
		htlc := spec.Htlcs[i]
		amt := htlc.Amt.ToSatoshis()

		// Incoming (to us) means the remote offered it; outgoing
		// means we offered it. Either way "offered" below means
		// offered by the party whose own commitment this is.
		offeredByOwner := htlc.Incoming == !ownerLocal

		threshold := htlcTrimThreshold(offeredByOwner, spec.FeePerKw, dustLimit, format)
		if amt < threshold {
			trimmedValue += amt
			continue
		}

		out, err := htlcOutput(offeredByOwner, format, &htlc, keys)
		if err != nil {
			return nil, 0, err
		}
		outputs = append(outputs, out)
		includedHtlc++
	}

	weight := commitWeight(format) + int64(includedHtlc)*input.HTLCWeight
	fee := btcutil.Amount(int64(spec.FeePerKw) * weight / 1000)
	fee += trimmedValue

	localAmt := int64(spec.LocalBalance.ToSatoshis())
	remoteAmt := int64(spec.RemoteBalance.ToSatoshis())
	if localIsInitiator {
		localAmt -= int64(fee)
	} else {
		remoteAmt -= int64(fee)
	}
	if localAmt < 0 {
		localAmt = 0
	}
	if remoteAmt < 0 {
		remoteAmt = 0
	}

	if btcutil.Amount(localAmt) >= dustLimit {
		out, err := toLocalOutput(btcutil.Amount(localAmt), csvDelay, keys)
		if err != nil {
			return nil, 0, err
		}
		outputs = append(outputs, out)
	}
	if btcutil.Amount(remoteAmt) >= dustLimit {
		out, err := toRemoteOutput(btcutil.Amount(remoteAmt), format, keys)
		if err != nil {
			return nil, 0, err
		}
		outputs = append(outputs, out)
	}

	if format == input.AnchorOutputs || format == input.ZeroFeeAnchorOutputs {
		for _, k := range []*btcec.PublicKey{keys.ToLocalKey, keys.ToRemoteKey} {
			anchorScript, err := input.CommitScriptAnchor(k)
			if err != nil {
				return nil, 0, err
			}
			pkScript, err := input.WitnessScriptHash(anchorScript)
			if err != nil {
				return nil, 0, err
			}
			outputs = append(outputs, CommitmentOutput{
				Kind:          OutputAnchor,
				Amount:        input.AnchorSize,
				PkScript:      pkScript,
				WitnessScript: anchorScript,
			})
		}
	}

	sortCommitmentOutputs(outputs)

	return outputs, fee, nil
}

func htlcOutput(offeredByOwner bool, format input.CommitmentFormat,
	htlc *channeldb.HTLC, keys *CommitmentKeyRing) (CommitmentOutput, error) {

	var (
		script []byte
		err    error
		kind   CommitOutputKind
	)
	if offeredByOwner {
		script, err = input.SenderHTLCScript(
			keys.LocalHtlcKey, keys.RemoteHtlcKey, keys.RevocationKey,
			htlc.RHash[:],
		)
		kind = OutputOfferedHTLC
	} else {
		script, err = input.ReceiverHTLCScript(
			htlc.RefundTimeout, keys.LocalHtlcKey, keys.RemoteHtlcKey,
			keys.RevocationKey, htlc.RHash[:],
		)
		kind = OutputReceivedHTLC
	}
	if err != nil {
		return CommitmentOutput{}, err
	}

	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return CommitmentOutput{}, err
	}

	return CommitmentOutput{
		Kind:          kind,
		Amount:        htlc.Amt.ToSatoshis(),
		PkScript:      pkScript,
		WitnessScript: script,
		Htlc:          htlc,
		CltvExpiry:    htlc.RefundTimeout,
	}, nil
}

func toLocalOutput(amt btcutil.Amount, csvDelay uint32,
	keys *CommitmentKeyRing) (CommitmentOutput, error) {

	script, err := input.CommitScriptToSelf(csvDelay, keys.ToLocalKey, keys.RevocationKey)
	if err != nil {
		return CommitmentOutput{}, err
	}
	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return CommitmentOutput{}, err
	}
	return CommitmentOutput{
		Kind: OutputToLocal, Amount: amt,
		PkScript: pkScript, WitnessScript: script,
	}, nil
}

func toRemoteOutput(amt btcutil.Amount, format input.CommitmentFormat,
	keys *CommitmentKeyRing) (CommitmentOutput, error) {

	if format == input.DefaultSegwit {
		pkScript, err := input.CommitScriptUnencumbered(keys.ToRemoteKey)
		if err != nil {
			return CommitmentOutput{}, err
		}
		return CommitmentOutput{Kind: OutputToRemote, Amount: amt, PkScript: pkScript}, nil
	}

	script, err := input.CommitScriptToRemoteConfirmed(keys.ToRemoteKey)
	if err != nil {
		return CommitmentOutput{}, err
	}
	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return CommitmentOutput{}, err
	}
	return CommitmentOutput{
		Kind: OutputToRemote, Amount: amt,
		PkScript: pkScript, WitnessScript: script,
	}, nil
}

// sortCommitmentOutputs applies SPEC_FULL.md's deterministic commitment
// output order: ascending amount, then ascending lexicographic pkScript,
// then (for HTLC outputs still tied on both) ascending CLTV expiry. BIP69
// covers the first two tie-breaks; the third is BOLT3's HTLC-specific
// addition for outputs BIP69 alone can't separate (two offered HTLCs of
// the same amount and payment hash have identical scripts, since the
// offered-HTLC script does not contain the CLTV expiry, so CLTV is the
// deciding field in that corner case).
func sortCommitmentOutputs(outputs []CommitmentOutput) {
	sort.SliceStable(outputs, func(i, j int) bool {
		a, b := outputs[i], outputs[j]
		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}
		if cmp := bytes.Compare(a.PkScript, b.PkScript); cmp != 0 {
			return cmp < 0
		}
		return a.CltvExpiry < b.CltvExpiry
	})
}

// obscuringFactor computes BOLT3's 48-bit commitment-number mask: the low
// 48 bits of SHA256(opener_payment_basepoint || accepter_payment_basepoint).
// Masking the commitment number into the transaction's locktime/sequence
// fields, rather than a plaintext height field, is what lets two
// commitment transactions for the same channel and height be
// bit-distinguishable from any outside observer without revealing how many
// updates the channel has seen.
func obscuringFactor(openerPayBase, accepterPayBase *btcec.PublicKey) uint64 {
	h := sha256.New()
	h.Write(openerPayBase.SerializeCompressed())
	h.Write(accepterPayBase.SerializeCompressed())
	sum := h.Sum(nil)

	var factor uint64
	for _, b := range sum[26:32] {
		factor = (factor << 8) | uint64(b)
	}
	return factor
}

// ObscureCommitNumber returns the locktime/sequence pair make_commit_tx
// encodes commitNumber into, masked by the obscuring factor derived from
// both parties' payment base points in opener-then-accepter order
// regardless of which side is building the transaction.
func ObscureCommitNumber(openerPayBase, accepterPayBase *btcec.PublicKey,
	commitNumber uint64) (locktime, sequence uint32) {

	obscured := commitNumber ^ obscuringFactor(openerPayBase, accepterPayBase)

	locktime = uint32(0x20000000) | uint32(obscured&0xffffff)
	sequence = uint32(0x80000000) | uint32((obscured>>24)&0xffffff)
	return locktime, sequence
}

// UnobscureCommitNumber inverts ObscureCommitNumber given a transaction's
// locktime/sequence fields.
func UnobscureCommitNumber(openerPayBase, accepterPayBase *btcec.PublicKey,
	locktime, sequence uint32) uint64 {

	obscured := (uint64(sequence&0xffffff) << 24) | uint64(locktime&0xffffff)
	return obscured ^ obscuringFactor(openerPayBase, accepterPayBase)
}

// MakeCommitTx implements make_commit_tx: it assembles the unsigned
// commitment transaction from the funding outpoint, the obscured
// commitment number, and the already-built, already-ordered output set.
func MakeCommitTx(fundingOutpoint wire.OutPoint, commitNumber uint64,
	openerPayBase, accepterPayBase *btcec.PublicKey, localIsOpener bool,
	outputs []CommitmentOutput) *wire.MsgTx {

	locktime, sequence := ObscureCommitNumber(openerPayBase, accepterPayBase, commitNumber)

	tx := wire.NewMsgTx(2)
	tx.LockTime = locktime
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: fundingOutpoint,
		Sequence:         sequence,
	})

	for _, out := range outputs {
		tx.AddTxOut(&wire.TxOut{Value: int64(out.Amount), PkScript: out.PkScript})
	}

	return tx
}

// SignCommitTx signs the commitment transaction's sole funding input under
// the channel's 2-of-2 multisig redeem script, returning a signature ready
// to embed in a commit_sig message.
func SignCommitTx(signer input.Signer, commitTx *wire.MsgTx, fundingScript []byte,
	fundingAmt btcutil.Amount, multiSigKey input.KeyDescriptor) (input.Signature, error) {

	sigHashes := txscript.NewTxSigHashes(commitTx, txscript.NewCannedPrevOutputFetcher(
		fundingScript, int64(fundingAmt),
	))

	return signer.SignOutputRaw(commitTx, &input.SignDescriptor{
		KeyDesc:       multiSigKey,
		WitnessScript: fundingScript,
		Output:        &wire.TxOut{Value: int64(fundingAmt), PkScript: fundingScript},
		HashType:      txscript.SigHashAll,
		SigHashes:     sigHashes,
		InputIndex:    0,
	})
}
