package lnwallet

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/input"
)

// MakeHtlcTimeoutTx implements the offered-HTLC half of make_htlc_tx: the
// second-level transaction an HTLC's sender broadcasts, on their own
// commitment, once the HTLC's absolute CLTV expiry has passed, spending
// straight out of the commitment's offered-HTLC output into a fresh
// CSV-delayed/revocable output under SecondLevelHtlcScript.
func MakeHtlcTimeoutTx(commitOutpoint wire.OutPoint, htlcAmt btcutil.Amount,
	cltvExpiry uint32, feePerKw chainfee.SatPerKWeight,
	format input.CommitmentFormat, keys *CommitmentKeyRing,
	csvDelay uint32) (*wire.MsgTx, []byte, error) {

	fee := btcutil.Amount(input.HtlcTimeoutFee(int64(feePerKw), format))
	if htlcAmt <= fee {
		return nil, nil, fmt.Errorf("lnwallet: htlc amount %v below "+
			"timeout fee %v", htlcAmt, fee)
	}

	script, err := input.SecondLevelHtlcScript(keys.RevocationKey, keys.ToLocalKey, csvDelay)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = cltvExpiry
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: commitOutpoint})
	tx.AddTxOut(&wire.TxOut{Value: int64(htlcAmt - fee), PkScript: pkScript})

	return tx, script, nil
}

// MakeHtlcSuccessTx implements the accepted-HTLC half of make_htlc_tx: the
// second-level transaction an HTLC's receiver broadcasts, on their own
// commitment, once they learn the payment preimage, spending the
// commitment's accepted-HTLC output into the same CSV-delayed/revocable
// output shape as the timeout transaction.
func MakeHtlcSuccessTx(commitOutpoint wire.OutPoint, htlcAmt btcutil.Amount,
	feePerKw chainfee.SatPerKWeight, format input.CommitmentFormat,
	keys *CommitmentKeyRing, csvDelay uint32) (*wire.MsgTx, []byte, error) {

	fee := btcutil.Amount(input.HtlcSuccessFee(int64(feePerKw), format))
	if htlcAmt <= fee {
		return nil, nil, fmt.Errorf("lnwallet: htlc amount %v below "+
			"success fee %v", htlcAmt, fee)
	}

	script, err := input.SecondLevelHtlcScript(keys.RevocationKey, keys.ToLocalKey, csvDelay)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: commitOutpoint})
	tx.AddTxOut(&wire.TxOut{Value: int64(htlcAmt - fee), PkScript: pkScript})

	return tx, script, nil
}

// htlcSignDescriptor builds the SignDescriptor every second-level/claim
// helper below needs: the witness script for the output being spent, its
// amount, and the key it pays to.
func htlcSignDescriptor(keyDesc input.KeyDescriptor, tweak []byte,
	witnessScript []byte, amt btcutil.Amount, tx *wire.MsgTx,
	fetcher txscript.PrevOutputFetcher) *input.SignDescriptor {

	return &input.SignDescriptor{
		KeyDesc:       keyDesc,
		SingleTweak:   tweak,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: int64(amt), PkScript: nil},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    0,
	}
}

// SignHtlcTimeoutTx completes a MakeHtlcTimeoutTx output with the
// counterparty's pre-supplied signature (gathered at commit_sig time) and
// our own, per input.SenderHtlcSpendTimeout.
func SignHtlcTimeoutTx(signer input.Signer, tx *wire.MsgTx, witnessScript []byte,
	htlcAmt btcutil.Amount, htlcKey input.KeyDescriptor, keyTweak []byte,
	counterpartySig []byte, cltvExpiry uint32) error {

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(htlcAmt))
	signDesc := htlcSignDescriptor(htlcKey, keyTweak, witnessScript, htlcAmt, tx, fetcher)

	witness, err := input.SenderHtlcSpendTimeout(
		counterpartySig, signer, signDesc, tx, cltvExpiry,
	)
	if err != nil {
		return err
	}
	tx.TxIn[0].Witness = witness
	return nil
}

// SignHtlcSuccessTx completes a MakeHtlcSuccessTx output with the
// counterparty's pre-supplied signature, our own, and the payment
// preimage, per input.ReceiverHtlcSpendAccepted.
func SignHtlcSuccessTx(signer input.Signer, tx *wire.MsgTx, witnessScript []byte,
	htlcAmt btcutil.Amount, htlcKey input.KeyDescriptor, keyTweak []byte,
	counterpartySig, preimage []byte) error {

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(htlcAmt))
	signDesc := htlcSignDescriptor(htlcKey, keyTweak, witnessScript, htlcAmt, tx, fetcher)

	witness, err := input.ReceiverHtlcSpendAccepted(counterpartySig, signer, signDesc, tx, preimage)
	if err != nil {
		return err
	}
	tx.TxIn[0].Witness = witness
	return nil
}

// sweepTxShell builds the single-input, single-output transaction every
// claim_* helper below produces, spending outpoint into sweepScript.
func sweepTxShell(outpoint wire.OutPoint, amt btcutil.Amount,
	sweepScript []byte, csvDelay, cltvExpiry uint32) *wire.MsgTx {

	tx := wire.NewMsgTx(2)
	tx.LockTime = cltvExpiry
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: outpoint,
		Sequence:         input.LockTimeToSequence(false, csvDelay),
	})
	tx.AddTxOut(&wire.TxOut{Value: int64(amt), PkScript: sweepScript})
	return tx
}

// ClaimMainDelayedTx implements claim_main_delayed: sweeping our own
// to_local output once its CSV delay has elapsed, via the owner's delayed
// key.
func ClaimMainDelayedTx(signer input.Signer, commitOutpoint wire.OutPoint,
	amt btcutil.Amount, witnessScript, sweepScript []byte, csvDelay uint32,
	delayKeyDesc input.KeyDescriptor, keyTweak []byte) (*wire.MsgTx, error) {

	tx := sweepTxShell(commitOutpoint, amt, sweepScript, csvDelay, 0)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := htlcSignDescriptor(delayKeyDesc, keyTweak, witnessScript, amt, tx, fetcher)

	witness, err := input.CommitSpendTimeout(signer, signDesc, tx)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// MainPenaltyTx implements main_penalty: sweeping a breached
// counterparty's to_local output via the revocation key derived once they
// revealed the per-commitment secret for the superseded state they
// broadcast. revocationBase identifies the wallet's revocation base key
// and commitSecret is the counterparty's revealed per-commitment secret;
// together, via SignDescriptor.DoubleTweak, the signer derives the exact
// private key DeriveRevocationPubkey committed to on that commitment.
func MainPenaltyTx(signer input.Signer, commitOutpoint wire.OutPoint,
	amt btcutil.Amount, witnessScript, sweepScript []byte,
	revocationBase input.KeyDescriptor, commitSecret *btcec.PrivateKey) (*wire.MsgTx, error) {

	tx := sweepTxShell(commitOutpoint, amt, sweepScript, 0, 0)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := &input.SignDescriptor{
		KeyDesc:       revocationBase,
		DoubleTweak:   commitSecret,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: int64(amt), PkScript: pkScript},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    0,
	}

	witness, err := input.CommitSpendRevoke(signer, signDesc, tx)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// ClaimRemoteMainTx implements claim_remote_main: sweeping our to_remote
// output out of the counterparty's (or our own) published commitment. The
// DefaultSegwit format pays immediately; the anchor formats gate it behind
// a one-block relative delay.
func ClaimRemoteMainTx(signer input.Signer, commitOutpoint wire.OutPoint,
	amt btcutil.Amount, format input.CommitmentFormat, witnessScript,
	sweepScript []byte, paymentKeyDesc input.KeyDescriptor,
	keyTweak []byte) (*wire.MsgTx, error) {

	csvDelay := uint32(0)
	if format != input.DefaultSegwit {
		csvDelay = 1
	}
	tx := sweepTxShell(commitOutpoint, amt, sweepScript, csvDelay, 0)

	var pkScript []byte
	var err error
	if format == input.DefaultSegwit {
		pkScript, err = input.CommitScriptUnencumbered(paymentKeyDesc.PubKey)
	} else {
		pkScript, err = input.WitnessScriptHash(witnessScript)
	}
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := htlcSignDescriptor(paymentKeyDesc, keyTweak, witnessScript, amt, tx, fetcher)

	var witness wire.TxWitness
	if format == input.DefaultSegwit {
		witness, err = input.CommitSpendNoDelay(
			signer, signDesc, tx, paymentKeyDesc.PubKey.SerializeCompressed(),
		)
	} else {
		witness, err = input.CommitSpendToRemoteConfirmed(signer, signDesc, tx)
	}
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// ClaimHtlcSuccessTx implements claim_htlc_success: redeeming an accepted
// HTLC directly out of the counterparty's published commitment with the
// payment preimage, with no second-level transaction needed since this
// spend is off the counterparty's commitment, not our own.
func ClaimHtlcSuccessTx(signer input.Signer, commitOutpoint wire.OutPoint,
	amt btcutil.Amount, witnessScript, sweepScript []byte,
	htlcKeyDesc input.KeyDescriptor, keyTweak, preimage []byte) (*wire.MsgTx, error) {

	tx := sweepTxShell(commitOutpoint, amt, sweepScript, 0, 0)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := htlcSignDescriptor(htlcKeyDesc, keyTweak, witnessScript, amt, tx, fetcher)

	witness, err := input.ReceiverHtlcSpendRedeem(signer, signDesc, tx, preimage)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// ClaimHtlcTimeoutTx implements claim_htlc_timeout: reclaiming an HTLC we
// offered directly out of the counterparty's published commitment once its
// absolute CLTV expiry has passed.
func ClaimHtlcTimeoutTx(signer input.Signer, commitOutpoint wire.OutPoint,
	amt btcutil.Amount, witnessScript, sweepScript []byte,
	htlcKeyDesc input.KeyDescriptor, keyTweak []byte,
	cltvExpiry uint32) (*wire.MsgTx, error) {

	tx := sweepTxShell(commitOutpoint, amt, sweepScript, 0, cltvExpiry)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := htlcSignDescriptor(htlcKeyDesc, keyTweak, witnessScript, amt, tx, fetcher)

	witness, err := input.ReceiverHtlcSpendTimeout(signer, signDesc, tx, cltvExpiry)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// HtlcPenaltyTx implements htlc_penalty: sweeping either side of a
// breached HTLC output (offered or accepted, the script shapes differ but
// both carry the same revocation clause) via the derived revocation key.
func HtlcPenaltyTx(signer input.Signer, commitOutpoint wire.OutPoint,
	amt btcutil.Amount, witnessScript, sweepScript []byte,
	revocationBase input.KeyDescriptor, commitSecret *btcec.PrivateKey,
	revocationKey *btcec.PublicKey) (*wire.MsgTx, error) {

	tx := sweepTxShell(commitOutpoint, amt, sweepScript, 0, 0)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := &input.SignDescriptor{
		KeyDesc:       revocationBase,
		DoubleTweak:   commitSecret,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: int64(amt), PkScript: pkScript},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    0,
	}

	witness, err := input.SenderHtlcSpendRevoke(signer, signDesc, revocationKey.SerializeCompressed(), tx)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// ClaimHtlcDelayedPenaltyTx implements claim_htlc_delayed_penalty:
// sweeping a counterparty's second-level HTLC-success/HTLC-timeout output
// via its own embedded revocation clause, available the instant they
// broadcast a second-level transaction built off a state we've already
// revoked.
func ClaimHtlcDelayedPenaltyTx(signer input.Signer, secondLevelOutpoint wire.OutPoint,
	amt btcutil.Amount, witnessScript, sweepScript []byte,
	revocationBase input.KeyDescriptor, commitSecret *btcec.PrivateKey) (*wire.MsgTx, error) {

	tx := sweepTxShell(secondLevelOutpoint, amt, sweepScript, 0, 0)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(amt))
	signDesc := &input.SignDescriptor{
		KeyDesc:       revocationBase,
		DoubleTweak:   commitSecret,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: int64(amt), PkScript: pkScript},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    0,
	}

	witness, err := input.HtlcSpendRevoke(signer, signDesc, tx)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// ClaimAnchorTx implements claim_anchor: sweeping one of the commitment's
// two anchor outputs via its funding-key path, typically to CPFP the
// commitment transaction itself during a force-close.
func ClaimAnchorTx(signer input.Signer, commitOutpoint wire.OutPoint,
	witnessScript, sweepScript []byte,
	fundingKeyDesc input.KeyDescriptor) (*wire.MsgTx, error) {

	tx := sweepTxShell(commitOutpoint, input.AnchorSize, sweepScript, 0, 0)

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(input.AnchorSize))
	signDesc := &input.SignDescriptor{
		KeyDesc:       fundingKeyDesc,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: int64(input.AnchorSize), PkScript: pkScript},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    0,
	}

	witness, err := input.AnchorSpend(signer, signDesc, tx)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = witness
	return tx, nil
}

// ClosingOutput is one output of a cooperative closing transaction.
type ClosingOutput struct {
	Amount   btcutil.Amount
	PkScript []byte
}

// MakeClosingTx implements make_closing_tx: the single, fee-bearing
// transaction that settles a channel cooperatively, spending the funding
// output directly to each party's final balance with no CSV/CLTV
// encumbrance at all. Output ordering follows the same ascending
// amount/script rule commitment outputs use.
func MakeClosingTx(fundingOutpoint wire.OutPoint, outputs []ClosingOutput,
	dustLimit btcutil.Amount) *wire.MsgTx {

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: fundingOutpoint})

	sort.SliceStable(outputs, func(i, j int) bool {
		if outputs[i].Amount != outputs[j].Amount {
			return outputs[i].Amount < outputs[j].Amount
		}
		return string(outputs[i].PkScript) < string(outputs[j].PkScript)
	})

	for _, out := range outputs {
		if out.Amount < dustLimit {
			continue
		}
		tx.AddTxOut(&wire.TxOut{Value: int64(out.Amount), PkScript: out.PkScript})
	}

	return tx
}

// SignClosingTx signs the funding input of a cooperative closing
// transaction under the channel's 2-of-2 multisig redeem script.
func SignClosingTx(signer input.Signer, tx *wire.MsgTx, fundingScript []byte,
	fundingAmt btcutil.Amount, multiSigKey input.KeyDescriptor) (input.Signature, error) {

	fetcher := txscript.NewCannedPrevOutputFetcher(fundingScript, int64(fundingAmt))
	signDesc := &input.SignDescriptor{
		KeyDesc:       multiSigKey,
		WitnessScript: fundingScript,
		Output:        &wire.TxOut{Value: int64(fundingAmt), PkScript: fundingScript},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    0,
	}
	return signer.SignOutputRaw(tx, signDesc)
}
