package input

import (
	"github.com/btcsuite/btcd/wire"
)

// CommitSpendTimeout generates the witness for sweeping the to_local
// output after its CSV delay has passed, using the owner's delayed key.
func CommitSpendTimeout(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		nil,
		signDesc.WitnessScript,
	}, nil
}

// CommitSpendRevoke generates the witness for sweeping a revoked to_local
// output using the derived revocation key.
func CommitSpendRevoke(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		{1},
		signDesc.WitnessScript,
	}, nil
}

// CommitSpendNoDelay generates the witness for spending a counterparty's
// unencumbered to_remote output (DefaultSegwit format): an ordinary P2WKH
// spend.
func CommitSpendNoDelay(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx, pubKeyCompressed []byte) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		pubKeyCompressed,
	}, nil
}

// CommitSpendToRemoteConfirmed generates the witness for spending the
// CSV-1-delayed to_remote output used by the anchor commitment formats.
func CommitSpendToRemoteConfirmed(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		signDesc.WitnessScript,
	}, nil
}

// SenderHtlcSpendRevoke generates the witness allowing the receiver of an
// offered HTLC to claim it via the revocation path, when the sender has
// broadcast a revoked commitment.
func SenderHtlcSpendRevoke(signer Signer, signDesc *SignDescriptor,
	revocationKey []byte, sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		revocationKey,
		signDesc.WitnessScript,
	}, nil
}

// SenderHtlcSpendRedeem generates the witness allowing the receiver of an
// offered HTLC to redeem it with the payment preimage.
func SenderHtlcSpendRedeem(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx, paymentPreimage []byte) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		paymentPreimage,
		signDesc.WitnessScript,
	}, nil
}

// SenderHtlcSpendTimeout generates the witness transitioning an offered
// HTLC to its second-level timeout transaction once its CLTV expiry has
// passed. Requires the receiver's co-signature, gathered earlier over the
// pre-signed second-level transaction per the interactive commitment
// signing flow.
func SenderHtlcSpendTimeout(receiverSig []byte, signer Signer,
	signDesc *SignDescriptor, sweepTx *wire.MsgTx,
	cltvExpiry uint32) (wire.TxWitness, error) {

	sweepTx.LockTime = cltvExpiry

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		nil,
		append(receiverSig, byte(signDesc.HashType)),
		append(sig.Serialize(), byte(signDesc.HashType)),
		nil,
		signDesc.WitnessScript,
	}, nil
}

// ReceiverHtlcSpendRedeem generates the witness allowing the receiver of an
// accepted HTLC to redeem it immediately with the payment preimage
// directly from the sender's commitment transaction, through the
// single-signature success clause of the offered-HTLC script there.
func ReceiverHtlcSpendRedeem(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx, paymentPreimage []byte) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		paymentPreimage,
		signDesc.WitnessScript,
	}, nil
}

// ReceiverHtlcSpendRevoke generates the witness allowing the sender of an
// accepted HTLC to claim it via the revocation path when the receiver
// broadcasts a revoked commitment.
func ReceiverHtlcSpendRevoke(signer Signer, signDesc *SignDescriptor,
	revocationKey []byte, sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		revocationKey,
		signDesc.WitnessScript,
	}, nil
}

// ReceiverHtlcSpendTimeout generates the witness allowing the sender of an
// accepted HTLC to reclaim it via its absolute CLTV refund clause once the
// receiver's window to present the preimage has expired.
func ReceiverHtlcSpendTimeout(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx, cltvExpiry uint32) (wire.TxWitness, error) {

	sweepTx.LockTime = cltvExpiry

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		nil,
		signDesc.WitnessScript,
	}, nil
}

// HtlcSpendRevoke generates the witness claiming a second-level HTLC
// transaction's output via its revocation clause.
func HtlcSpendRevoke(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		{1},
		signDesc.WitnessScript,
	}, nil
}

// HtlcSpendSuccess generates the witness claiming a second-level HTLC
// transaction's output after its CSV delay, paying the HTLC owner.
func HtlcSpendSuccess(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx, csvDelay uint32) (wire.TxWitness, error) {

	sweepTx.TxIn[0].Sequence = LockTimeToSequence(false, csvDelay)
	sweepTx.Version = 2

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		nil,
		signDesc.WitnessScript,
	}, nil
}

// ReceiverHtlcSpendAccepted generates the witness transitioning an accepted
// HTLC to its second-level success transaction, the mirror image of
// SenderHtlcSpendTimeout: the receiver's own signature plus the sender's
// pre-supplied signature (gathered earlier over the pre-signed
// second-level transaction) satisfy the script's 2-of-2 success clause,
// alongside the payment preimage.
func ReceiverHtlcSpendAccepted(senderSig []byte, signer Signer,
	signDesc *SignDescriptor, sweepTx *wire.MsgTx,
	paymentPreimage []byte) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		nil,
		append(senderSig, byte(signDesc.HashType)),
		append(sig.Serialize(), byte(signDesc.HashType)),
		paymentPreimage,
		signDesc.WitnessScript,
	}, nil
}

// AnchorSpend generates the witness sweeping an anchor output via its
// funding-key path (the 16-block anyone-can-spend path needs no witness
// beyond satisfying CHECKSEQUENCEVERIFY, since CommitScriptAnchor leaves
// the stack true without a signature once that delay has passed).
func AnchorSpend(signer Signer, signDesc *SignDescriptor,
	sweepTx *wire.MsgTx) (wire.TxWitness, error) {

	sig, err := signer.SignOutputRaw(sweepTx, signDesc)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(signDesc.HashType)),
		signDesc.WitnessScript,
	}, nil
}

// sequenceLockTimeSeconds and sequenceLockTimeMask mirror BIP-68's flag and
// mask bits for relative-locktime sequence numbers.
const (
	sequenceLockTimeSeconds = uint32(1 << 22)
	sequenceLockTimeMask    = uint32(0x0000ffff)
)

// LockTimeToSequence converts a relative locktime, expressed in blocks
// (isSeconds false) or in seconds (isSeconds true, rounded down to
// BIP-68's 512-second units), into the nSequence value that encodes it
// per BIP-68.
func LockTimeToSequence(isSeconds bool, locktime uint32) uint32 {
	if !isSeconds {
		return sequenceLockTimeMask & locktime
	}
	return sequenceLockTimeSeconds | (locktime >> 9)
}
