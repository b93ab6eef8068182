package input

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T, seed byte) (*btcec.PrivateKey, *btcec.PublicKey) {
	t.Helper()
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	priv, pub := btcec.PrivKeyFromBytes(raw[:])
	return priv, pub
}

func execWitness(t *testing.T, pkScript []byte, sweepTx *wire.MsgTx,
	amt int64, witness wire.TxWitness) error {

	t.Helper()
	sweepTx.TxIn[0].Witness = witness

	vm, err := txscript.NewEngine(
		pkScript, sweepTx, 0, txscript.StandardVerifyFlags, nil, nil,
		amt, txscript.NewCannedPrevOutputFetcher(pkScript, amt),
	)
	require.NoError(t, err)
	return vm.Execute()
}

// TestCommitmentSpendValidation exercises the two ways a commitment
// transaction's to_local output can be claimed: by the owner after the
// CSV delay, and by the counterparty via the revocation key.
func TestCommitmentSpendValidation(t *testing.T) {
	const channelBalance = 1_00000000
	const csvTimeout = uint32(5)

	alicePriv, aliceBase := newTestKey(t, 0x01)
	bobPriv, bobBase := newTestKey(t, 0x02)

	commitSecret, commitPoint := newTestKey(t, 0x03)
	_ = commitSecret

	revokePub := DeriveRevocationPubkey(bobBase, commitPoint)
	aliceDelayKey := TweakPubKey(aliceBase, commitPoint)

	delayScript, err := CommitScriptToSelf(csvTimeout, aliceDelayKey, revokePub)
	require.NoError(t, err)
	delayPkScript, err := WitnessScriptHash(delayScript)
	require.NoError(t, err)

	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxOut(&wire.TxOut{Value: channelBalance, PkScript: delayPkScript})

	sweepTx := wire.NewMsgTx(2)
	sweepTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: commitTx.TxHash(), Index: 0}, nil, nil))
	sweepTx.AddTxOut(&wire.TxOut{Value: channelBalance - 1000, PkScript: []byte{0x00, 0x14}})
	sweepTx.TxIn[0].Sequence = LockTimeToSequence(false, csvTimeout)

	// Alice sweeps her own delayed output.
	aliceCommitTweak := SingleTweakBytes(commitPoint, aliceBase)
	aliceSigDesc := &SignDescriptor{
		KeyDesc:       KeyDescriptor{PubKey: aliceBase},
		SingleTweak:   aliceCommitTweak,
		WitnessScript: delayScript,
		Output:        &wire.TxOut{Value: channelBalance},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(sweepTx, txscript.NewCannedPrevOutputFetcher(delayPkScript, channelBalance)),
		InputIndex:    0,
	}
	aliceSigner := &MockSigner{Priv: alicePriv}
	witness, err := CommitSpendTimeout(aliceSigner, aliceSigDesc, sweepTx)
	require.NoError(t, err)
	require.NoError(t, execWitness(t, delayPkScript, sweepTx, channelBalance, witness))

	// Bob sweeps Alice's delayed output via the revocation path.
	bobSigDesc := &SignDescriptor{
		KeyDesc:       KeyDescriptor{PubKey: bobBase},
		DoubleTweak:   commitSecret,
		WitnessScript: delayScript,
		Output:        &wire.TxOut{Value: channelBalance},
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(sweepTx, txscript.NewCannedPrevOutputFetcher(delayPkScript, channelBalance)),
		InputIndex:    0,
	}
	bobSigner := &MockSigner{Priv: bobPriv}
	witness, err = CommitSpendRevoke(bobSigner, bobSigDesc, sweepTx)
	require.NoError(t, err)
	require.NoError(t, execWitness(t, delayPkScript, sweepTx, channelBalance, witness))
}

// TestRevocationKeyDerivation asserts that the revocation public key
// derived from a base public key matches the public key of the revocation
// private key derived from the corresponding base private key and
// commitment secret.
func TestRevocationKeyDerivation(t *testing.T) {
	basePriv, basePub := newTestKey(t, 0x04)
	commitPriv, commitPoint := newTestKey(t, 0x05)

	revocationPub := DeriveRevocationPubkey(basePub, commitPoint)
	revocationPriv := DeriveRevocationPrivKey(basePriv, commitPriv)

	require.True(t, revocationPub.IsEqual(revocationPriv.PubKey()))
}

// TestTweakKeyDerivation asserts that tweaking a public key and deriving
// the corresponding private key from its tweak bytes produce a matching
// key pair.
func TestTweakKeyDerivation(t *testing.T) {
	basePriv, basePub := newTestKey(t, 0x06)
	_, commitPoint := newTestKey(t, 0x07)

	tweak := SingleTweakBytes(commitPoint, basePub)
	tweakedPub := TweakPubKey(basePub, commitPoint)
	derivedPriv := TweakPrivKey(basePriv, tweak)

	require.True(t, derivedPriv.PubKey().IsEqual(tweakedPub))
}

// TestHTLCSpendValidation exercises the offered-HTLC script's three spend
// paths: receiver via revocation, receiver via preimage redemption, and
// rejection of a too-short (3-byte) preimage.
func TestHTLCSpendValidation(t *testing.T) {
	alicePriv, aliceBase := newTestKey(t, 0x08)
	bobPriv, bobBase := newTestKey(t, 0x09)

	commitSecret, commitPoint := newTestKey(t, 0x0a)

	paymentPreimage := sha256.Sum256([]byte("offered htlc preimage"))
	paymentHash := sha256.Sum256(paymentPreimage[:])

	aliceLocalKey := TweakPubKey(aliceBase, commitPoint)
	bobLocalKey := TweakPubKey(bobBase, commitPoint)
	revocationKey := DeriveRevocationPubkey(bobBase, commitPoint)

	witnessScript, err := SenderHTLCScript(aliceLocalKey, bobLocalKey, revocationKey, paymentHash[:])
	require.NoError(t, err)
	pkScript, err := WitnessScriptHash(witnessScript)
	require.NoError(t, err)

	const htlcAmt = 50000

	sweepTx := wire.NewMsgTx(2)
	sweepTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	sweepTx.AddTxOut(&wire.TxOut{Value: htlcAmt - 500, PkScript: []byte{0x00, 0x14}})
	hashes := txscript.NewTxSigHashes(sweepTx, txscript.NewCannedPrevOutputFetcher(pkScript, htlcAmt))

	bobSigner := &MockSigner{Priv: bobPriv}
	bobCommitTweak := SingleTweakBytes(commitPoint, bobBase)

	signDesc := &SignDescriptor{
		KeyDesc:       KeyDescriptor{PubKey: bobBase},
		DoubleTweak:   commitSecret,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: htlcAmt},
		HashType:      txscript.SigHashAll,
		SigHashes:     hashes,
		InputIndex:    0,
	}
	revWitness, err := SenderHtlcSpendRevoke(bobSigner, signDesc, revocationKey.SerializeCompressed(), sweepTx)
	require.NoError(t, err)
	require.NoError(t, execWitness(t, pkScript, sweepTx, htlcAmt, revWitness))

	redeemDesc := &SignDescriptor{
		KeyDesc:       KeyDescriptor{PubKey: bobBase},
		SingleTweak:   bobCommitTweak,
		WitnessScript: witnessScript,
		Output:        &wire.TxOut{Value: htlcAmt},
		HashType:      txscript.SigHashAll,
		SigHashes:     hashes,
		InputIndex:    0,
	}
	redeemWitness, err := SenderHtlcSpendRedeem(bobSigner, redeemDesc, sweepTx, paymentPreimage[:])
	require.NoError(t, err)
	require.NoError(t, execWitness(t, pkScript, sweepTx, htlcAmt, redeemWitness))

	badWitness, err := SenderHtlcSpendRedeem(bobSigner, redeemDesc, sweepTx, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Error(t, execWitness(t, pkScript, sweepTx, htlcAmt, badWitness))
}
