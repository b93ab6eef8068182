package input

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignDescriptor houses the information required to sign a particular
// output of a transaction that belongs to this engine. It generalizes the
// teacher's ad-hoc (signer, pubkey, tweak) argument lists scattered across
// script_utils.go into the single structure channel.go already assumes
// exists wherever it builds a *SignDescriptor literal.
type SignDescriptor struct {
	// KeyDesc identifies which wallet key this output was paid to.
	KeyDesc KeyDescriptor

	// SingleTweak, if non-nil, is the per-commitment tweak applied to
	// KeyDesc.PubKey via TweakPubKey to arrive at the key actually used
	// in the output's script.
	SingleTweak []byte

	// DoubleTweak, if non-nil, is the per-commitment secret used to
	// derive a revocation private key via DeriveRevocationPrivKey,
	// instead of a single additive tweak.
	DoubleTweak *btcec.PrivateKey

	// WitnessScript is the script the output actually commits to (the
	// pre-image to the P2WSH pkScript).
	WitnessScript []byte

	// Output is the transaction output being signed for.
	Output *wire.TxOut

	// HashType is the sighash flag to use.
	HashType txscript.SigHashType

	// SigHashes caches the midstate used in BIP-143 sighash computation
	// across every input of a transaction.
	SigHashes *txscript.TxSigHashes

	// InputIndex is the index of the input being signed within the
	// spending transaction.
	InputIndex int
}

// KeyDescriptor identifies a key the wallet controls by its fully derived
// public key.
type KeyDescriptor struct {
	PubKey *btcec.PublicKey
}

// Signer abstracts away the wallet's private key material from the script
// and witness construction logic. Every witness generator in this package
// takes a Signer rather than a raw *btcec.PrivateKey so that the signing
// key can live behind a remote signer or hardware wallet.
type Signer interface {
	// SignOutputRaw signs the passed transaction's input at
	// signDesc.InputIndex, spending signDesc.Output according to
	// signDesc.WitnessScript and the key identified by signDesc.KeyDesc,
	// optionally tweaked per signDesc.SingleTweak/DoubleTweak.
	SignOutputRaw(tx *wire.MsgTx, signDesc *SignDescriptor) (Signature, error)
}

// Signature is a fixed-size ECDSA signature, the form every HTLC and
// commitment witness embeds.
type Signature = *ecdsa.Signature

// resolveSignKey applies a SignDescriptor's tweak, if any, to derive the
// private key a mock or wallet Signer implementation should sign with.
func resolveSignKey(base *btcec.PrivateKey, signDesc *SignDescriptor) *btcec.PrivateKey {
	switch {
	case signDesc.SingleTweak != nil:
		return TweakPrivKey(base, signDesc.SingleTweak)
	case signDesc.DoubleTweak != nil:
		return DeriveRevocationPrivKey(base, signDesc.DoubleTweak)
	default:
		return base
	}
}

// MockSigner is a bare Signer backed directly by a private key, used in
// tests that need valid signatures without a full wallet.
type MockSigner struct {
	Priv *btcec.PrivateKey
}

// SignOutputRaw implements the Signer interface.
func (m *MockSigner) SignOutputRaw(tx *wire.MsgTx, signDesc *SignDescriptor) (Signature, error) {
	key := resolveSignKey(m.Priv, signDesc)

	sigHashes := signDesc.SigHashes
	if sigHashes == nil {
		sigHashes = txscript.NewTxSigHashes(tx, nil)
	}

	rawSig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, signDesc.InputIndex, signDesc.Output.Value,
		signDesc.WitnessScript, signDesc.HashType, key,
	)
	if err != nil {
		return nil, err
	}

	// RawTxInWitnessSignature appends the sighash-type byte; the wire
	// signature types used elsewhere in this package want just the DER
	// signature, so strip it back off.
	sig, err := ecdsa.ParseDERSignature(rawSig[:len(rawSig)-1])
	if err != nil {
		return nil, err
	}

	return sig, nil
}
