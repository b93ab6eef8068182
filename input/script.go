package input

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"
)

// ripemd160Raw returns RIPEMD160(b) with no preceding SHA256 pass. The HTLC
// scripts push this for the payment hash: OP_HASH160 applied by the
// spending witness to the 32-byte preimage already yields
// RIPEMD160(SHA256(preimage)), i.e. RIPEMD160(paymentHash), so the constant
// baked into the script must skip the extra SHA256 round btcutil.Hash160
// would add.
func ripemd160Raw(b []byte) []byte {
	r := ripemd160.New()
	r.Write(b)
	return r.Sum(nil)
}

// CommitmentFormat tags the variant of commitment transaction a channel
// uses. It is a genuine sum type in spirit: every function in this package
// that depends on the format switches on it exhaustively rather than
// branching on capability flags scattered across the caller.
type CommitmentFormat uint8

const (
	// DefaultSegwit is the original BOLT3 commitment: no anchors, HTLC
	// transactions pay their own fees directly out of the HTLC amount.
	DefaultSegwit CommitmentFormat = iota

	// AnchorOutputs adds two anchor outputs paying to_local/to_remote
	// with CSV-1 delay and OP_CHECKSIG-or-anyone-can-spend-after-16,
	// and moves HTLC transactions to zero-fee-plus-CPFP.
	AnchorOutputs

	// ZeroFeeAnchorOutputs is AnchorOutputs with the commitment
	// transaction itself also built at a zero or near-zero feerate,
	// relying entirely on anchor CPFP for confirmation.
	ZeroFeeAnchorOutputs

	// TaprootChannels replaces the funding output and commitment
	// scripts with taproot script-path spends and a MuSig2 key-path
	// cooperative-close/settlement path.
	TaprootChannels
)

// anchorCSVDelay is the relative locktime every anchor output carries
// before either party may sweep it unilaterally.
const anchorCSVDelay = 1

// AnchorSize is the amount, in satoshis, of each anchor output. BOLT3
// fixes this at the dust limit for a P2WSH output so the anchors can
// always be swept economically once fees justify it.
const AnchorSize = btcutil.Amount(330)

// GenMultiSigScript generates the 2-of-2 multisig redeem script for a
// funding output, given the two 33-byte compressed public keys.
func GenMultiSigScript(aPub, bPub []byte) ([]byte, error) {
	if len(aPub) != 33 || len(bPub) != 33 {
		return nil, fmt.Errorf("input: compressed pubkeys only, got %d/%d bytes",
			len(aPub), len(bPub))
	}

	if bytes.Compare(aPub, bPub) == -1 {
		aPub, bPub = bPub, aPub
	}

	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_2)
	bldr.AddData(aPub)
	bldr.AddData(bPub)
	bldr.AddOp(txscript.OP_2)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)
	return bldr.Script()
}

// WitnessScriptHash wraps a witness script in its P2WSH pkScript.
func WitnessScriptHash(witnessScript []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256Sum(witnessScript)
	bldr.AddData(scriptHash[:])
	return bldr.Script()
}

// CommitScriptToRemoteConfirmed builds the to_remote output script used by
// AnchorOutputs and later formats: a plain key spendable immediately by the
// remote party, but CSV-1 gated so it cannot enter the same block as the
// commitment transaction that created it (closing the "fee sniping via
// immediate CPFP" gap DefaultSegwit's unencumbered to_remote output left
// open).
func CommitScriptToRemoteConfirmed(remoteKey *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(remoteKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddInt64(anchorCSVDelay)
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	return builder.Script()
}

// CommitScriptUnencumbered builds the plain P2WKH to_remote output used by
// DefaultSegwit: spendable immediately, with no contestation period.
func CommitScriptUnencumbered(key *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(btcutil.Hash160(key.SerializeCompressed()))
	return builder.Script()
}

// CommitScriptToSelf builds the to_local output script: spendable
// immediately by the revocation key (proof the commitment was revoked), or
// by the owner's delayed key after a CSV delay.
//
//	OP_IF
//	    <revocationkey> OP_CHECKSIG
//	OP_ELSE
//	    <to_self_delay> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <local_delayedkey> OP_CHECKSIG
//	OP_ENDIF
func CommitScriptToSelf(csvTimeout uint32, selfKey, revokeKey *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddData(revokeKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(csvTimeout))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(selfKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// CommitScriptAnchor builds an anchor output script: either party's funding
// key can spend it immediately, or anyone can sweep it (to clean up
// dust-value UTXOs) after a 16-block relative delay.
func CommitScriptAnchor(fundingKey *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(fundingKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_IFDUP)
	builder.AddOp(txscript.OP_NOTIF)
	builder.AddOp(txscript.OP_16)
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// SenderHTLCScript builds the witness script for an offered (outgoing)
// HTLC on the sender's own commitment transaction, generalized from the
// teacher's senderHTLCScript to use per-commitment-tweaked local/remote
// keys and a homomorphically-derived revocation key rather than a single
// shared revocation hash.
//
//	OP_DUP OP_HASH160 <RIPEMD160(SHA256(revocationkey))> OP_EQUAL
//	OP_IF
//	    OP_CHECKSIG
//	OP_ELSE
//	    <remotekey> OP_SWAP OP_SIZE 32 OP_EQUAL
//	    OP_NOTIF
//	        OP_DROP 2 OP_SWAP <localkey> 2 OP_CHECKMULTISIG
//	    OP_ELSE
//	        OP_HASH160 <RIPEMD160(payment_hash)> OP_EQUALVERIFY
//	        OP_CHECKSIG
//	    OP_ENDIF
//	OP_ENDIF
func SenderHTLCScript(localKey, remoteKey, revocationKey *btcec.PublicKey,
	paymentHash []byte) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(revocationKey.SerializeCompressed()))
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)

	builder.AddData(remoteKey.SerializeCompressed())
	builder.AddOp(txscript.OP_SWAP)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_NOTIF)

	// Timeout clause: the sender reclaims the HTLC once its absolute
	// CLTV expiry has passed.
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_SWAP)
	builder.AddData(localKey.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	builder.AddOp(txscript.OP_ELSE)

	// Success clause: the remote party redeems with the payment
	// preimage.
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(ripemd160Raw(paymentHash))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// ReceiverHTLCScript builds the witness script for an accepted (incoming)
// HTLC on the receiver's own commitment transaction.
//
//	OP_DUP OP_HASH160 <RIPEMD160(SHA256(revocationkey))> OP_EQUAL
//	OP_IF
//	    OP_CHECKSIG
//	OP_ELSE
//	    <remotekey> OP_SWAP OP_SIZE 32 OP_EQUAL
//	    OP_IF
//	        OP_HASH160 <RIPEMD160(payment_hash)> OP_EQUALVERIFY
//	        2 OP_SWAP <localkey> 2 OP_CHECKMULTISIG
//	    OP_ELSE
//	        OP_DROP <cltv_expiry> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	        OP_CHECKSIG
//	    OP_ENDIF
//	OP_ENDIF
func ReceiverHTLCScript(cltvExpiry uint32, localKey, remoteKey,
	revocationKey *btcec.PublicKey, paymentHash []byte) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(revocationKey.SerializeCompressed()))
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)

	builder.AddData(remoteKey.SerializeCompressed())
	builder.AddOp(txscript.OP_SWAP)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_IF)

	// Success clause: redeem with the payment preimage.
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(ripemd160Raw(paymentHash))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_SWAP)
	builder.AddData(localKey.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	builder.AddOp(txscript.OP_ELSE)

	// Timeout clause: the sender reclaims after the absolute expiry.
	builder.AddOp(txscript.OP_DROP)
	builder.AddInt64(int64(cltvExpiry))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// SecondLevelHtlcScript builds the witness script used by both the HTLC
// success and HTLC timeout "second level" transactions: the output that
// transaction creates is spendable immediately by the revocation key, or by
// the original HTLC owner after a CSV delay, exactly mirroring
// CommitScriptToSelf's structure one level removed from the commitment
// transaction itself.
func SecondLevelHtlcScript(revocationKey, delayKey *btcec.PublicKey,
	csvDelay uint32) ([]byte, error) {

	return CommitScriptToSelf(csvDelay, delayKey, revocationKey)
}

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
