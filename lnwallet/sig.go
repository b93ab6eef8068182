package lnwallet

import (
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// derSignature mirrors the ASN.1 structure every DER-encoded ECDSA
// signature uses (the same shape crypto/ecdsa's stdlib marshaling relies
// on), letting encoding/asn1 handle the minimal-length/sign-bit padding
// rules so lnwire.Sig's fixed 64-byte compact (r||s) form can be produced
// and parsed without reaching into ecdsa.Signature's unexported fields.
// No library in the retrieved pack offers a DER<->compact signature
// conversion, so this one narrow piece of wire-format plumbing is built
// on the standard library.
type derSignature struct {
	R, S *big.Int
}

// wireSig converts a signature a Signer produced (DER-encoded, per
// input.Signature) into the compact form carried on the wire.
func wireSig(sig input.Signature) (lnwire.Sig, error) {
	var raw derSignature
	if _, err := asn1.Unmarshal(sig.Serialize(), &raw); err != nil {
		return lnwire.Sig{}, fmt.Errorf("lnwallet: unmarshal der signature: %w", err)
	}

	var compact [64]byte
	raw.R.FillBytes(compact[:32])
	raw.S.FillBytes(compact[32:])

	return lnwire.NewSigFromSignature(compact[:])
}

// CompactToDER converts a 64-byte compact (r||s) signature, as carried by
// lnwire.Sig or stored in channeldb.HTLC.Signature, back into the
// DER encoding Bitcoin script signature checks require. Exported since
// contractcourt's resolvers need to redo this conversion for HTLC
// signatures ForceClose didn't have occasion to convert itself.
func CompactToDER(compact []byte) ([]byte, error) {
	if len(compact) != 64 {
		return nil, fmt.Errorf("lnwallet: compact signature must be 64 "+
			"bytes, got %d", len(compact))
	}

	raw := derSignature{
		R: new(big.Int).SetBytes(compact[:32]),
		S: new(big.Int).SetBytes(compact[32:]),
	}
	return asn1.Marshal(raw)
}

// parseWireSig parses a wire Sig's compact encoding into an ecdsa.Signature
// suitable for Verify, by round-tripping it through DER.
func parseWireSig(sig lnwire.Sig) (*ecdsa.Signature, error) {
	der, err := CompactToDER(sig[:])
	if err != nil {
		return nil, err
	}
	return ecdsa.ParseDERSignature(der)
}
