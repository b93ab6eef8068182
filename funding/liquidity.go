package funding

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// willFundDigest hashes the terms a will_fund witness commits to: the
// channel, the requested amount, and the quoted feerate. Binding all
// three means a witness for one splice's liquidity purchase can't be
// replayed against a different amount or a cheaper feerate.
func willFundDigest(chanID lnwire.ChannelID, amt btcutil.Amount,
	feeRatePerKw chainfee.SatPerKWeight) [32]byte {

	var buf [32 + 8 + 8]byte
	copy(buf[:32], chanID[:])
	binary.BigEndian.PutUint64(buf[32:40], uint64(amt))
	binary.BigEndian.PutUint64(buf[40:48], uint64(feeRatePerKw))

	return sha256.Sum256(buf[:])
}

// SignWillFund produces the acceptor's witness committing to fund amt at
// feeRatePerKw for the named channel's splice, carried in SpliceAck's
// WillFundWitness field.
func SignWillFund(nodeKey *btcec.PrivateKey, chanID lnwire.ChannelID,
	amt btcutil.Amount, feeRatePerKw chainfee.SatPerKWeight) ([]byte, error) {

	digest := willFundDigest(chanID, amt, feeRatePerKw)
	sig := ecdsa.Sign(nodeKey, digest[:])
	return sig.Serialize(), nil
}

// VerifyWillFund checks an acceptor's will_fund witness against its node
// public key, per SPEC_FULL.md's "invalid witness signatures fail the
// entire session."
func VerifyWillFund(nodeKey *btcec.PublicKey, chanID lnwire.ChannelID,
	amt btcutil.Amount, feeRatePerKw chainfee.SatPerKWeight, witness []byte) error {

	sig, err := ecdsa.ParseDERSignature(witness)
	if err != nil {
		return newSessionError(ErrKindInvalidLiquidityWitness,
			"malformed will_fund witness: %v", err)
	}

	digest := willFundDigest(chanID, amt, feeRatePerKw)
	if !sig.Verify(digest[:], nodeKey) {
		return newSessionError(ErrKindInvalidLiquidityWitness,
			"will_fund witness does not verify against acceptor node key")
	}
	return nil
}

// LiquidityFee computes the sats the initiator owes the acceptor for a
// liquidity purchase of amt at feeRatePerKw, deducted from the
// initiator's to-local balance per SPEC_FULL.md. The charge depends only
// on the quoted feerate: it is what one typical P2WPKH input/output pair
// (~110 vbytes) would cost at that feerate. amt does not affect it.
func LiquidityFee(amt btcutil.Amount, feeRatePerKw chainfee.SatPerKWeight) btcutil.Amount {
	const assumedWeight = 110 * 4
	return btcutil.Amount(int64(feeRatePerKw) * assumedWeight / 1000)
}

// RequestLiquidity stamps a splice_init with a liquidity-purchase
// request for amt, to be countersigned by the acceptor's will_fund
// witness in the matching splice_ack.
func RequestLiquidity(init *lnwire.SpliceInit, amt btcutil.Amount) {
	init.RequestFundingSats = uint64(amt)
}

// AcceptLiquidity builds the splice_ack witness answering a splice_init's
// liquidity request, or returns an error if the request is absent.
func AcceptLiquidity(nodeKey *btcec.PrivateKey, chanID lnwire.ChannelID,
	init *lnwire.SpliceInit) ([]byte, error) {

	if init.RequestFundingSats == 0 {
		return nil, fmt.Errorf("funding: splice_init carries no liquidity request")
	}

	feeRate := chainfee.SatPerKWeight(init.FeeRatePerKw)
	return SignWillFund(nodeKey, chanID, btcutil.Amount(init.RequestFundingSats), feeRate)
}
