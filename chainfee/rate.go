// Package chainfee supplies the feerate this engine's commitment and
// sweep transactions are built at. It is grounded on the teacher's
// lnwallet/chainfee package (only its estimator_test.go survived
// retrieval, see DESIGN.md) adapted from atoms-per-kilobyte to Bitcoin's
// satoshis-per-kilo-weight-unit convention, since every weight this
// engine computes (input.size.go) is already expressed in weight units.
package chainfee

import "github.com/btcsuite/btcd/btcutil"

// SatPerKWeight represents a fee rate in satoshis per kilo-weight-unit,
// the unit BOLT3's feerate_per_kw field and this package's own
// EstimateFeePerKW both use.
type SatPerKWeight uint64

// FeePerKwFloor is the smallest feerate this engine will ever propose or
// accept: Bitcoin Core's default minimum relay feerate of 1000 sat/kvbyte
// is 250 sat/kw in weight units, and the floor sits slightly above it at
// 253 sat/kw.
const FeePerKwFloor SatPerKWeight = 253

// FeeForWeight returns the absolute fee, in satoshis, for a transaction of
// the given weight at this feerate.
func (s SatPerKWeight) FeeForWeight(weight int64) btcutil.Amount {
	return btcutil.Amount(int64(s) * weight / 1000)
}

// FeePerKVByte converts this feerate back to satoshis per kilo-virtual-byte,
// the unit txrules.GetDustThreshold and most fee APIs expect.
func (s SatPerKWeight) FeePerKVByte() btcutil.Amount {
	return btcutil.Amount(s) * 4
}

// SatPerKVByte converts a feerate expressed in satoshis per kilo-virtual-byte
// (the unit most fee APIs and wallets quote) into SatPerKWeight.
type SatPerKVByte int64

// FeePerKWeight converts to this package's native unit: one virtual byte
// is four weight units.
func (s SatPerKVByte) FeePerKWeight() SatPerKWeight {
	return SatPerKWeight(s / 4)
}
