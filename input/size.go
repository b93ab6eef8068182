package input

// Weight and size constants below follow BIP-141: weight = 4*base_size +
// witness_size. These are the generalized, anchor-output-aware descendants
// of the teacher's lnwallet/size.go table.
const (
	// WitnessScaleFactor is the divisor BIP-141 uses to convert weight
	// units into the legacy "virtual size" metric fee estimation
	// operates on.
	WitnessScaleFactor = 4

	// P2WSHSize is the length of a P2WSH pkScript: OP_0 + push(32).
	P2WSHSize = 1 + 1 + 32

	// P2WKHSize is the length of a P2WKH pkScript: OP_0 + push(20).
	P2WKHSize = 1 + 1 + 20

	// P2WKHOutputSize is a full P2WKH TxOut: value + varint + pkScript.
	P2WKHOutputSize = 8 + 1 + P2WKHSize

	// P2WSHOutputSize is a full P2WSH TxOut: value + varint + pkScript.
	P2WSHOutputSize = 8 + 1 + P2WSHSize

	// P2WKHWitnessSize is a standard P2WKH witness: sig + pubkey.
	P2WKHWitnessSize = 1 + 73 + 1 + 33

	// MultiSigSize is the 2-of-2 funding redeem script.
	MultiSigSize = 1 + 1 + 33 + 1 + 33 + 1 + 1

	// FundingInputSize is the size of an input spending the 2-of-2
	// funding output (excluding witness data).
	FundingInputSize = 32 + 4 + 1 + 4

	// FundingWitnessSize is the witness for a cooperative/commitment
	// spend of the 2-of-2 funding output: 2 signatures + redeem script.
	FundingWitnessSize = 1 + 1 + 73 + 1 + 73 + 1 + MultiSigSize

	// CommitmentDelayOutput is a to_local TxOut.
	CommitmentDelayOutput = 8 + 1 + P2WSHSize

	// CommitmentKeyHashOutput is a plain to_remote TxOut.
	CommitmentKeyHashOutput = 8 + 1 + P2WKHSize

	// CommitmentToRemoteConfirmedOutput is an anchor-format to_remote
	// TxOut, which is P2WSH rather than P2WKH.
	CommitmentToRemoteConfirmedOutput = 8 + 1 + P2WSHSize

	// CommitmentAnchorOutput is one anchor TxOut.
	CommitmentAnchorOutput = 8 + 1 + P2WSHSize

	// HTLCOutputSize is an HTLC TxOut.
	HTLCOutputSize = 8 + 1 + P2WSHSize

	// WitnessHeaderSize is the 2-byte segwit marker+flag pair.
	WitnessHeaderSize = 1 + 1

	// BaseCommitmentTxSize is a commitment transaction with exactly the
	// funding input, to_local and to_remote outputs, and no HTLCs.
	BaseCommitmentTxSize = 4 + 1 + FundingInputSize + 1 +
		CommitmentDelayOutput + CommitmentKeyHashOutput + 4

	// BaseCommitmentTxWeight scales the base size to weight units.
	BaseCommitmentTxWeight = WitnessScaleFactor * BaseCommitmentTxSize

	// WitnessCommitmentTxWeight is the weight contributed by the
	// funding input's witness.
	WitnessCommitmentTxWeight = WitnessHeaderSize + FundingWitnessSize

	// HTLCWeight is the weight of a single HTLC output on the
	// commitment transaction.
	HTLCWeight = WitnessScaleFactor * HTLCOutputSize

	// AnchorOutputsWeight is the weight the two additional anchor
	// outputs add over DefaultSegwit's bare to_local/to_remote pair.
	AnchorOutputsWeight = WitnessScaleFactor * 2 * CommitmentAnchorOutput

	// HtlcTimeoutWeight is the weight of the second-level HTLC timeout
	// transaction.
	HtlcTimeoutWeight = 663

	// HtlcSuccessWeight is the weight of the second-level HTLC success
	// transaction.
	HtlcSuccessWeight = 703

	// HtlcTimeoutWeightAnchor and HtlcSuccessWeightAnchor are the
	// second-level transaction weights under the anchor formats: three
	// weight units more than HtlcTimeoutWeight and HtlcSuccessWeight.
	HtlcTimeoutWeightAnchor = 666
	HtlcSuccessWeightAnchor = 706

	// MaxHTLCNumber is the maximum number of HTLCs a commitment
	// transaction may carry. This bound keeps a worst-case penalty
	// transaction sweeping every HTLC under the standard weight limit.
	MaxHTLCNumber = 966
)

// EstimateCommitTxWeight estimates a commitment transaction's weight given
// its HTLC count and commitment format. The prediction flag accounts for
// one additional in-flight HTLC, used when deciding whether a proposed
// update would push the transaction over a fee or dust threshold.
func EstimateCommitTxWeight(numHTLCs int, format CommitmentFormat, prediction bool) int64 {
	if prediction {
		numHTLCs++
	}

	weight := int64(numHTLCs*HTLCWeight) + BaseCommitmentTxWeight +
		WitnessCommitmentTxWeight

	switch format {
	case AnchorOutputs, ZeroFeeAnchorOutputs, TaprootChannels:
		weight += AnchorOutputsWeight
	}

	return weight
}

// HtlcTimeoutFee returns the absolute fee, in satoshis, the second-level
// HTLC timeout transaction pays at the given feerate.
func HtlcTimeoutFee(feePerKw int64, format CommitmentFormat) int64 {
	weight := int64(HtlcTimeoutWeight)
	if format != DefaultSegwit {
		weight = HtlcTimeoutWeightAnchor
	}
	return feePerKw * weight / 1000
}

// HtlcSuccessFee returns the absolute fee, in satoshis, the second-level
// HTLC success transaction pays at the given feerate.
func HtlcSuccessFee(feePerKw int64, format CommitmentFormat) int64 {
	weight := int64(HtlcSuccessWeight)
	if format != DefaultSegwit {
		weight = HtlcSuccessWeightAnchor
	}
	return feePerKw * weight / 1000
}
