package sweep

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/input"
)

// DefaultMaxInputsPerTx bounds how many of a force close's non-dust
// outputs one batched sweep transaction claims, mirroring the teacher's
// constant of the same name and purpose.
var DefaultMaxInputsPerTx = 100

// Input is one outpoint contractcourt's resolvers want swept: the CSV
// delay (if any) its witness imposes, and the closure that produces that
// witness once the final transaction (and therefore its sighash) is
// known. Generalizes the teacher's lnwallet.CsvSpendableOutput/
// lnwallet.BaseInput surface down to the single method every claim_*
// helper in lnwallet/htlc.go already knows how to satisfy.
type Input interface {
	OutPoint() *wire.OutPoint
	Amount() btcutil.Amount
	CSVDelay() uint32
	WitnessSizeEstimate() int
	BuildWitness(signer input.Signer, tx *wire.MsgTx, idx int) (wire.TxWitness, error)
}

// generateInputPartitionings buckets sweepable inputs into transactions
// of up to maxInputsPerTx, ordered by descending yield (value minus this
// input's marginal fee) so that a negative-yield tail never drags a
// positive-yield input's output below the dust limit. Ported from the
// teacher's function of the same name; only the per-input size lookup
// changed, since this module's Input interface carries its own estimate
// instead of dispatching on a WitnessType enum.
func generateInputPartitionings(sweepable []Input, relayFeePerKw,
	feePerKw chainfee.SatPerKWeight, maxInputsPerTx int) ([][]Input, error) {

	dustLimit := txrules.GetDustThreshold(
		input.P2WKHSize, btcutil.Amount(relayFeePerKw.FeePerKVByte()),
	)

	yields := make(map[wire.OutPoint]int64, len(sweepable))
	for _, in := range sweepable {
		fee := feePerKw.FeeForWeight(int64(in.WitnessSizeEstimate()))
		yields[*in.OutPoint()] = int64(in.Amount()) - int64(fee)
	}

	sort.Slice(sweepable, func(i, j int) bool {
		return yields[*sweepable[i].OutPoint()] > yields[*sweepable[j].OutPoint()]
	})

	var sets [][]Input
	for len(sweepable) > 0 {
		count, outputValue := positiveYieldPrefix(sweepable, maxInputsPerTx, feePerKw)
		if count == 0 {
			return sets, nil
		}
		if outputValue < dustLimit {
			return sets, nil
		}

		sets = append(sets, sweepable[:count])
		sweepable = sweepable[count:]
	}

	return sets, nil
}

// positiveYieldPrefix returns the length of the longest prefix of
// sweepable (already sorted by descending yield) whose cumulative output
// value, net of the fee the growing input set demands, keeps increasing.
func positiveYieldPrefix(sweepable []Input, maxInputs int,
	feePerKw chainfee.SatPerKWeight) (int, btcutil.Amount) {

	baseWeight := int64(input.P2WKHOutputSize) * int64(input.WitnessScaleFactor)

	var total, outputValue btcutil.Amount
	weight := baseWeight
	for idx, in := range sweepable {
		weight += int64(in.WitnessSizeEstimate())

		newTotal := total + in.Amount()
		fee := feePerKw.FeeForWeight(weight)
		newOutputValue := newTotal - fee

		if newOutputValue <= outputValue && idx > 0 {
			return idx, outputValue
		}

		total, outputValue = newTotal, newOutputValue
		if idx == maxInputs-1 {
			return maxInputs, outputValue
		}
	}

	return len(sweepable), outputValue
}

// createSweepTx assembles and signs a single batched transaction
// spending every input in inputs to sweepScript, net of feePerKw.
func createSweepTx(signer input.Signer, inputs []Input, sweepScript []byte,
	currentHeight uint32, feePerKw chainfee.SatPerKWeight) (*wire.MsgTx, error) {

	baseWeight := int64(input.P2WKHOutputSize) * int64(input.WitnessScaleFactor)
	weight := baseWeight
	var total btcutil.Amount
	for _, in := range inputs {
		weight += int64(in.WitnessSizeEstimate())
		total += in.Amount()
	}

	fee := feePerKw.FeeForWeight(weight)
	if total <= fee {
		return nil, fmt.Errorf("sweep: input total %v below fee %v", total, fee)
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = currentHeight
	tx.AddTxOut(&wire.TxOut{Value: int64(total - fee), PkScript: sweepScript})

	for _, in := range inputs {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: *in.OutPoint(),
			Sequence:         input.LockTimeToSequence(false, in.CSVDelay()),
		})
	}

	for i, in := range inputs {
		witness, err := in.BuildWitness(signer, tx, i)
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].Witness = witness
	}

	return tx, nil
}

// SweepBatches partitions every sweepable input belonging to one
// force-close (or the breach justice sweep) into as few transactions as
// dust and the max-inputs-per-tx bound allow, and returns each signed.
func SweepBatches(signer input.Signer, sweepable []Input, sweepScript []byte,
	currentHeight uint32, relayFeePerKw, feePerKw chainfee.SatPerKWeight) ([]*wire.MsgTx, error) {

	sets, err := generateInputPartitionings(
		sweepable, relayFeePerKw, feePerKw, DefaultMaxInputsPerTx,
	)
	if err != nil {
		return nil, err
	}

	txs := make([]*wire.MsgTx, 0, len(sets))
	for _, set := range sets {
		tx, err := createSweepTx(signer, set, sweepScript, currentHeight, feePerKw)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
