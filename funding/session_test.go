package funding

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/lnwire"
)

func testPrevTx(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: []byte{0x00, 0x14}})
	return tx
}

func newTestSessionPair(t *testing.T) (initiator, acceptor *Session) {
	t.Helper()

	chanID := lnwire.ChannelID{0x42}
	feePerKw := chainfee.SatPerKWeight(2500)
	minFeePerKw := chainfee.SatPerKWeight(253)

	initiator = NewSession(
		chanID, Initiator, 0, 546, feePerKw, minFeePerKw, 0,
		0, 0, 0, 0,
	)
	acceptor = NewSession(
		chanID, Acceptor, 0, 546, feePerKw, minFeePerKw, 0,
		0, 0, 0, 0,
	)
	return initiator, acceptor
}

func TestSerialIDParityEnforced(t *testing.T) {
	initiator, acceptor := newTestSessionPair(t)

	addInput, err := initiator.AddInput(testPrevTx(1_000_000), 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), addInput.SerialID)

	// Acceptor accepts an input carrying the initiator's even serial id.
	err = acceptor.ReceiveTxAddInput(addInput)
	require.NoError(t, err)

	badInput := &lnwire.TxAddInput{
		ChanID:   acceptor.ChanID,
		SerialID: 2, // even: belongs to the initiator, not the acceptor
		PrevTx:   addInput.PrevTx,
	}
	err = initiator.ReceiveTxAddInput(badInput)
	require.Error(t, err)
}

func TestBelowDustOutputRejected(t *testing.T) {
	initiator, _ := newTestSessionPair(t)

	_, err := initiator.AddOutput(100, []byte{0x00, 0x14})
	require.Error(t, err)

	sessErr, ok := err.(*SessionError)
	require.True(t, ok)
	require.Equal(t, ErrKindBelowDust, sessErr.Kind)
}

func TestRoundCompletesAndFinalizes(t *testing.T) {
	initiator, acceptor := newTestSessionPair(t)

	addInput, err := initiator.AddInput(testPrevTx(1_000_000), 0, 0)
	require.NoError(t, err)
	require.NoError(t, acceptor.ReceiveTxAddInput(addInput))

	addOutput, err := initiator.AddOutput(990_000, []byte{0x00, 0x14})
	require.NoError(t, err)
	require.NoError(t, acceptor.ReceiveTxAddOutput(addOutput))

	_, err = initiator.MarkLocalComplete()
	require.NoError(t, err)
	ready, err := acceptor.ReceiveTxComplete()
	require.NoError(t, err)
	require.False(t, ready)

	_, err = acceptor.MarkLocalComplete()
	require.NoError(t, err)
	ready, err = initiator.ReceiveTxComplete()
	require.NoError(t, err)
	require.True(t, ready)

	tx, localDelta, _, err := initiator.FinalizeTx()
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 1)
	require.Less(t, int64(localDelta), int64(10_000))
}

func TestReserveViolationRejected(t *testing.T) {
	chanID := lnwire.ChannelID{0x42}
	feePerKw := chainfee.SatPerKWeight(2500)

	initiator := NewSession(
		chanID, Initiator, 0, 546, feePerKw, 253, 0,
		0, 0, 500_000, 0,
	)

	addInput, err := initiator.AddInput(testPrevTx(1_000_000), 0, 0)
	require.NoError(t, err)
	_ = addInput

	addOutput, err := initiator.AddOutput(999_000, []byte{0x00, 0x14})
	require.NoError(t, err)
	_ = addOutput

	_, err = initiator.MarkLocalComplete()
	require.NoError(t, err)
	ready, err := initiator.ReceiveTxComplete()
	require.NoError(t, err)
	require.True(t, ready)

	_, _, _, err = initiator.FinalizeTx()
	require.Error(t, err)
	sessErr, ok := err.(*SessionError)
	require.True(t, ok)
	require.Equal(t, ErrKindReserveViolation, sessErr.Kind)
}

func TestWillFundWitnessRoundTrip(t *testing.T) {
	nodePriv, nodePub := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x07))

	chanID := lnwire.ChannelID{0x42}
	amt := btcutil.Amount(500_000)
	feeRate := chainfee.SatPerKWeight(2500)

	witness, err := SignWillFund(nodePriv, chanID, amt, feeRate)
	require.NoError(t, err)
	require.NoError(t, VerifyWillFund(nodePub, chanID, amt, feeRate, witness))

	// A different amount must not verify against the same witness.
	require.Error(t, VerifyWillFund(nodePub, chanID, amt+1, feeRate, witness))
}

func TestRBFRequiresStrictlyHigherFeerate(t *testing.T) {
	tracker := NewRBFTracker(&Attempt{FundingTxIndex: 0, FeePerKw: 2500})

	_, err := tracker.BeginRBF(&lnwire.TxInitRBF{}, false, 2500, 0)
	require.Error(t, err)

	attempt, err := tracker.BeginRBF(&lnwire.TxInitRBF{}, false, 3000, 0)
	require.NoError(t, err)
	require.Equal(t, chainfee.SatPerKWeight(3000), attempt.FeePerKw)
}

func TestRBFOfConfirmedRejected(t *testing.T) {
	tracker := NewRBFTracker(&Attempt{FundingTxIndex: 0, FeePerKw: 2500, Confirmed: true})

	_, err := tracker.BeginRBF(&lnwire.TxInitRBF{}, false, 5000, 0)
	require.Error(t, err)
	sessErr, ok := err.(*SessionError)
	require.True(t, ok)
	require.Equal(t, ErrKindRBFOfConfirmed, sessErr.Kind)
}

func TestRBFMustCarryOverLiquidityPurchase(t *testing.T) {
	tracker := NewRBFTracker(&Attempt{
		FundingTxIndex: 0, FeePerKw: 2500, LiquidityAmt: 500_000,
	})

	_, err := tracker.BeginRBF(&lnwire.TxInitRBF{}, false, 3000, 100_000)
	require.Error(t, err)
	sessErr, ok := err.(*SessionError)
	require.True(t, ok)
	require.Equal(t, ErrKindMissingLiquidityPurchase, sessErr.Kind)

	attempt, err := tracker.BeginRBF(&lnwire.TxInitRBF{}, false, 3000, 500_000)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(500_000), attempt.LiquidityAmt)
}
