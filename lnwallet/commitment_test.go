package lnwallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwire"
)

func testFundingOutpoint() wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.Hash{0x01, 0x02, 0x03}, Index: 0}
}

func testKey(seed byte) *btcec.PublicKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	_, pub := btcec.PrivKeyFromBytes(raw[:])
	return pub
}

func testChanConfigs() (local, remote *channeldb.ChannelConfig) {
	mk := func(seed byte) channeldb.ChannelConfig {
		return channeldb.ChannelConfig{
			ChannelConstraints: channeldb.ChannelConstraints{
				DustLimit:        546,
				ChanReserve:      10_000,
				MinHTLC:          1,
				MaxPendingAmount: 10_000_000_000,
				MaxAcceptedHtlcs: 483,
			},
			MultiSigKey:         input.KeyDescriptor{PubKey: testKey(seed)},
			RevocationBasePoint: input.KeyDescriptor{PubKey: testKey(seed + 1)},
			PaymentBasePoint:    input.KeyDescriptor{PubKey: testKey(seed + 2)},
			DelayBasePoint:      input.KeyDescriptor{PubKey: testKey(seed + 3)},
			HtlcBasePoint:       input.KeyDescriptor{PubKey: testKey(seed + 4)},
		}
	}
	l, r := mk(0x10), mk(0x20)
	return &l, &r
}

func TestDeriveCommitmentKeysDistinctRoles(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	commitPoint := testKey(0x30)

	ourKeys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)
	theirKeys := DeriveCommitmentKeys(commitPoint, false, localCfg, remoteCfg)

	require.NotNil(t, ourKeys.ToLocalKey)
	require.NotNil(t, ourKeys.RevocationKey)

	expectedRevoke := input.DeriveRevocationPubkey(remoteCfg.RevocationBasePoint.PubKey, commitPoint)
	require.True(t, expectedRevoke.IsEqual(ourKeys.RevocationKey))

	expectedRevokeRemote := input.DeriveRevocationPubkey(localCfg.RevocationBasePoint.PubKey, commitPoint)
	require.True(t, expectedRevokeRemote.IsEqual(theirKeys.RevocationKey))

	require.False(t, ourKeys.ToLocalKey.IsEqual(theirKeys.ToLocalKey))
}

func TestCommitTxOutputsDustTrimming(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	commitPoint := testKey(0x30)
	keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

	spec := &CommitmentSpec{
		FeePerKw:      chainfee.FeePerKwFloor,
		LocalBalance:  5_000_000_000,
		RemoteBalance: 5_000_000_000,
		Htlcs: []channeldb.HTLC{
			// Comfortably above its timeout-fee-plus-dust threshold.
			{RHash: lnwire.PaymentHash{0x01}, Amt: 1_000_000, RefundTimeout: 500, Incoming: false},
			// Below dust outright; must be trimmed regardless of fee.
			{RHash: lnwire.PaymentHash{0x02}, Amt: 100, RefundTimeout: 500, Incoming: false},
		},
	}

	outputs, fee, err := CommitTxOutputs(
		input.DefaultSegwit, true, true, localCfg.DustLimit, spec, keys, 144,
	)
	require.NoError(t, err)
	require.Greater(t, fee, btcutil.Amount(0))

	var htlcOutputs int
	for _, out := range outputs {
		if out.Kind == OutputOfferedHTLC || out.Kind == OutputReceivedHTLC {
			htlcOutputs++
		}
	}
	require.Equal(t, 1, htlcOutputs, "the dust htlc must not appear as an output")
}

func TestCommitTxOutputsOrdering(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	commitPoint := testKey(0x30)
	keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

	spec := &CommitmentSpec{
		FeePerKw:      chainfee.FeePerKwFloor,
		LocalBalance:  3_000_000_000,
		RemoteBalance: 3_000_000_000,
		Htlcs: []channeldb.HTLC{
			{RHash: lnwire.PaymentHash{0x01}, Amt: 2_000_000, RefundTimeout: 500, Incoming: false},
			{RHash: lnwire.PaymentHash{0x02}, Amt: 500_000, RefundTimeout: 500, Incoming: true},
		},
	}

	outputs, _, err := CommitTxOutputs(
		input.DefaultSegwit, true, true, localCfg.DustLimit, spec, keys, 144,
	)
	require.NoError(t, err)

	for i := 1; i < len(outputs); i++ {
		require.LessOrEqual(t, outputs[i-1].Amount, outputs[i].Amount,
			"commitment outputs must be ascending by amount")
	}
}

func TestObscureCommitNumberRoundTrip(t *testing.T) {
	opener := testKey(0x40)
	accepter := testKey(0x41)

	for _, height := range []uint64{0, 1, 42, 1 << 23} {
		locktime, sequence := ObscureCommitNumber(opener, accepter, height)
		got := UnobscureCommitNumber(opener, accepter, locktime, sequence)
		require.Equal(t, height, got)
	}
}

// TestCommitWeightExactness checks the "weight exactness" property of
// SPEC_FULL.md §8: the weight CommitTxOutputs bases its fee on must equal
// input.EstimateCommitTxWeight's declared constant for the same HTLC count
// and format, for both the bare and anchor-carrying commitment formats.
func TestCommitWeightExactness(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	commitPoint := testKey(0x30)

	for _, format := range []input.CommitmentFormat{input.DefaultSegwit, input.AnchorOutputs} {
		for _, numHTLCs := range []int{0, 1, 4} {
			keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

			spec := &CommitmentSpec{
				FeePerKw:      5000,
				LocalBalance:  40_000_000_000,
				RemoteBalance: 30_000_000_000,
			}
			for i := 0; i < numHTLCs; i++ {
				spec.Htlcs = append(spec.Htlcs, channeldb.HTLC{
					RHash:         lnwire.PaymentHash{byte(i + 1)},
					Amt:           500_000_000,
					RefundTimeout: 550,
					Incoming:      i%2 == 0,
				})
			}

			_, fee, err := CommitTxOutputs(
				format, true, true, localCfg.DustLimit, spec, keys, 144,
			)
			require.NoError(t, err)

			wantWeight := input.EstimateCommitTxWeight(numHTLCs, format, false)
			wantFee := btcutil.Amount(int64(spec.FeePerKw) * wantWeight / 1000)
			require.Equal(t, wantFee, fee,
				"format %v, %d htlcs: fee must match the declared weight constant exactly", format, numHTLCs)
		}
	}
}

// TestEndToEndMixedHTLCCommitment is scenario 1 of SPEC_FULL.md §8's literal
// end-to-end scenarios: a capacity-1-BTC channel with to_local=400mBTC,
// to_remote=300mBTC, and four HTLCs (two each direction) comfortably above
// both the dust limit and their second-level transaction's own fee
// threshold at 5000 sat/kw, so all four must survive trimming and the
// outputs must come out in ascending-amount order.
func TestEndToEndMixedHTLCCommitment(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	localCfg.DustLimit = 546
	commitPoint := testKey(0x30)
	keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

	const mBTC = 100_000_000 // msat per milli-bitcoin

	spec := &CommitmentSpec{
		FeePerKw:      5000,
		LocalBalance:  400 * mBTC,
		RemoteBalance: 300 * mBTC,
		Htlcs: []channeldb.HTLC{
			{RHash: lnwire.PaymentHash{0x01}, Amt: 5 * mBTC, RefundTimeout: 552, Incoming: true},
			{RHash: lnwire.PaymentHash{0x02}, Amt: 1 * mBTC, RefundTimeout: 553, Incoming: false},
			{RHash: lnwire.PaymentHash{0x03}, Amt: 7 * mBTC, RefundTimeout: 550, Incoming: true},
			{RHash: lnwire.PaymentHash{0x04}, Amt: 8 * mBTC / 10, RefundTimeout: 551, Incoming: false},
		},
	}

	outputs, fee, err := CommitTxOutputs(
		input.DefaultSegwit, true, true, localCfg.DustLimit, spec, keys, 144,
	)
	require.NoError(t, err)

	var htlcOutputs int
	for _, out := range outputs {
		if out.Kind == OutputOfferedHTLC || out.Kind == OutputReceivedHTLC {
			htlcOutputs++
		}
	}
	require.Equal(t, 4, htlcOutputs, "all four htlcs are well above their trim threshold")

	for i := 1; i < len(outputs); i++ {
		require.LessOrEqual(t, outputs[i-1].Amount, outputs[i].Amount)
	}

	wantWeight := input.EstimateCommitTxWeight(4, input.DefaultSegwit, false)
	wantFee := btcutil.Amount(int64(spec.FeePerKw) * wantWeight / 1000)
	require.Equal(t, wantFee, fee)
}

// TestEndToEndDustTrimmingNoHTLCs is scenario 2 of SPEC_FULL.md §8's literal
// end-to-end scenarios: to_local starts below the dust limit once the
// commitment fee is deducted, so it must vanish from the output set
// entirely while to_remote is carried through unchanged.
func TestEndToEndDustTrimmingNoHTLCs(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	localCfg.DustLimit = 546
	commitPoint := testKey(0x30)
	keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

	localDustMsat := lnwire.MilliSatoshi(localCfg.DustLimit) * 1000

	spec := &CommitmentSpec{
		FeePerKw:      chainfee.FeePerKwFloor,
		LocalBalance:  localDustMsat * 9 / 10,
		RemoteBalance: 300 * 100_000_000, // 300 mBTC, in msat
	}

	outputs, _, err := CommitTxOutputs(
		input.DefaultSegwit, true, true, localCfg.DustLimit, spec, keys, 144,
	)
	require.NoError(t, err)
	require.Len(t, outputs, 1, "to_local must be trimmed, leaving only to_remote")
	require.Equal(t, OutputToRemote, outputs[0].Kind)
	require.Equal(t, spec.RemoteBalance.ToSatoshis(), outputs[0].Amount,
		"to_remote is unaffected by the trimmed to_local side")
}

func TestMakeCommitTxSpendsFundingOutpoint(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	commitPoint := testKey(0x30)
	keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

	spec := &CommitmentSpec{
		FeePerKw:      chainfee.FeePerKwFloor,
		LocalBalance:  3_000_000_000,
		RemoteBalance: 3_000_000_000,
	}
	outputs, _, err := CommitTxOutputs(
		input.DefaultSegwit, true, true, localCfg.DustLimit, spec, keys, 144,
	)
	require.NoError(t, err)

	fundingOutpoint := testFundingOutpoint()
	tx := MakeCommitTx(
		fundingOutpoint, 21, localCfg.PaymentBasePoint.PubKey,
		remoteCfg.PaymentBasePoint.PubKey, true, outputs,
	)

	require.Len(t, tx.TxIn, 1)
	require.Equal(t, fundingOutpoint, tx.TxIn[0].PreviousOutPoint)
	require.Len(t, tx.TxOut, len(outputs))
}
