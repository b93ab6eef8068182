package lnwallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/input"
)

func execClaimTx(t *testing.T, pkScript []byte, tx *wire.MsgTx, amt int64) error {
	t.Helper()
	vm, err := txscript.NewEngine(
		pkScript, tx, 0, txscript.StandardVerifyFlags, nil, nil,
		amt, txscript.NewCannedPrevOutputFetcher(pkScript, amt),
	)
	require.NoError(t, err)
	return vm.Execute()
}

func TestClaimMainDelayedTxSpendsDelayScript(t *testing.T) {
	const csvDelay = uint32(144)
	const balance = 1_000_000

	ownerPriv, ownerBase := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x01))
	_, revokeBase := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x02))
	_, commitPoint := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x03))

	delayKey := input.TweakPubKey(ownerBase, commitPoint)
	revokeKey := input.DeriveRevocationPubkey(revokeBase, commitPoint)
	tweak := input.SingleTweakBytes(commitPoint, ownerBase)

	script, err := input.CommitScriptToSelf(csvDelay, delayKey, revokeKey)
	require.NoError(t, err)
	pkScript, err := input.WitnessScriptHash(script)
	require.NoError(t, err)

	fundingOutpoint := testFundingOutpoint()
	signer := &input.MockSigner{Priv: ownerPriv}
	sweepScript := []byte{0x00, 0x14}

	tx, err := ClaimMainDelayedTx(
		signer, fundingOutpoint, balance, script, sweepScript, csvDelay,
		input.KeyDescriptor{PubKey: ownerBase}, tweak,
	)
	require.NoError(t, err)
	require.NoError(t, execClaimTx(t, pkScript, tx, balance))
}

func TestMainPenaltyTxSpendsDelayScript(t *testing.T) {
	const balance = 1_000_000

	ownerPriv, ownerBase := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x01))
	revokeBasePriv, revokeBase := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x02))
	commitSecret, commitPoint := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x03))

	delayKey := input.TweakPubKey(ownerBase, commitPoint)
	revokeKey := input.DeriveRevocationPubkey(revokeBase, commitPoint)

	script, err := input.CommitScriptToSelf(144, delayKey, revokeKey)
	require.NoError(t, err)
	pkScript, err := input.WitnessScriptHash(script)
	require.NoError(t, err)

	fundingOutpoint := testFundingOutpoint()
	signer := &input.MockSigner{Priv: revokeBasePriv}
	sweepScript := []byte{0x00, 0x14}

	tx, err := MainPenaltyTx(
		signer, fundingOutpoint, balance, script, sweepScript,
		input.KeyDescriptor{PubKey: revokeBase}, commitSecret,
	)
	require.NoError(t, err)
	require.NoError(t, execClaimTx(t, pkScript, tx, balance))
}

func TestMakeClosingTxFiltersDust(t *testing.T) {
	fundingOutpoint := testFundingOutpoint()
	outputs := []ClosingOutput{
		{Amount: 1_000_000, PkScript: []byte{0x00, 0x14, 0x01}},
		{Amount: 100, PkScript: []byte{0x00, 0x14, 0x02}},
	}

	tx := MakeClosingTx(fundingOutpoint, outputs, 546)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, int64(1_000_000), tx.TxOut[0].Value)
}

func TestMakeHtlcTimeoutTxRejectsBelowFee(t *testing.T) {
	localCfg, remoteCfg := testChanConfigs()
	commitPoint := testKey(0x30)
	keys := DeriveCommitmentKeys(commitPoint, true, localCfg, remoteCfg)

	_, _, err := MakeHtlcTimeoutTx(
		testFundingOutpoint(), 1, 500, chainfee.FeePerKwFloor,
		input.DefaultSegwit, keys, 144,
	)
	require.Error(t, err)
}
