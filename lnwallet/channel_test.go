package lnwallet

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwire"
	"github.com/lightninglabs/htlcengine/shachain"
)

// testOpenChannel builds a minimal, self-consistent persisted channel
// record for exercising the state machine: Alice is the initiator, with
// freshly generated revocation producer/store and an initial zero-height
// commitment on both sides.
func testOpenChannel(t *testing.T, aliceIsInitiator bool) *channeldb.OpenChannel {
	t.Helper()

	localCfg, remoteCfg := testChanConfigs()

	producer := shachain.NewRevocationProducer(shachain.Hash{0xaa})

	fundingOutpoint := wire.OutPoint{Hash: chainhash.Hash{0x09}, Index: 0}

	firstSecret, err := producer.AtIndex(shachain.CommitHeightToIndex(0))
	require.NoError(t, err)
	firstPoint := input.ComputeCommitmentPoint(firstSecret[:])

	nextSecret, err := producer.AtIndex(shachain.CommitHeightToIndex(1))
	require.NoError(t, err)
	nextPoint := input.ComputeCommitmentPoint(nextSecret[:])

	return &channeldb.OpenChannel{
		FundingOutpoint: fundingOutpoint,
		ChanType:        input.DefaultSegwit,
		IsInitiator:     aliceIsInitiator,
		Capacity:        10_000_000,
		LocalChanCfg:    *localCfg,
		RemoteChanCfg:   *remoteCfg,
		LocalCommitment: channeldb.ChannelCommitment{
			CommitHeight:  0,
			LocalBalance:  5_000_000_000,
			RemoteBalance: 5_000_000_000,
			FeePerKw:      12_500,
		},
		RemoteCommitment: channeldb.ChannelCommitment{
			CommitHeight:  0,
			LocalBalance:  5_000_000_000,
			RemoteBalance: 5_000_000_000,
			FeePerKw:      12_500,
		},
		RemoteCurrentRevocation: firstPoint,
		RemoteNextRevocation:    nextPoint,
		RevocationProducer:      producer,
		RevocationStore:         shachain.NewRevocationStore(),
	}
}

func TestNewLightningChannelDerivesFundingScript(t *testing.T) {
	state := testOpenChannel(t, true)
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))

	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)
	require.NotEmpty(t, lc.fundingScript)
}

func TestAddHTLCAndEvaluateHTLCView(t *testing.T) {
	state := testOpenChannel(t, true)
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	htlc := &lnwire.UpdateAddHTLC{
		PaymentHash: lnwire.PaymentHash{0x01},
		Amount:      100_000_000,
		Expiry:      500,
	}
	idx, err := lc.AddHTLC(htlc)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	ourBalance, theirBalance, htlcs := lc.evaluateHTLCView(true, 1)
	require.Len(t, htlcs, 1)
	require.Equal(t, lnwire.MilliSatoshi(5_000_000_000-100_000_000), ourBalance)
	require.Equal(t, lnwire.MilliSatoshi(5_000_000_000), theirBalance)
}

func TestSettleHTLCRequiresMatchingPreimage(t *testing.T) {
	state := testOpenChannel(t, true)
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	preimage := lnwire.PaymentPreimage{0x02}
	hash := verifyPreimageHashForTest(preimage)

	htlc := &lnwire.UpdateAddHTLC{PaymentHash: hash, Amount: 50_000_000, Expiry: 500}
	idx, err := lc.ReceiveHTLC(htlc)
	require.NoError(t, err)

	require.Error(t, lc.SettleHTLC(lnwire.PaymentPreimage{0xff}, idx))
	require.NoError(t, lc.SettleHTLC(preimage, idx))
}

func TestAddHTLCRejectsBelowMinimum(t *testing.T) {
	state := testOpenChannel(t, true)
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	htlc := &lnwire.UpdateAddHTLC{
		PaymentHash: lnwire.PaymentHash{0x01},
		Amount:      0,
		Expiry:      500,
	}
	_, err = lc.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrHtlcAmtTooSmall)
}

func TestAddHTLCRejectsExceedingReserve(t *testing.T) {
	state := testOpenChannel(t, true)
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	htlc := &lnwire.UpdateAddHTLC{
		PaymentHash: lnwire.PaymentHash{0x01},
		Amount:      lc.channelState.LocalCommitment.LocalBalance,
		Expiry:      500,
	}
	_, err = lc.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrHtlcAmtTooLarge)
}

func TestAddHTLCRejectsMisorderedID(t *testing.T) {
	state := testOpenChannel(t, true)
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	htlc := &lnwire.UpdateAddHTLC{
		ID:          7,
		PaymentHash: lnwire.PaymentHash{0x01},
		Amount:      100_000_000,
		Expiry:      500,
	}
	_, err = lc.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrHtlcIndexMisordered)
}

func TestAddHTLCRejectsTooManyInFlight(t *testing.T) {
	state := testOpenChannel(t, true)
	state.RemoteChanCfg.MaxAcceptedHtlcs = 1
	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	first := &lnwire.UpdateAddHTLC{PaymentHash: lnwire.PaymentHash{0x01}, Amount: 1_000_000, Expiry: 500}
	_, err = lc.AddHTLC(first)
	require.NoError(t, err)

	second := &lnwire.UpdateAddHTLC{ID: 1, PaymentHash: lnwire.PaymentHash{0x02}, Amount: 1_000_000, Expiry: 500}
	_, err = lc.AddHTLC(second)
	require.ErrorIs(t, err, ErrMaxHTLCNumber)
}

func verifyPreimageHashForTest(preimage lnwire.PaymentPreimage) lnwire.PaymentHash {
	var hash lnwire.PaymentHash
	sum := sha256.Sum256(preimage[:])
	copy(hash[:], sum[:])
	return hash
}

func TestBothPartiesDeriveMatchingFundingScript(t *testing.T) {
	aliceState := testOpenChannel(t, true)
	bobState := testOpenChannel(t, false)

	// Each party's local config is the other's remote config, so the
	// 2-of-2 multisig script built from (local, remote) keys must come
	// out byte-identical regardless of which side derives it.
	bobState.LocalChanCfg, bobState.RemoteChanCfg =
		aliceState.RemoteChanCfg, aliceState.LocalChanCfg
	bobState.FundingOutpoint = aliceState.FundingOutpoint
	bobState.Capacity = aliceState.Capacity
	bobState.ChanType = aliceState.ChanType

	alicePriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	bobPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x06))

	alice, err := NewLightningChannel(&input.MockSigner{Priv: alicePriv}, aliceState)
	require.NoError(t, err)
	bob, err := NewLightningChannel(&input.MockSigner{Priv: bobPriv}, bobState)
	require.NoError(t, err)

	require.Equal(t, alice.fundingScript, bob.fundingScript)
}
