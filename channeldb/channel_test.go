package channeldb

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwire"
	"github.com/lightninglabs/htlcengine/shachain"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) *btcec.PublicKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	_, pub := btcec.PrivKeyFromBytes(raw[:])
	return pub
}

func newTestChannel(t *testing.T) *OpenChannel {
	t.Helper()

	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxOut(&wire.TxOut{Value: 1_000_000, PkScript: []byte{0x00, 0x20}})

	cfg := ChannelConfig{
		ChannelConstraints: ChannelConstraints{
			DustLimit:        546,
			ChanReserve:      10000,
			MaxPendingAmount: 1_000_000_000,
			MinHTLC:          1000,
			MaxAcceptedHtlcs: 483,
			CsvDelay:         144,
		},
		MultiSigKey:         input.KeyDescriptor{PubKey: testKey(0x01)},
		RevocationBasePoint: input.KeyDescriptor{PubKey: testKey(0x02)},
		PaymentBasePoint:    input.KeyDescriptor{PubKey: testKey(0x03)},
		DelayBasePoint:      input.KeyDescriptor{PubKey: testKey(0x04)},
		HtlcBasePoint:       input.KeyDescriptor{PubKey: testKey(0x05)},
	}

	commit := ChannelCommitment{
		CommitHeight:  0,
		LocalBalance:  400_000_000,
		RemoteBalance: 600_000_000,
		FeePerKw:      5000,
		CommitTx:      *fundingTx,
		CommitSig:     []byte{0xde, 0xad, 0xbe, 0xef},
		Htlcs: []HTLC{
			{
				RHash:         lnwire.PaymentHash{0x01},
				Amt:           5_000_000,
				RefundTimeout: 552,
				OutputIndex:   2,
				Incoming:      true,
				OnionBlob:     make([]byte, 1366),
				HtlcIndex:     0,
			},
		},
	}

	var root shachain.Hash
	root[0] = 0xaa

	return &OpenChannel{
		ChainHash:       chainhash.Hash{0x01, 0x02},
		FundingOutpoint: wire.OutPoint{Hash: fundingTx.TxHash(), Index: 0},
		ChanType:        input.AnchorOutputs,
		IsInitiator:     true,
		Capacity:        btcutil.Amount(1_000_000),
		IdentityPub:     testKey(0x06).SerializeCompressed(),
		LocalChanCfg:    cfg,
		RemoteChanCfg:   cfg,
		LocalCommitment: commit,
		RemoteCommitment: commit,
		RemoteCurrentRevocation: testKey(0x07),
		RemoteNextRevocation:    testKey(0x08),
		RevocationProducer:      shachain.NewRevocationProducer(root),
		RevocationStore:         shachain.NewRevocationStore(),
		HtlcOriginMap: map[uint64]HtlcOrigin{
			0: {IncomingChanID: lnwire.NewShortChanIDFromInt(1234), IncomingHtlcID: 7},
		},
		SubState: NoSplice,
	}
}

func TestChannelPersistenceRoundTrip(t *testing.T) {
	dbPath := t.TempDir()
	db, err := Open(dbPath)
	require.NoError(t, err)

	channel := newTestChannel(t)
	require.NoError(t, db.SyncNewChannel(channel))

	chanID := lnwire.NewChanIDFromOutPoint(&channel.FundingOutpoint)
	loaded, err := db.FetchOpenChannel(chanID)
	require.NoError(t, err)

	require.Equal(t, channel.ChainHash, loaded.ChainHash)
	require.Equal(t, channel.FundingOutpoint, loaded.FundingOutpoint)
	require.Equal(t, channel.ChanType, loaded.ChanType)
	require.Equal(t, channel.Capacity, loaded.Capacity)
	require.Equal(t, channel.LocalCommitment.LocalBalance, loaded.LocalCommitment.LocalBalance)
	require.Equal(t, channel.LocalCommitment.Htlcs[0].RHash, loaded.LocalCommitment.Htlcs[0].RHash)
	require.True(t, channel.RemoteCurrentRevocation.IsEqual(loaded.RemoteCurrentRevocation))
	require.True(t, channel.RemoteNextRevocation.IsEqual(loaded.RemoteNextRevocation))
	require.Equal(t, channel.RevocationProducer.Root(), loaded.RevocationProducer.Root())
	require.Equal(t, channel.HtlcOriginMap, loaded.HtlcOriginMap)
}

func TestRevokeCommitmentPersistsSecret(t *testing.T) {
	dbPath := t.TempDir()
	db, err := Open(dbPath)
	require.NoError(t, err)

	channel := newTestChannel(t)
	require.NoError(t, db.SyncNewChannel(channel))

	secret, err := channel.RevocationProducer.AtIndex(shachain.CommitHeightToIndex(0))
	require.NoError(t, err)

	nextPoint := testKey(0x09)
	require.NoError(t, channel.RevokeCommitment(0, secret, nextPoint))

	chanID := lnwire.NewChanIDFromOutPoint(&channel.FundingOutpoint)
	loaded, err := db.FetchOpenChannel(chanID)
	require.NoError(t, err)

	require.Equal(t, 1, loaded.RevocationStore.NumStored())
	got, err := loaded.RevocationStore.LookUp(shachain.CommitHeightToIndex(0))
	require.NoError(t, err)
	require.Equal(t, secret, got)
	require.True(t, nextPoint.IsEqual(loaded.RemoteNextRevocation))
}

func TestCloseChannelMovesRecord(t *testing.T) {
	dbPath := t.TempDir()
	db, err := Open(dbPath)
	require.NoError(t, err)

	channel := newTestChannel(t)
	require.NoError(t, db.SyncNewChannel(channel))

	require.NoError(t, channel.CloseChannel(&ChannelCloseSummary{
		ChanPoint:   channel.FundingOutpoint,
		ChainHash:   channel.ChainHash,
		Capacity:    channel.Capacity,
		CloseType:   CooperativeClose,
		CloseHeight: 700000,
	}))

	chanID := lnwire.NewChanIDFromOutPoint(&channel.FundingOutpoint)
	_, err = db.FetchOpenChannel(chanID)
	require.ErrorIs(t, err, ErrChannelNoExist)
}
