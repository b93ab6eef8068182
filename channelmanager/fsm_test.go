package channelmanager

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwallet"
	"github.com/lightninglabs/htlcengine/lnwire"
	"github.com/lightninglabs/htlcengine/shachain"
)

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

func testChannelFSM(t *testing.T) *ChannelFSM {
	t.Helper()

	localCfg, remoteCfg := testChanConfigs()
	producer := shachain.NewRevocationProducer(shachain.Hash{0xaa})

	firstSecret, err := producer.AtIndex(shachain.CommitHeightToIndex(0))
	require.NoError(t, err)
	firstPoint := input.ComputeCommitmentPoint(firstSecret[:])

	nextSecret, err := producer.AtIndex(shachain.CommitHeightToIndex(1))
	require.NoError(t, err)
	nextPoint := input.ComputeCommitmentPoint(nextSecret[:])

	state := &channeldb.OpenChannel{
		FundingOutpoint: wire.OutPoint{Hash: chainhash.Hash{0x09}, Index: 0},
		ChanType:        input.DefaultSegwit,
		IsInitiator:     true,
		Capacity:        10_000_000,
		LocalChanCfg:    *localCfg,
		RemoteChanCfg:   *remoteCfg,
		LocalCommitment: channeldb.ChannelCommitment{
			CommitHeight:  1,
			LocalBalance:  5_000_000_000,
			RemoteBalance: 5_000_000_000,
			FeePerKw:      12_500,
		},
		RemoteCommitment: channeldb.ChannelCommitment{
			CommitHeight:  1,
			LocalBalance:  5_000_000_000,
			RemoteBalance: 5_000_000_000,
			FeePerKw:      12_500,
		},
		RemoteCurrentRevocation: firstPoint,
		RemoteNextRevocation:    nextPoint,
		RevocationProducer:      producer,
		RevocationStore:         shachain.NewRevocationStore(),
	}

	signerPriv, _ := btcec.PrivKeyFromBytes(append(make([]byte, 31), 0x05))
	lc, err := lnwallet.NewLightningChannel(&input.MockSigner{Priv: signerPriv}, state)
	require.NoError(t, err)

	return &ChannelFSM{
		chanID:   lnwire.NewChanIDFromOutPoint(&state.FundingOutpoint),
		lc:       lc,
		state:    Normal,
		data:     &NormalStateData{Splice: channeldb.NoSplice},
		outbound: make(chan lnwire.Message, 10),
		quit:     make(chan struct{}),
	}
}

func TestAddHTLCForbiddenWhileQuiescent(t *testing.T) {
	f := testChannelFSM(t)
	f.normalData().Quiescent = true

	htlc := &lnwire.UpdateAddHTLC{PaymentHash: lnwire.PaymentHash{0x01}, Amount: 1_000_000, Expiry: 500}
	err := f.addHTLC(htlc)
	require.Error(t, err)

	cmErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindProtocolViolation, cmErr.Kind)
}

func TestAddHTLCAllowedWhenNotQuiescent(t *testing.T) {
	f := testChannelFSM(t)

	htlc := &lnwire.UpdateAddHTLC{PaymentHash: lnwire.PaymentHash{0x01}, Amount: 1_000_000, Expiry: 500}
	require.NoError(t, f.addHTLC(htlc))
}

func TestRemoteStfuMarksQuiescent(t *testing.T) {
	f := testChannelFSM(t)

	err := f.handleRemoteStfu(&lnwire.Stfu{ChanID: f.chanID, Initiator: true})
	require.NoError(t, err)
	require.True(t, f.normalData().Quiescent)

	htlc := &lnwire.UpdateAddHTLC{PaymentHash: lnwire.PaymentHash{0x01}, Amount: 1_000_000, Expiry: 500}
	require.Error(t, f.addHTLC(htlc))
}

func TestRemoteStfuMidSpliceIsProtocolViolation(t *testing.T) {
	f := testChannelFSM(t)
	f.normalData().Splice = channeldb.SpliceInProgress

	err := f.handleRemoteStfu(&lnwire.Stfu{ChanID: f.chanID, Initiator: true})
	require.Error(t, err)

	select {
	case msg := <-f.outbound:
		_, ok := msg.(*lnwire.Warning)
		require.True(t, ok)
	default:
		t.Fatal("expected a Warning to be queued for the peer")
	}
}

func TestReconnectBlocksNewHTLCsUntilReestablishProcessed(t *testing.T) {
	f := testChannelFSM(t)

	require.NoError(t, f.step(Event{Kind: EventDisconnect}))
	require.Equal(t, Offline, f.state)

	f.clock = fakeClock{}
	require.NoError(t, f.step(Event{Kind: EventReconnect}))
	require.Equal(t, Normal, f.state)
	require.True(t, f.normalData().Resyncing)

	htlc := &lnwire.UpdateAddHTLC{PaymentHash: lnwire.PaymentHash{0x01}, Amount: 1_000_000, Expiry: 500}
	require.Error(t, f.addHTLC(htlc))

	msg := &lnwire.ChannelReestablish{
		ChanID:                 f.chanID,
		NextLocalCommitHeight:  2,
		RemoteCommitTailHeight: 1,
	}
	require.NoError(t, f.processChannelReestablish(msg))
	require.False(t, f.normalData().Resyncing)

	require.NoError(t, f.addHTLC(htlc))
}

func TestProcessChannelReestablishRetransmitsLostCommitSig(t *testing.T) {
	f := testChannelFSM(t)

	commitSig, err := f.lc.SignNextCommitment()
	require.NoError(t, err)

	msg := &lnwire.ChannelReestablish{
		ChanID:                 f.chanID,
		NextLocalCommitHeight:  2,
		RemoteCommitTailHeight: 1,
	}
	require.NoError(t, f.processChannelReestablish(msg))

	select {
	case out := <-f.outbound:
		sig, ok := out.(*lnwire.CommitSig)
		require.True(t, ok)
		require.Equal(t, commitSig, sig)
	default:
		t.Fatal("expected the persisted commit_sig to be retransmitted")
	}
}

func TestProcessChannelReestablishRebuildsLostRevocation(t *testing.T) {
	f := testChannelFSM(t)

	msg := &lnwire.ChannelReestablish{
		ChanID:                 f.chanID,
		NextLocalCommitHeight:  1,
		RemoteCommitTailHeight: 0,
	}
	require.NoError(t, f.processChannelReestablish(msg))

	select {
	case out := <-f.outbound:
		_, ok := out.(*lnwire.RevokeAndAck)
		require.True(t, ok)
	default:
		t.Fatal("expected a rebuilt revoke_and_ack to be retransmitted")
	}
}

func TestErrorKindSeverity(t *testing.T) {
	require.Equal(t, DispositionForceClose, KindLivenessHazard.Severity())
	require.Equal(t, DispositionAbandon, KindFatal.Severity())
	require.Equal(t, DispositionAbortSession, KindTransientLocal.Severity())
}

type fakeClock struct{}

func (fakeClock) Now() time.Time                             { return time.Unix(0, 0) }
func (fakeClock) TickAfter(d time.Duration) <-chan time.Time { return make(chan time.Time) }
