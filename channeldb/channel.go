package channeldb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/input"
	"github.com/lightninglabs/htlcengine/lnwire"
	"github.com/lightninglabs/htlcengine/shachain"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// ErrNoPendingCommit is returned when a remote commitment diff is
	// requested but none is awaiting a revocation.
	ErrNoPendingCommit = fmt.Errorf("no pending commit found")

	byteOrder = binary.BigEndian
)

// ChannelConstraints are the per-party limits negotiated at channel
// opening: the dust limit below which an output is trimmed into fee, the
// reserve that party must always keep on its side of the ledger, the
// ceilings on in-flight HTLC count and aggregate value, and the relative
// delay imposed on that party's own commitment outputs.
type ChannelConstraints struct {
	DustLimit        btcutil.Amount
	ChanReserve      btcutil.Amount
	MaxPendingAmount lnwire.MilliSatoshi
	MinHTLC          lnwire.MilliSatoshi
	MaxAcceptedHtlcs uint16
	CsvDelay         uint16
}

// ChannelConfig bundles one party's immutable channel parameters: its
// constraints plus the five basepoints (funding, revocation, payment,
// delayed-payment, htlc) from which every per-commitment key that party
// uses is derived.
type ChannelConfig struct {
	ChannelConstraints

	MultiSigKey         input.KeyDescriptor
	RevocationBasePoint input.KeyDescriptor
	PaymentBasePoint    input.KeyDescriptor
	DelayBasePoint      input.KeyDescriptor
	HtlcBasePoint       input.KeyDescriptor
}

// HTLC is the persistent record of one in-flight HTLC as it sits in a
// particular commitment's output set: enough to reconstruct the second
// stage transaction and, on breach, the penalty transaction, without
// replaying the update log.
type HTLC struct {
	// Signature is the remote party's signature over this HTLC's
	// second-stage transaction, absent when the HTLC is dust.
	Signature []byte

	RHash         lnwire.PaymentHash
	Amt           lnwire.MilliSatoshi
	RefundTimeout uint32
	OutputIndex   int32

	// Incoming is true if this HTLC is incoming from the point of view
	// of the owner of the commitment this HTLC lives in.
	Incoming bool

	OnionBlob []byte

	// HtlcIndex is this HTLC's unique index within the channel's
	// lifetime, assigned at add time and stable across resignings.
	HtlcIndex uint64

	// LogIndex is the index of the log update that added this HTLC,
	// used to correlate a commitment's HTLC set back to the update log
	// that produced it.
	LogIndex uint64
}

// Copy returns a deep copy of the HTLC, since commitments sharing no
// mutable state is an explicit invariant of the commitment set.
func (h *HTLC) Copy() HTLC {
	clone := *h
	clone.Signature = append([]byte(nil), h.Signature...)
	clone.OnionBlob = append([]byte(nil), h.OnionBlob...)
	return clone
}

// ChannelCommitment is one signed state of the channel: its height, the
// balances and feerate that produced it, every non-dust HTLC riding on
// it, and the signed commitment transaction itself.
type ChannelCommitment struct {
	CommitHeight uint64

	LocalLogIndex  uint64
	LocalHtlcIndex uint64

	RemoteLogIndex  uint64
	RemoteHtlcIndex uint64

	LocalBalance  lnwire.MilliSatoshi
	RemoteBalance lnwire.MilliSatoshi

	CommitFee lnwire.MilliSatoshi
	FeePerKw  chainfee.SatPerKWeight

	CommitTx  wire.MsgTx
	CommitSig []byte

	Htlcs []HTLC
}

// LogUpdate is one entry of the update log awaiting inclusion in (or
// already reflected by) a signed commitment: the wire message the peer
// sent or we sent, tagged with the log index it occupies.
type LogUpdate struct {
	LogIndex  uint64
	UpdateMsg lnwire.Message
}

// CommitDiff captures everything needed to retransmit an unacknowledged
// commit_sig after reconnection: the commitment it signed, the signature
// itself, and the exact sequence of update messages that produced it, so
// the retransmission is byte-identical rather than merely equivalent.
type CommitDiff struct {
	Commitment ChannelCommitment
	CommitSig  *lnwire.CommitSig
	LogUpdates []LogUpdate
}

// ChannelCloseType enumerates how a channel left the active set, driving
// which on-chain reaction path (if any) follows.
type ChannelCloseType uint8

const (
	CooperativeClose ChannelCloseType = iota
	ForceClose
	BreachClose
	FundingCanceled
	Abandoned
)

// ChannelCloseSummary is the terminal record written once a channel
// leaves Normal/splicing operation for good.
type ChannelCloseSummary struct {
	ChanPoint      wire.OutPoint
	ChainHash      chainhash.Hash
	ClosingTXID    chainhash.Hash
	RemotePub      []byte
	Capacity       btcutil.Amount
	SettledBalance btcutil.Amount
	CloseType      ChannelCloseType
	CloseHeight    uint32
}

// ChannelSnapshot is a read-only, independently-copied view of a
// channel's current balances and HTLC set, safe to hand to a caller that
// must not observe subsequent mutation.
type ChannelSnapshot struct {
	ChannelPoint  wire.OutPoint
	Capacity      btcutil.Amount
	LocalBalance  lnwire.MilliSatoshi
	RemoteBalance lnwire.MilliSatoshi
	Htlcs         []HTLC
}

// ChannelSubState tracks the splice/RBF activity nested within the
// Normal top-level state, per SPEC_FULL.md's channel state machine.
type ChannelSubState uint8

const (
	NoSplice ChannelSubState = iota
	SpliceRequested
	SpliceInProgress
	SpliceWaitingForSigs
)

// OpenChannel is the single persistent record per channel: one row,
// versioned by a leading byte discriminant, holding the channel
// parameters, both peers' basepoints, the active and inactive
// commitment lists, the per-commitment secret chain, the HTLC origin
// map, and the current sub-state, per SPEC_FULL.md's persistent state
// layout. Every exported mutator commits its change to the backing
// kvdb.Backend before returning, matching the spec's persistence
// discipline: a channel actor never advances past a state change that
// could expose it to loss on replay before that change is durable.
type OpenChannel struct {
	// version is the record's wire-format discriminant; see
	// serializeChannel/deserializeChannel.
	version uint8

	ChainHash       chainhash.Hash
	FundingOutpoint wire.OutPoint
	ChanType        input.CommitmentFormat
	IsInitiator     bool
	ShortChanID     lnwire.ShortChannelID

	IdentityPub []byte
	Capacity    btcutil.Amount

	LocalChanCfg  ChannelConfig
	RemoteChanCfg ChannelConfig

	// LocalCommitment/RemoteCommitment are this channel's active
	// commitments — the only pair considered "current" outside of a
	// splice. During splicing, additional active commitments for the
	// other live funding outputs are held in ActiveCommitments.
	LocalCommitment  ChannelCommitment
	RemoteCommitment ChannelCommitment

	// ActiveCommitments holds one local/remote commitment pair per
	// funding output that is still live — plural only while a splice or
	// RBF attempt has more than one unconfirmed funding candidate.
	ActiveCommitments []ActiveCommitmentPair

	// InactiveCommitments are commitments superseded by a confirmed,
	// both-parties-locked later funding output, retained only until no
	// reorg could resurrect the output they reference.
	InactiveCommitments []ActiveCommitmentPair

	RemoteCurrentRevocation *btcec.PublicKey
	RemoteNextRevocation    *btcec.PublicKey

	RevocationProducer *shachain.RevocationProducer
	RevocationStore    *shachain.Store

	// HtlcOriginMap records, per HtlcIndex, which incoming circuit an
	// outgoing HTLC was forwarded from, so a downstream failure or
	// fulfillment can be routed back without replaying the switch.
	HtlcOriginMap map[uint64]HtlcOrigin

	SubState ChannelSubState

	// pendingRemoteCommitDiff, if non-nil, is the most recent commit_sig
	// we sent that the remote party has not yet revoked a predecessor
	// for — retransmitted verbatim on reconnection.
	pendingRemoteCommitDiff *CommitDiff

	IsPending  bool
	IsBorked   bool
	IsZeroConf bool

	FundingBroadcastHeight uint32
	NumConfsRequired       uint16

	db     *DB
	sync.RWMutex
}

// ActiveCommitmentPair is one funding output's local/remote commitment
// pair, tagged with the funding outpoint it belongs to so the force-close
// reactor can tell which active commitment a chain event concerns.
type ActiveCommitmentPair struct {
	FundingOutpoint wire.OutPoint
	FundingTxIndex  uint64
	Local           ChannelCommitment
	Remote          ChannelCommitment
}

// HtlcOrigin identifies the upstream circuit an HTLC this node forwarded
// arrived on, the minimal state the htlc origin map persists so a
// fail/fulfill can be routed back after a restart without the full
// switch's in-memory circuit map.
type HtlcOrigin struct {
	IncomingChanID lnwire.ShortChannelID
	IncomingHtlcID uint64
}

// CommitmentFormat reports this channel's negotiated commitment format,
// as stored in ChanType.
func (c *OpenChannel) CommitmentFormat() input.CommitmentFormat {
	return c.ChanType
}

// MarkBorked flags the channel as unsafe to continue operating — the
// local state has diverged from what can be proven on-chain — persisting
// the flag so a restart doesn't silently resume normal operation.
func (c *OpenChannel) MarkBorked() error {
	c.Lock()
	defer c.Unlock()

	c.IsBorked = true
	return c.db.putOpenChannel(c)
}

// MarkPending flags whether the channel's funding transaction is still
// unconfirmed.
func (c *OpenChannel) MarkPending(pending bool) error {
	c.Lock()
	defer c.Unlock()

	c.IsPending = pending
	return c.db.putOpenChannel(c)
}

// AdvanceCommitChainTail is called once a commit_sig/revoke_and_ack round
// trip completes: the new commitment becomes the channel's current
// commitment, and is persisted as such before the caller's revocation is
// acknowledged back to the peer.
func (c *OpenChannel) AdvanceCommitChainTail(newRemoteCommit *ChannelCommitment,
	newLogUpdates []LogUpdate) error {

	c.Lock()
	defer c.Unlock()

	c.RemoteCommitment = *newRemoteCommit
	c.pendingRemoteCommitDiff = nil

	return c.db.putOpenChannel(c)
}

// AppendRemoteCommitChain records a newly-signed remote commitment as
// pending — awaiting the revocation of its predecessor — so that, should
// the connection drop before the peer revokes, the exact same
// commit_sig can be retransmitted from persisted state rather than
// resigned (which would produce a different, also-valid, but
// non-identical commitment and violate replay convergence).
func (c *OpenChannel) AppendRemoteCommitChain(diff *CommitDiff) error {
	c.Lock()
	defer c.Unlock()

	c.pendingRemoteCommitDiff = diff
	return c.db.putOpenChannel(c)
}

// RemoteCommitChainTip returns the pending (not yet revoked) remote
// commitment diff, or ErrNoPendingCommit if the chains are already
// synced.
func (c *OpenChannel) RemoteCommitChainTip() (*CommitDiff, error) {
	c.RLock()
	defer c.RUnlock()

	if c.pendingRemoteCommitDiff == nil {
		return nil, ErrNoPendingCommit
	}
	return c.pendingRemoteCommitDiff, nil
}

// InsertNextRevocation stores the per-commitment point the remote party
// has supplied for its *next* commitment, ahead of actually receiving
// that commitment's commit_sig — required so we can immediately derive
// the key ring the next time we sign.
func (c *OpenChannel) InsertNextRevocation(revKey *btcec.PublicKey) error {
	c.Lock()
	defer c.Unlock()

	c.RemoteNextRevocation = revKey
	return c.db.putOpenChannel(c)
}

// AdvanceLocalCommitChainTail records the local party's own newly-signed
// commitment as current, persisting it before the local commit_sig is
// handed to the peer connection for transmission.
func (c *OpenChannel) AdvanceLocalCommitChainTail(newLocalCommit *ChannelCommitment) error {
	c.Lock()
	defer c.Unlock()

	c.LocalCommitment = *newLocalCommit
	return c.db.putOpenChannel(c)
}

// RevokeCommitment persists the just-superseded commitment height's
// secret into the revocation store, and records the new next-commitment
// point the peer just sent — the two pieces of state `revoke_and_ack`
// carries. This runs before the corresponding revoke_and_ack reaches the
// wire, so a crash between persistence and transmission only costs a
// retransmit, never fund-losing ambiguity.
func (c *OpenChannel) RevokeCommitment(height uint64, secret shachain.Hash,
	nextRevocation *btcec.PublicKey) error {

	c.Lock()
	defer c.Unlock()

	index := shachain.CommitHeightToIndex(height)
	if err := c.RevocationStore.Insert(index, secret); err != nil {
		return err
	}

	c.RemoteCurrentRevocation = c.RemoteNextRevocation
	c.RemoteNextRevocation = nextRevocation

	return c.db.putOpenChannel(c)
}

// StateSnapshot returns an independent, point-in-time copy of the
// channel's local balances and HTLC set.
func (c *OpenChannel) StateSnapshot() *ChannelSnapshot {
	c.RLock()
	defer c.RUnlock()

	htlcs := make([]HTLC, len(c.LocalCommitment.Htlcs))
	for i, h := range c.LocalCommitment.Htlcs {
		htlcs[i] = h.Copy()
	}

	return &ChannelSnapshot{
		ChannelPoint:  c.FundingOutpoint,
		Capacity:      c.Capacity,
		LocalBalance:  c.LocalCommitment.LocalBalance,
		RemoteBalance: c.LocalCommitment.RemoteBalance,
		Htlcs:         htlcs,
	}
}

// State returns the channel's mutable persistent record, mirroring the
// teacher's LightningChannel.State() accessor for callers that need the
// full backing struct rather than a read-only snapshot.
func (c *OpenChannel) State() *OpenChannel {
	return c
}

// BeginSplice transitions the channel's sub-state into SpliceInProgress
// and registers a new candidate active commitment pair for the pending
// funding output, without yet disturbing the existing active set — the
// old funding output remains live until the splice locks.
func (c *OpenChannel) BeginSplice(fundingOutpoint wire.OutPoint, fundingTxIndex uint64) error {
	c.Lock()
	defer c.Unlock()

	c.SubState = SpliceInProgress
	c.ActiveCommitments = append(c.ActiveCommitments, ActiveCommitmentPair{
		FundingOutpoint: fundingOutpoint,
		FundingTxIndex:  fundingTxIndex,
	})

	return c.db.putOpenChannel(c)
}

// LockSplice marks every active commitment whose funding outpoint is not
// lockedOutpoint as inactive, per the spec's rule that a commitment
// becomes inactive once a later-indexed funding output is locked by both
// parties, and resets the splice sub-state to NoSplice.
func (c *OpenChannel) LockSplice(lockedOutpoint wire.OutPoint) error {
	c.Lock()
	defer c.Unlock()

	var stillActive []ActiveCommitmentPair
	for _, pair := range c.ActiveCommitments {
		if pair.FundingOutpoint == lockedOutpoint {
			stillActive = append(stillActive, pair)
			continue
		}
		c.InactiveCommitments = append(c.InactiveCommitments, pair)
	}
	c.ActiveCommitments = stillActive
	c.FundingOutpoint = lockedOutpoint
	c.SubState = NoSplice

	return c.db.putOpenChannel(c)
}

// PruneInactive discards inactive commitments whose funding outpoint
// matches pruned, called once no reorg could resurrect that output.
func (c *OpenChannel) PruneInactive(pruned wire.OutPoint) error {
	c.Lock()
	defer c.Unlock()

	kept := c.InactiveCommitments[:0]
	for _, pair := range c.InactiveCommitments {
		if pair.FundingOutpoint != pruned {
			kept = append(kept, pair)
		}
	}
	c.InactiveCommitments = kept

	return c.db.putOpenChannel(c)
}

// CloseChannel moves the channel from the open-channel bucket into the
// closed-channel bucket, recording its terminal summary.
func (c *OpenChannel) CloseChannel(summary *ChannelCloseSummary) error {
	c.Lock()
	defer c.Unlock()

	return c.db.closeChannel(c, summary)
}

// channelKey is the primary key this package stores OpenChannel records
// under: the 32-byte channel id derived from the funding outpoint.
func channelKey(chanID lnwire.ChannelID) []byte {
	return chanID[:]
}

const openChannelVersion = 1

// FetchOpenChannel loads the persistent record for chanID, wiring it
// back up to db so its mutator methods can persist further changes.
func (d *DB) FetchOpenChannel(chanID lnwire.ChannelID) (*OpenChannel, error) {
	var channel *OpenChannel

	err := kvdb.View(d, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}

		raw := bucket.Get(channelKey(chanID))
		if raw == nil {
			return ErrChannelNoExist
		}

		c, err := deserializeChannel(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		channel = c
		return nil
	}, func() {})
	if err != nil {
		return nil, err
	}

	channel.db = d
	return channel, nil
}

// FetchAllChannels returns every channel currently in the open-channel
// bucket, used to restore in-memory channel actors on node startup.
func (d *DB) FetchAllChannels() ([]*OpenChannel, error) {
	var channels []*OpenChannel

	err := kvdb.View(d, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}

		return bucket.ForEach(func(k, v []byte) error {
			c, err := deserializeChannel(bytes.NewReader(v))
			if err != nil {
				return err
			}
			c.db = d
			channels = append(channels, c)
			return nil
		})
	}, func() { channels = nil })
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, ErrNoActiveChannels
	}

	return channels, nil
}

// SyncNewChannel persists a freshly-negotiated channel for the first
// time, keyed by the channel id derived from its funding outpoint.
func (d *DB) SyncNewChannel(c *OpenChannel) error {
	c.db = d
	c.version = openChannelVersion
	return d.putOpenChannel(c)
}

func (d *DB) putOpenChannel(c *OpenChannel) error {
	chanID := lnwire.NewChanIDFromOutPoint(&c.FundingOutpoint)

	var buf bytes.Buffer
	if err := serializeChannel(&buf, c); err != nil {
		return err
	}

	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}
		return bucket.Put(channelKey(chanID), buf.Bytes())
	}, func() {})
}

func (d *DB) closeChannel(c *OpenChannel, summary *ChannelCloseSummary) error {
	chanID := lnwire.NewChanIDFromOutPoint(&c.FundingOutpoint)

	var buf bytes.Buffer
	if err := serializeCloseSummary(&buf, summary); err != nil {
		return err
	}

	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		openBucket := tx.ReadWriteBucket(openChannelBucket)
		if openBucket == nil {
			return ErrNoChanDBExists
		}
		closedBucket := tx.ReadWriteBucket(closedChannelBucket)
		if closedBucket == nil {
			return ErrNoChanDBExists
		}

		if err := openBucket.Delete(channelKey(chanID)); err != nil {
			return err
		}
		return closedBucket.Put(channelKey(chanID), buf.Bytes())
	}, func() {})
}

// --- serialization -----------------------------------------------------
//
// Records are flat binary (length-prefixed variable fields, fixed-width
// integers via byteOrder), the same style channeldb/graph.go used for
// its node and edge records, rather than the TLV framing lnwire uses on
// the wire: this is our own storage format, free to evolve independently
// of the interoperability-critical wire protocol, and versioned by a
// single leading byte so a later migration can add fields without
// breaking old records.

func serializeChannel(w io.Writer, c *OpenChannel) error {
	if err := binary.Write(w, byteOrder, uint8(openChannelVersion)); err != nil {
		return err
	}
	if _, err := w.Write(c.ChainHash[:]); err != nil {
		return err
	}
	if err := writeOutPoint(w, c.FundingOutpoint); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(c.ChanType)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.IsInitiator); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.ShortChanID.ToUint64()); err != nil {
		return err
	}
	if err := writeVarBytes(w, c.IdentityPub); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(c.Capacity)); err != nil {
		return err
	}
	if err := serializeChanConfig(w, &c.LocalChanCfg); err != nil {
		return err
	}
	if err := serializeChanConfig(w, &c.RemoteChanCfg); err != nil {
		return err
	}
	if err := serializeCommitment(w, &c.LocalCommitment); err != nil {
		return err
	}
	if err := serializeCommitment(w, &c.RemoteCommitment); err != nil {
		return err
	}

	if err := binary.Write(w, byteOrder, uint32(len(c.ActiveCommitments))); err != nil {
		return err
	}
	for _, pair := range c.ActiveCommitments {
		if err := serializeActivePair(w, &pair); err != nil {
			return err
		}
	}
	if err := binary.Write(w, byteOrder, uint32(len(c.InactiveCommitments))); err != nil {
		return err
	}
	for _, pair := range c.InactiveCommitments {
		if err := serializeActivePair(w, &pair); err != nil {
			return err
		}
	}

	if err := writeOptionalPubkey(w, c.RemoteCurrentRevocation); err != nil {
		return err
	}
	if err := writeOptionalPubkey(w, c.RemoteNextRevocation); err != nil {
		return err
	}

	root := c.RevocationProducer.Root()
	if _, err := w.Write(root[:]); err != nil {
		return err
	}

	entries := c.RevocationStore.Entries()
	if err := binary.Write(w, byteOrder, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, byteOrder, uint64(e.Index)); err != nil {
			return err
		}
		if _, err := w.Write(e.Hash[:]); err != nil {
			return err
		}
	}

	if err := binary.Write(w, byteOrder, uint32(len(c.HtlcOriginMap))); err != nil {
		return err
	}
	for idx, origin := range c.HtlcOriginMap {
		if err := binary.Write(w, byteOrder, idx); err != nil {
			return err
		}
		if err := binary.Write(w, byteOrder, origin.IncomingChanID.ToUint64()); err != nil {
			return err
		}
		if err := binary.Write(w, byteOrder, origin.IncomingHtlcID); err != nil {
			return err
		}
	}

	if err := binary.Write(w, byteOrder, uint8(c.SubState)); err != nil {
		return err
	}

	hasPending := c.pendingRemoteCommitDiff != nil
	if err := binary.Write(w, byteOrder, hasPending); err != nil {
		return err
	}
	if hasPending {
		if err := serializeCommitDiff(w, c.pendingRemoteCommitDiff); err != nil {
			return err
		}
	}

	if err := binary.Write(w, byteOrder, c.IsPending); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.IsBorked); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.IsZeroConf); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.FundingBroadcastHeight); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, c.NumConfsRequired)
}

func deserializeChannel(r io.Reader) (*OpenChannel, error) {
	c := &OpenChannel{HtlcOriginMap: make(map[uint64]HtlcOrigin)}

	if err := binary.Read(r, byteOrder, &c.version); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.ChainHash[:]); err != nil {
		return nil, err
	}
	op, err := readOutPoint(r)
	if err != nil {
		return nil, err
	}
	c.FundingOutpoint = op

	var chanType uint8
	if err := binary.Read(r, byteOrder, &chanType); err != nil {
		return nil, err
	}
	c.ChanType = input.CommitmentFormat(chanType)

	if err := binary.Read(r, byteOrder, &c.IsInitiator); err != nil {
		return nil, err
	}

	var shortChanID uint64
	if err := binary.Read(r, byteOrder, &shortChanID); err != nil {
		return nil, err
	}
	c.ShortChanID = lnwire.NewShortChanIDFromInt(shortChanID)

	c.IdentityPub, err = readVarBytes(r)
	if err != nil {
		return nil, err
	}

	var capacity uint64
	if err := binary.Read(r, byteOrder, &capacity); err != nil {
		return nil, err
	}
	c.Capacity = btcutil.Amount(capacity)

	if c.LocalChanCfg, err = deserializeChanConfig(r); err != nil {
		return nil, err
	}
	if c.RemoteChanCfg, err = deserializeChanConfig(r); err != nil {
		return nil, err
	}
	if c.LocalCommitment, err = deserializeCommitment(r); err != nil {
		return nil, err
	}
	if c.RemoteCommitment, err = deserializeCommitment(r); err != nil {
		return nil, err
	}

	var numActive uint32
	if err := binary.Read(r, byteOrder, &numActive); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numActive; i++ {
		pair, err := deserializeActivePair(r)
		if err != nil {
			return nil, err
		}
		c.ActiveCommitments = append(c.ActiveCommitments, pair)
	}

	var numInactive uint32
	if err := binary.Read(r, byteOrder, &numInactive); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numInactive; i++ {
		pair, err := deserializeActivePair(r)
		if err != nil {
			return nil, err
		}
		c.InactiveCommitments = append(c.InactiveCommitments, pair)
	}

	if c.RemoteCurrentRevocation, err = readOptionalPubkey(r); err != nil {
		return nil, err
	}
	if c.RemoteNextRevocation, err = readOptionalPubkey(r); err != nil {
		return nil, err
	}

	var root shachain.Hash
	if _, err := io.ReadFull(r, root[:]); err != nil {
		return nil, err
	}
	c.RevocationProducer = shachain.NewRevocationProducer(root)

	var numEntries uint32
	if err := binary.Read(r, byteOrder, &numEntries); err != nil {
		return nil, err
	}
	entries := make([]shachain.Element, numEntries)
	for i := range entries {
		var idx uint64
		if err := binary.Read(r, byteOrder, &idx); err != nil {
			return nil, err
		}
		var hash shachain.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, err
		}
		entries[i] = shachain.Element{Index: shachain.Index(idx), Hash: hash}
	}
	c.RevocationStore = shachain.NewRevocationStoreFromEntries(entries)

	var numOrigins uint32
	if err := binary.Read(r, byteOrder, &numOrigins); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numOrigins; i++ {
		var (
			htlcIndex   uint64
			chanIDInt   uint64
			incomingIdx uint64
		)
		if err := binary.Read(r, byteOrder, &htlcIndex); err != nil {
			return nil, err
		}
		if err := binary.Read(r, byteOrder, &chanIDInt); err != nil {
			return nil, err
		}
		if err := binary.Read(r, byteOrder, &incomingIdx); err != nil {
			return nil, err
		}
		c.HtlcOriginMap[htlcIndex] = HtlcOrigin{
			IncomingChanID: lnwire.NewShortChanIDFromInt(chanIDInt),
			IncomingHtlcID: incomingIdx,
		}
	}

	var subState uint8
	if err := binary.Read(r, byteOrder, &subState); err != nil {
		return nil, err
	}
	c.SubState = ChannelSubState(subState)

	var hasPending bool
	if err := binary.Read(r, byteOrder, &hasPending); err != nil {
		return nil, err
	}
	if hasPending {
		diff, err := deserializeCommitDiff(r)
		if err != nil {
			return nil, err
		}
		c.pendingRemoteCommitDiff = diff
	}

	if err := binary.Read(r, byteOrder, &c.IsPending); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.IsBorked); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.IsZeroConf); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.FundingBroadcastHeight); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.NumConfsRequired); err != nil {
		return nil, err
	}

	return c, nil
}

func serializeChanConfig(w io.Writer, cfg *ChannelConfig) error {
	if err := binary.Write(w, byteOrder, uint64(cfg.DustLimit)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(cfg.ChanReserve)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(cfg.MaxPendingAmount)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(cfg.MinHTLC)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, cfg.MaxAcceptedHtlcs); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, cfg.CsvDelay); err != nil {
		return err
	}
	for _, kd := range []input.KeyDescriptor{
		cfg.MultiSigKey, cfg.RevocationBasePoint, cfg.PaymentBasePoint,
		cfg.DelayBasePoint, cfg.HtlcBasePoint,
	} {
		if err := writeOptionalPubkey(w, kd.PubKey); err != nil {
			return err
		}
	}
	return nil
}

func deserializeChanConfig(r io.Reader) (ChannelConfig, error) {
	var cfg ChannelConfig

	var dustLimit, chanReserve, maxPending, minHTLC uint64
	if err := binary.Read(r, byteOrder, &dustLimit); err != nil {
		return cfg, err
	}
	if err := binary.Read(r, byteOrder, &chanReserve); err != nil {
		return cfg, err
	}
	if err := binary.Read(r, byteOrder, &maxPending); err != nil {
		return cfg, err
	}
	if err := binary.Read(r, byteOrder, &minHTLC); err != nil {
		return cfg, err
	}
	cfg.DustLimit = btcutil.Amount(dustLimit)
	cfg.ChanReserve = btcutil.Amount(chanReserve)
	cfg.MaxPendingAmount = lnwire.MilliSatoshi(maxPending)
	cfg.MinHTLC = lnwire.MilliSatoshi(minHTLC)

	if err := binary.Read(r, byteOrder, &cfg.MaxAcceptedHtlcs); err != nil {
		return cfg, err
	}
	if err := binary.Read(r, byteOrder, &cfg.CsvDelay); err != nil {
		return cfg, err
	}

	keys := make([]*btcec.PublicKey, 5)
	for i := range keys {
		pub, err := readOptionalPubkey(r)
		if err != nil {
			return cfg, err
		}
		keys[i] = pub
	}
	cfg.MultiSigKey = input.KeyDescriptor{PubKey: keys[0]}
	cfg.RevocationBasePoint = input.KeyDescriptor{PubKey: keys[1]}
	cfg.PaymentBasePoint = input.KeyDescriptor{PubKey: keys[2]}
	cfg.DelayBasePoint = input.KeyDescriptor{PubKey: keys[3]}
	cfg.HtlcBasePoint = input.KeyDescriptor{PubKey: keys[4]}

	return cfg, nil
}

func serializeCommitment(w io.Writer, c *ChannelCommitment) error {
	if err := binary.Write(w, byteOrder, c.CommitHeight); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.LocalLogIndex); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.LocalHtlcIndex); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.RemoteLogIndex); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.RemoteHtlcIndex); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(c.LocalBalance)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(c.RemoteBalance)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(c.CommitFee)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(c.FeePerKw)); err != nil {
		return err
	}

	rawTx, err := serializeTx(&c.CommitTx)
	if err != nil {
		return err
	}
	if err := writeVarBytes(w, rawTx); err != nil {
		return err
	}
	if err := writeVarBytes(w, c.CommitSig); err != nil {
		return err
	}

	if err := binary.Write(w, byteOrder, uint32(len(c.Htlcs))); err != nil {
		return err
	}
	for _, h := range c.Htlcs {
		if err := serializeHTLC(w, &h); err != nil {
			return err
		}
	}
	return nil
}

func deserializeCommitment(r io.Reader) (ChannelCommitment, error) {
	var c ChannelCommitment

	for _, field := range []*uint64{
		&c.CommitHeight, &c.LocalLogIndex, &c.LocalHtlcIndex,
		&c.RemoteLogIndex, &c.RemoteHtlcIndex,
	} {
		if err := binary.Read(r, byteOrder, field); err != nil {
			return c, err
		}
	}

	var localBal, remoteBal, commitFee, feePerKw uint64
	if err := binary.Read(r, byteOrder, &localBal); err != nil {
		return c, err
	}
	if err := binary.Read(r, byteOrder, &remoteBal); err != nil {
		return c, err
	}
	if err := binary.Read(r, byteOrder, &commitFee); err != nil {
		return c, err
	}
	if err := binary.Read(r, byteOrder, &feePerKw); err != nil {
		return c, err
	}
	c.LocalBalance = lnwire.MilliSatoshi(localBal)
	c.RemoteBalance = lnwire.MilliSatoshi(remoteBal)
	c.CommitFee = lnwire.MilliSatoshi(commitFee)
	c.FeePerKw = chainfee.SatPerKWeight(feePerKw)

	rawTx, err := readVarBytes(r)
	if err != nil {
		return c, err
	}
	tx, err := deserializeTx(rawTx)
	if err != nil {
		return c, err
	}
	c.CommitTx = *tx

	c.CommitSig, err = readVarBytes(r)
	if err != nil {
		return c, err
	}

	var numHtlcs uint32
	if err := binary.Read(r, byteOrder, &numHtlcs); err != nil {
		return c, err
	}
	for i := uint32(0); i < numHtlcs; i++ {
		h, err := deserializeHTLC(r)
		if err != nil {
			return c, err
		}
		c.Htlcs = append(c.Htlcs, h)
	}

	return c, nil
}

func serializeHTLC(w io.Writer, h *HTLC) error {
	if err := writeVarBytes(w, h.Signature); err != nil {
		return err
	}
	if _, err := w.Write(h.RHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(h.Amt)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, h.RefundTimeout); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, h.OutputIndex); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, h.Incoming); err != nil {
		return err
	}
	if err := writeVarBytes(w, h.OnionBlob); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, h.HtlcIndex); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, h.LogIndex)
}

func deserializeHTLC(r io.Reader) (HTLC, error) {
	var h HTLC
	var err error

	h.Signature, err = readVarBytes(r)
	if err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.RHash[:]); err != nil {
		return h, err
	}

	var amt uint64
	if err := binary.Read(r, byteOrder, &amt); err != nil {
		return h, err
	}
	h.Amt = lnwire.MilliSatoshi(amt)

	if err := binary.Read(r, byteOrder, &h.RefundTimeout); err != nil {
		return h, err
	}
	if err := binary.Read(r, byteOrder, &h.OutputIndex); err != nil {
		return h, err
	}
	if err := binary.Read(r, byteOrder, &h.Incoming); err != nil {
		return h, err
	}

	h.OnionBlob, err = readVarBytes(r)
	if err != nil {
		return h, err
	}

	if err := binary.Read(r, byteOrder, &h.HtlcIndex); err != nil {
		return h, err
	}
	if err := binary.Read(r, byteOrder, &h.LogIndex); err != nil {
		return h, err
	}

	return h, nil
}

func serializeActivePair(w io.Writer, p *ActiveCommitmentPair) error {
	if err := writeOutPoint(w, p.FundingOutpoint); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, p.FundingTxIndex); err != nil {
		return err
	}
	if err := serializeCommitment(w, &p.Local); err != nil {
		return err
	}
	return serializeCommitment(w, &p.Remote)
}

func deserializeActivePair(r io.Reader) (ActiveCommitmentPair, error) {
	var p ActiveCommitmentPair

	op, err := readOutPoint(r)
	if err != nil {
		return p, err
	}
	p.FundingOutpoint = op

	if err := binary.Read(r, byteOrder, &p.FundingTxIndex); err != nil {
		return p, err
	}
	if p.Local, err = deserializeCommitment(r); err != nil {
		return p, err
	}
	if p.Remote, err = deserializeCommitment(r); err != nil {
		return p, err
	}
	return p, nil
}

func serializeCommitDiff(w io.Writer, d *CommitDiff) error {
	if err := serializeCommitment(w, &d.Commitment); err != nil {
		return err
	}

	var sigBuf bytes.Buffer
	if d.CommitSig != nil {
		if err := d.CommitSig.Encode(&sigBuf); err != nil {
			return err
		}
	}
	if err := writeVarBytes(w, sigBuf.Bytes()); err != nil {
		return err
	}

	if err := binary.Write(w, byteOrder, uint32(len(d.LogUpdates))); err != nil {
		return err
	}
	for _, upd := range d.LogUpdates {
		if err := binary.Write(w, byteOrder, upd.LogIndex); err != nil {
			return err
		}
		var msgBuf bytes.Buffer
		if err := upd.UpdateMsg.Encode(&msgBuf, 0); err != nil {
			return err
		}
		if err := binary.Write(w, byteOrder, uint16(upd.UpdateMsg.MsgType())); err != nil {
			return err
		}
		if err := writeVarBytes(w, msgBuf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func deserializeCommitDiff(r io.Reader) (*CommitDiff, error) {
	d := &CommitDiff{}

	commit, err := deserializeCommitment(r)
	if err != nil {
		return nil, err
	}
	d.Commitment = commit

	sigBytes, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	if len(sigBytes) > 0 {
		sig := &lnwire.CommitSig{}
		if err := sig.Decode(bytes.NewReader(sigBytes), 0); err != nil {
			return nil, err
		}
		d.CommitSig = sig
	}

	var numUpdates uint32
	if err := binary.Read(r, byteOrder, &numUpdates); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numUpdates; i++ {
		var logIndex uint64
		if err := binary.Read(r, byteOrder, &logIndex); err != nil {
			return nil, err
		}
		var msgType uint16
		if err := binary.Read(r, byteOrder, &msgType); err != nil {
			return nil, err
		}
		raw, err := readVarBytes(r)
		if err != nil {
			return nil, err
		}

		msg, err := decodeLogUpdateMessage(lnwire.MessageType(msgType), raw)
		if err != nil {
			return nil, err
		}
		d.LogUpdates = append(d.LogUpdates, LogUpdate{
			LogIndex:  logIndex,
			UpdateMsg: msg,
		})
	}

	return d, nil
}

// decodeLogUpdateMessage dispatches to the concrete lnwire message type a
// retransmitted log update carries. Only the message kinds the update
// protocol (section 4.2) ever stores in the log are handled here.
func decodeLogUpdateMessage(msgType lnwire.MessageType, raw []byte) (lnwire.Message, error) {
	var msg lnwire.Message

	switch msgType {
	case lnwire.MsgUpdateAddHTLC:
		msg = &lnwire.UpdateAddHTLC{}
	case lnwire.MsgUpdateFulfillHTLC:
		msg = &lnwire.UpdateFulfillHTLC{}
	case lnwire.MsgUpdateFailHTLC:
		msg = &lnwire.UpdateFailHTLC{}
	case lnwire.MsgUpdateFee:
		msg = &lnwire.UpdateFee{}
	default:
		return nil, fmt.Errorf("channeldb: unexpected log update "+
			"message type %v", msgType)
	}

	if err := msg.Decode(bytes.NewReader(raw), 0); err != nil {
		return nil, err
	}
	return msg, nil
}

func serializeCloseSummary(w io.Writer, s *ChannelCloseSummary) error {
	if err := writeOutPoint(w, s.ChanPoint); err != nil {
		return err
	}
	if _, err := w.Write(s.ChainHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(s.ClosingTXID[:]); err != nil {
		return err
	}
	if err := writeVarBytes(w, s.RemotePub); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(s.Capacity)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint64(s.SettledBalance)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(s.CloseType)); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, s.CloseHeight)
}

func writeOutPoint(w io.Writer, op wire.OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, op.Index)
}

func readOutPoint(r io.Reader) (wire.OutPoint, error) {
	var op wire.OutPoint
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return op, err
	}
	if err := binary.Read(r, byteOrder, &op.Index); err != nil {
		return op, err
	}
	return op, nil
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, byteOrder, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, byteOrder, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeOptionalPubkey(w io.Writer, pub *btcec.PublicKey) error {
	if pub == nil {
		return binary.Write(w, byteOrder, uint8(0))
	}
	if err := binary.Write(w, byteOrder, uint8(1)); err != nil {
		return err
	}
	_, err := w.Write(pub.SerializeCompressed())
	return err
}

func readOptionalPubkey(r io.Reader) (*btcec.PublicKey, error) {
	var present uint8
	if err := binary.Read(r, byteOrder, &present); err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	var buf [33]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(buf[:])
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
