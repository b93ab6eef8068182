package lnwire

import "io"

// OpenChannel2 begins a dual-funded channel open: unlike the legacy
// single-funder flow, both sides may contribute inputs via the
// interactive-tx round that follows.
type OpenChannel2 struct {
	PendingChanID   ChannelID
	FundingFeeRate  uint32
	CommitFeeRate   uint32
	FundingAmount   uint64
	DustLimit       uint64
	MaxHTLCValueInFlight MilliSatoshi
	ChannelReserve  uint64
	HTLCMinimum     MilliSatoshi
	ToSelfDelay     uint16
	MaxAcceptedHTLCs uint16
	LockTime        uint32
	FundingKey      [33]byte
	RevocationBasepoint [33]byte
	PaymentBasepoint   [33]byte
	DelayedPaymentBasepoint [33]byte
	HtlcBasepoint      [33]byte
	FirstPerCommitmentPoint [33]byte
}

var _ Message = (*OpenChannel2)(nil)

func (c *OpenChannel2) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&c.PendingChanID, &c.FundingFeeRate, &c.CommitFeeRate,
		&c.FundingAmount, &c.DustLimit, &c.MaxHTLCValueInFlight,
		&c.ChannelReserve, &c.HTLCMinimum, &c.ToSelfDelay,
		&c.MaxAcceptedHTLCs, &c.LockTime,
		c.FundingKey[:], c.RevocationBasepoint[:], c.PaymentBasepoint[:],
		c.DelayedPaymentBasepoint[:], c.HtlcBasepoint[:],
		c.FirstPerCommitmentPoint[:],
	)
}

func (c *OpenChannel2) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.PendingChanID, c.FundingFeeRate, c.CommitFeeRate,
		c.FundingAmount, c.DustLimit, c.MaxHTLCValueInFlight,
		c.ChannelReserve, c.HTLCMinimum, c.ToSelfDelay,
		c.MaxAcceptedHTLCs, c.LockTime,
		c.FundingKey[:], c.RevocationBasepoint[:], c.PaymentBasepoint[:],
		c.DelayedPaymentBasepoint[:], c.HtlcBasepoint[:],
		c.FirstPerCommitmentPoint[:],
	)
}

func (c *OpenChannel2) MsgType() MessageType          { return MsgOpenChannel2 }
func (c *OpenChannel2) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// AcceptChannel2 is the acceptor's response to OpenChannel2, symmetric
// less the fee-rate fields the opener alone proposes.
type AcceptChannel2 struct {
	PendingChanID   ChannelID
	FundingAmount   uint64
	DustLimit       uint64
	MaxHTLCValueInFlight MilliSatoshi
	ChannelReserve  uint64
	HTLCMinimum     MilliSatoshi
	MinimumDepth    uint32
	ToSelfDelay     uint16
	MaxAcceptedHTLCs uint16
	FundingKey      [33]byte
	RevocationBasepoint [33]byte
	PaymentBasepoint   [33]byte
	DelayedPaymentBasepoint [33]byte
	HtlcBasepoint      [33]byte
	FirstPerCommitmentPoint [33]byte
}

var _ Message = (*AcceptChannel2)(nil)

func (c *AcceptChannel2) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&c.PendingChanID, &c.FundingAmount, &c.DustLimit,
		&c.MaxHTLCValueInFlight, &c.ChannelReserve, &c.HTLCMinimum,
		&c.MinimumDepth, &c.ToSelfDelay, &c.MaxAcceptedHTLCs,
		c.FundingKey[:], c.RevocationBasepoint[:], c.PaymentBasepoint[:],
		c.DelayedPaymentBasepoint[:], c.HtlcBasepoint[:],
		c.FirstPerCommitmentPoint[:],
	)
}

func (c *AcceptChannel2) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.PendingChanID, c.FundingAmount, c.DustLimit,
		c.MaxHTLCValueInFlight, c.ChannelReserve, c.HTLCMinimum,
		c.MinimumDepth, c.ToSelfDelay, c.MaxAcceptedHTLCs,
		c.FundingKey[:], c.RevocationBasepoint[:], c.PaymentBasepoint[:],
		c.DelayedPaymentBasepoint[:], c.HtlcBasepoint[:],
		c.FirstPerCommitmentPoint[:],
	)
}

func (c *AcceptChannel2) MsgType() MessageType          { return MsgAcceptChannel2 }
func (c *AcceptChannel2) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// FundingCreated carries the funder's signature for the legacy
// single-funded open, once the funding outpoint is known.
type FundingCreated struct {
	PendingChanID ChannelID
	FundingPoint  [36]byte
	CommitSig     Sig
}

var _ Message = (*FundingCreated)(nil)

func (c *FundingCreated) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.PendingChanID, c.FundingPoint[:], &c.CommitSig)
}
func (c *FundingCreated) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.PendingChanID, c.FundingPoint[:], c.CommitSig)
}
func (c *FundingCreated) MsgType() MessageType          { return MsgFundingCreated }
func (c *FundingCreated) MaxPayloadLength(uint32) uint32 { return 32 + 36 + 64 }

// FundingSigned completes the legacy single-funded open with the
// fundee's signature over the funder's initial commitment.
type FundingSigned struct {
	ChanID    ChannelID
	CommitSig Sig
}

var _ Message = (*FundingSigned)(nil)

func (c *FundingSigned) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.CommitSig)
}
func (c *FundingSigned) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.CommitSig)
}
func (c *FundingSigned) MsgType() MessageType          { return MsgFundingSigned }
func (c *FundingSigned) MaxPayloadLength(uint32) uint32 { return 32 + 64 }
