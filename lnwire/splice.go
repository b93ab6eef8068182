package lnwire

import "io"

// SpliceInit is sent by the party driving a splice to propose the relative
// balance change and feerate for the replacement funding transaction.
type SpliceInit struct {
	ChanID ChannelID

	// RelativeSatoshis is the signed change to the initiator's share of
	// the funding output: positive for a splice-in, negative for a
	// splice-out.
	RelativeSatoshis int64

	FeeRatePerKw   uint32
	LockTime       uint32

	// FundingPubKey replaces the initiator's funding basepoint for the
	// new 2-of-2 (or MuSig2) funding output.
	FundingPubKey [33]byte

	// RequestFundingSats, if non-zero, asks the acceptor to contribute
	// liquidity via the request_funding/will_fund exchange.
	RequestFundingSats uint64
}

var _ Message = (*SpliceInit)(nil)

func (c *SpliceInit) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r,
		&c.ChanID, &c.RelativeSatoshis, &c.FeeRatePerKw, &c.LockTime,
		c.FundingPubKey[:],
	); err != nil {
		return err
	}

	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	if raw, ok := stream[tlvTypeFeeRate]; ok && len(raw) == 8 {
		c.RequestFundingSats = beUint64(raw)
	}
	return nil
}

func (c *SpliceInit) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w,
		c.ChanID, c.RelativeSatoshis, c.FeeRatePerKw, c.LockTime,
		c.FundingPubKey[:],
	); err != nil {
		return err
	}

	if c.RequestFundingSats == 0 {
		return nil
	}
	val, err := encodeTLVValue(c.RequestFundingSats)
	if err != nil {
		return err
	}
	return writeTLVStream(w, map[uint64][]byte{tlvTypeFeeRate: val})
}

func (c *SpliceInit) MsgType() MessageType          { return MsgSpliceInit }
func (c *SpliceInit) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// SpliceAck is the acceptor's counter-proposal, symmetric to SpliceInit. A
// non-nil WillFundWitness answers a liquidity-purchase request with the
// acceptor's signed commitment to contribute RequestFundingSats.
type SpliceAck struct {
	ChanID           ChannelID
	RelativeSatoshis int64
	FundingPubKey    [33]byte
	WillFundWitness  []byte
}

var _ Message = (*SpliceAck)(nil)

func (c *SpliceAck) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r,
		&c.ChanID, &c.RelativeSatoshis, c.FundingPubKey[:],
	); err != nil {
		return err
	}

	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	if wit, ok := stream[tlvTypeLiquidityWitness]; ok {
		c.WillFundWitness = wit
	}
	return nil
}

func (c *SpliceAck) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w,
		c.ChanID, c.RelativeSatoshis, c.FundingPubKey[:],
	); err != nil {
		return err
	}

	if c.WillFundWitness == nil {
		return nil
	}
	return writeTLVStream(w, map[uint64][]byte{
		tlvTypeLiquidityWitness: c.WillFundWitness,
	})
}

func (c *SpliceAck) MsgType() MessageType          { return MsgSpliceAck }
func (c *SpliceAck) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// SpliceLocked announces that the sender considers the new funding
// transaction from a completed splice sufficiently confirmed to become
// the channel's active funding output.
type SpliceLocked struct {
	ChanID        ChannelID
	SpliceTxID    [32]byte
}

var _ Message = (*SpliceLocked)(nil)

func (c *SpliceLocked) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, c.SpliceTxID[:])
}
func (c *SpliceLocked) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.SpliceTxID[:])
}
func (c *SpliceLocked) MsgType() MessageType          { return MsgSpliceLocked }
func (c *SpliceLocked) MaxPayloadLength(uint32) uint32 { return 32 + 32 }
