package lnwire

import "io"

// FailReasonMaxLen bounds the opaque, onion-encrypted failure reason so a
// misbehaving peer can't force unbounded allocation.
const FailReasonMaxLen = 256

// UpdateFailHTLC is sent by either side to terminate an HTLC unsuccessfully.
// The reason is an opaque, onion-encrypted blob only the original sender
// can decrypt; this package does not interpret it.
type UpdateFailHTLC struct {
	ChanID ChannelID
	ID     uint64
	Reason []byte
}

var _ Message = (*UpdateFailHTLC)(nil)

func (c *UpdateFailHTLC) Decode(r io.Reader, pver uint32) error {
	var reasonLen uint16
	if err := readElements(r, &c.ChanID, &c.ID, &reasonLen); err != nil {
		return err
	}
	c.Reason = make([]byte, reasonLen)
	return readElement(r, c.Reason)
}

func (c *UpdateFailHTLC) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.ChanID, c.ID, uint16(len(c.Reason)), c.Reason,
	)
}

func (c *UpdateFailHTLC) MsgType() MessageType {
	return MsgUpdateFailHTLC
}

func (c *UpdateFailHTLC) MaxPayloadLength(uint32) uint32 {
	return 32 + 8 + 2 + FailReasonMaxLen
}

// UpdateFailMalformedHTLC is sent instead of UpdateFailHTLC when the
// receiving node could not even parse the onion packet (for example, a
// bad HMAC), so it reports the SHA256 of the onion blob it received plus a
// BOLT4 failure code rather than an encrypted reason.
type UpdateFailMalformedHTLC struct {
	ChanID       ChannelID
	ID           uint64
	ShaOnionBlob [32]byte
	FailureCode  uint16
}

var _ Message = (*UpdateFailMalformedHTLC)(nil)

func (c *UpdateFailMalformedHTLC) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&c.ChanID, &c.ID, c.ShaOnionBlob[:], &c.FailureCode,
	)
}

func (c *UpdateFailMalformedHTLC) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.ChanID, c.ID, c.ShaOnionBlob[:], c.FailureCode,
	)
}

func (c *UpdateFailMalformedHTLC) MsgType() MessageType {
	return MsgUpdateFailMalformedHTLC
}

func (c *UpdateFailMalformedHTLC) MaxPayloadLength(uint32) uint32 {
	return 32 + 8 + 32 + 2
}

// UpdateFee changes the commitment feerate for the channel. Only the
// channel opener may send this message.
type UpdateFee struct {
	ChanID      ChannelID
	FeePerKw    uint32
}

var _ Message = (*UpdateFee)(nil)

func (c *UpdateFee) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.FeePerKw)
}

func (c *UpdateFee) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.FeePerKw)
}

func (c *UpdateFee) MsgType() MessageType {
	return MsgUpdateFee
}

func (c *UpdateFee) MaxPayloadLength(uint32) uint32 {
	return 32 + 4
}
