package lnwire

import "io"

// UpdateFulfillHTLC is sent by the receiving peer once it wishes to settle
// a particular HTLC referenced by its ID within a specific active channel
// referenced by ChanID. A subsequent CommitSig message locks in the
// removal of the settled HTLC from the remote commitment.
type UpdateFulfillHTLC struct {
	// ChanID references an active channel which holds the HTLC to be
	// settled.
	ChanID ChannelID

	// ID denotes the exact HTLC stage within the receiving node's
	// commitment transaction to be removed.
	ID uint64

	// PaymentPreimage is the preimage required to fully settle an HTLC.
	// Its SHA256 must match the payment hash of the offered HTLC with
	// the given ID.
	PaymentPreimage PaymentPreimage
}

// NewUpdateFulfillHTLC returns a new UpdateFulfillHTLC message.
func NewUpdateFulfillHTLC(chanID ChannelID, id uint64,
	preimage PaymentPreimage) *UpdateFulfillHTLC {

	return &UpdateFulfillHTLC{
		ChanID:          chanID,
		ID:              id,
		PaymentPreimage: preimage,
	}
}

var _ Message = (*UpdateFulfillHTLC)(nil)

// Decode deserializes a serialized UpdateFulfillHTLC from the passed
// io.Reader.
func (c *UpdateFulfillHTLC) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.ID, &c.PaymentPreimage)
}

// Encode serializes the UpdateFulfillHTLC into the passed io.Writer.
func (c *UpdateFulfillHTLC) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.ID, c.PaymentPreimage)
}

// MsgType returns the integer uniquely identifying this message type.
func (c *UpdateFulfillHTLC) MsgType() MessageType {
	return MsgUpdateFulfillHTLC
}

// MaxPayloadLength returns the maximum allowed payload size for a
// UpdateFulfillHTLC message.
func (c *UpdateFulfillHTLC) MaxPayloadLength(uint32) uint32 {
	return 32 + 8 + 32
}
