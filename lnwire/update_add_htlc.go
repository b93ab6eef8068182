package lnwire

import "io"

// OnionPacketSize is the fixed size, in bytes, of the Sphinx onion routing
// packet carried by every UpdateAddHTLC. Its contents are opaque to this
// package; the payment router and onion processor are external
// collaborators.
const OnionPacketSize = 1366

// UpdateAddHTLC is sent by either side to offer a new HTLC on the channel.
// The receiver must validate the id is strictly increasing, the amount
// respects the minimum/maximum limits and reserve, and the expiry is sane
// before countersigning a commitment that includes it.
type UpdateAddHTLC struct {
	// ChanID is the channel this HTLC is to be added to.
	ChanID ChannelID

	// ID is the sender's index for this HTLC, strictly increasing per
	// direction.
	ID uint64

	// Amount is the number of millisatoshi this HTLC is worth.
	Amount MilliSatoshi

	// PaymentHash is the payment hash that must be preimaged to settle
	// this HTLC.
	PaymentHash PaymentHash

	// Expiry is the absolute block height at which this HTLC expires.
	Expiry uint32

	// OnionBlob is the opaque onion packet for the downstream hop.
	OnionBlob [OnionPacketSize]byte

	// BlindingPoint is an optional ephemeral key used for route
	// blinding, present only when this hop is part of a blinded path.
	BlindingPoint *PublicKeyTLV
}

// PublicKeyTLV wraps an optionally-present compressed public key so it can
// be carried as an optional TLV record without requiring a sentinel value.
type PublicKeyTLV struct {
	Key [33]byte
}

var _ Message = (*UpdateAddHTLC)(nil)

// Decode deserializes a serialized UpdateAddHTLC from the passed io.Reader.
func (c *UpdateAddHTLC) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r,
		&c.ChanID, &c.ID, &c.Amount, &c.PaymentHash, &c.Expiry,
		c.OnionBlob[:],
	); err != nil {
		return err
	}

	return decodeOptionalBlindingPoint(r, c)
}

// decodeOptionalBlindingPoint reads the optional TLV stream trailing the
// fixed fields, populating BlindingPoint when a `blinding_point` record is
// present. A message with no trailing bytes has no blinding point.
func decodeOptionalBlindingPoint(r io.Reader, c *UpdateAddHTLC) error {
	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	if raw, ok := stream[tlvTypeBlindingPoint]; ok && len(raw) == 33 {
		var pt PublicKeyTLV
		copy(pt.Key[:], raw)
		c.BlindingPoint = &pt
	}
	return nil
}

// Encode serializes the UpdateAddHTLC into the passed io.Writer.
func (c *UpdateAddHTLC) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w,
		c.ChanID, c.ID, c.Amount, c.PaymentHash, c.Expiry,
		c.OnionBlob[:],
	); err != nil {
		return err
	}

	if c.BlindingPoint == nil {
		return nil
	}

	return writeTLVStream(w, map[uint64][]byte{
		tlvTypeBlindingPoint: c.BlindingPoint.Key[:],
	})
}

// MsgType returns the integer uniquely identifying this message type.
func (c *UpdateAddHTLC) MsgType() MessageType {
	return MsgUpdateAddHTLC
}

// MaxPayloadLength returns the maximum allowed payload size.
func (c *UpdateAddHTLC) MaxPayloadLength(uint32) uint32 {
	return 32 + 8 + 8 + 32 + 4 + OnionPacketSize + 100
}
