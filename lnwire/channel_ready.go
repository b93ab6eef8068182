package lnwire

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ChannelReady is sent by both parties once they have observed the
// funding transaction reach the required number of confirmations (or,
// for a zero-conf channel, immediately). It carries the per-commitment
// point the sender will use for its first post-open commitment.
type ChannelReady struct {
	ChanID ChannelID

	// NextPerCommitmentPoint is the point that can be used to derive the
	// keys for the sender's next commitment transaction.
	NextPerCommitmentPoint *btcec.PublicKey

	// AliasScid is an optional short channel id alias, used so the
	// counterparty can route using a value that doesn't leak the
	// funding outpoint before six confirmations.
	AliasScid *uint64
}

var _ Message = (*ChannelReady)(nil)

func (c *ChannelReady) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r, &c.ChanID, &c.NextPerCommitmentPoint); err != nil {
		return err
	}

	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	if raw, ok := stream[tlvTypeShortChannelID]; ok && len(raw) == 8 {
		scid := beUint64(raw)
		c.AliasScid = &scid
	}

	return nil
}

func (c *ChannelReady) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w, c.ChanID, c.NextPerCommitmentPoint); err != nil {
		return err
	}

	if c.AliasScid == nil {
		return nil
	}

	val, err := encodeTLVValue(*c.AliasScid)
	if err != nil {
		return err
	}
	return writeTLVStream(w, map[uint64][]byte{tlvTypeShortChannelID: val})
}

func (c *ChannelReady) MsgType() MessageType {
	return MsgChannelReady
}

func (c *ChannelReady) MaxPayloadLength(uint32) uint32 {
	return 32 + 33 + 20
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
