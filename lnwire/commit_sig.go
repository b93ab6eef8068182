package lnwire

import (
	"encoding/binary"
	"io"
)

// CommitSig signs the counterparty's next commitment, including a
// signature per non-dust HTLC output, ordered to match the output
// ordering rule of the transaction library (ascending amount, then
// script, then CLTV for tied HTLC outputs).
type CommitSig struct {
	ChanID        ChannelID
	CommitSig     Sig
	HtlcSigs      []Sig

	// BatchSize indicates how many CommitSig messages in a row form one
	// logical batch, one per active commitment during splicing. A batch
	// size of one is the common case outside of splicing.
	BatchSize uint16
}

var _ Message = (*CommitSig)(nil)

func (c *CommitSig) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r, &c.ChanID, &c.CommitSig); err != nil {
		return err
	}

	var numSigs uint16
	if err := readElement(r, &numSigs); err != nil {
		return err
	}

	c.HtlcSigs = make([]Sig, numSigs)
	for i := 0; i < int(numSigs); i++ {
		if err := readElement(r, &c.HtlcSigs[i]); err != nil {
			return err
		}
	}

	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	c.BatchSize = 1
	if raw, ok := stream[tlvTypeBatchSize]; ok && len(raw) == 2 {
		c.BatchSize = binary.BigEndian.Uint16(raw)
	}

	return nil
}

func (c *CommitSig) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w, c.ChanID, c.CommitSig); err != nil {
		return err
	}

	if err := writeElement(w, uint16(len(c.HtlcSigs))); err != nil {
		return err
	}
	for _, sig := range c.HtlcSigs {
		if err := writeElement(w, sig); err != nil {
			return err
		}
	}

	if c.BatchSize <= 1 {
		return nil
	}

	val, err := encodeTLVValue(c.BatchSize)
	if err != nil {
		return err
	}
	return writeTLVStream(w, map[uint64][]byte{tlvTypeBatchSize: val})
}

func (c *CommitSig) MsgType() MessageType {
	return MsgCommitSig
}

func (c *CommitSig) MaxPayloadLength(uint32) uint32 {
	return 32 + 64 + 2 + 64*483 + 4
}

// RevokeAndAck reveals the per-commitment secret for the now-superseded
// commitment index and the per-commitment point the sender will use for
// its next commitment.
type RevokeAndAck struct {
	ChanID ChannelID

	// Revocation is the secret for the commitment index being
	// superseded.
	Revocation [32]byte

	// NextRevocationKeyRaw is the compressed per-commitment point for
	// the sender's next commitment.
	NextRevocationKeyRaw [33]byte
}

var _ Message = (*RevokeAndAck)(nil)

func (c *RevokeAndAck) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&c.ChanID, c.Revocation[:], c.NextRevocationKeyRaw[:],
	)
}

func (c *RevokeAndAck) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.ChanID, c.Revocation[:], c.NextRevocationKeyRaw[:],
	)
}

func (c *RevokeAndAck) MsgType() MessageType {
	return MsgRevokeAndAck
}

func (c *RevokeAndAck) MaxPayloadLength(uint32) uint32 {
	return 32 + 32 + 33
}
