package lnwire

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Stfu ("steady full update") is sent to request quiescence before
// splicing: once sent, the sender will not propose new HTLC additions
// until the splice resolves.
type Stfu struct {
	ChanID ChannelID

	// Initiator is true if the sender intends to drive the upcoming
	// splice/RBF negotiation.
	Initiator bool
}

var _ Message = (*Stfu)(nil)

func (c *Stfu) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.Initiator)
}

func (c *Stfu) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.Initiator)
}

func (c *Stfu) MsgType() MessageType { return MsgStfu }

func (c *Stfu) MaxPayloadLength(uint32) uint32 { return 32 + 1 }

// ChannelReestablish is exchanged immediately upon reconnection so each
// side can determine what, if anything, must be retransmitted.
type ChannelReestablish struct {
	ChanID ChannelID

	// NextLocalCommitHeight is the commitment height the sender expects
	// the receiver to sign next.
	NextLocalCommitHeight uint64

	// RemoteCommitTailHeight is the commitment height of the last
	// commitment the sender has revoked on the receiver's behalf.
	RemoteCommitTailHeight uint64

	// LastRemoteCommitSecret is the per-commitment secret the sender
	// believes it last sent, letting the receiver detect data loss.
	LastRemoteCommitSecret [32]byte

	// LocalUnrevokedCommitPoint is the sender's current, not-yet-revoked
	// per-commitment point, used by the receiver for data-loss recovery
	// if the sender turns out to be behind.
	LocalUnrevokedCommitPoint *btcec.PublicKey

	// NextFundingTxID, if set, names the funding transaction of a splice
	// or RBF attempt that was in flight across the disconnect.
	NextFundingTxID *chainhash.Hash
}

var _ Message = (*ChannelReestablish)(nil)

func (c *ChannelReestablish) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r,
		&c.ChanID, &c.NextLocalCommitHeight, &c.RemoteCommitTailHeight,
		c.LastRemoteCommitSecret[:], &c.LocalUnrevokedCommitPoint,
	); err != nil {
		return err
	}

	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	if raw, ok := stream[tlvTypeNextFundingTxID]; ok && len(raw) == 32 {
		var h chainhash.Hash
		copy(h[:], raw)
		c.NextFundingTxID = &h
	}

	return nil
}

func (c *ChannelReestablish) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w,
		c.ChanID, c.NextLocalCommitHeight, c.RemoteCommitTailHeight,
		c.LastRemoteCommitSecret[:], c.LocalUnrevokedCommitPoint,
	); err != nil {
		return err
	}

	if c.NextFundingTxID == nil {
		return nil
	}

	return writeTLVStream(w, map[uint64][]byte{
		tlvTypeNextFundingTxID: c.NextFundingTxID[:],
	})
}

func (c *ChannelReestablish) MsgType() MessageType {
	return MsgChannelReestablish
}

func (c *ChannelReestablish) MaxPayloadLength(uint32) uint32 {
	return 32 + 8 + 8 + 32 + 33 + 40
}

// Shutdown begins the cooperative-close negotiation, signalling that the
// sender wishes to close the channel and proposing the script its
// settlement output should pay to.
type Shutdown struct {
	ChanID      ChannelID
	Address     []byte
}

var _ Message = (*Shutdown)(nil)

func (c *Shutdown) Decode(r io.Reader, pver uint32) error {
	var addrLen uint16
	if err := readElements(r, &c.ChanID, &addrLen); err != nil {
		return err
	}
	c.Address = make([]byte, addrLen)
	return readElement(r, c.Address)
}

func (c *Shutdown) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, uint16(len(c.Address)), c.Address)
}

func (c *Shutdown) MsgType() MessageType { return MsgShutdown }

func (c *Shutdown) MaxPayloadLength(uint32) uint32 { return 32 + 2 + 520 }

// ClosingSigned proposes (and, at convergence, finalizes) the fee for the
// mutual-close transaction.
type ClosingSigned struct {
	ChanID   ChannelID
	FeeSats  uint64
	Sig      Sig
}

var _ Message = (*ClosingSigned)(nil)

func (c *ClosingSigned) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.FeeSats, &c.Sig)
}

func (c *ClosingSigned) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.FeeSats, c.Sig)
}

func (c *ClosingSigned) MsgType() MessageType { return MsgClosingSigned }

func (c *ClosingSigned) MaxPayloadLength(uint32) uint32 { return 32 + 8 + 64 }

// Warning is a non-fatal protocol notification: the channel named by
// ChanID (or, if the all-zero channel id, the whole peer connection)
// should be disconnected, but funds are not at risk and the channel is
// not force-closed.
type Warning struct {
	ChanID ChannelID
	Data   []byte
}

var _ Message = (*Warning)(nil)

func (c *Warning) Decode(r io.Reader, pver uint32) error {
	var dataLen uint16
	if err := readElements(r, &c.ChanID, &dataLen); err != nil {
		return err
	}
	c.Data = make([]byte, dataLen)
	return readElement(r, c.Data)
}

func (c *Warning) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, uint16(len(c.Data)), c.Data)
}

func (c *Warning) MsgType() MessageType { return MsgWarning }

func (c *Warning) MaxPayloadLength(uint32) uint32 { return 32 + 2 + MaxMessagePayload/2 }

func (c *Warning) Error() string { return string(c.Data) }

// Error is a fatal protocol notification that forces the channel (or, for
// the all-zero channel id, every channel with the peer) to close.
type Error struct {
	ChanID ChannelID
	Data   []byte
}

var _ Message = (*Error)(nil)

func (c *Error) Decode(r io.Reader, pver uint32) error {
	var dataLen uint16
	if err := readElements(r, &c.ChanID, &dataLen); err != nil {
		return err
	}
	c.Data = make([]byte, dataLen)
	return readElement(r, c.Data)
}

func (c *Error) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, uint16(len(c.Data)), c.Data)
}

func (c *Error) MsgType() MessageType { return MsgError }

func (c *Error) MaxPayloadLength(uint32) uint32 { return 32 + 2 + MaxMessagePayload/2 }

func (c *Error) Error() string { return string(c.Data) }
