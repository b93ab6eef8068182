package lnwire

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// TxAddInput contributes one input to an in-progress interactive funding,
// splice, or RBF transaction. SerialID's parity identifies the
// contributor: the session initiator uses even ids, the acceptor odd ones.
type TxAddInput struct {
	ChanID        ChannelID
	SerialID      uint64
	PrevTx        []byte // serialized parent transaction, for fee/SPV verification
	PrevTxVout    uint32
	SequenceNum   uint32
}

var _ Message = (*TxAddInput)(nil)

func (c *TxAddInput) Decode(r io.Reader, pver uint32) error {
	var prevTxLen uint16
	if err := readElements(r, &c.ChanID, &c.SerialID, &prevTxLen); err != nil {
		return err
	}
	c.PrevTx = make([]byte, prevTxLen)
	return readElements(r, c.PrevTx, &c.PrevTxVout, &c.SequenceNum)
}

func (c *TxAddInput) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.ChanID, c.SerialID, uint16(len(c.PrevTx)), c.PrevTx,
		c.PrevTxVout, c.SequenceNum,
	)
}

func (c *TxAddInput) MsgType() MessageType { return MsgTxAddInput }

func (c *TxAddInput) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// TxAddOutput contributes one output to an in-progress interactive
// transaction.
type TxAddOutput struct {
	ChanID   ChannelID
	SerialID uint64
	Amount   uint64
	Script   []byte
}

var _ Message = (*TxAddOutput)(nil)

func (c *TxAddOutput) Decode(r io.Reader, pver uint32) error {
	var scriptLen uint16
	if err := readElements(r, &c.ChanID, &c.SerialID, &c.Amount, &scriptLen); err != nil {
		return err
	}
	c.Script = make([]byte, scriptLen)
	return readElement(r, c.Script)
}

func (c *TxAddOutput) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		c.ChanID, c.SerialID, c.Amount, uint16(len(c.Script)), c.Script,
	)
}

func (c *TxAddOutput) MsgType() MessageType { return MsgTxAddOutput }

func (c *TxAddOutput) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// TxRemoveInput withdraws a previously contributed input, named by the
// serial id it was added with.
type TxRemoveInput struct {
	ChanID   ChannelID
	SerialID uint64
}

var _ Message = (*TxRemoveInput)(nil)

func (c *TxRemoveInput) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.SerialID)
}
func (c *TxRemoveInput) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.SerialID)
}
func (c *TxRemoveInput) MsgType() MessageType          { return MsgTxRemoveInput }
func (c *TxRemoveInput) MaxPayloadLength(uint32) uint32 { return 32 + 8 }

// TxRemoveOutput withdraws a previously contributed output.
type TxRemoveOutput struct {
	ChanID   ChannelID
	SerialID uint64
}

var _ Message = (*TxRemoveOutput)(nil)

func (c *TxRemoveOutput) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.SerialID)
}
func (c *TxRemoveOutput) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.SerialID)
}
func (c *TxRemoveOutput) MsgType() MessageType          { return MsgTxRemoveOutput }
func (c *TxRemoveOutput) MaxPayloadLength(uint32) uint32 { return 32 + 8 }

// TxComplete signals that the sender has no further inputs or outputs to
// contribute this round. When both sides have sent TxComplete in
// succession with no new additions in between, the session moves to
// signing.
type TxComplete struct {
	ChanID ChannelID
}

var _ Message = (*TxComplete)(nil)

func (c *TxComplete) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID)
}
func (c *TxComplete) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID)
}
func (c *TxComplete) MsgType() MessageType          { return MsgTxComplete }
func (c *TxComplete) MaxPayloadLength(uint32) uint32 { return 32 }

// TxAbort aborts the in-progress session with a human-readable reason.
// Either side may send it at any point before tx_signatures is
// exchanged; for a splice/RBF attempt it leaves the previously active
// commitment(s) untouched.
type TxAbort struct {
	ChanID ChannelID
	Data   []byte
}

var _ Message = (*TxAbort)(nil)

func (c *TxAbort) Decode(r io.Reader, pver uint32) error {
	var dataLen uint16
	if err := readElements(r, &c.ChanID, &dataLen); err != nil {
		return err
	}
	c.Data = make([]byte, dataLen)
	return readElement(r, c.Data)
}
func (c *TxAbort) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, uint16(len(c.Data)), c.Data)
}
func (c *TxAbort) MsgType() MessageType          { return MsgTxAbort }
func (c *TxAbort) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// TxSignatures carries the sender's witnesses for its own contributed
// inputs, concluding the interactive-tx session once both sides have
// exchanged it (and, for a taproot funding output, a MuSig2 partial
// signature for the shared input, as an optional TLV record). The Nonce
// field is not written by Encode or read by Decode.
type TxSignatures struct {
	ChanID    ChannelID
	TxID      chainHashPlaceholder
	Witnesses [][]byte

	// PartialSig and Nonce are populated only when this session's shared
	// output/input uses MuSig2 (the Taproot commitment format).
	PartialSig []byte
	Nonce      []byte
}

var _ Message = (*TxSignatures)(nil)

func (c *TxSignatures) Decode(r io.Reader, pver uint32) error {
	if err := readElements(r, &c.ChanID, c.TxID[:]); err != nil {
		return err
	}

	var numWitnesses uint16
	if err := readElement(r, &numWitnesses); err != nil {
		return err
	}
	c.Witnesses = make([][]byte, numWitnesses)
	for i := range c.Witnesses {
		var wLen uint16
		if err := readElement(r, &wLen); err != nil {
			return err
		}
		c.Witnesses[i] = make([]byte, wLen)
		if err := readElement(r, c.Witnesses[i]); err != nil {
			return err
		}
	}

	stream, err := readTLVStream(r)
	if err != nil {
		return err
	}
	if sig, ok := stream[tlvTypeLiquidityWitness]; ok {
		c.PartialSig = sig
	}

	return nil
}

func (c *TxSignatures) Encode(w io.Writer, pver uint32) error {
	if err := writeElements(w, c.ChanID, c.TxID[:]); err != nil {
		return err
	}

	if err := writeElement(w, uint16(len(c.Witnesses))); err != nil {
		return err
	}
	for _, wit := range c.Witnesses {
		if err := writeElements(w, uint16(len(wit)), wit); err != nil {
			return err
		}
	}

	if c.PartialSig == nil {
		return nil
	}
	return writeTLVStream(w, map[uint64][]byte{
		tlvTypeLiquidityWitness: c.PartialSig,
	})
}

func (c *TxSignatures) MsgType() MessageType          { return MsgTxSignatures }
func (c *TxSignatures) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// chainHashPlaceholder avoids importing chainhash twice here; it has the
// same 32-byte layout as chainhash.Hash / wire.OutPoint's Hash field.
type chainHashPlaceholder [32]byte

// TxInitRBF requests replacing the latest unconfirmed interactive-tx
// attempt with a higher-feerate version.
type TxInitRBF struct {
	ChanID       ChannelID
	Locktime     uint32
	FeeRate      uint32
	FundingOutputContributionSats *int64
}

var _ Message = (*TxInitRBF)(nil)

func (c *TxInitRBF) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID, &c.Locktime, &c.FeeRate)
}
func (c *TxInitRBF) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID, c.Locktime, c.FeeRate)
}
func (c *TxInitRBF) MsgType() MessageType          { return MsgTxInitRBF }
func (c *TxInitRBF) MaxPayloadLength(uint32) uint32 { return 32 + 4 + 4 + 16 }

// TxAckRBF accepts a requested RBF attempt.
type TxAckRBF struct {
	ChanID ChannelID
}

var _ Message = (*TxAckRBF)(nil)

func (c *TxAckRBF) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &c.ChanID)
}
func (c *TxAckRBF) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, c.ChanID)
}
func (c *TxAckRBF) MsgType() MessageType          { return MsgTxAckRBF }
func (c *TxAckRBF) MaxPayloadLength(uint32) uint32 { return 32 + 16 }

// outPointVout returns a wire.OutPoint's output index, the value
// TxAddInput.PrevTxVout carries.
func outPointVout(op wire.OutPoint) uint32 { return op.Index }
