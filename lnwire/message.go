package lnwire

// Framing derived in spirit from btcd/wire's Message/ReadMessage pattern,
// generalized to the Lightning TLV-extensible wire format.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of
// other individual limits imposed by messages themselves.
const MaxMessagePayload = 65535 // 65KB

// MessageType is the unique 2-byte big-endian integer that indicates the
// type of message on the wire.
type MessageType uint16

// The message types touched by the commitment-and-HTLC engine. Gossip
// (channel_announcement/node_announcement/channel_update) and invoicing
// message types are intentionally absent; those subsystems are Non-goals.
const (
	MsgWarning MessageType = 1
	MsgStfu    MessageType = 2

	MsgOpenChannel2   MessageType = 64
	MsgAcceptChannel2 MessageType = 65
	MsgFundingCreated MessageType = 34
	MsgFundingSigned  MessageType = 35
	MsgChannelReady   MessageType = 36

	MsgShutdown      MessageType = 38
	MsgClosingSigned MessageType = 39

	MsgUpdateAddHTLC           MessageType = 128
	MsgUpdateFulfillHTLC       MessageType = 130
	MsgUpdateFailHTLC          MessageType = 131
	MsgCommitSig               MessageType = 132
	MsgRevokeAndAck            MessageType = 133
	MsgUpdateFee               MessageType = 134
	MsgUpdateFailMalformedHTLC MessageType = 135
	MsgChannelReestablish      MessageType = 136

	MsgError MessageType = 17

	MsgTxAddInput     MessageType = 66
	MsgTxAddOutput    MessageType = 67
	MsgTxRemoveInput  MessageType = 68
	MsgTxRemoveOutput MessageType = 69
	MsgTxComplete     MessageType = 70
	MsgTxSignatures   MessageType = 71
	MsgTxInitRBF      MessageType = 72
	MsgTxAckRBF       MessageType = 73
	MsgTxAbort        MessageType = 74

	MsgSpliceInit   MessageType = 75
	MsgSpliceAck    MessageType = 76
	MsgSpliceLocked MessageType = 77
)

// UnknownMessage is returned in response to an unparsable message type.
type UnknownMessage struct {
	messageType MessageType
}

func (u *UnknownMessage) Error() string {
	return fmt.Sprintf("unable to parse message of unknown type: %v",
		u.messageType)
}

// Message is the interface every lightning wire protocol message touched
// by this package implements.
type Message interface {
	Decode(io.Reader, uint32) error
	Encode(io.Writer, uint32) error
	MsgType() MessageType
	MaxPayloadLength(uint32) uint32
}

// makeEmptyMessage creates a new empty message of the concrete type named
// by msgType, ready to have Decode called on it.
func makeEmptyMessage(msgType MessageType) (Message, error) {
	var msg Message

	switch msgType {
	case MsgWarning:
		msg = &Warning{}
	case MsgError:
		msg = &Error{}
	case MsgStfu:
		msg = &Stfu{}
	case MsgOpenChannel2:
		msg = &OpenChannel2{}
	case MsgAcceptChannel2:
		msg = &AcceptChannel2{}
	case MsgFundingCreated:
		msg = &FundingCreated{}
	case MsgFundingSigned:
		msg = &FundingSigned{}
	case MsgChannelReady:
		msg = &ChannelReady{}
	case MsgShutdown:
		msg = &Shutdown{}
	case MsgClosingSigned:
		msg = &ClosingSigned{}
	case MsgUpdateAddHTLC:
		msg = &UpdateAddHTLC{}
	case MsgUpdateFulfillHTLC:
		msg = &UpdateFulfillHTLC{}
	case MsgUpdateFailHTLC:
		msg = &UpdateFailHTLC{}
	case MsgUpdateFailMalformedHTLC:
		msg = &UpdateFailMalformedHTLC{}
	case MsgUpdateFee:
		msg = &UpdateFee{}
	case MsgCommitSig:
		msg = &CommitSig{}
	case MsgRevokeAndAck:
		msg = &RevokeAndAck{}
	case MsgChannelReestablish:
		msg = &ChannelReestablish{}
	case MsgTxAddInput:
		msg = &TxAddInput{}
	case MsgTxAddOutput:
		msg = &TxAddOutput{}
	case MsgTxRemoveInput:
		msg = &TxRemoveInput{}
	case MsgTxRemoveOutput:
		msg = &TxRemoveOutput{}
	case MsgTxComplete:
		msg = &TxComplete{}
	case MsgTxSignatures:
		msg = &TxSignatures{}
	case MsgTxInitRBF:
		msg = &TxInitRBF{}
	case MsgTxAckRBF:
		msg = &TxAckRBF{}
	case MsgTxAbort:
		msg = &TxAbort{}
	case MsgSpliceInit:
		msg = &SpliceInit{}
	case MsgSpliceAck:
		msg = &SpliceAck{}
	case MsgSpliceLocked:
		msg = &SpliceLocked{}
	default:
		return nil, &UnknownMessage{msgType}
	}

	return msg, nil
}

// WriteMessage writes a header-framed lightning message: a 2-byte type
// discriminant followed by the message's own Encode output.
func WriteMessage(w io.Writer, msg Message, pver uint32) (int, error) {
	var buf bytes.Buffer

	if err := msg.Encode(&buf, pver); err != nil {
		return 0, err
	}

	if uint32(buf.Len()) > MaxMessagePayload {
		return 0, fmt.Errorf("message payload of %v bytes exceeds "+
			"max allowed %v bytes", buf.Len(), MaxMessagePayload)
	}

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(msg.MsgType()))
	n1, err := w.Write(hdr[:])
	if err != nil {
		return n1, err
	}

	n2, err := w.Write(buf.Bytes())
	return n1 + n2, err
}

// ReadMessage reads a header-framed lightning message and dispatches to
// the concrete type's Decode method.
func ReadMessage(r io.Reader, pver uint32) (Message, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	msgType := MessageType(binary.BigEndian.Uint16(hdr[:]))

	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, err
	}

	if err := msg.Decode(r, pver); err != nil {
		return nil, err
	}

	return msg, nil
}
