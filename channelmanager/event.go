package channelmanager

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// EventKind tags the five triggers SPEC_FULL.md §5-7 names as the only
// ways a channel's state can advance: a message from the peer, a command
// from the local node, a confirmation or spend observed on chain, a
// timer firing, or the link disconnecting/reconnecting.
type EventKind uint8

const (
	EventPeerMessage EventKind = iota
	EventLocalCommand
	EventChainConfirmation
	EventChainSpend
	EventTimer
	EventDisconnect
	EventReconnect
)

func (k EventKind) String() string {
	switch k {
	case EventPeerMessage:
		return "PeerMessage"
	case EventLocalCommand:
		return "LocalCommand"
	case EventChainConfirmation:
		return "ChainConfirmation"
	case EventChainSpend:
		return "ChainSpend"
	case EventTimer:
		return "Timer"
	case EventDisconnect:
		return "Disconnect"
	case EventReconnect:
		return "Reconnect"
	default:
		return "Unknown"
	}
}

// Event is the single unit the FSM's actor loop dequeues and processes to
// completion before looking at the next one, per the single-actor,
// run-to-completion model SPEC_FULL.md §5-7 describes.
type Event struct {
	Kind EventKind

	// Msg is populated for EventPeerMessage.
	Msg lnwire.Message

	// Command is populated for EventLocalCommand.
	Command LocalCommand

	// TxID and Confs are populated for EventChainConfirmation.
	TxID  chainhash.Hash
	Confs uint32

	// SpendingTx is populated for EventChainSpend with the txid of the
	// transaction observed spending a tracked outpoint.
	SpendingTx *chainhash.Hash
}

// LocalCommand is the sum type of operations the local node can ask the
// FSM to perform; exactly one field is meaningful per concrete command,
// matching the "tagged Go structs, not virtual dispatch" design note.
type LocalCommand interface {
	isLocalCommand()
}

// CmdAddHTLC asks the FSM to offer a new HTLC to the remote party.
type CmdAddHTLC struct {
	HTLC *lnwire.UpdateAddHTLC
	Done chan<- error
}

func (*CmdAddHTLC) isLocalCommand() {}

// CmdSettleHTLC asks the FSM to settle an HTLC this node received.
type CmdSettleHTLC struct {
	Preimage lnwire.PaymentPreimage
	Index    uint64
	Done     chan<- error
}

func (*CmdSettleHTLC) isLocalCommand() {}

// CmdFailHTLC asks the FSM to fail an HTLC this node received.
type CmdFailHTLC struct {
	Index  uint64
	Reason []byte
	Done   chan<- error
}

func (*CmdFailHTLC) isLocalCommand() {}

// CmdSign asks the FSM to sign the next commitment for the remote party.
type CmdSign struct {
	Done chan<- error
}

func (*CmdSign) isLocalCommand() {}

// CmdInitiateSplice asks the FSM to begin a splice negotiation.
type CmdInitiateSplice struct {
	DeltaAmount btcutil.Amount
	FeeRate     chainfee.SatPerKWeight
	Done        chan<- error
}

func (*CmdInitiateSplice) isLocalCommand() {}

// CmdInitiateRBF asks the FSM to begin an RBF attempt of the channel's
// current in-flight funding/splice transaction.
type CmdInitiateRBF struct {
	FeeRate chainfee.SatPerKWeight
	Done    chan<- error
}

func (*CmdInitiateRBF) isLocalCommand() {}

// CmdShutdown asks the FSM to begin a mutual close.
type CmdShutdown struct {
	DeliveryScript []byte
	Done           chan<- error
}

func (*CmdShutdown) isLocalCommand() {}

// CmdForceClose asks the FSM to unilaterally force-close the channel.
type CmdForceClose struct {
	Done chan<- error
}

func (*CmdForceClose) isLocalCommand() {}
