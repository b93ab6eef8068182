package channelmanager

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/lightninglabs/htlcengine/channeldb"
	"github.com/lightninglabs/htlcengine/funding"
	"github.com/lightninglabs/htlcengine/lnwallet"
)

// State is the channel's top-level lifecycle phase, the finite state set
// SPEC_FULL.md §4.3 names: {Opening, AwaitingFundingConfirmation,
// AwaitingChannelReady, Normal, Shutdown, Negotiating, Closing,
// ForceClosing, Closed, Offline}. Transitions fire on one of five
// triggers — a peer message, a local command, a chain event, a timer, or
// a disconnection — handled by ChannelFSM.step.
type State uint8

const (
	Opening State = iota
	AwaitingFundingConfirmation
	AwaitingChannelReady
	Normal
	Shutdown
	Negotiating
	Closing
	ForceClosing
	Closed
	Offline
)

func (s State) String() string {
	switch s {
	case Opening:
		return "Opening"
	case AwaitingFundingConfirmation:
		return "AwaitingFundingConfirmation"
	case AwaitingChannelReady:
		return "AwaitingChannelReady"
	case Normal:
		return "Normal"
	case Shutdown:
		return "Shutdown"
	case Negotiating:
		return "Negotiating"
	case Closing:
		return "Closing"
	case ForceClosing:
		return "ForceClosing"
	case Closed:
		return "Closed"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// SpliceSubState re-exports channeldb's persisted splice sub-state type
// {NoSplice, SpliceRequested, SpliceInProgress, SpliceWaitingForSigs}.
// The FSM keeps its own value of it in NormalStateData.Splice, updated by
// the FSM's own transitions rather than read back from OpenChannel's
// durable record (channeldb.BeginSplice/LockSplice).
type SpliceSubState = channeldb.ChannelSubState

// RBFSubState tracks the RBF-analogous sub-state SPEC_FULL.md §4.3 names
// ("RBF: analogously") alongside the splice sub-state. Unlike splicing,
// an RBF attempt never changes which funding output is active until one
// candidate confirms, so this sub-state is not part of OpenChannel's
// durable record — it mirrors the lifecycle of the in-memory
// funding.RBFTracker the Normal state holds for the duration of the
// negotiation, and collapses back to NoRBF once the tracker is gone.
type RBFSubState uint8

const (
	NoRBF RBFSubState = iota
	RBFRequested
	RBFInProgress
	RBFWaitingForSigs
)

func (s RBFSubState) String() string {
	switch s {
	case NoRBF:
		return "NoRBF"
	case RBFRequested:
		return "RBFRequested"
	case RBFInProgress:
		return "RBFInProgress"
	case RBFWaitingForSigs:
		return "RBFWaitingForSigs"
	default:
		return "Unknown"
	}
}

// OpeningStateData holds the data relevant only before any commitment
// exists: the interactive-tx session negotiating the initial funding
// transaction.
type OpeningStateData struct {
	Session *funding.Session
}

// AwaitingConfStateData holds the data relevant while waiting for the
// funding transaction to reach its first confirmation.
type AwaitingConfStateData struct {
	FundingTxID chainhash.Hash
	NumConfs    uint32
}

// NormalStateData holds the data relevant once the channel is open and
// operating: the splice and RBF sub-states, the in-progress splice
// session and RBF tracker (nil outside a splice), and whether `stfu` has
// put the channel into HTLC-forbidding quiescence.
type NormalStateData struct {
	Splice        SpliceSubState
	RBF           RBFSubState
	SpliceSess    *funding.Session
	RBFTracker    *funding.RBFTracker
	Quiescent     bool
	QuiesceBySelf bool

	// Resyncing is set the moment the link reconnects and cleared once
	// channel_reestablish retransmission has drained, per "after
	// reconnection, no new HTLC may be added until message
	// retransmission is fully drained." It is independent of Quiescent,
	// which tracks stfu-driven splice quiescence instead.
	Resyncing bool

	// AttemptID correlates every log line for one splice/RBF attempt
	// (the original proposal and every subsequent RBF of it), since
	// FundingTxIndex alone is reused by funding.RBFTracker across
	// attempts that share a funding depth.
	AttemptID uuid.UUID
}

// ShutdownStateData holds the data relevant while a mutual close is being
// negotiated but closing_signed has not yet converged.
type ShutdownStateData struct {
	LocalSent, RemoteSent     bool
	LocalScript, RemoteScript []byte
}

// NegotiatingStateData holds the last fee offer exchanged during
// closing_signed negotiation.
type NegotiatingStateData struct {
	LastLocalOffer, LastRemoteOffer btcutil.Amount
}

// ClosingStateData holds the agreed mutual-close transaction, published
// and awaiting confirmation.
type ClosingStateData struct {
	ClosingTx *wire.MsgTx
}

// ForceClosingStateData holds the force-close summary handed to the
// contractcourt reactor, kept here only so the FSM can report which
// commitment it force-closed on.
type ForceClosingStateData struct {
	Summary *lnwallet.ForceCloseSummary
}
