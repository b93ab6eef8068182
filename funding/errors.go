package funding

import "fmt"

// ErrorKind classifies a funding-session failure into the taxonomy
// SPEC_FULL.md names for §4.4, so callers can decide whether to keep the
// channel, disconnect, or force-close without string-matching messages.
type ErrorKind uint8

const (
	// ErrKindFeerateBelowMinimum is returned when a proposed or
	// contributed feerate falls below the session's feerate floor.
	ErrKindFeerateBelowMinimum ErrorKind = iota

	// ErrKindReserveViolation is returned when a contribution would
	// leave either party's to-local balance below its channel reserve.
	ErrKindReserveViolation

	// ErrKindBelowDust is returned when a contributed output's amount
	// is below the session's dust limit.
	ErrKindBelowDust

	// ErrKindMissingLiquidityPurchase is returned when an RBF attempt
	// omits a liquidity-purchase witness that a prior round in the same
	// splice already committed to.
	ErrKindMissingLiquidityPurchase

	// ErrKindFundingStillUnconfirmed is returned when a non-zero-conf
	// channel's previous funding transaction has not yet confirmed.
	ErrKindFundingStillUnconfirmed

	// ErrKindRBFOfConfirmed is returned when an RBF attempt targets a
	// funding transaction that has already confirmed.
	ErrKindRBFOfConfirmed

	// ErrKindRBFOfZeroConf is returned when an RBF attempt targets a
	// zero-conf channel's funding transaction, which carries no
	// unconfirmed mempool entry to replace.
	ErrKindRBFOfZeroConf

	// ErrKindSerialIDParity is returned when a peer contributes a
	// serial id whose parity doesn't match its role (initiator even,
	// acceptor odd), or reuses one already in the round.
	ErrKindSerialIDParity

	// ErrKindUnknownContribution is returned when a tx_remove_input/
	// tx_remove_output names a serial id not present in the round.
	ErrKindUnknownContribution

	// ErrKindSessionAborted is returned for any operation attempted
	// against a session that has already sent or received tx_abort.
	ErrKindSessionAborted

	// ErrKindInvalidLiquidityWitness is returned when a will_fund
	// witness fails to verify against the acceptor's node key.
	ErrKindInvalidLiquidityWitness
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindFeerateBelowMinimum:
		return "feerate below minimum"
	case ErrKindReserveViolation:
		return "reserve violation"
	case ErrKindBelowDust:
		return "below-dust contribution"
	case ErrKindMissingLiquidityPurchase:
		return "missing liquidity purchase on subsequent rbf"
	case ErrKindFundingStillUnconfirmed:
		return "previous funding tx still unconfirmed"
	case ErrKindRBFOfConfirmed:
		return "rbf of a confirmed tx"
	case ErrKindRBFOfZeroConf:
		return "rbf of a 0-conf tx"
	case ErrKindSerialIDParity:
		return "serial id non-monotonic or wrong parity"
	case ErrKindUnknownContribution:
		return "unknown contribution serial id"
	case ErrKindSessionAborted:
		return "session already aborted"
	case ErrKindInvalidLiquidityWitness:
		return "invalid liquidity witness"
	default:
		return "unknown funding error"
	}
}

// SessionError pairs an ErrorKind with the human-readable text that goes
// out in the tx_abort message, per SPEC_FULL.md's requirement that every
// error in this taxonomy "emit a tx_abort with a human-readable message."
type SessionError struct {
	Kind ErrorKind
	Msg  string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("funding: %s: %s", e.Kind, e.Msg)
}

func newSessionError(kind ErrorKind, format string, args ...interface{}) *SessionError {
	return &SessionError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
