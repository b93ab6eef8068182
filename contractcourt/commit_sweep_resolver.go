package contractcourt

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"

	"github.com/lightninglabs/htlcengine/chainfee"
	"github.com/lightninglabs/htlcengine/sweep"
)

// commitSweepResolver claims one of a commitment's two main outputs —
// our to_local output (immediately, or after its CSV delay, depending on
// which of the five classifications produced it), the counterparty's
// to_remote output (only reachable when it's unencumbered or we hold
// the penalty key), or a to_local output we're claiming via the
// revocation clause after a breach. Which of those three this is
// doesn't change the resolver's own logic, only which closure classify.go's
// caller supplied for buildClaim — mirroring the teacher's
// localWitness/remoteWitness closures in breacharbiter.go, generalized
// from "two hardcoded outputs" to any single-output claim.
type commitSweepResolver struct {
	outpoint  wire.OutPoint
	csvDelay  uint32
	resolved  bool

	// buildClaim produces the fully-witnessed claim transaction at the
	// requested feerate; a closure rather than a stored tx because the
	// publisher may need to re-sign at a higher feerate to escalate.
	buildClaim func(feePerKw chainfee.SatPerKWeight) (*wire.MsgTx, error)

	ResolverKit
}

// newCommitSweepResolver constructs a resolver for one main commitment
// output.
func newCommitSweepResolver(outpoint wire.OutPoint, csvDelay uint32,
	buildClaim func(chainfee.SatPerKWeight) (*wire.MsgTx, error),
	kit ResolverKit) *commitSweepResolver {

	return &commitSweepResolver{
		outpoint:   outpoint,
		csvDelay:   csvDelay,
		buildClaim: buildClaim,
		ResolverKit: kit,
	}
}

// ResolverKey identifies this resolver by the output it's claiming.
func (c *commitSweepResolver) ResolverKey() []byte {
	key := newResolverID(c.outpoint)
	return key[:]
}

// Resolve waits out the output's CSV delay (if any), publishes its claim
// transaction with fee escalation, and waits for that transaction to
// confirm before declaring the output resolved. Mirrors the teacher's
// htlcTimeoutResolver.Resolve CSV-then-publish-then-wait shape (see
// contractcourt/htlc_timeout_resolver.go), applied to a plain main
// output instead of an HTLC.
func (c *commitSweepResolver) Resolve() (ContractResolver, error) {
	if c.resolved {
		return nil, nil
	}

	// The claim's input carries a relative locktime of csvDelay blocks,
	// so wait for the commitment to reach that depth before publishing.
	if c.csvDelay > 0 {
		confEvent, err := c.Notifier.WatchTxConfirmed(&c.outpoint.Hash, c.csvDelay)
		if err != nil {
			return nil, err
		}
		select {
		case <-confEvent.Confirmed:
		case <-c.Quit:
			return nil, fmt.Errorf("contractcourt: resolver stopped")
		}
	}

	// A spend watch is registered on the output before publishing, but
	// the returned event is not inspected here: an output that is already
	// spent is not detected at this point, and the claim is published
	// regardless.
	if _, err := c.Notifier.WatchOutputSpent(&c.outpoint); err != nil {
		return nil, err
	}

	tx, err := c.buildClaim(chainfee.FeePerKwFloor)
	if err != nil {
		return nil, err
	}
	txid := tx.TxHash()

	target := sweep.AtPriority(sweep.PriorityMedium)
	if err := c.Publisher.PublishReplaceable(
		txid, c.buildClaim, target, c.Quit,
	); err != nil {
		return nil, err
	}

	if err := c.waitForConf(tx, 1); err != nil {
		return nil, err
	}

	c.resolved = true
	return nil, c.Checkpoint(c)
}

func (c *commitSweepResolver) IsResolved() bool { return c.resolved }

func (c *commitSweepResolver) Stop() { close(c.Quit) }

func (c *commitSweepResolver) Encode(w io.Writer) error {
	_, err := w.Write(newResolverID(c.outpoint)[:])
	return err
}

var _ ContractResolver = (*commitSweepResolver)(nil)
