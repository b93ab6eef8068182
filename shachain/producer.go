package shachain

// Producer hands out the secret to reveal at a given commitment index.
// The revealing party (every node, for its own commitments) implements
// this; it never needs more than the root seed in memory.
type Producer interface {
	// AtIndex returns the per-commitment secret for the given index.
	AtIndex(index Index) (Hash, error)
}

// RevocationProducer derives every per-commitment secret in the chain
// from a single root seed, so nothing beyond that seed need be persisted
// for the sending side of the revocation protocol.
type RevocationProducer struct {
	root Hash
}

// NewRevocationProducer creates a producer seeded from root. The caller
// is responsible for deriving root from the wallet's master key the way
// the rest of the channel's basepoints are derived.
func NewRevocationProducer(root Hash) *RevocationProducer {
	return &RevocationProducer{root: root}
}

// AtIndex implements the Producer interface.
func (p *RevocationProducer) AtIndex(index Index) (Hash, error) {
	if index > MaxIndex {
		return Hash{}, ErrIndexTooHigh
	}
	return deriveFromSeed(p.root, index), nil
}

// Root returns the seed every per-commitment secret is derived from. The
// persistence layer needs this to survive a restart — nothing else about
// a RevocationProducer is reconstructible from its public outputs.
func (p *RevocationProducer) Root() Hash {
	return p.root
}
