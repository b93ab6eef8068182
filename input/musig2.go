package input

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// MusigSession drives the two-round MuSig2 signing ceremony
// TaprootChannels uses for both the funding output's key-path spend and
// every cooperative/settlement transaction built on top of it. Unlike the
// 2-of-2 CHECKMULTISIG path the other commitment formats use, every
// signature here is a single aggregated Schnorr signature, so both nonces
// must be exchanged before either party can produce their partial
// signature.
type MusigSession struct {
	signingCtx *musig2.Context
	session    *musig2.Session
}

// NewMusigSession creates a session for the 2-of-2 key aggregate of
// localKey and remoteKey. musig2.NewContext applies BIP-327's key-sorting
// rule internally, so both participants derive the identical aggregate key
// independent of argument order.
func NewMusigSession(localKey *btcec.PrivateKey,
	remoteKey *btcec.PublicKey) (*MusigSession, error) {

	ctx, err := musig2.NewContext(
		localKey, true,
		musig2.WithKnownSigners([]*btcec.PublicKey{
			localKey.PubKey(), remoteKey,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("input: unable to create musig2 "+
			"context: %w", err)
	}

	session, err := ctx.NewSession()
	if err != nil {
		return nil, fmt.Errorf("input: unable to create musig2 "+
			"session: %w", err)
	}

	return &MusigSession{signingCtx: ctx, session: session}, nil
}

// CombinedKey returns the aggregated public key both parties' funding
// output pays to.
func (m *MusigSession) CombinedKey() (*btcec.PublicKey, error) {
	return m.signingCtx.CombinedKey()
}

// PublicNonce returns this session's public nonce, the first message
// exchanged in the two-round ceremony.
func (m *MusigSession) PublicNonce() [musig2.PubNonceSize]byte {
	return m.session.PublicNonce()
}

// RegisterPublicNonce records the counterparty's nonce; the session can
// only produce or finalize signatures once both nonces are known.
func (m *MusigSession) RegisterPublicNonce(nonce [musig2.PubNonceSize]byte) (bool, error) {
	return m.session.RegisterPubNonce(nonce)
}

// SignMessage produces this party's partial signature over msg once the
// counterparty's nonce has been registered via RegisterPublicNonce.
func (m *MusigSession) SignMessage(msg [32]byte) (*musig2.PartialSignature, error) {
	return m.session.Sign(msg)
}

// CombineSignatures aggregates both parties' partial signatures into the
// final Schnorr signature that spends the combined key.
func (m *MusigSession) CombineSignatures(remote *musig2.PartialSignature) (*schnorr.Signature, error) {
	return m.session.CombineSig(remote)
}
