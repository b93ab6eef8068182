// Package input generates the scripts, witnesses and weight estimates for
// every output type this engine puts on a commitment, HTLC, or sweep
// transaction. It is the generalized descendant of the teacher's
// lnwallet/script_utils.go: the same witness-construction style, carried
// forward from the old single revocation-hash scheme to BOLT3's
// per-commitment-point key derivation, and extended with the anchor and
// taproot output types the old scheme never had.
package input

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
)

// TweakPubKey derives the key a party actually uses on a given commitment
// from their base point and the per-commitment point, per BOLT3:
//
//	tweak := SHA256(per_commitment_point || base_point)
//	pubkey := base_point + tweak*G
//
// Doing this for every commitment, rather than reusing the base point
// directly, is what lets each commitment transaction carry keys that are
// unlinkable to any other commitment for the same channel.
func TweakPubKey(basePoint, commitPoint *btcec.PublicKey) *btcec.PublicKey {
	tweakBytes := SingleTweakBytes(commitPoint, basePoint)
	return addPubkeyTweak(basePoint, tweakBytes)
}

// SingleTweakBytes computes the tweak applied to basePoint for a given
// commitPoint: SHA256(commitPoint || basePoint).
func SingleTweakBytes(commitPoint, basePoint *btcec.PublicKey) []byte {
	h := sha256.New()
	h.Write(commitPoint.SerializeCompressed())
	h.Write(basePoint.SerializeCompressed())
	return h.Sum(nil)
}

// TweakPrivKey derives the private key corresponding to TweakPubKey's
// output, given the base private key and the single-tweak bytes computed
// from the base public key and the commitment point.
func TweakPrivKey(basePriv *btcec.PrivateKey, commitTweak []byte) *btcec.PrivateKey {
	return addPrivkeyTweak(basePriv, commitTweak)
}

// DeriveRevocationPubkey derives the revocation public key for a
// commitment transaction given the counterparty's revocation base point and
// our per-commitment point, per BOLT3:
//
//	revocationkey = revocation_basepoint*SHA256(revocation_basepoint || per_commitment_point) +
//	                per_commitment_point*SHA256(per_commitment_point || revocation_basepoint)
//
// This is the homomorphic construction that lets a node publish its
// revocation base point once, up front, and still end up with a fresh
// revocation key on every commitment: the moment it reveals the
// per-commitment secret for a superseded state, the counterparty can
// compute the matching private key and sweep that state's outputs as a
// penalty.
func DeriveRevocationPubkey(revokeBase, commitPoint *btcec.PublicKey) *btcec.PublicKey {
	revokeTweak := revocationTweak(revokeBase, commitPoint)
	commitTweak := revocationTweak(commitPoint, revokeBase)

	p1 := scalarMulPoint(revokeBase, revokeTweak)
	p2 := scalarMulPoint(commitPoint, commitTweak)

	return addPoints(p1, p2)
}

// DeriveRevocationPrivKey derives the private key matching
// DeriveRevocationPubkey's output, given the revocation base private key
// and the per-commitment secret revealed for the commitment being
// penalized.
func DeriveRevocationPrivKey(revokeBasePriv *btcec.PrivateKey,
	commitSecret *btcec.PrivateKey) *btcec.PrivateKey {

	revokeBase := revokeBasePriv.PubKey()
	commitPoint := commitSecret.PubKey()

	revokeTweak := revocationTweak(revokeBase, commitPoint)
	commitTweak := revocationTweak(commitPoint, revokeBase)

	k1 := scalarMulPriv(revokeBasePriv.Key, revokeTweak)
	k2 := scalarMulPriv(commitSecret.Key, commitTweak)

	sum := new(btcec.ModNScalar).Add2(&k1, &k2)
	priv, _ := btcec.PrivKeyFromBytes(sum.Bytes()[:])
	return priv
}

// revocationTweak computes SHA256(a || b) as used by both halves of the
// revocation key derivation.
func revocationTweak(a, b *btcec.PublicKey) []byte {
	h := sha256.New()
	h.Write(a.SerializeCompressed())
	h.Write(b.SerializeCompressed())
	return h.Sum(nil)
}

func addPubkeyTweak(base *btcec.PublicKey, tweak []byte) *btcec.PublicKey {
	var tweakScalar btcec.ModNScalar
	tweakScalar.SetByteSlice(tweak)

	var tweakPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&tweakScalar, &tweakPoint)

	var baseJ btcec.JacobianPoint
	base.AsJacobian(&baseJ)

	var sum btcec.JacobianPoint
	btcec.AddNonConst(&baseJ, &tweakPoint, &sum)
	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y)
}

func addPrivkeyTweak(base *btcec.PrivateKey, tweak []byte) *btcec.PrivateKey {
	var tweakScalar btcec.ModNScalar
	tweakScalar.SetByteSlice(tweak)

	sum := new(btcec.ModNScalar).Add2(&base.Key, &tweakScalar)
	priv, _ := btcec.PrivKeyFromBytes(sum.Bytes()[:])
	return priv
}

func scalarMulPoint(point *btcec.PublicKey, scalarBytes []byte) *btcec.PublicKey {
	var scalar btcec.ModNScalar
	scalar.SetByteSlice(scalarBytes)

	var pointJ, result btcec.JacobianPoint
	point.AsJacobian(&pointJ)
	btcec.ScalarMultNonConst(&scalar, &pointJ, &result)
	result.ToAffine()

	return btcec.NewPublicKey(&result.X, &result.Y)
}

func scalarMulPriv(priv btcec.ModNScalar, scalarBytes []byte) btcec.ModNScalar {
	var scalar btcec.ModNScalar
	scalar.SetByteSlice(scalarBytes)

	var product btcec.ModNScalar
	product.Mul2(&priv, &scalar)
	return product
}

func addPoints(a, b *btcec.PublicKey) *btcec.PublicKey {
	var aJ, bJ, sum btcec.JacobianPoint
	a.AsJacobian(&aJ)
	b.AsJacobian(&bJ)
	btcec.AddNonConst(&aJ, &bJ, &sum)
	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y)
}

// ComputeCommitmentPoint derives the public per-commitment point from a
// per-commitment secret. This is just the secret's EC public key; the
// chain of secrets themselves is produced by the shachain package.
func ComputeCommitmentPoint(commitSecret []byte) *btcec.PublicKey {
	_, pub := btcec.PrivKeyFromBytes(commitSecret)
	return pub
}
