package curve

import (
	"crypto/rand"
)

// SigningMode selects which tagged hash is used for the signature
// challenge: the internal (NOIST/MuSig) variant or the external BIP340
// variant used for standalone taproot spends.
type SigningMode int

const (
	ModeInternal SigningMode = iota
	ModeBIP340
)

func challengeTag(mode SigningMode) HashTag {
	if mode == ModeBIP340 {
		return TagBIP340Challenge
	}
	return TagSignatureChallenge
}

// Challenge computes H_tag(R.x || P.x || m) mod n, per §4.1. A zero result
// is returned as ok=false; callers must treat this as a fatal,
// non-retryable condition for the signing operation in progress.
func Challenge(nonce, key Point, message [32]byte, mode SigningMode) (Scalar, bool) {
	rx := nonce.SerializeXOnly()
	px := key.SerializeXOnly()
	digest := TaggedHash(challengeTag(mode), rx[:], px[:], message[:])
	return ScalarFromHashReduced(digest)
}

// secretNonce deterministically derives the Schnorr signing nonce from the
// (lifted) secret key and message.
func secretNonce(secretLifted [32]byte, message [32]byte) (Scalar, bool) {
	digest := TaggedHash(TagSecretNonce, secretLifted[:], message[:])
	return ScalarFromHashReduced(digest)
}

// Sign produces a 64-byte Schnorr signature (R.x || s) over message under
// secretKey, lifting both the key and the nonce to even-parity points as
// BIP340 requires.
func Sign(secretKey Scalar, message [32]byte, mode SigningMode) ([64]byte, bool) {
	var sig [64]byte
	if secretKey.IsZero() {
		return sig, false
	}
	x := secretKey.Lift()
	pubKey := x.BasePointMul()

	xBytes := x.Serialize()
	k, ok := secretNonce(xBytes, message)
	if !ok {
		return sig, false
	}
	k = k.Lift()
	noncePoint := k.BasePointMul()

	e, ok := Challenge(noncePoint, pubKey, message, mode)
	if !ok {
		return sig, false
	}

	s := x.Mul(e).Add(k)
	if s.IsZero() {
		return sig, false
	}

	rx := noncePoint.SerializeXOnly()
	sBytes := s.Serialize()
	copy(sig[:32], rx[:])
	copy(sig[32:], sBytes[:])
	return sig, true
}

// Verify checks a 64-byte Schnorr signature against an x-only public key.
func Verify(publicKey [32]byte, message [32]byte, sig [64]byte, mode SigningMode) bool {
	pubPoint, err := PointFromXOnly(publicKey)
	if err != nil {
		return false
	}

	var rxArr [32]byte
	copy(rxArr[:], sig[:32])
	noncePoint, err := PointFromXOnly(rxArr)
	if err != nil {
		return false
	}

	e, ok := Challenge(noncePoint, pubPoint, message, mode)
	if !ok {
		return false
	}

	sScalar, err := ScalarFromBytes(sig[32:])
	if err != nil {
		return false
	}

	rhs := pubPoint.Mul(e).Add(noncePoint)
	if rhs.IsInfinity() {
		return false
	}

	return sScalar.BasePointMul().Equal(rhs)
}

// GenerateSecret returns a fresh, lifted random secret key.
func GenerateSecret() (Scalar, error) {
	var entropy [32]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return Scalar{}, err
	}
	digest := TaggedHash(TagSecretKey, entropy[:])
	s, ok := ScalarFromHashReduced(digest)
	if !ok {
		s = NewScalar(bigFromBytes(digest[:]))
	}
	return s.Lift(), nil
}

// Sighash is implemented by every object authenticated via an Authenticable
// wrapper; it returns the 32-byte digest that gets Schnorr-signed.
type Sighash interface {
	Sighash() [32]byte
}

// Authenticable pairs an object with a Schnorr signature over its sighash
// and the signing key, mirroring the source's `Authenticable<T>` wrapper
// used for every message and DKG artifact that needs sender authentication.
type Authenticable[T Sighash] struct {
	Object T
	Sig    [64]byte
	Key    [32]byte
}

// NewAuthenticable signs object's sighash with secretKey and wraps it.
func NewAuthenticable[T Sighash](object T, secretKey Scalar) (Authenticable[T], bool) {
	lifted := secretKey.Lift()
	pub := lifted.BasePointMul().SerializeXOnly()
	msg := object.Sighash()
	sig, ok := Sign(lifted, msg, ModeInternal)
	if !ok {
		return Authenticable[T]{}, false
	}
	return Authenticable[T]{Object: object, Sig: sig, Key: pub}, true
}

// Authenticate verifies the embedded Schnorr signature against the
// object's current sighash and the embedded key.
func (a Authenticable[T]) Authenticate() bool {
	return Verify(a.Key, a.Object.Sighash(), a.Sig, ModeInternal)
}
