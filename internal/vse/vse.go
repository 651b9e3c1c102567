// Package vse implements the Verifiable Secret Exchange primitive: a
// pairwise, publicly-auditable secret establishment between two
// signatories, reused across many DKG sessions without re-exchange.
//
// Each entry is an ephemeral-static ECDH handshake (sender's ephemeral
// key, receiver's static key) carrying a DLEQ proof that the disclosed
// ECDH point was derived from the disclosed ephemeral key, so any third
// party can check the entry is well-formed without learning the secret
// itself or needing either signatory's private key. Grounded on the same
// tagged-challenge Schnorr construction as internal/curve, extended to
// two discrete-log statements (a standard Chaum-Pedersen DLEQ proof).
package vse

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/klingon-exchange/brollup/internal/curve"
)

var (
	ErrInvalidProof   = errors.New("vse: invalid DLEQ proof")
	ErrDecryptFailure = errors.New("vse: decrypted value inconsistent")
)

// DLEQProof proves, for bases G and B and points R=r*G, P=r*B, knowledge
// of r without revealing it: the standard Chaum-Pedersen construction.
type DLEQProof struct {
	C curve.Scalar
	Z curve.Scalar
}

func dleqChallenge(basePoint, r, p, k1, k2 curve.Point) (curve.Scalar, bool) {
	rb := r.SerializeCompressed()
	pb := p.SerializeCompressed()
	bb := basePoint.SerializeCompressed()
	k1b := k1.SerializeCompressed()
	k2b := k2.SerializeCompressed()
	digest := curve.TaggedHash(curve.TagVSEProof, bb[:], rb[:], pb[:], k1b[:], k2b[:])
	return curve.ScalarFromHashReduced(digest)
}

// proveDLEQ proves knowledge of r such that R = r*G and P = r*base.
func proveDLEQ(r curve.Scalar, base, R, P curve.Point) (DLEQProof, bool) {
	k, err := curve.GenerateSecret()
	if err != nil {
		return DLEQProof{}, false
	}
	k1 := k.BasePointMul()
	k2 := base.Mul(k)

	e, ok := dleqChallenge(base, R, P, k1, k2)
	if !ok {
		return DLEQProof{}, false
	}
	z := k.Add(r.Mul(e))
	return DLEQProof{C: e, Z: z}, true
}

// verifyDLEQ checks a DLEQProof that R and P share the discrete log r
// with respect to G and base, without learning r.
func verifyDLEQ(base, R, P curve.Point, proof DLEQProof) bool {
	// k1' = z*G - e*R, k2' = z*base - e*P
	k1 := proof.Z.BasePointMul().Add(R.Mul(proof.C.Negate()))
	k2 := base.Mul(proof.Z).Add(P.Mul(proof.C.Negate()))

	e, ok := dleqChallenge(base, R, P, k1, k2)
	if !ok {
		return false
	}
	return e.Equal(proof.C)
}

// Entry is one signatory's VSE exchange with a single peer: an ephemeral
// public key, the ECDH point disclosed in the clear, a DLEQ proof tying
// the two together, and a secret ciphered under a hash of the ECDH
// point's x-coordinate.
type Entry struct {
	Ephemeral curve.Point
	ECDHPoint curve.Point
	Proof     DLEQProof
	Cipher    [32]byte
}

// NewEntry builds a VSE entry from sender to receiver, returning the
// entry to publish and the pairwise secret it encodes.
func NewEntry(receiver curve.Point) (Entry, [32]byte, error) {
	var secret [32]byte
	r, err := curve.GenerateSecret()
	if err != nil {
		return Entry{}, secret, err
	}

	ephemeral := r.BasePointMul()
	ecdh := receiver.Mul(r)

	proof, ok := proveDLEQ(r, receiver, ephemeral, ecdh)
	if !ok {
		return Entry{}, secret, ErrInvalidProof
	}

	if _, err := rand.Read(secret[:]); err != nil {
		return Entry{}, secret, err
	}

	xonly := ecdh.SerializeXOnly()
	keystream := curve.TaggedHash(curve.TagVSESecret, xonly[:])
	var cipher [32]byte
	for i := range cipher {
		cipher[i] = secret[i] ^ keystream[i]
	}

	return Entry{Ephemeral: ephemeral, ECDHPoint: ecdh, Proof: proof, Cipher: cipher}, secret, nil
}

// Verify checks that an entry's ECDH point is correctly bound to its
// disclosed ephemeral key, with respect to the given receiver public
// key. This requires no private key and is the check any peer performs
// on a keymap they receive.
func (e Entry) Verify(receiver curve.Point) bool {
	return verifyDLEQ(receiver, e.Ephemeral, e.ECDHPoint, e.Proof)
}

// Open recovers the pairwise secret encoded in an entry, given the
// receiver's private key. Only the intended receiver can perform this:
// it is the one party able to recompute the ECDH point from the
// ephemeral key without knowing the sender's ephemeral scalar.
func (e Entry) Open(receiverSecret curve.Scalar) [32]byte {
	ecdh := e.Ephemeral.Mul(receiverSecret)
	xonly := ecdh.SerializeXOnly()
	keystream := curve.TaggedHash(curve.TagVSESecret, xonly[:])

	var secret [32]byte
	for i := range secret {
		secret[i] = e.Cipher[i] ^ keystream[i]
	}
	return secret
}

// DeriveShareKey derives a session- and slot-specific keystream byte
// sequence from a pairwise secret, used to mask a single Feldman VSS
// share scalar within one DKG session. Folding the session index into
// the derivation is what lets a single epoch-scoped pairwise secret be
// reused across many DKG sessions without keystream reuse across them.
//
// Uses HKDF-SHA256 (RFC 5869) over the pairwise secret rather than a
// hand-rolled tagged-hash expansion: the salt is the domain tag and the
// info string is the session index, slot selector, and peer binding.
func DeriveShareKey(pairwiseSecret [32]byte, sessionIndex uint64, which byte, peer [32]byte) [32]byte {
	var idx [8]byte
	putUint64(idx[:], sessionIndex)
	info := make([]byte, 0, len(idx)+1+len(peer))
	info = append(info, idx[:]...)
	info = append(info, which)
	info = append(info, peer[:]...)

	r := hkdf.New(sha256.New, pairwiseSecret[:], []byte(curve.TagVSEShareKey), info)
	var out [32]byte
	io.ReadFull(r, out[:])
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
