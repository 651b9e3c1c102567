// Package curve provides secp256k1 scalar and point arithmetic, tagged
// hashing, and BIP340-style Schnorr signing for the rollup's signature
// machinery (key aggregation, NOIST, Taproot).
//
// Group arithmetic is built directly on top of btcec/v2's curve
// implementation rather than re-deriving field arithmetic by hand, the way
// the rest of the corpus leans on btcec for every secp256k1 operation.
package curve

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

var (
	ErrInvalidScalar     = errors.New("curve: invalid scalar")
	ErrInvalidPoint      = errors.New("curve: invalid point")
	ErrInvalidTweak      = errors.New("curve: invalid tweak")
	ErrParityMismatch    = errors.New("curve: parity mismatch")
	ErrIdentityAtInfinty = errors.New("curve: point at infinity")
)

var curve = btcec.S256()

// order is the secp256k1 group order N.
var order = curve.N

// Scalar is an element of the secp256k1 scalar field, reduced mod N.
type Scalar struct {
	v *big.Int
}

// Point is a point on the secp256k1 curve, or the identity ("point at
// infinity") when inf is true.
type Point struct {
	x, y *big.Int
	inf  bool
}

// Infinity is the group identity element.
var Infinity = Point{inf: true}

// ZeroScalar is the additive identity of the scalar field.
var ZeroScalar = Scalar{v: big.NewInt(0)}

// NewScalar reduces an arbitrary big.Int mod N and wraps it.
func NewScalar(v *big.Int) Scalar {
	m := new(big.Int).Mod(v, order)
	return Scalar{v: m}
}

// ScalarFromBytes interprets 32 big-endian bytes as a scalar. It fails if
// the value is not canonically less than the group order.
func ScalarFromBytes(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return Scalar{}, ErrInvalidScalar
	}
	v := new(big.Int).SetBytes(b)
	if v.Cmp(order) >= 0 {
		return Scalar{}, ErrInvalidScalar
	}
	return Scalar{v: v}, nil
}

// ScalarFromUint64 builds a small scalar, used for Lagrange x-coordinates
// (1-based signatory indices).
func ScalarFromUint64(n uint64) Scalar {
	return Scalar{v: new(big.Int).SetUint64(n)}
}

// ScalarFromHashReduced reduces a 32-byte hash digest mod N. Per §4.9, a
// reduction landing on zero is a fatal, non-retryable condition for the
// caller's operation.
func ScalarFromHashReduced(digest [32]byte) (Scalar, bool) {
	v := new(big.Int).SetBytes(digest[:])
	v.Mod(v, order)
	if v.Sign() == 0 {
		return Scalar{}, false
	}
	return Scalar{v: v}, true
}

// IsZero reports whether the scalar is the additive identity.
func (s Scalar) IsZero() bool { return s.v == nil || s.v.Sign() == 0 }

// Serialize returns the scalar as 32 big-endian bytes.
func (s Scalar) Serialize() [32]byte {
	var out [32]byte
	if s.v == nil {
		return out
	}
	b := s.v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// Add returns s+o mod N.
func (s Scalar) Add(o Scalar) Scalar {
	return NewScalar(new(big.Int).Add(s.v, o.v))
}

// Mul returns s*o mod N.
func (s Scalar) Mul(o Scalar) Scalar {
	return NewScalar(new(big.Int).Mul(s.v, o.v))
}

// Negate returns -s mod N.
func (s Scalar) Negate() Scalar {
	if s.IsZero() {
		return s
	}
	return NewScalar(new(big.Int).Sub(order, s.v))
}

// NegateIf negates the scalar iff cond is true.
func (s Scalar) NegateIf(cond bool) Scalar {
	if cond {
		return s.Negate()
	}
	return s
}

// Sub returns s-o mod N.
func (s Scalar) Sub(o Scalar) Scalar {
	return s.Add(o.Negate())
}

// Inverse returns the modular inverse of s mod N. s must be non-zero.
func (s Scalar) Inverse() (Scalar, error) {
	if s.IsZero() {
		return Scalar{}, ErrInvalidScalar
	}
	return Scalar{v: new(big.Int).ModInverse(s.v, order)}, nil
}

// Equal reports whether two scalars are the same field element.
func (s Scalar) Equal(o Scalar) bool {
	av, bv := s.v, o.v
	if av == nil {
		av = big.NewInt(0)
	}
	if bv == nil {
		bv = big.NewInt(0)
	}
	return av.Cmp(bv) == 0
}

// BasePointMul computes s*G.
func (s Scalar) BasePointMul() Point {
	if s.IsZero() {
		return Infinity
	}
	x, y := curve.ScalarBaseMult(s.v.Bytes())
	return Point{x: x, y: y}
}

// Lift negates the scalar, if needed, so that its public point has an even
// y-coordinate. Mirrors the "nonce/key lifting" step used throughout BIP340
// and MuSig2 so secret scalars always correspond to even-parity points.
func (s Scalar) Lift() Scalar {
	p := s.BasePointMul()
	return s.NegateIf(p.Parity())
}

// IsInfinity reports whether p is the group identity.
func (p Point) IsInfinity() bool { return p.inf }

// Parity reports whether p's y-coordinate is odd. Identity has even parity
// by convention and should generally not be queried.
func (p Point) Parity() bool {
	if p.inf || p.y == nil {
		return false
	}
	return p.y.Bit(0) == 1
}

// Add returns p+o using the curve's affine group law, handling the identity
// element on either side.
func (p Point) Add(o Point) Point {
	if p.inf {
		return o
	}
	if o.inf {
		return p
	}
	x, y := curve.Add(p.x, p.y, o.x, o.y)
	if x.Sign() == 0 && y.Sign() == 0 {
		return Infinity
	}
	return Point{x: x, y: y}
}

// Negate returns -p (same x, negated y mod P).
func (p Point) Negate() Point {
	if p.inf {
		return p
	}
	ny := new(big.Int).Sub(curve.P, p.y)
	ny.Mod(ny, curve.P)
	return Point{x: new(big.Int).Set(p.x), y: ny}
}

// NegateIf negates the point iff cond is true.
func (p Point) NegateIf(cond bool) Point {
	if cond {
		return p.Negate()
	}
	return p
}

// Mul returns s*p.
func (p Point) Mul(s Scalar) Point {
	if p.inf || s.IsZero() {
		return Infinity
	}
	x, y := curve.ScalarMult(p.x, p.y, s.v.Bytes())
	if x.Sign() == 0 && y.Sign() == 0 {
		return Infinity
	}
	return Point{x: x, y: y}
}

// Equal reports point equality, including the identity.
func (p Point) Equal(o Point) bool {
	if p.inf != o.inf {
		return false
	}
	if p.inf {
		return true
	}
	return p.x.Cmp(o.x) == 0 && p.y.Cmp(o.y) == 0
}

// X returns the affine x-coordinate. Undefined for the identity.
func (p Point) X() *big.Int { return p.x }

// SerializeXOnly returns the 32-byte x-only encoding (BIP340 style),
// dropping parity information.
func (p Point) SerializeXOnly() [32]byte {
	var out [32]byte
	if p.inf {
		return out
	}
	b := p.x.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// SerializeCompressed returns the 33-byte SEC1 compressed encoding.
func (p Point) SerializeCompressed() [33]byte {
	var out [33]byte
	if p.inf {
		return out
	}
	if p.Parity() {
		out[0] = 0x03
	} else {
		out[0] = 0x02
	}
	b := p.x.Bytes()
	copy(out[34-len(b)-1:33], b)
	return out
}

// SerializeUncompressed returns the 65-byte SEC1 uncompressed encoding.
func (p Point) SerializeUncompressed() [65]byte {
	var out [65]byte
	if p.inf {
		return out
	}
	out[0] = 0x04
	xb := p.x.Bytes()
	yb := p.y.Bytes()
	copy(out[33-len(xb):33], xb)
	copy(out[65-len(yb):65], yb)
	return out
}

// PointFromXOnly lifts a 32-byte x-only key to the even-y point on the
// curve, the convention used for BIP340 public keys and taproot inner keys.
func PointFromXOnly(b [32]byte) (Point, error) {
	var compressed [33]byte
	compressed[0] = 0x02
	copy(compressed[1:], b[:])
	return PointFromSlice(compressed[:])
}

// PointFromSlice parses a 32 (x-only/even), 33 (compressed), or 65
// (uncompressed) byte public key encoding.
func PointFromSlice(b []byte) (Point, error) {
	switch len(b) {
	case 32:
		var xonly [32]byte
		copy(xonly[:], b)
		return PointFromXOnly(xonly)
	case 33, 65:
		pk, err := btcec.ParsePubKey(b)
		if err != nil {
			return Point{}, ErrInvalidPoint
		}
		return Point{x: pk.X(), y: pk.Y()}, nil
	default:
		return Point{}, ErrInvalidPoint
	}
}

// bigFromBytes interprets raw bytes as an unreduced big-endian integer.
func bigFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// SumPoints adds a set of points, returning false if the result is the
// identity (fatal per §4.9 for the aggregation step in question).
func SumPoints(pts ...Point) (Point, bool) {
	acc := Infinity
	for _, p := range pts {
		acc = acc.Add(p)
	}
	if acc.IsInfinity() {
		return Point{}, false
	}
	return acc, true
}

// HashTag is a domain separator for tagged hashing, per §3/§6.
type HashTag string

const (
	TagTapLeaf              HashTag = "TapLeaf"
	TagTapBranch            HashTag = "TapBranch"
	TagTapTweak             HashTag = "TapTweak"
	TagTapSighash           HashTag = "TapSighash"
	TagSecretNonce          HashTag = "SecretNonce"
	TagSecretKey            HashTag = "SecretKey"
	TagSignatureChallenge   HashTag = "SignatureChallenge"
	TagBIP340Challenge      HashTag = "BIP340Challenge"
	TagMusigNonceCoef       HashTag = "MusigNonceCoef"
	TagMusigKeyList         HashTag = "MusigKeyList"
	TagMusigKeyCoef         HashTag = "MusigKeyCoef"
	TagGroupCommitment      HashTag = "GroupCommitment"
	TagBindingFactor        HashTag = "BindingFactor"
	TagPayloadAuth          HashTag = "PayloadAuth"
	TagSighashAuthenticable HashTag = "SighashAuthenticable"
	TagSighashEntry         HashTag = "SighashEntry"
	TagVSESecret            HashTag = "VSESecret"
	TagVSEShareKey          HashTag = "VSEShareKey"
	TagVSEProof             HashTag = "VSEProof"
)

// TaggedHash computes SHA256(SHA256(tag) || SHA256(tag) || data), the
// BIP340 tagged-hash construction used for every domain-separated hash in
// the protocol.
func TaggedHash(tag HashTag, data ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
