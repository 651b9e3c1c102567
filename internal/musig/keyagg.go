// Package musig implements MuSig2-style key aggregation and two-round
// nonce-aggregated Schnorr signing sessions, including nesting a NOIST
// threshold group key as a single cosigner.
//
// Grounded on _examples/original_source/src/transmutive/musig/session.rs
// and the teacher's internal/swap/musig2.go (session bookkeeping shape,
// nonce-reuse tracking), generalized from a fixed two-party swap session
// to an arbitrary-size, tweak-aware aggregation context.
package musig

import (
	"errors"

	"github.com/klingon-exchange/brollup/internal/curve"
)

var (
	ErrUnknownKey     = errors.New("musig: key not in aggregation set")
	ErrIdentityAggKey = errors.New("musig: aggregate key is the point at infinity")
	ErrDuplicateKey   = errors.New("musig: duplicate key in aggregation set")
	ErrInvalidTweak   = errors.New("musig: invalid tweak")
)

// KeyAggCtx is a fixed, sorted aggregation of signer keys with per-key
// tagged coefficients and an optional tweak.
type KeyAggCtx struct {
	keys       []curve.Point
	coeffs     map[[32]byte]curve.Scalar
	innerKey   curve.Point
	tweak      *curve.Scalar
	aggKey     curve.Point
}

// NewKeyAggCtx sorts keys lexicographically by x-only serialization,
// derives the per-key MusigKeyCoef coefficients from a MusigKeyList hash
// of the sorted set, and aggregates. keys must be distinct.
func NewKeyAggCtx(keys []curve.Point) (*KeyAggCtx, error) {
	return newKeyAggCtx(keys, nil)
}

// NewKeyAggCtxTweaked is NewKeyAggCtx with an additional 32-byte tweak
// applied to the inner aggregate key, following BIP327's parity
// correction: if the tweaked key would have odd parity, the inner key
// (and therefore every later partial-signing computation keyed off it)
// is treated as negated.
func NewKeyAggCtxTweaked(keys []curve.Point, tweak [32]byte) (*KeyAggCtx, error) {
	t, err := curve.ScalarFromBytes(tweak[:])
	if err != nil {
		return nil, ErrInvalidTweak
	}
	return newKeyAggCtx(keys, &t)
}

func newKeyAggCtx(keys []curve.Point, tweak *curve.Scalar) (*KeyAggCtx, error) {
	sorted := curve.SortPoints(keys)
	if hasDuplicateXOnly(sorted) {
		return nil, ErrDuplicateKey
	}

	var listData [][]byte
	for _, k := range sorted {
		x := k.SerializeXOnly()
		listData = append(listData, x[:])
	}
	listHash := curve.TaggedHash(curve.TagMusigKeyList, listData...)

	coeffs := make(map[[32]byte]curve.Scalar, len(sorted))
	terms := make([]curve.Point, 0, len(sorted))
	for _, k := range sorted {
		x := k.SerializeXOnly()
		coefDigest := curve.TaggedHash(curve.TagMusigKeyCoef, listHash[:], x[:])
		coef, ok := curve.ScalarFromHashReduced(coefDigest)
		if !ok {
			return nil, curve.ErrInvalidScalar
		}
		coeffs[x] = coef
		terms = append(terms, k.Mul(coef))
	}

	innerKey, ok := curve.SumPoints(terms...)
	if !ok {
		return nil, ErrIdentityAggKey
	}

	ctx := &KeyAggCtx{keys: sorted, coeffs: coeffs, innerKey: innerKey}

	if tweak == nil {
		ctx.aggKey = innerKey
		return ctx, nil
	}

	tweakPoint := tweak.BasePointMul()
	aggKey, ok := curve.SumPoints(innerKey, tweakPoint)
	if !ok {
		return nil, ErrIdentityAggKey
	}
	ctx.tweak = tweak
	ctx.aggKey = aggKey
	return ctx, nil
}

func hasDuplicateXOnly(keys []curve.Point) bool {
	seen := make(map[[32]byte]struct{}, len(keys))
	for _, k := range keys {
		x := k.SerializeXOnly()
		if _, ok := seen[x]; ok {
			return true
		}
		seen[x] = struct{}{}
	}
	return false
}

// Keys returns the sorted signer set.
func (c *KeyAggCtx) Keys() []curve.Point { return c.keys }

// AggKey returns the (possibly tweaked) aggregate public key.
func (c *KeyAggCtx) AggKey() curve.Point { return c.aggKey }

// InnerKey returns the untweaked aggregate of the signer set.
func (c *KeyAggCtx) InnerKey() curve.Point { return c.innerKey }

// IsTweaked reports whether a tweak was applied at construction.
func (c *KeyAggCtx) IsTweaked() bool { return c.tweak != nil }

// KeyCoef returns the fixed per-key aggregation coefficient for K.
func (c *KeyAggCtx) KeyCoef(k curve.Point) (curve.Scalar, error) {
	coef, ok := c.coeffs[k.SerializeXOnly()]
	if !ok {
		return curve.Scalar{}, ErrUnknownKey
	}
	return coef, nil
}

// KeyIndex returns the 0-based sort position of k in the signer set.
func (c *KeyAggCtx) KeyIndex(k curve.Point) (int, error) {
	x := k.SerializeXOnly()
	for i, key := range c.keys {
		if key.SerializeXOnly() == x {
			return i, nil
		}
	}
	return 0, ErrUnknownKey
}
