// Package dkg implements the distributed key generation machine: Feldman
// verifiable secret sharing over VSE-encrypted pairwise channels, DKG
// packages and sessions (one key session plus many disposable nonce
// sessions), and the directory that owns them for one VSE epoch.
//
// Grounded on _examples/original_source/src/transmutive/noist/dkg/session.rs
// and .../dkg/directory.rs.
package dkg

import (
	"math/big"

	"github.com/klingon-exchange/brollup/internal/curve"
)

// Threshold returns the minimum package count for a session of n
// signatories to be above threshold: floor(n/2)+1, per the original
// implementation's is_above_threshold check.
func Threshold(n int) int { return n/2 + 1 }

// Degree returns the Feldman polynomial degree for a roster of size n:
// floor(n/2), one less than Threshold(n).
func Degree(n int) int { return n / 2 }

// FeldmanPoly is a secret-sharing polynomial f(x) = Σ coeffs[k]·x^k.
// coeffs[0] is the secret constant term.
type FeldmanPoly struct {
	coeffs []curve.Scalar
}

// NewFeldmanPoly generates a random polynomial of the given degree.
func NewFeldmanPoly(degree int) (FeldmanPoly, error) {
	coeffs := make([]curve.Scalar, degree+1)
	for i := range coeffs {
		s, err := curve.GenerateSecret()
		if err != nil {
			return FeldmanPoly{}, err
		}
		coeffs[i] = s
	}
	return FeldmanPoly{coeffs: coeffs}, nil
}

// Constant returns the polynomial's constant term, f(0).
func (p FeldmanPoly) Constant() curve.Scalar { return p.coeffs[0] }

// Eval evaluates f(x) at a 1-based signatory index using Horner's method.
func (p FeldmanPoly) Eval(x uint64) curve.Scalar {
	xs := curve.ScalarFromUint64(x)
	acc := curve.ZeroScalar
	for i := len(p.coeffs) - 1; i >= 0; i-- {
		acc = acc.Mul(xs).Add(p.coeffs[i])
	}
	return acc
}

// Commitments returns the public commitment vector coeffs[k]·G.
func (p FeldmanPoly) Commitments() []curve.Point {
	out := make([]curve.Point, len(p.coeffs))
	for i, c := range p.coeffs {
		out[i] = c.BasePointMul()
	}
	return out
}

// evalCommitmentVector evaluates a published commitment vector in the
// exponent at a 1-based index: Σ commitments[k]·x^k, which any verifier
// can compute without knowing the underlying polynomial.
func evalCommitmentVector(commitments []curve.Point, x uint64) (curve.Point, bool) {
	xs := curve.ScalarFromUint64(x)
	power := curve.NewScalar(big.NewInt(1))
	terms := make([]curve.Point, 0, len(commitments))
	for _, c := range commitments {
		terms = append(terms, c.Mul(power))
		power = power.Mul(xs)
	}
	return curve.SumPoints(terms...)
}
