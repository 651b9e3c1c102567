package musig

import (
	"errors"

	"github.com/klingon-exchange/brollup/internal/curve"
)

var (
	ErrAlreadyHasNonce  = errors.New("musig: key already contributed a nonce")
	ErrNotSealed        = errors.New("musig: session not yet sealed (missing nonces)")
	ErrAlreadySealed    = errors.New("musig: session already sealed")
	ErrMismatchedNonce  = errors.New("musig: provided secret nonce does not match public nonce")
	ErrAlreadyPartial   = errors.New("musig: key already has a partial signature")
	ErrInvalidPartial   = errors.New("musig: partial signature failed verification")
	ErrBelowThreshold   = errors.New("musig: blame list non-empty, cannot aggregate")
)

// PublicNonce is a cosigner's pair of per-round nonce points.
type PublicNonce struct {
	R1, R2 curve.Point
}

// Session is a two-round MuSig signing context: every cosigner
// contributes a public nonce pair, which seals the context and fixes
// the nonce coefficient, aggregate nonce, and challenge; cosigners then
// contribute partial signatures.
type Session struct {
	ctx     *KeyAggCtx
	message [32]byte

	nonces map[[32]byte]PublicNonce
	sealed bool

	preHiding  curve.Point
	preBinding curve.Point
	nonceCoef  curve.Scalar
	aggNonce   curve.Point
	challenge  curve.Scalar

	partials map[[32]byte]curve.Scalar
}

// NewSession starts an unsealed session for signing message under ctx.
func NewSession(ctx *KeyAggCtx, message [32]byte) *Session {
	return &Session{
		ctx:      ctx,
		message:  message,
		nonces:   make(map[[32]byte]PublicNonce, len(ctx.keys)),
		partials: make(map[[32]byte]curve.Scalar),
	}
}

// KeyAggCtx returns the underlying key-aggregation context.
func (s *Session) KeyAggCtx() *KeyAggCtx { return s.ctx }

// IsSealed reports whether every cosigner has contributed a nonce.
func (s *Session) IsSealed() bool { return s.sealed }

// InsertNonce records a cosigner's public nonce pair. Once every key in
// the aggregation set has contributed, the session seals: the nonce
// coefficient, aggregate nonce, and challenge are fixed.
func (s *Session) InsertNonce(key curve.Point, r1, r2 curve.Point) error {
	if s.sealed {
		return ErrAlreadySealed
	}
	if _, err := s.ctx.KeyIndex(key); err != nil {
		return err
	}
	x := key.SerializeXOnly()
	if _, ok := s.nonces[x]; ok {
		return ErrAlreadyHasNonce
	}
	s.nonces[x] = PublicNonce{R1: r1, R2: r2}

	if len(s.nonces) == len(s.ctx.keys) {
		return s.seal()
	}
	return nil
}

func (s *Session) seal() error {
	var hidingTerms, bindingTerms []curve.Point
	for _, k := range s.ctx.keys {
		n := s.nonces[k.SerializeXOnly()]
		hidingTerms = append(hidingTerms, n.R1)
		bindingTerms = append(bindingTerms, n.R2)
	}
	preHiding, ok := curve.SumPoints(hidingTerms...)
	if !ok {
		return curve.ErrIdentityAtInfinty
	}
	preBinding, ok := curve.SumPoints(bindingTerms...)
	if !ok {
		return curve.ErrIdentityAtInfinty
	}

	rhC := preHiding.SerializeCompressed()
	rbC := preBinding.SerializeCompressed()
	aggX := s.ctx.AggKey().SerializeXOnly()
	coefDigest := curve.TaggedHash(curve.TagMusigNonceCoef, rhC[:], rbC[:], aggX[:], s.message[:])
	coef, ok := curve.ScalarFromHashReduced(coefDigest)
	if !ok {
		return curve.ErrInvalidScalar
	}

	aggNonce, ok := curve.SumPoints(preHiding, preBinding.Mul(coef))
	if !ok {
		return curve.ErrIdentityAtInfinty
	}

	challenge, ok := curve.Challenge(aggNonce, s.ctx.AggKey(), s.message, curve.ModeBIP340)
	if !ok {
		return curve.ErrInvalidScalar
	}

	s.preHiding, s.preBinding = preHiding, preBinding
	s.nonceCoef = coef
	s.aggNonce = aggNonce
	s.challenge = challenge
	s.sealed = true
	return nil
}

// AggNonce returns the sealed session's aggregate nonce point.
func (s *Session) AggNonce() (curve.Point, error) {
	if !s.sealed {
		return curve.Point{}, ErrNotSealed
	}
	return s.aggNonce, nil
}

// Challenge returns the sealed session's signature challenge scalar.
func (s *Session) Challenge() (curve.Scalar, error) {
	if !s.sealed {
		return curve.Scalar{}, ErrNotSealed
	}
	return s.challenge, nil
}

// NonceCoef returns the sealed session's nonce-combination coefficient,
// used by a NOIST context nesting this session's group key as a single
// cosigner to weight that cosigner's own post-binding nonce term.
func (s *Session) NonceCoef() (curve.Scalar, error) {
	if !s.sealed {
		return curve.Scalar{}, ErrNotSealed
	}
	return s.nonceCoef, nil
}

// keyParityNegation reports the parity-correction discipline shared by
// signing and partial verification: the inner-key parity correction
// always applies; the outer aggregate-key parity correction applies
// only when the context is tweaked.
func (s *Session) keyParityNegation() bool {
	neg := s.ctx.InnerKey().Parity()
	if s.ctx.IsTweaked() && s.ctx.AggKey().Parity() {
		neg = !neg
	}
	return neg
}

// PartialSign produces cosigner key's partial signature, given its
// secret key and the two secret nonces matching the public nonces it
// already contributed.
func (s *Session) PartialSign(key curve.Point, secret curve.Scalar, k1, k2 curve.Scalar) (curve.Scalar, error) {
	if !s.sealed {
		return curve.Scalar{}, ErrNotSealed
	}
	x := key.SerializeXOnly()
	pub, ok := s.nonces[x]
	if !ok {
		return curve.Scalar{}, ErrUnknownKey
	}
	if !k1.BasePointMul().Equal(pub.R1) || !k2.BasePointMul().Equal(pub.R2) {
		return curve.Scalar{}, ErrMismatchedNonce
	}

	coef, err := s.ctx.KeyCoef(key)
	if err != nil {
		return curve.Scalar{}, err
	}

	xPrime := secret.NegateIf(s.keyParityNegation())
	nonceNeg := s.aggNonce.Parity()
	k1p := k1.NegateIf(nonceNeg)
	k2p := k2.NegateIf(nonceNeg)

	sig := k1p.Add(s.nonceCoef.Mul(k2p)).Add(coef.Mul(xPrime).Mul(s.challenge))
	return sig, nil
}

// InsertPartialSig validates and records a cosigner's partial signature.
func (s *Session) InsertPartialSig(key curve.Point, sig curve.Scalar) error {
	if !s.sealed {
		return ErrNotSealed
	}
	x := key.SerializeXOnly()
	if _, ok := s.partials[x]; ok {
		return ErrAlreadyPartial
	}
	if !s.verifyPartial(key, sig) {
		return ErrInvalidPartial
	}
	s.partials[x] = sig
	return nil
}

func (s *Session) verifyPartial(key curve.Point, sig curve.Scalar) bool {
	x := key.SerializeXOnly()
	pub, ok := s.nonces[x]
	if !ok {
		return false
	}
	coef, err := s.ctx.KeyCoef(key)
	if err != nil {
		return false
	}

	keyPrime := key.NegateIf(s.keyParityNegation())
	nonceNeg := s.aggNonce.Parity()
	r1p := pub.R1.NegateIf(nonceNeg)
	r2p := pub.R2.NegateIf(nonceNeg)

	rhs, ok := curve.SumPoints(r1p, r2p.Mul(s.nonceCoef), keyPrime.Mul(coef.Mul(s.challenge)))
	if !ok {
		return false
	}
	return sig.BasePointMul().Equal(rhs)
}

// BlameList returns every key that contributed a nonce but has not
// (yet) produced a valid partial signature.
func (s *Session) BlameList() []curve.Point {
	var blamed []curve.Point
	for _, k := range s.ctx.keys {
		if _, ok := s.partials[k.SerializeXOnly()]; !ok {
			blamed = append(blamed, k)
		}
	}
	return blamed
}

// AggSig sums every cosigner's partial signature, adding the tweak
// correction term when the context is tweaked. Only valid once the
// blame list is empty.
func (s *Session) AggSig() (curve.Scalar, error) {
	if !s.sealed {
		return curve.Scalar{}, ErrNotSealed
	}
	if len(s.BlameList()) != 0 {
		return curve.Scalar{}, ErrBelowThreshold
	}

	sum := curve.ZeroScalar
	for _, k := range s.ctx.keys {
		sum = sum.Add(s.partials[k.SerializeXOnly()])
	}

	if s.ctx.tweak != nil {
		term := s.challenge.Mul(*s.ctx.tweak)
		sum = sum.Add(term.NegateIf(s.ctx.AggKey().Parity()))
	}
	return sum, nil
}

// FullAggSig returns the 64-byte (agg_nonce.x || agg_sig) signature.
func (s *Session) FullAggSig() ([64]byte, error) {
	var out [64]byte
	sig, err := s.AggSig()
	if err != nil {
		return out, err
	}
	rx := s.aggNonce.SerializeXOnly()
	sb := sig.Serialize()
	copy(out[:32], rx[:])
	copy(out[32:], sb[:])
	return out, nil
}
