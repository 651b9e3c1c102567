// Package noist implements NOIST (Nonce-Only Interactive Signing with
// Threshold): a signing context that binds one DKG key session to one
// disposable DKG nonce session and produces a threshold-aggregated
// Schnorr signature via Lagrange interpolation over the signatories who
// contributed a valid partial signature. A NOIST context can optionally
// nest inside a MuSig2 session as a single cosigner, folding its group
// key and group nonce into the outer aggregation.
//
// Grounded on _examples/original_source/src/transmutive/noist/session.rs
// (challenge_nonce/challenge_key selection, the g_*/n_* parity-correction
// discipline, partial_sign/partial_sig_verify/insert_partial_sig/
// aggregated_sig/full_aggregated_sig_bytes).
package noist

import (
	"errors"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/musig"
)

var (
	ErrGroupKeyUnavailable   = errors.New("noist: key session cannot yet produce a group key")
	ErrGroupNonceUnavailable = errors.New("noist: nonce session cannot yet produce a group nonce")
	ErrChallengeFailed       = errors.New("noist: challenge reduced to zero")
	ErrNotRosterMember       = errors.New("noist: signatory is not a member of this session's roster")
	ErrAlreadyPartial        = errors.New("noist: signatory already has a partial signature")
	ErrInvalidPartial        = errors.New("noist: partial signature failed verification")
	ErrBelowThreshold        = errors.New("noist: not enough partial signatures to aggregate")
	ErrMismatchedRoster      = errors.New("noist: key and nonce sessions do not share a roster")
)

var identityScalar = curve.ScalarFromUint64(1)

// SessionCtx is one NOIST signing context: a key session and a nonce
// session drawn from the same directory, bound to a message and,
// optionally, nested inside an outer MuSig2 session as a single
// cosigner.
type SessionCtx struct {
	KeySession   *dkg.Session
	NonceSession *dkg.Session
	Message      [32]byte

	GroupKey   curve.Point
	GroupNonce curve.Point
	Challenge  curve.Scalar

	Musig *musig.Session

	keyNegate   bool
	nonceNegate bool
	keyCoef     curve.Scalar
	nonceCoef   curve.Scalar

	Partials map[[32]byte]curve.Scalar
}

// NewSessionCtx builds a NOIST signing context over a key session and a
// disposable nonce session. musigCtx is nil for a standalone NOIST
// signature, or a sealed MuSig2 session that has already registered this
// context's group key as one of its cosigners when NOIST is nested
// inside a larger MuSig aggregation.
func NewSessionCtx(keySession, nonceSession *dkg.Session, message [32]byte, musigCtx *musig.Session) (*SessionCtx, error) {
	// The group key folds in both the key session's hiding and
	// post-binding points: partial signing combines both the hiding and
	// post-binding shares of the key session, so the verification key
	// must equal their sum, not the hiding point alone.
	groupKey, ok := keySession.GroupCombinedFullPoint(nil, nil)
	if !ok {
		return nil, ErrGroupKeyUnavailable
	}
	groupKeyX := groupKey.SerializeXOnly()

	hiding, ok := nonceSession.GroupCombinedHidingPoint()
	if !ok {
		return nil, ErrGroupNonceUnavailable
	}
	postBinding, ok := nonceSession.GroupCombinedPostBindingPoint(&groupKeyX, &message)
	if !ok {
		return nil, ErrGroupNonceUnavailable
	}
	groupNonce, ok := curve.SumPoints(hiding, postBinding)
	if !ok {
		return nil, ErrGroupNonceUnavailable
	}

	challengeNonce, challengeKey := groupNonce, groupKey
	keyCoef, nonceCoef := identityScalar, identityScalar

	if musigCtx != nil {
		aggNonce, err := musigCtx.AggNonce()
		if err != nil {
			return nil, err
		}
		kc, err := musigCtx.KeyAggCtx().KeyCoef(groupKey)
		if err != nil {
			return nil, err
		}
		nc, err := musigCtx.NonceCoef()
		if err != nil {
			return nil, err
		}
		challengeNonce = aggNonce
		challengeKey = musigCtx.KeyAggCtx().AggKey()
		keyCoef = kc
		nonceCoef = nc
	}

	keyNegate := challengeKey.Parity()
	if musigCtx != nil && musigCtx.KeyAggCtx().IsTweaked() && musigCtx.KeyAggCtx().AggKey().Parity() {
		keyNegate = !keyNegate
	}
	nonceNegate := challengeNonce.Parity()

	challenge, ok := curve.Challenge(challengeNonce, challengeKey, message, curve.ModeBIP340)
	if !ok {
		return nil, ErrChallengeFailed
	}

	return &SessionCtx{
		KeySession:   keySession,
		NonceSession: nonceSession,
		Message:      message,
		GroupKey:     groupKey,
		GroupNonce:   groupNonce,
		Challenge:    challenge,
		Musig:        musigCtx,
		keyNegate:    keyNegate,
		nonceNegate:  nonceNegate,
		keyCoef:      keyCoef,
		nonceCoef:    nonceCoef,
		Partials:     make(map[[32]byte]curve.Scalar),
	}, nil
}

// PartialSign computes signatory's partial signature given the four
// secret values it has recovered for this pair of sessions: gh/gpb are
// its combined hiding and post-binding secrets from the key session,
// nh/npb the same from the nonce session (see dkg.Session's
// SignatoryCombinedHidingSecret / SignatoryCombinedPostBindingSecret).
func (c *SessionCtx) PartialSign(gh, gpb, nh, npb curve.Scalar) curve.Scalar {
	ghAdj := gh.NegateIf(c.keyNegate).Mul(c.keyCoef)
	gpbAdj := gpb.NegateIf(c.keyNegate).Mul(c.keyCoef)
	nhAdj := nh.NegateIf(c.nonceNegate)
	npbAdj := npb.NegateIf(c.nonceNegate).Mul(c.nonceCoef)

	e := c.Challenge
	return nhAdj.Add(e.Mul(ghAdj)).Add(npbAdj.Add(e.Mul(gpbAdj)))
}

// PartialSigVerify checks sig against the public combination of
// signatory's commitment-vector evaluations in both sessions, the
// verifier-side mirror of PartialSign.
func (c *SessionCtx) PartialSigVerify(signatory curve.Point, sig curve.Scalar) bool {
	gh, ok := c.KeySession.SignatoryCombinedHidingPoint(signatory)
	if !ok {
		return false
	}
	gpb, ok := c.KeySession.SignatoryCombinedPostBindingPoint(signatory, nil, nil)
	if !ok {
		return false
	}
	nh, ok := c.NonceSession.SignatoryCombinedHidingPoint(signatory)
	if !ok {
		return false
	}
	groupKeyX := c.GroupKey.SerializeXOnly()
	npb, ok := c.NonceSession.SignatoryCombinedPostBindingPoint(signatory, &groupKeyX, &c.Message)
	if !ok {
		return false
	}

	ghP := gh.NegateIf(c.keyNegate).Mul(c.keyCoef)
	gpbP := gpb.NegateIf(c.keyNegate).Mul(c.keyCoef)
	nhP := nh.NegateIf(c.nonceNegate)
	npbP := npb.NegateIf(c.nonceNegate).Mul(c.nonceCoef)

	rhs, ok := curve.SumPoints(nhP, ghP.Mul(c.Challenge), npbP, gpbP.Mul(c.Challenge))
	if !ok {
		return false
	}
	return sig.BasePointMul().Equal(rhs)
}

// InsertPartialSig validates and records signatory's partial signature.
func (c *SessionCtx) InsertPartialSig(signatory curve.Point, sig curve.Scalar) error {
	if _, ok := curve.LagrangeIndex(c.KeySession.Roster, signatory); !ok {
		return ErrNotRosterMember
	}
	x := signatory.SerializeXOnly()
	if _, ok := c.Partials[x]; ok {
		return ErrAlreadyPartial
	}
	if !c.PartialSigVerify(signatory, sig) {
		return ErrInvalidPartial
	}
	c.Partials[x] = sig
	return nil
}

// IsThresholdMet reports whether enough partial signatures have been
// collected to aggregate.
func (c *SessionCtx) IsThresholdMet() bool {
	return len(c.Partials) >= dkg.Threshold(len(c.KeySession.Roster))
}

func (c *SessionCtx) activeSignatories() []curve.Point {
	var active []curve.Point
	for _, k := range c.KeySession.Roster {
		if _, ok := c.Partials[k.SerializeXOnly()]; ok {
			active = append(active, k)
		}
	}
	return active
}

// AggregatedSig Lagrange-interpolates the collected partial signatures
// into the final scalar s of the (R, s) signature.
func (c *SessionCtx) AggregatedSig() (curve.Scalar, error) {
	if !c.IsThresholdMet() {
		return curve.Scalar{}, ErrBelowThreshold
	}
	active := c.activeSignatories()
	indices, ok := curve.LagrangeIndexList(c.KeySession.Roster, active)
	if !ok {
		return curve.Scalar{}, ErrNotRosterMember
	}

	sum := curve.ZeroScalar
	for _, signatory := range active {
		idx, _ := curve.LagrangeIndex(c.KeySession.Roster, signatory)
		lambda, err := curve.InterpolatingValue(indices, idx)
		if err != nil {
			return curve.Scalar{}, err
		}
		sum = sum.Add(c.Partials[signatory.SerializeXOnly()].Mul(lambda))
	}
	return sum, nil
}

// FullAggregatedSigBytes returns the 64-byte (group_nonce.x || s)
// signature.
func (c *SessionCtx) FullAggregatedSigBytes() ([64]byte, error) {
	var out [64]byte
	sig, err := c.AggregatedSig()
	if err != nil {
		return out, err
	}
	rx := c.GroupNonce.SerializeXOnly()
	sb := sig.Serialize()
	copy(out[:32], rx[:])
	copy(out[32:], sb[:])
	return out, nil
}
