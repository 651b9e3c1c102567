package musig

import (
	"testing"

	"github.com/klingon-exchange/brollup/internal/curve"
)

type cosigner struct {
	secret curve.Scalar
	pub    curve.Point
	k1, k2 curve.Scalar
	r1, r2 curve.Point
}

func newCosigner(t *testing.T) cosigner {
	t.Helper()
	sec, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	k1, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate nonce 1: %v", err)
	}
	k2, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate nonce 2: %v", err)
	}
	return cosigner{
		secret: sec,
		pub:    sec.BasePointMul(),
		k1:     k1,
		k2:     k2,
		r1:     k1.BasePointMul(),
		r2:     k2.BasePointMul(),
	}
}

func TestThreeOfThreeAggregationVerifiesAsBIP340(t *testing.T) {
	a, b, c := newCosigner(t), newCosigner(t), newCosigner(t)
	keys := []curve.Point{a.pub, b.pub, c.pub}

	ctx, err := NewKeyAggCtx(keys)
	if err != nil {
		t.Fatalf("new key agg ctx: %v", err)
	}

	var msg [32]byte
	session := NewSession(ctx, msg)

	for _, cs := range []cosigner{a, b, c} {
		if err := session.InsertNonce(cs.pub, cs.r1, cs.r2); err != nil {
			t.Fatalf("insert nonce: %v", err)
		}
	}
	if !session.IsSealed() {
		t.Fatalf("session should be sealed once all nonces are in")
	}

	for _, cs := range []cosigner{a, b, c} {
		sig, err := session.PartialSign(cs.pub, cs.secret, cs.k1, cs.k2)
		if err != nil {
			t.Fatalf("partial sign: %v", err)
		}
		if err := session.InsertPartialSig(cs.pub, sig); err != nil {
			t.Fatalf("insert partial sig: %v", err)
		}
	}

	if len(session.BlameList()) != 0 {
		t.Fatalf("expected empty blame list, got %v", session.BlameList())
	}

	full, err := session.FullAggSig()
	if err != nil {
		t.Fatalf("full agg sig: %v", err)
	}

	aggX := ctx.AggKey().SerializeXOnly()
	if !curve.Verify(aggX, msg, full, curve.ModeBIP340) {
		t.Fatalf("aggregated signature failed BIP340 verification under agg key")
	}
}

func TestBlameListIdentifiesMissingPartial(t *testing.T) {
	a, b := newCosigner(t), newCosigner(t)
	keys := []curve.Point{a.pub, b.pub}

	ctx, err := NewKeyAggCtx(keys)
	if err != nil {
		t.Fatalf("new key agg ctx: %v", err)
	}
	var msg [32]byte
	session := NewSession(ctx, msg)

	for _, cs := range []cosigner{a, b} {
		if err := session.InsertNonce(cs.pub, cs.r1, cs.r2); err != nil {
			t.Fatalf("insert nonce: %v", err)
		}
	}

	sigA, err := session.PartialSign(a.pub, a.secret, a.k1, a.k2)
	if err != nil {
		t.Fatalf("partial sign a: %v", err)
	}
	if err := session.InsertPartialSig(a.pub, sigA); err != nil {
		t.Fatalf("insert partial sig a: %v", err)
	}

	blame := session.BlameList()
	if len(blame) != 1 || blame[0].SerializeXOnly() != b.pub.SerializeXOnly() {
		t.Fatalf("expected blame list {B}, got %v", blame)
	}

	if _, err := session.AggSig(); err != ErrBelowThreshold {
		t.Fatalf("expected ErrBelowThreshold, got %v", err)
	}
}
