package noist

import (
	"testing"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/musig"
	"github.com/klingon-exchange/brollup/internal/vse"
)

type signatory struct {
	secret curve.Scalar
	pub    curve.Point
}

func newSignatory(t *testing.T) signatory {
	t.Helper()
	s, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	return signatory{secret: s, pub: s.BasePointMul()}
}

func buildSetup(t *testing.T, sigs []signatory) (*vse.Setup, map[[32]byte]map[[32]byte][32]byte) {
	t.Helper()
	roster := make([]curve.Point, len(sigs))
	for i, s := range sigs {
		roster[i] = s.pub
	}
	setup := vse.NewSetup(1, roster)

	pairwise := make(map[[32]byte]map[[32]byte][32]byte, len(sigs))
	for _, s := range sigs {
		km, _, err := vse.NewKeymap(s.pub, roster)
		if err != nil {
			t.Fatalf("new keymap: %v", err)
		}
		auth, ok := curve.NewAuthenticable[vse.Keymap](km, s.secret)
		if !ok {
			t.Fatalf("authenticate keymap")
		}
		if err := setup.Insert(auth); err != nil {
			t.Fatalf("insert keymap: %v", err)
		}
	}
	for _, s := range sigs {
		sx := s.pub.SerializeXOnly()
		pairwise[sx] = make(map[[32]byte][32]byte, len(sigs)-1)
		for _, peer := range sigs {
			px := peer.pub.SerializeXOnly()
			if px == sx {
				continue
			}
			secret, err := setup.PairwiseSecret(s.secret, peer.pub)
			if err != nil {
				t.Fatalf("pairwise secret: %v", err)
			}
			pairwise[sx][px] = secret
		}
	}
	return &setup, pairwise
}

func buildFullSession(t *testing.T, sigs []signatory, pairwise map[[32]byte]map[[32]byte][32]byte, index uint64) *dkg.Session {
	t.Helper()
	roster := make([]curve.Point, len(sigs))
	for i, s := range sigs {
		roster[i] = s.pub
	}
	session := dkg.NewSession(index, roster)

	for _, s := range sigs {
		sx := s.pub.SerializeXOnly()
		pkg, _, _, err := dkg.BuildPackage(s.pub, roster, index, pairwise[sx])
		if err != nil {
			t.Fatalf("build package: %v", err)
		}
		auth, ok := curve.NewAuthenticable[dkg.Package](pkg, s.secret)
		if !ok {
			t.Fatalf("authenticate package")
		}
		if err := session.Insert(auth, curve.Infinity, [32]byte{}); err != nil {
			t.Fatalf("insert own package: %v", err)
		}
	}
	return session
}

// signatorySecrets recovers the four combined secrets (key-hiding,
// key-post-binding, nonce-hiding, nonce-post-binding) a signatory needs
// to produce its NOIST partial signature.
func signatorySecrets(t *testing.T, keySession, nonceSession *dkg.Session, groupKeyX [32]byte, message [32]byte, self signatory, pairwise map[[32]byte][32]byte) (gh, gpb, nh, npb curve.Scalar) {
	t.Helper()
	selfX := self.pub.SerializeXOnly()
	keyHiding := make(map[[32]byte]curve.Scalar)
	keyBinding := make(map[[32]byte]curve.Scalar)
	nonceHiding := make(map[[32]byte]curve.Scalar)
	nonceBinding := make(map[[32]byte]curve.Scalar)

	for authorX, pkg := range keySession.Packages {
		var h, b curve.Scalar
		var err error
		if authorX == selfX {
			h, b, err = pkg.Object.DecryptShares(self.pub, [32]byte{}, keySession.Index)
		} else {
			h, b, err = pkg.Object.DecryptShares(self.pub, pairwise[authorX], keySession.Index)
		}
		if err != nil {
			t.Fatalf("decrypt key share from %x: %v", authorX[:4], err)
		}
		keyHiding[authorX] = h
		keyBinding[authorX] = b
	}
	for authorX, pkg := range nonceSession.Packages {
		var h, b curve.Scalar
		var err error
		if authorX == selfX {
			h, b, err = pkg.Object.DecryptShares(self.pub, [32]byte{}, nonceSession.Index)
		} else {
			h, b, err = pkg.Object.DecryptShares(self.pub, pairwise[authorX], nonceSession.Index)
		}
		if err != nil {
			t.Fatalf("decrypt nonce share from %x: %v", authorX[:4], err)
		}
		nonceHiding[authorX] = h
		nonceBinding[authorX] = b
	}

	var err error
	gh, err = keySession.SignatoryCombinedHidingSecret(keyHiding)
	if err != nil {
		t.Fatalf("combine key hiding: %v", err)
	}
	gpb, err = keySession.SignatoryCombinedPostBindingSecret(keyBinding, nil, nil)
	if err != nil {
		t.Fatalf("combine key post-binding: %v", err)
	}
	nh, err = nonceSession.SignatoryCombinedHidingSecret(nonceHiding)
	if err != nil {
		t.Fatalf("combine nonce hiding: %v", err)
	}
	npb, err = nonceSession.SignatoryCombinedPostBindingSecret(nonceBinding, &groupKeyX, &message)
	if err != nil {
		t.Fatalf("combine nonce post-binding: %v", err)
	}
	return
}

func TestThreeOfThreeStandaloneAggregationVerifiesAsBIP340(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	_, pairwise := buildSetup(t, sigs)

	keySession := buildFullSession(t, sigs, pairwise, 0)
	nonceSession := buildFullSession(t, sigs, pairwise, 1)

	var message [32]byte
	for i := range message {
		message[i] = byte(i)
	}

	ctx, err := NewSessionCtx(keySession, nonceSession, message, nil)
	if err != nil {
		t.Fatalf("new session ctx: %v", err)
	}

	groupKeyX := ctx.GroupKey.SerializeXOnly()

	for _, s := range sigs {
		sx := s.pub.SerializeXOnly()
		gh, gpb, nh, npb := signatorySecrets(t, keySession, nonceSession, groupKeyX, message, s, pairwise[sx])
		partial := ctx.PartialSign(gh, gpb, nh, npb)
		if err := ctx.InsertPartialSig(s.pub, partial); err != nil {
			t.Fatalf("insert partial sig for %x: %v", sx[:4], err)
		}
	}

	if !ctx.IsThresholdMet() {
		t.Fatalf("expected threshold met with all three partials")
	}

	sigBytes, err := ctx.FullAggregatedSigBytes()
	if err != nil {
		t.Fatalf("full aggregated sig: %v", err)
	}

	if !curve.Verify(groupKeyX, message, sigBytes, curve.ModeBIP340) {
		t.Fatalf("aggregated NOIST signature failed BIP340 verification")
	}
}

func TestTwoOfThreeThresholdAggregationVerifies(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	_, pairwise := buildSetup(t, sigs)

	keySession := buildFullSession(t, sigs, pairwise, 0)
	nonceSession := buildFullSession(t, sigs, pairwise, 1)

	var message [32]byte
	for i := range message {
		message[i] = byte(0xaa)
	}

	ctx, err := NewSessionCtx(keySession, nonceSession, message, nil)
	if err != nil {
		t.Fatalf("new session ctx: %v", err)
	}
	groupKeyX := ctx.GroupKey.SerializeXOnly()

	// Only two of three signatories contribute partials.
	for _, s := range sigs[:2] {
		sx := s.pub.SerializeXOnly()
		gh, gpb, nh, npb := signatorySecrets(t, keySession, nonceSession, groupKeyX, message, s, pairwise[sx])
		partial := ctx.PartialSign(gh, gpb, nh, npb)
		if err := ctx.InsertPartialSig(s.pub, partial); err != nil {
			t.Fatalf("insert partial sig: %v", err)
		}
	}

	if !ctx.IsThresholdMet() {
		t.Fatalf("expected threshold met with 2 of 3 for a 2-of-3 scheme")
	}

	sigBytes, err := ctx.FullAggregatedSigBytes()
	if err != nil {
		t.Fatalf("full aggregated sig: %v", err)
	}
	if !curve.Verify(groupKeyX, message, sigBytes, curve.ModeBIP340) {
		t.Fatalf("threshold-aggregated signature failed BIP340 verification")
	}
}

func TestInsertPartialSigRejectsTamperedValue(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	_, pairwise := buildSetup(t, sigs)

	keySession := buildFullSession(t, sigs, pairwise, 0)
	nonceSession := buildFullSession(t, sigs, pairwise, 1)

	var message [32]byte
	ctx, err := NewSessionCtx(keySession, nonceSession, message, nil)
	if err != nil {
		t.Fatalf("new session ctx: %v", err)
	}

	tampered := curve.ScalarFromUint64(1234567)
	if err := ctx.InsertPartialSig(sigs[0].pub, tampered); err != ErrInvalidPartial {
		t.Fatalf("expected ErrInvalidPartial, got %v", err)
	}
}

// TestNestedMusigOverThresholdNoistVerifies is spec.md §8 scenario S5: a
// MuSig ctx with two cosigners, a user key U and a NOIST group key G,
// where G's partial is produced by Lagrange-aggregating a 2-of-3
// quorum. The resulting 64-byte signature verifies under agg_key(U, G).
func TestNestedMusigOverThresholdNoistVerifies(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	_, pairwise := buildSetup(t, sigs)

	keySession := buildFullSession(t, sigs, pairwise, 0)
	nonceSession := buildFullSession(t, sigs, pairwise, 1)

	groupKey, ok := keySession.GroupCombinedFullPoint(nil, nil)
	if !ok {
		t.Fatalf("group key combination failed")
	}

	user := newSignatory(t)
	var message [32]byte
	for i := range message {
		message[i] = byte(0x55)
	}

	keyAggCtx, err := musig.NewKeyAggCtx([]curve.Point{user.pub, groupKey})
	if err != nil {
		t.Fatalf("new key-agg ctx: %v", err)
	}
	musigSession := musig.NewSession(keyAggCtx, message)

	userK1, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate k1: %v", err)
	}
	userK2, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate k2: %v", err)
	}
	if err := musigSession.InsertNonce(user.pub, userK1.BasePointMul(), userK2.BasePointMul()); err != nil {
		t.Fatalf("insert user nonce: %v", err)
	}

	groupKeyX := groupKey.SerializeXOnly()
	hiding, ok := nonceSession.GroupCombinedHidingPoint()
	if !ok {
		t.Fatalf("group combined hiding point failed")
	}
	postBinding, ok := nonceSession.GroupCombinedPostBindingPoint(&groupKeyX, &message)
	if !ok {
		t.Fatalf("group combined post-binding point failed")
	}
	if err := musigSession.InsertNonce(groupKey, hiding, postBinding); err != nil {
		t.Fatalf("insert group nonce: %v", err)
	}
	if !musigSession.IsSealed() {
		t.Fatalf("expected musig session to seal once both cosigners contributed nonces")
	}

	noistCtx, err := NewSessionCtx(keySession, nonceSession, message, musigSession)
	if err != nil {
		t.Fatalf("new noist session ctx: %v", err)
	}

	// Only two of three signatories contribute NOIST partials.
	for _, s := range sigs[:2] {
		sx := s.pub.SerializeXOnly()
		gh, gpb, nh, npb := signatorySecrets(t, keySession, nonceSession, groupKeyX, message, s, pairwise[sx])
		partial := noistCtx.PartialSign(gh, gpb, nh, npb)
		if err := noistCtx.InsertPartialSig(s.pub, partial); err != nil {
			t.Fatalf("insert noist partial: %v", err)
		}
	}
	if !noistCtx.IsThresholdMet() {
		t.Fatalf("expected 2-of-3 threshold met")
	}
	groupPartial, err := noistCtx.AggregatedSig()
	if err != nil {
		t.Fatalf("noist aggregated sig: %v", err)
	}
	if err := musigSession.InsertPartialSig(groupKey, groupPartial); err != nil {
		t.Fatalf("insert group's musig partial: %v", err)
	}

	userPartial, err := musigSession.PartialSign(user.pub, user.secret, userK1, userK2)
	if err != nil {
		t.Fatalf("user partial sign: %v", err)
	}
	if err := musigSession.InsertPartialSig(user.pub, userPartial); err != nil {
		t.Fatalf("insert user's musig partial: %v", err)
	}

	if blame := musigSession.BlameList(); len(blame) != 0 {
		t.Fatalf("expected empty blame list, got %d", len(blame))
	}

	sigBytes, err := musigSession.FullAggSig()
	if err != nil {
		t.Fatalf("full agg sig: %v", err)
	}
	aggKeyX := keyAggCtx.AggKey().SerializeXOnly()
	if !curve.Verify(aggKeyX, message, sigBytes, curve.ModeBIP340) {
		t.Fatalf("nested musig-over-noist signature failed BIP340 verification under agg_key(U, G)")
	}
}

func TestPickSigningSessionConsumesNonceSession(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	setup, pairwise := buildSetup(t, sigs)

	dir := dkg.NewDirectory(setup)
	keySession := buildFullSession(t, sigs, pairwise, 0)
	if err := dir.InsertSessionFilled(keySession); err != nil {
		t.Fatalf("insert key session: %v", err)
	}
	nonceSession := buildFullSession(t, sigs, pairwise, 1)
	if err := dir.InsertSessionFilled(nonceSession); err != nil {
		t.Fatalf("insert nonce session: %v", err)
	}

	var message [32]byte
	ctx, err := PickSigningSession(dir, message, nil, true)
	if err != nil {
		t.Fatalf("pick signing session: %v", err)
	}
	if ctx.NonceSession.Index != 1 {
		t.Fatalf("expected nonce session index 1, got %d", ctx.NonceSession.Index)
	}

	if _, ok := dir.PickIndex(); ok {
		t.Fatalf("expected the consumed nonce session to be gone")
	}
}
