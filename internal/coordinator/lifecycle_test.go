package coordinator

import (
	"testing"
	"time"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/musig"
	"github.com/klingon-exchange/brollup/internal/store"
	"github.com/klingon-exchange/brollup/internal/vse"
)

// operatorSignatory is one member of the NOIST operator quorum in the
// lifecycle fixture below.
type operatorSignatory struct {
	secret curve.Scalar
	pub    curve.Point
}

func newOperatorSignatory(t *testing.T) operatorSignatory {
	t.Helper()
	s, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	return operatorSignatory{secret: s, pub: s.BasePointMul()}
}

// buildOperatorDirectory stands up a 2-of-3 NOIST operator quorum: a VSE
// setup, a filled key session, and one filled nonce session, inserted
// into a fresh dkg.Directory.
func buildOperatorDirectory(t *testing.T) (*dkg.Directory, []operatorSignatory, map[[32]byte]map[[32]byte][32]byte) {
	t.Helper()
	sigs := []operatorSignatory{newOperatorSignatory(t), newOperatorSignatory(t), newOperatorSignatory(t)}
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

	buildFilled := func(index uint64) *dkg.Session {
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
				t.Fatalf("insert package: %v", err)
			}
		}
		return session
	}

	dir := dkg.NewDirectory(&setup)
	if err := dir.InsertSessionFilled(buildFilled(0)); err != nil {
		t.Fatalf("insert key session: %v", err)
	}
	if err := dir.InsertSessionFilled(buildFilled(1)); err != nil {
		t.Fatalf("insert nonce session: %v", err)
	}
	return dir, sigs, pairwise
}

func newSignedNonce(t *testing.T) (musig.PublicNonce, curve.Scalar, curve.Scalar) {
	t.Helper()
	k1, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate k1: %v", err)
	}
	k2, err := curve.GenerateSecret()
	if err != nil {
		t.Fatalf("generate k2: %v", err)
	}
	return musig.PublicNonce{R1: k1.BasePointMul(), R2: k2.BasePointMul()}, k1, k2
}

// TestSessionLifecycleEndToEnd drives a full On->Locked->Upheld->Off
// cycle for the payload-auth purpose with two users and a 2-of-3
// operator NOIST quorum, matching spec.md §8's S1/S5 shape: the
// resulting aggregate signature must verify under agg_key(user1, user2,
// groupKey).
func TestSessionLifecycleEndToEnd(t *testing.T) {
	dir, operators, pairwise := buildOperatorDirectory(t)
	manager := dkg.NewManager()
	manager.Insert(dir)

	st, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	accounts := NewAccountRegistry(st)
	contracts := NewContractRegistry(st)
	state := NewStateHolder(st)
	blacklist := NewBlacklist(st)
	allowance := NewEpochAllowance(100, 3600)

	session := NewSessionCtx(manager, accounts, contracts, state, blacklist, allowance, Config{
		UpholdTimeout: time.Hour,
		Backoff:       time.Minute,
	})

	if err := session.Open(time.Unix(1000, 0)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	user1Account, user1Secret := newTestAccount(t)
	user2Account, user2Secret := newTestAccount(t)

	nonce1, k1a, k1b := newSignedNonce(t)
	entry1 := NewEntry(user1Account, Move{Recipient: user2Account.Key, Amount: 5})
	commit1 := Commit{Account: user1Account, Entry: entry1, PayloadAuthNonce: nonce1}
	auth1, ok := curve.NewAuthenticable[Commit](commit1, user1Secret)
	if !ok {
		t.Fatalf("authenticate commit1")
	}
	if err := session.SubmitCommit(auth1, 1000); err != nil {
		t.Fatalf("SubmitCommit user1: %v", err)
	}

	nonce2, k2a, k2b := newSignedNonce(t)
	entry2 := NewEntry(user2Account, Move{Recipient: user1Account.Key, Amount: 3})
	commit2 := Commit{Account: user2Account, Entry: entry2, PayloadAuthNonce: nonce2}
	auth2, ok := curve.NewAuthenticable[Commit](commit2, user2Secret)
	if !ok {
		t.Fatalf("authenticate commit2")
	}
	if err := session.SubmitCommit(auth2, 1000); err != nil {
		t.Fatalf("SubmitCommit user2: %v", err)
	}

	var message [32]byte
	for i := range message {
		message[i] = byte(0x77)
	}
	if err := session.Lock(1000, PurposeMessages{PayloadAuth: message}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if session.Stage() != StageLocked {
		t.Fatalf("expected StageLocked, got %v", session.Stage())
	}

	ctx := session.purposeCtxs[PurposePayloadAuth]
	if ctx == nil {
		t.Fatalf("expected a payload-auth context after lock")
	}
	groupKeyX := ctx.Noist.GroupKey.SerializeXOnly()

	// Operator quorum: 2 of 3 signatories produce NOIST partials. Lock
	// already consumed the directory's nonce session (toxic waste), so
	// its packages are recovered from the NOIST ctx's own reference
	// rather than the directory.
	for _, op := range operators[:2] {
		sx := op.pub.SerializeXOnly()
		gh, gpb, nh, npb := operatorSecrets(t, ctx.Noist.KeySession, ctx.Noist.NonceSession, groupKeyX, message, op, pairwise[sx])
		partial := ctx.Noist.PartialSign(gh, gpb, nh, npb)
		if err := session.InsertOperatorPartials(op.pub, PurposePayloadAuth, partial); err != nil {
			t.Fatalf("InsertOperatorPartials: %v", err)
		}
	}

	if !ctx.Noist.IsThresholdMet() {
		t.Fatalf("expected NOIST threshold met with 2-of-3")
	}

	if err := session.Uphold(PurposePayloadAuth, user1Account.Key, mustPartialSign(t, ctx.Musig, user1Account.Key, user1Secret, k1a, k1b)); err != nil {
		t.Fatalf("Uphold user1: %v", err)
	}
	if err := session.Uphold(PurposePayloadAuth, user2Account.Key, mustPartialSign(t, ctx.Musig, user2Account.Key, user2Secret, k2a, k2b)); err != nil {
		t.Fatalf("Uphold user2: %v", err)
	}

	met, err := session.CheckUpheldGate(time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("CheckUpheldGate: %v", err)
	}
	if !met {
		t.Fatalf("expected upheld gate to be met")
	}
	if session.Stage() != StageUpheld {
		t.Fatalf("expected StageUpheld, got %v", session.Stage())
	}

	purposeSigs, _, _, err := session.UpheldAck(user1Account.Key)
	if err != nil {
		t.Fatalf("UpheldAck: %v", err)
	}
	sig, ok := purposeSigs[PurposePayloadAuth]
	if !ok {
		t.Fatalf("expected a payload-auth signature for user1")
	}

	aggKeyX := ctx.Musig.KeyAggCtx().AggKey().SerializeXOnly()
	if !curve.Verify(aggKeyX, message, sig, curve.ModeBIP340) {
		t.Fatalf("session payload-auth signature failed BIP340 verification")
	}

	if err := session.Finalize(func(passed []Commit) error { return nil }); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if session.Stage() != StageOff {
		t.Fatalf("expected StageOff after finalize, got %v", session.Stage())
	}
}

// operatorSecrets recovers signatory self's four combined secrets (key
// hiding/post-binding, nonce hiding/post-binding) from keySession and
// nonceSession, the inputs its NOIST partial signature folds together.
func operatorSecrets(t *testing.T, keySession, nonceSession *dkg.Session, groupKeyX, message [32]byte, self operatorSignatory, pairwise map[[32]byte][32]byte) (gh, gpb, nh, npb curve.Scalar) {
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
			t.Fatalf("decrypt key share: %v", err)
		}
		keyHiding[authorX], keyBinding[authorX] = h, b
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
			t.Fatalf("decrypt nonce share: %v", err)
		}
		nonceHiding[authorX], nonceBinding[authorX] = h, b
	}

	gh, err := keySession.SignatoryCombinedHidingSecret(keyHiding)
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

func mustPartialSign(t *testing.T, s *musig.Session, key curve.Point, secret, k1, k2 curve.Scalar) curve.Scalar {
	t.Helper()
	sig, err := s.PartialSign(key, secret, k1, k2)
	if err != nil {
		t.Fatalf("PartialSign: %v", err)
	}
	return sig
}
