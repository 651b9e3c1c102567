package dkg

import (
	"testing"

	"github.com/klingon-exchange/brollup/internal/curve"
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

// buildSetup establishes a fully pairwise-keyed VSE setup for the given
// signatories and returns it alongside each signatory's view of every
// pairwise secret it holds with every other signatory.
func buildSetup(t *testing.T, sigs []signatory) (*vse.Setup, map[[32]byte]map[[32]byte][32]byte) {
	t.Helper()
	roster := make([]curve.Point, len(sigs))
	for i, s := range sigs {
		roster[i] = s.pub
	}
	setup := vse.NewSetup(1, roster)

	secretsByOwner := make(map[[32]byte]map[[32]byte][32]byte, len(sigs))
	for _, s := range sigs {
		km, secrets, err := vse.NewKeymap(s.pub, roster)
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
		secretsByOwner[s.pub.SerializeXOnly()] = secrets
	}

	// Each signatory's full pairwise view includes both the secrets it
	// generated for others and the secrets others generated for it.
	pairwise := make(map[[32]byte]map[[32]byte][32]byte, len(sigs))
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
				t.Fatalf("pairwise secret %x -> %x: %v", sx[:4], px[:4], err)
			}
			pairwise[sx][px] = secret
		}
	}
	return &setup, pairwise
}

func buildFullSession(t *testing.T, sigs []signatory, pairwise map[[32]byte]map[[32]byte][32]byte, index uint64) *Session {
	t.Helper()
	roster := make([]curve.Point, len(sigs))
	for i, s := range sigs {
		roster[i] = s.pub
	}
	session := NewSession(index, roster)

	for _, s := range sigs {
		sx := s.pub.SerializeXOnly()
		pkg, _, _, err := BuildPackage(s.pub, roster, index, pairwise[sx])
		if err != nil {
			t.Fatalf("build package: %v", err)
		}
		auth, ok := curve.NewAuthenticable[Package](pkg, s.secret)
		if !ok {
			t.Fatalf("authenticate package")
		}
		if err := session.Insert(auth, curve.Infinity, [32]byte{}); err != nil {
			t.Fatalf("insert own package: %v", err)
		}
	}

	// Every signatory now cross-checks every other signatory's package
	// addressed to it.
	for _, verifier := range sigs {
		vx := verifier.pub.SerializeXOnly()
		for _, author := range sigs {
			if author.pub.Equal(verifier.pub) {
				continue
			}
			ax := author.pub.SerializeXOnly()
			authPkg := session.Packages[ax]
			if err := authPkg.Object.VSEVerify(verifier.pub, pairwise[vx][ax], index); err != nil {
				t.Fatalf("vse verify %x's share from %x: %v", vx[:4], ax[:4], err)
			}
		}
	}

	return session
}

func TestThreeOfThreeGroupKeyAgreement(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	_, pairwise := buildSetup(t, sigs)
	keySession := buildFullSession(t, sigs, pairwise, 0)

	if !keySession.IsFull() {
		t.Fatalf("expected full key session")
	}
	if !keySession.IsAboveThreshold() {
		t.Fatalf("expected above-threshold key session")
	}

	groupKey, ok := keySession.GroupCombinedFullPoint(nil, nil)
	if !ok {
		t.Fatalf("group key combination failed")
	}
	if groupKey.IsInfinity() {
		t.Fatalf("group key must not be the identity")
	}
}

func TestVSSVerifyDetectsTamperedCommitment(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	roster := []curve.Point{sigs[0].pub, sigs[1].pub, sigs[2].pub}
	_, pairwise := buildSetup(t, sigs)

	ax := sigs[0].pub.SerializeXOnly()
	pkg, _, _, err := BuildPackage(sigs[0].pub, roster, 0, pairwise[ax])
	if err != nil {
		t.Fatalf("build package: %v", err)
	}

	// Flip the hiding commitment's constant term: every VSS check
	// against the published shares should now fail.
	pkg.HidingCommitments[0] = pkg.HidingCommitments[0].Add(curve.ScalarFromUint64(1).BasePointMul())

	if pkg.VSSVerify(roster) {
		t.Fatalf("expected VSS verification to fail after tampering with a commitment")
	}
}

func TestDirectoryToxicWasteConsumption(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	setup, pairwise := buildSetup(t, sigs)

	dir := NewDirectory(setup)
	keySession := buildFullSession(t, sigs, pairwise, 0)
	if err := dir.InsertSessionFilled(keySession); err != nil {
		t.Fatalf("insert key session: %v", err)
	}

	nonceSession := buildFullSession(t, sigs, pairwise, 1)
	if err := dir.InsertSessionFilled(nonceSession); err != nil {
		t.Fatalf("insert nonce session: %v", err)
	}

	idx, ok := dir.PickIndex()
	if !ok || idx != 1 {
		t.Fatalf("expected pick index 1, got %d (%v)", idx, ok)
	}

	if err := dir.RemoveSession(idx); err != nil {
		t.Fatalf("remove session: %v", err)
	}

	if _, ok := dir.PickIndex(); ok {
		t.Fatalf("expected no nonce sessions left after consuming the only one")
	}
	if err := dir.RemoveSession(idx); err != ErrNoSuchSession {
		t.Fatalf("expected ErrNoSuchSession on double-removal, got %v", err)
	}
}
