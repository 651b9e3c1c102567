package curve

import "testing"

func TestSchnorrRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	pub := secret.BasePointMul().SerializeXOnly()

	var msg [32]byte
	copy(msg[:], []byte("m0 test message padded to 32byt"))

	for _, mode := range []SigningMode{ModeInternal, ModeBIP340} {
		sig, ok := Sign(secret, msg, mode)
		if !ok {
			t.Fatalf("sign failed for mode %v", mode)
		}
		if !Verify(pub, msg, sig, mode) {
			t.Fatalf("verify failed for mode %v", mode)
		}
	}
}

func TestSchnorrVerifyRejectsTamperedSig(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	pub := secret.BasePointMul().SerializeXOnly()

	var msg [32]byte
	sig, ok := Sign(secret, msg, ModeBIP340)
	if !ok {
		t.Fatalf("sign failed")
	}
	sig[63] ^= 0x01

	if Verify(pub, msg, sig, ModeBIP340) {
		t.Fatalf("expected verification failure on tampered signature")
	}
}

func TestPointXOnlyRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	pub := secret.BasePointMul()
	xonly := pub.SerializeXOnly()

	reconstructed, err := PointFromXOnly(xonly)
	if err != nil {
		t.Fatalf("point from xonly: %v", err)
	}
	if !reconstructed.Equal(pub) {
		t.Fatalf("lifted point mismatch")
	}
}

func TestLagrangeInterpolationReconstructsSecret(t *testing.T) {
	// Build a degree-1 polynomial f(x) = secret + a1*x, sample 3 shares,
	// and verify 2-of-3 Lagrange interpolation at x=0 recovers `secret`.
	secret := ScalarFromUint64(424242)
	a1 := ScalarFromUint64(13)

	f := func(x uint64) Scalar {
		return secret.Add(a1.Mul(ScalarFromUint64(x)))
	}

	full := []Point{
		ScalarFromUint64(1001).BasePointMul(),
		ScalarFromUint64(1002).BasePointMul(),
		ScalarFromUint64(1003).BasePointMul(),
	}

	active := []Point{full[0], full[2]}
	indices, ok := LagrangeIndexList(full, active)
	if !ok {
		t.Fatalf("index list failed")
	}

	shares := map[int]Scalar{
		1: f(1),
		3: f(3),
	}

	recovered := ZeroScalar
	for _, idx := range indices {
		lambda, err := InterpolatingValue(indices, idx)
		if err != nil {
			t.Fatalf("interpolation: %v", err)
		}
		recovered = recovered.Add(shares[idx].Mul(lambda))
	}

	if !recovered.Equal(secret) {
		t.Fatalf("recovered secret mismatch")
	}
}
