package dkg

import (
	"errors"
	"sort"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/vse"
)

var (
	ErrIncomplete        = errors.New("dkg: package is missing a share for a roster member")
	ErrVSSCheckFailed    = errors.New("dkg: share commitment does not match the polynomial evaluation")
	ErrVSEDecryptFailed  = errors.New("dkg: decrypted share does not match its published commitment")
	ErrNotInRoster       = errors.New("dkg: signatory not a member of the roster")
)

// ShareEntry is one Feldman share addressed to a single peer: its public
// commitment-polynomial evaluation (verifiable by anyone) and its VSE
// ciphertext (decryptable only by the addressed peer).
type ShareEntry struct {
	HidingPoint   curve.Point
	BindingPoint  curve.Point
	HidingCipher  [32]byte
	BindingCipher [32]byte
}

// Package is one signatory's contribution to a DKG session: two Feldman
// commitment vectors (hiding, binding) and one VSE-encrypted share per
// other roster member. Authenticated as a whole via
// curve.Authenticable[Package].
type Package struct {
	Signatory          curve.Point
	HidingCommitments  []curve.Point
	BindingCommitments []curve.Point
	Shares             map[[32]byte]ShareEntry
}

// BuildPackage constructs a signatory's DKG package for one session: it
// samples fresh hiding/binding Feldman polynomials, commits to them, and
// encrypts each roster member's share under the pairwise VSE secret
// established for that epoch, domain-separated by session index so an
// epoch's pairwise secret is safe to reuse across many sessions.
func BuildPackage(
	owner curve.Point,
	roster []curve.Point,
	sessionIndex uint64,
	pairwiseSecrets map[[32]byte][32]byte,
) (Package, FeldmanPoly, FeldmanPoly, error) {
	degree := Degree(len(roster))
	hidingPoly, err := NewFeldmanPoly(degree)
	if err != nil {
		return Package{}, FeldmanPoly{}, FeldmanPoly{}, err
	}
	bindingPoly, err := NewFeldmanPoly(degree)
	if err != nil {
		return Package{}, FeldmanPoly{}, FeldmanPoly{}, err
	}

	sorted := curve.SortPoints(roster)
	ownerX := owner.SerializeXOnly()

	shares := make(map[[32]byte]ShareEntry, len(sorted)-1)
	for _, peer := range sorted {
		peerX := peer.SerializeXOnly()
		if peerX == ownerX {
			continue
		}
		idx, ok := curve.LagrangeIndex(sorted, peer)
		if !ok {
			return Package{}, FeldmanPoly{}, FeldmanPoly{}, ErrNotInRoster
		}

		hidingShare := hidingPoly.Eval(uint64(idx))
		bindingShare := bindingPoly.Eval(uint64(idx))

		pairwise, ok := pairwiseSecrets[peerX]
		if !ok {
			return Package{}, FeldmanPoly{}, FeldmanPoly{}, ErrNotInRoster
		}

		hidingKey := vse.DeriveShareKey(pairwise, sessionIndex, 0, peerX)
		bindingKey := vse.DeriveShareKey(pairwise, sessionIndex, 1, peerX)

		shares[peerX] = ShareEntry{
			HidingPoint:   hidingShare.BasePointMul(),
			BindingPoint:  bindingShare.BasePointMul(),
			HidingCipher:  xorShare(hidingShare, hidingKey),
			BindingCipher: xorShare(bindingShare, bindingKey),
		}
	}

	pkg := Package{
		Signatory:          owner,
		HidingCommitments:  hidingPoly.Commitments(),
		BindingCommitments: bindingPoly.Commitments(),
		Shares:             shares,
	}
	return pkg, hidingPoly, bindingPoly, nil
}

func xorShare(share curve.Scalar, key [32]byte) [32]byte {
	b := share.Serialize()
	var out [32]byte
	for i := range out {
		out[i] = b[i] ^ key[i]
	}
	return out
}

// Sighash implements curve.Sighash for the package as a whole.
func (p Package) Sighash() [32]byte {
	sx := p.Signatory.SerializeXOnly()

	var data [][]byte
	data = append(data, sx[:])
	for _, c := range p.HidingCommitments {
		x := c.SerializeCompressed()
		data = append(data, x[:])
	}
	for _, c := range p.BindingCommitments {
		x := c.SerializeCompressed()
		data = append(data, x[:])
	}

	peers := make([][32]byte, 0, len(p.Shares))
	for peer := range p.Shares {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return string(peers[i][:]) < string(peers[j][:]) })

	for _, peer := range peers {
		e := p.Shares[peer]
		hp := e.HidingPoint.SerializeCompressed()
		bp := e.BindingPoint.SerializeCompressed()
		data = append(data, peer[:], hp[:], bp[:], e.HidingCipher[:], e.BindingCipher[:])
	}
	return curve.TaggedHash(curve.TagSighashEntry, data...)
}

// IsComplete reports whether the package holds a share for every roster
// member other than its own signatory.
func (p Package) IsComplete(roster []curve.Point) bool {
	ownerX := p.Signatory.SerializeXOnly()
	want := 0
	for _, peer := range roster {
		if peer.SerializeXOnly() == ownerX {
			continue
		}
		want++
		if _, ok := p.Shares[peer.SerializeXOnly()]; !ok {
			return false
		}
	}
	return len(p.Shares) == want
}

// VSSVerify checks, for every published share, that its public
// commitment point equals the owner's commitment-polynomial evaluated
// at the recipient's Lagrange index in the roster. Requires no private
// key and can be run by any party, including a non-participant
// coordinator, immediately on receipt of the package.
func (p Package) VSSVerify(roster []curve.Point) bool {
	sorted := curve.SortPoints(roster)
	for peerX, entry := range p.Shares {
		idx, ok := lagrangeIndexByXOnly(sorted, peerX)
		if !ok {
			return false
		}
		wantHiding, ok := evalCommitmentVector(p.HidingCommitments, uint64(idx))
		if !ok || !wantHiding.Equal(entry.HidingPoint) {
			return false
		}
		wantBinding, ok := evalCommitmentVector(p.BindingCommitments, uint64(idx))
		if !ok || !wantBinding.Equal(entry.BindingPoint) {
			return false
		}
	}
	return true
}

func lagrangeIndexByXOnly(sorted []curve.Point, x [32]byte) (int, bool) {
	for i, k := range sorted {
		if k.SerializeXOnly() == x {
			return i + 1, true
		}
	}
	return 0, false
}

// VSEVerify decrypts the share this package addresses to `self` using
// the pairwise secret `self` established with the package's signatory
// (domain-separated by sessionIndex), and checks the decrypted scalars
// reproduce the published share commitments. Only `self` can run this
// check, since only `self` can decrypt a share addressed to them.
func (p Package) VSEVerify(self curve.Point, pairwiseSecret [32]byte, sessionIndex uint64) error {
	selfX := self.SerializeXOnly()
	entry, ok := p.Shares[selfX]
	if !ok {
		return ErrIncomplete
	}

	hidingKey := vse.DeriveShareKey(pairwiseSecret, sessionIndex, 0, selfX)
	bindingKey := vse.DeriveShareKey(pairwiseSecret, sessionIndex, 1, selfX)

	hidingShare, err := unxorShare(entry.HidingCipher, hidingKey)
	if err != nil {
		return err
	}
	bindingShare, err := unxorShare(entry.BindingCipher, bindingKey)
	if err != nil {
		return err
	}

	if !hidingShare.BasePointMul().Equal(entry.HidingPoint) {
		return ErrVSEDecryptFailed
	}
	if !bindingShare.BasePointMul().Equal(entry.BindingPoint) {
		return ErrVSEDecryptFailed
	}
	return nil
}

// DecryptShares recovers the plaintext hiding/binding share scalars this
// package addresses to self. Callers use this after VSEVerify succeeds
// to obtain the scalars needed for partial signing.
func (p Package) DecryptShares(self curve.Point, pairwiseSecret [32]byte, sessionIndex uint64) (curve.Scalar, curve.Scalar, error) {
	selfX := self.SerializeXOnly()
	entry, ok := p.Shares[selfX]
	if !ok {
		return curve.Scalar{}, curve.Scalar{}, ErrIncomplete
	}
	hidingKey := vse.DeriveShareKey(pairwiseSecret, sessionIndex, 0, selfX)
	bindingKey := vse.DeriveShareKey(pairwiseSecret, sessionIndex, 1, selfX)

	hidingShare, err := unxorShare(entry.HidingCipher, hidingKey)
	if err != nil {
		return curve.Scalar{}, curve.Scalar{}, err
	}
	bindingShare, err := unxorShare(entry.BindingCipher, bindingKey)
	if err != nil {
		return curve.Scalar{}, curve.Scalar{}, err
	}
	return hidingShare, bindingShare, nil
}

func unxorShare(cipher [32]byte, key [32]byte) (curve.Scalar, error) {
	var plain [32]byte
	for i := range plain {
		plain[i] = cipher[i] ^ key[i]
	}
	return curve.ScalarFromBytes(plain[:])
}
