package vse

import (
	"errors"

	"github.com/klingon-exchange/brollup/internal/curve"
)

var ErrUnknownSignatory = errors.New("vse: keymap signatory not in roster")

// AuthenticatedKeymap is a Keymap signed by its owning signatory.
type AuthenticatedKeymap = curve.Authenticable[Keymap]

// Setup is the VSE state for one epoch: an ordered, deduplicated
// signatory roster and the authenticated keymap each signatory has
// published so far.
type Setup struct {
	Height      uint64
	Signatories []curve.Point
	Keymaps     map[[32]byte]AuthenticatedKeymap
}

// NewSetup builds an empty Setup for a sorted, deduplicated roster.
func NewSetup(height uint64, signatories []curve.Point) Setup {
	sorted := curve.SortPoints(signatories)
	return Setup{
		Height:      height,
		Signatories: sorted,
		Keymaps:     make(map[[32]byte]AuthenticatedKeymap),
	}
}

// Insert adds a signed keymap to the setup after validating it: the
// Schnorr signature over the keymap must verify, the signatory must be
// in the roster, and the keymap itself must cover every other roster
// member with a valid DLEQ proof.
func (s *Setup) Insert(keymap AuthenticatedKeymap) error {
	if !keymap.Authenticate() {
		return ErrInvalidProof
	}
	if !keymap.Object.Verify(s.Signatories) {
		return ErrInvalidProof
	}
	ownerX := keymap.Object.Owner.SerializeXOnly()
	if ownerX != keymap.Key {
		return ErrUnknownSignatory
	}
	s.Keymaps[ownerX] = keymap
	return nil
}

// RemoveMissing drops keymaps for signatories that never submitted one,
// without reordering the surviving roster.
func (s *Setup) RemoveMissing() {
	for _, sig := range s.Signatories {
		x := sig.SerializeXOnly()
		if _, ok := s.Keymaps[x]; !ok {
			delete(s.Keymaps, x)
		}
	}
}

// Verify checks every present keymap is internally valid and that the
// roster itself is sorted with no duplicate signatories.
func (s *Setup) Verify() bool {
	for i := 1; i < len(s.Signatories); i++ {
		a := s.Signatories[i-1].SerializeXOnly()
		b := s.Signatories[i].SerializeXOnly()
		if string(a[:]) >= string(b[:]) {
			return false
		}
	}
	for _, km := range s.Keymaps {
		if !km.Authenticate() || !km.Object.Verify(s.Signatories) {
			return false
		}
	}
	return true
}

// PairwiseSecret recovers the secret that `owner` established with
// `peer` in this setup's keymaps, from owner's own private key.
func (s *Setup) PairwiseSecret(ownerSecret curve.Scalar, peer curve.Point) ([32]byte, error) {
	ownerX := ownerSecret.BasePointMul().SerializeXOnly()
	peerX := peer.SerializeXOnly()

	km, ok := s.Keymaps[ownerX]
	if ok {
		if entry, found := km.Object.Entries[peerX]; found {
			return entry.Open(ownerSecret), nil
		}
	}

	// The pairwise secret is symmetric in which signatory published the
	// entry: if owner didn't publish one for peer, look for peer's entry
	// addressed to owner instead and open it with owner's own key against
	// the *peer's* ephemeral point — which only works if owner, not peer,
	// holds the receiving secret, i.e. this path only succeeds when peer
	// is the one who ran NewEntry(owner).
	peerKm, ok := s.Keymaps[peerX]
	if !ok {
		return [32]byte{}, ErrUnknownSignatory
	}
	entry, found := peerKm.Object.Entries[ownerX]
	if !found {
		return [32]byte{}, ErrUnknownSignatory
	}
	return entry.Open(ownerSecret), nil
}
