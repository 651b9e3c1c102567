package dkg

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/klingon-exchange/brollup/internal/curve"
)

var (
	ErrAuthFailed         = errors.New("dkg: package authentication failed")
	ErrNotRosterMember    = errors.New("dkg: package signatory is not a roster member")
	ErrDuplicatePackage   = errors.New("dkg: signatory already has a package in this session")
	ErrBelowThreshold     = errors.New("dkg: session does not hold enough packages")
	ErrUnknownSignatoryIn = errors.New("dkg: key is not a signatory of this session")
)

// AuthenticatedPackage is a Package signed by its owning signatory.
type AuthenticatedPackage = curve.Authenticable[Package]

// Session is one round of joint secret generation: index 0 denotes the
// key session, index >= 1 a disposable nonce session.
type Session struct {
	Index    uint64
	Roster   []curve.Point
	Packages map[[32]byte]AuthenticatedPackage
}

// NewSession creates an empty session over a sorted roster.
func NewSession(index uint64, roster []curve.Point) *Session {
	return &Session{
		Index:    index,
		Roster:   curve.SortPoints(roster),
		Packages: make(map[[32]byte]AuthenticatedPackage),
	}
}

// Insert validates and stores a signatory's authenticated package. self
// and pairwiseSecret identify the local node's own VSE material, used to
// decrypt and verify the one share in the package addressed to it; pass
// curve.Infinity for self when inserting one's own package (there is
// nothing to self-decrypt).
func (s *Session) Insert(pkg AuthenticatedPackage, self curve.Point, pairwiseSecret [32]byte) error {
	if !pkg.Authenticate() {
		return ErrAuthFailed
	}
	signatory := pkg.Object.Signatory
	sx := signatory.SerializeXOnly()
	if sx != pkg.Key {
		return ErrAuthFailed
	}
	if !isRosterMember(s.Roster, signatory) {
		return ErrNotRosterMember
	}
	if _, exists := s.Packages[sx]; exists {
		return ErrDuplicatePackage
	}
	if !pkg.Object.IsComplete(s.Roster) {
		return ErrIncomplete
	}
	if !pkg.Object.VSSVerify(s.Roster) {
		return ErrVSSCheckFailed
	}
	if !self.IsInfinity() && !self.Equal(signatory) {
		if err := pkg.Object.VSEVerify(self, pairwiseSecret, s.Index); err != nil {
			return err
		}
	}

	s.Packages[sx] = pkg
	return nil
}

func isRosterMember(roster []curve.Point, key curve.Point) bool {
	x := key.SerializeXOnly()
	for _, k := range roster {
		if k.SerializeXOnly() == x {
			return true
		}
	}
	return false
}

// IsAboveThreshold reports whether the session holds at least
// Threshold(len(Roster)) packages.
func (s *Session) IsAboveThreshold() bool {
	return len(s.Packages) >= Threshold(len(s.Roster))
}

// IsFull reports whether every roster member has contributed a package.
func (s *Session) IsFull() bool {
	return len(s.Packages) == len(s.Roster)
}

func (s *Session) sortedPackageKeys() [][32]byte {
	keys := make([][32]byte, 0, len(s.Packages))
	for k := range s.Packages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })
	return keys
}

func beUint64(v uint64) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], v)
	return out
}

// GroupCommitmentHash binds the session index and every contributing
// package's constant commitments into one digest, used to derive each
// package's binding factor.
func (s *Session) GroupCommitmentHash() [32]byte {
	idx := beUint64(s.Index)
	data := [][]byte{idx[:]}
	for _, k := range s.sortedPackageKeys() {
		pkg := s.Packages[k].Object
		sx := pkg.Signatory.SerializeXOnly()
		hc := pkg.HidingCommitments[0].SerializeUncompressed()
		bc := pkg.BindingCommitments[0].SerializeUncompressed()
		data = append(data, sx[:], hc[:], bc[:])
	}
	return curve.TaggedHash(curve.TagGroupCommitment, data...)
}

// BindingFactors derives, for every contributing package (keyed by its
// signatory's x-only key), the scalar that weights that package's
// binding-constant commitment when combining group/signatory nonces.
func (s *Session) BindingFactors(groupKey *[32]byte, message *[32]byte) (map[[32]byte]curve.Scalar, error) {
	gch := s.GroupCommitmentHash()
	factors := make(map[[32]byte]curve.Scalar, len(s.Packages))

	for _, k := range s.sortedPackageKeys() {
		pkg := s.Packages[k].Object
		idx, ok := curve.LagrangeIndex(s.Roster, pkg.Signatory)
		if !ok {
			return nil, ErrNotRosterMember
		}
		ib := beUint64(uint64(idx))
		data := [][]byte{ib[:], gch[:]}
		if groupKey != nil {
			data = append(data, groupKey[:])
		}
		if message != nil {
			data = append(data, message[:])
		}
		digest := curve.TaggedHash(curve.TagBindingFactor, data...)
		factor, ok := curve.ScalarFromHashReduced(digest)
		if !ok {
			return nil, curve.ErrInvalidScalar
		}
		factors[k] = factor
	}
	return factors, nil
}

// GroupCombinedHidingPoint sums every contributing package's hiding
// constant commitment. It is not the group's public key on its own: the
// key session's group key is GroupCombinedFullPoint(nil, nil), which
// adds the post-binding point.
func (s *Session) GroupCombinedHidingPoint() (curve.Point, bool) {
	var terms []curve.Point
	for _, k := range s.sortedPackageKeys() {
		terms = append(terms, s.Packages[k].Object.HidingCommitments[0])
	}
	return curve.SumPoints(terms...)
}

// GroupCombinedPostBindingPoint sums every contributing package's
// binding constant commitment, weighted by that package's binding
// factor.
func (s *Session) GroupCombinedPostBindingPoint(groupKey *[32]byte, message *[32]byte) (curve.Point, bool) {
	factors, err := s.BindingFactors(groupKey, message)
	if err != nil {
		return curve.Point{}, false
	}
	var terms []curve.Point
	for _, k := range s.sortedPackageKeys() {
		bc := s.Packages[k].Object.BindingCommitments[0]
		terms = append(terms, bc.Mul(factors[k]))
	}
	return curve.SumPoints(terms...)
}

// GroupCombinedFullPoint is the sum of the group's hiding and
// post-binding points, i.e. the group nonce for a nonce session.
func (s *Session) GroupCombinedFullPoint(groupKey *[32]byte, message *[32]byte) (curve.Point, bool) {
	hiding, ok := s.GroupCombinedHidingPoint()
	if !ok {
		return curve.Point{}, false
	}
	postBinding, ok := s.GroupCombinedPostBindingPoint(groupKey, message)
	if !ok {
		return curve.Point{}, false
	}
	return curve.SumPoints(hiding, postBinding)
}

// SignatoryLagrangeIndex returns key's 1-based position in the roster.
func (s *Session) SignatoryLagrangeIndex(key curve.Point) (int, bool) {
	return curve.LagrangeIndex(s.Roster, key)
}

// SignatoryCombinedHidingPoint is the public counterpart of
// SignatoryCombinedHidingSecret: the sum, over every contributing
// package, of that package's hiding commitment vector evaluated at
// key's Lagrange index.
func (s *Session) SignatoryCombinedHidingPoint(key curve.Point) (curve.Point, bool) {
	idx, ok := s.SignatoryLagrangeIndex(key)
	if !ok {
		return curve.Point{}, false
	}
	var terms []curve.Point
	for _, k := range s.sortedPackageKeys() {
		pt, ok := evalCommitmentVector(s.Packages[k].Object.HidingCommitments, uint64(idx))
		if !ok {
			return curve.Point{}, false
		}
		terms = append(terms, pt)
	}
	return curve.SumPoints(terms...)
}

// SignatoryCombinedPostBindingPoint is the public counterpart of
// SignatoryCombinedPostBindingSecret.
func (s *Session) SignatoryCombinedPostBindingPoint(key curve.Point, groupKey *[32]byte, message *[32]byte) (curve.Point, bool) {
	idx, ok := s.SignatoryLagrangeIndex(key)
	if !ok {
		return curve.Point{}, false
	}
	factors, err := s.BindingFactors(groupKey, message)
	if err != nil {
		return curve.Point{}, false
	}
	var terms []curve.Point
	for _, k := range s.sortedPackageKeys() {
		pt, ok := evalCommitmentVector(s.Packages[k].Object.BindingCommitments, uint64(idx))
		if !ok {
			return curve.Point{}, false
		}
		terms = append(terms, pt.Mul(factors[k]))
	}
	return curve.SumPoints(terms...)
}

// SignatoryCombinedHidingSecret sums, for the calling signatory, every
// contributing package's decrypted hiding share addressed to them.
// hidingShares maps each package's signatory x-only key to the decrypted
// share scalar obtained via Package.DecryptShares.
func (s *Session) SignatoryCombinedHidingSecret(hidingShares map[[32]byte]curve.Scalar) (curve.Scalar, error) {
	sum := curve.ZeroScalar
	for _, k := range s.sortedPackageKeys() {
		v, ok := hidingShares[k]
		if !ok {
			return curve.Scalar{}, ErrIncomplete
		}
		sum = sum.Add(v)
	}
	return sum, nil
}

// SignatoryCombinedPostBindingSecret sums, for the calling signatory,
// every contributing package's decrypted binding share addressed to
// them, each weighted by that package's binding factor.
func (s *Session) SignatoryCombinedPostBindingSecret(
	bindingShares map[[32]byte]curve.Scalar,
	groupKey *[32]byte,
	message *[32]byte,
) (curve.Scalar, error) {
	factors, err := s.BindingFactors(groupKey, message)
	if err != nil {
		return curve.Scalar{}, err
	}
	sum := curve.ZeroScalar
	for _, k := range s.sortedPackageKeys() {
		v, ok := bindingShares[k]
		if !ok {
			return curve.Scalar{}, ErrIncomplete
		}
		sum = sum.Add(v.Mul(factors[k]))
	}
	return sum, nil
}
