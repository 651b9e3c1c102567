package curve

import (
	"math/big"
	"sort"
)

// LagrangeIndex returns the 1-based position of target within the sorted
// full roster, comparing by x-only serialization. Used as the polynomial
// x-coordinate for both Feldman VSS evaluation and Lagrange interpolation.
func LagrangeIndex(fullRoster []Point, target Point) (int, bool) {
	sorted := sortedXOnly(fullRoster)
	txonly := target.SerializeXOnly()
	for i, k := range sorted {
		if k == txonly {
			return i + 1, true
		}
	}
	return 0, false
}

// LagrangeIndexList maps a subset of the roster to their 1-based indices,
// sorted ascending. It is the "active signer" index set an interpolation
// is evaluated over.
func LagrangeIndexList(fullRoster []Point, active []Point) ([]int, bool) {
	out := make([]int, 0, len(active))
	for _, a := range active {
		idx, ok := LagrangeIndex(fullRoster, a)
		if !ok {
			return nil, false
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, true
}

// InterpolatingValue computes the Lagrange basis coefficient λ_i(0) for
// index i given the set of active indices, i.e. the weight applied to
// signatory i's partial signature so that Σ λ_i · s_i reconstructs the
// secret at x=0.
func InterpolatingValue(activeIndices []int, i int) (Scalar, error) {
	numerator := NewScalar(big.NewInt(1))
	denominator := NewScalar(big.NewInt(1))

	iScalar := ScalarFromUint64(uint64(i))

	for _, j := range activeIndices {
		if j == i {
			continue
		}
		jScalar := ScalarFromUint64(uint64(j))

		// numerator *= (0 - j) = -j
		numerator = numerator.Mul(jScalar.Negate())

		// denominator *= (i - j)
		denominator = denominator.Mul(iScalar.Sub(jScalar))
	}

	denomInv, err := denominator.Inverse()
	if err != nil {
		return Scalar{}, err
	}

	return numerator.Mul(denomInv), nil
}

func sortedXOnly(pts []Point) [][32]byte {
	out := make([][32]byte, len(pts))
	for i, p := range pts {
		out[i] = p.SerializeXOnly()
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// SortPoints sorts a slice of points ascending by x-only serialization,
// the canonical ordering used for signatory rosters and MuSig keysets.
func SortPoints(pts []Point) []Point {
	out := make([]Point, len(pts))
	copy(out, pts)
	sort.Slice(out, func(i, j int) bool {
		xi := out[i].SerializeXOnly()
		xj := out[j].SerializeXOnly()
		return string(xi[:]) < string(xj[:])
	})
	return out
}
