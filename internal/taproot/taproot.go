// Package taproot builds Taproot output keys, script trees, and control
// blocks on top of the secp256k1 arithmetic in internal/curve.
//
// The tree builder follows a pairing strategy rather than a canonical
// balanced-binary one: leaves are combined two at a time, left-to-right,
// carrying any unpaired node up to the next level. This matches how the
// rollup groups a variable, possibly odd, number of spend conditions
// (lift leaves, connector leaves, the vanilla leaf) under one script tree
// without requiring the leaf count to be a power of two.
package taproot

import (
	"encoding/binary"

	"github.com/klingon-exchange/brollup/internal/curve"
)

// DefaultLeafVersion is the taproot leaf version byte. 0xc0 is the standard
// "tapscript" version; the protocol additionally reserves leaf versions
// for its own non-Script spend conditions (see NewLeafVersion).
const DefaultLeafVersion byte = 0xc0

// pointWithUnknownDiscreteLogarithm is the standard "nothing up my sleeve"
// internal key used for script-path-only outputs, i.e. ones with no
// meaningful key-path spend. It is the x-coordinate of SHA256 of the
// standard generator point's uncompressed encoding, lifted to even-y,
// the same constant used by BIP341 reference implementations.
var pointWithUnknownDiscreteLogarithm = [32]byte{
	0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54,
	0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a, 0x5e,
	0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5,
	0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

// NUMSPoint returns the nothing-up-my-sleeve point used as the internal
// key for script-path-only taproot outputs.
func NUMSPoint() (curve.Point, error) {
	return curve.PointFromXOnly(pointWithUnknownDiscreteLogarithm)
}

// TapLeaf is a single leaf of a taproot script tree.
type TapLeaf struct {
	version byte
	script  []byte
	hash    [32]byte
}

// NewLeaf builds a TapLeaf with the default (tapscript) leaf version.
func NewLeaf(script []byte) TapLeaf {
	return NewLeafVersion(script, DefaultLeafVersion)
}

// NewLeafVersion builds a TapLeaf with an explicit leaf version.
func NewLeafVersion(script []byte, version byte) TapLeaf {
	l := TapLeaf{version: version, script: script}
	l.hash = curve.TaggedHash(curve.TagTapLeaf, []byte{version}, compactSize(uint64(len(script))), script)
	return l
}

// Hash returns the leaf's TapLeaf hash.
func (l TapLeaf) Hash() [32]byte { return l.hash }

// Script returns the leaf's raw script bytes.
func (l TapLeaf) Script() []byte { return l.script }

// Version returns the leaf's version byte.
func (l TapLeaf) Version() byte { return l.version }

// node is either a leaf or an internal branch in the tree; both expose a
// TapHash, which is all the tree builder needs to pair nodes together.
type node struct {
	hash     [32]byte
	isBranch bool
	left     *node
	right    *node
	leaf     *TapLeaf
}

func leafNode(l TapLeaf) *node {
	leaf := l
	return &node{hash: l.hash, leaf: &leaf}
}

// branch combines two sibling nodes into a TapBranch, sorting by hash so
// that the resulting tree is independent of traversal order, per BIP341.
func branch(a, b *node) *node {
	ah, bh := a.hash, b.hash
	left, right := a, b
	if string(bh[:]) < string(ah[:]) {
		left, right = b, a
		ah, bh = bh, ah
	}
	h := curve.TaggedHash(curve.TagTapBranch, ah[:], bh[:])
	return &node{hash: h, isBranch: true, left: left, right: right}
}

// TapTree is a constructed taproot script tree over an ordered set of
// leaves, with per-leaf Merkle path extraction for control blocks.
type TapTree struct {
	root  *node
	paths map[int][][32]byte
}

// NewTree builds a TapTree from an ordered slice of leaves. Leaves are
// paired two at a time, left to right; an odd node out at any level
// carries forward unmodified to the next level, where it is paired with
// the result of that level's pairing. A single leaf produces a tree whose
// root is simply that leaf.
func NewTree(leaves []TapLeaf) (*TapTree, error) {
	if len(leaves) == 0 {
		return nil, curve.ErrInvalidPoint
	}

	level := make([]*node, len(leaves))
	paths := make(map[int][][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = leafNode(l)
		paths[i] = nil
	}

	// owners tracks, for each surviving node in the current level,
	// which original leaf indices it subsumes, so we can append the
	// sibling hash to every leaf under a node each time it is paired.
	owners := make([][]int, len(level))
	for i := range level {
		owners[i] = []int{i}
	}

	for len(level) > 1 {
		var nextLevel []*node
		var nextOwners [][]int
		i := 0
		for i+1 < len(level) {
			l, r := level[i], level[i+1]
			b := branch(l, r)

			// Per BIP341, the control block path is just the list of
			// sibling hashes from leaf to root; the verifier re-derives
			// left/right ordering itself via the same hash comparison
			// used in branch(), so the path need not encode it.
			for _, idx := range owners[i] {
				paths[idx] = append(paths[idx], r.hash)
			}
			for _, idx := range owners[i+1] {
				paths[idx] = append(paths[idx], l.hash)
			}

			nextLevel = append(nextLevel, b)
			nextOwners = append(nextOwners, append(append([]int{}, owners[i]...), owners[i+1]...))
			i += 2
		}
		if i < len(level) {
			// odd one out, carried forward untouched
			nextLevel = append(nextLevel, level[i])
			nextOwners = append(nextOwners, owners[i])
		}
		level, owners = nextLevel, nextOwners
	}

	return &TapTree{root: level[0], paths: paths}, nil
}

// Root returns the tree's root TapHash (the Merkle root used for
// tweaking the internal key).
func (t *TapTree) Root() [32]byte { return t.root.hash }

// Path returns the Merkle path (sibling hashes, root-ward) for the leaf
// at the given index in the slice passed to NewTree.
func (t *TapTree) Path(index int) ([][32]byte, error) {
	p, ok := t.paths[index]
	if !ok {
		return nil, curve.ErrInvalidPoint
	}
	return p, nil
}

// TapRoot ties together an internal key and a script tree (or none, for
// a key-path-only output) into a tweaked output key and its taproot
// scriptPubKey / control blocks.
type TapRoot struct {
	internalKey curve.Point
	tree        *TapTree
	tweak       curve.Scalar
	outputKey   curve.Point
	parity      bool
}

// KeyPathOnly builds a TapRoot with no script tree: the output key is the
// internal key tweaked by H_TapTweak(internalKey.x).
func KeyPathOnly(internalKey curve.Point) (*TapRoot, error) {
	return newTapRoot(internalKey, nil)
}

// WithScriptTree builds a TapRoot combining a key-path spend with an
// arbitrary script tree.
func WithScriptTree(internalKey curve.Point, leaves []TapLeaf) (*TapRoot, error) {
	tree, err := NewTree(leaves)
	if err != nil {
		return nil, err
	}
	return newTapRoot(internalKey, tree)
}

// ScriptPathOnly builds a TapRoot with the nothing-up-my-sleeve internal
// key, for outputs with no meaningful key-path spend.
func ScriptPathOnly(leaves []TapLeaf) (*TapRoot, error) {
	nums, err := NUMSPoint()
	if err != nil {
		return nil, err
	}
	return WithScriptTree(nums, leaves)
}

func newTapRoot(internalKey curve.Point, tree *TapTree) (*TapRoot, error) {
	lifted := internalKey.NegateIf(internalKey.Parity())
	xonly := lifted.SerializeXOnly()

	var merkleRoot []byte
	if tree != nil {
		root := tree.Root()
		merkleRoot = root[:]
	}

	tweakDigest := curve.TaggedHash(curve.TagTapTweak, xonly[:], merkleRoot)
	tweak, ok := curve.ScalarFromHashReduced(tweakDigest)
	if !ok {
		return nil, curve.ErrInvalidTweak
	}

	tweakPoint := tweak.BasePointMul()
	output, ok := curve.SumPoints(lifted, tweakPoint)
	if !ok {
		return nil, curve.ErrIdentityAtInfinty
	}

	return &TapRoot{
		internalKey: lifted,
		tree:        tree,
		tweak:       tweak,
		outputKey:   output,
		parity:      output.Parity(),
	}, nil
}

// OutputKey returns the tweaked taproot output key.
func (t *TapRoot) OutputKey() curve.Point { return t.outputKey }

// OutputKeyXOnly returns the 32-byte x-only encoding of the output key,
// i.e. the data pushed in a P2TR scriptPubKey.
func (t *TapRoot) OutputKeyXOnly() [32]byte { return t.outputKey.SerializeXOnly() }

// ScriptPubKey returns the P2TR scriptPubKey: OP_1 <32-byte output key>.
func (t *TapRoot) ScriptPubKey() []byte {
	x := t.OutputKeyXOnly()
	out := make([]byte, 34)
	out[0] = 0x51 // OP_1
	out[1] = 0x20 // push 32 bytes
	copy(out[2:], x[:])
	return out
}

// Tweak returns the tweak scalar t such that outputKey = internalKey + t*G.
func (t *TapRoot) Tweak() curve.Scalar { return t.tweak }

// ControlBlock returns the control block for spending the leaf at index
// in the tree this TapRoot was built with.
func (t *TapRoot) ControlBlock(index int) ([]byte, error) {
	if t.tree == nil {
		return nil, curve.ErrInvalidPoint
	}
	path, err := t.tree.Path(index)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 33+32*len(path))
	x := t.internalKey.SerializeXOnly()
	out = append(out, 0xc0|boolByte(t.parity))
	out = append(out, x[:]...)
	for _, h := range path {
		out = append(out, h[:]...)
	}
	return out, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// compactSize returns a script's length as a Bitcoin CompactSize integer,
// matching the varint encoding TapLeaf hashing preimages use.
func compactSize(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		out := make([]byte, 3)
		out[0] = 0xfd
		binary.LittleEndian.PutUint16(out[1:], uint16(n))
		return out
	case n <= 0xffffffff:
		out := make([]byte, 5)
		out[0] = 0xfe
		binary.LittleEndian.PutUint32(out[1:], uint32(n))
		return out
	default:
		out := make([]byte, 9)
		out[0] = 0xff
		binary.LittleEndian.PutUint64(out[1:], n)
		return out
	}
}
