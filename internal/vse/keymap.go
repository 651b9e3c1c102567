package vse

import (
	"sort"

	"github.com/klingon-exchange/brollup/internal/curve"
)

// Keymap is one signatory's VSE exchange with every other signatory in a
// roster: a map from peer public key to the entry addressed to them.
// Authenticated as a whole by the owning signatory's Schnorr signature
// (see curve.Authenticable[Keymap]).
type Keymap struct {
	Owner   curve.Point
	Entries map[[32]byte]Entry
}

// NewKeymap builds a keymap for owner, establishing a fresh VSE entry
// for every other member of the roster. It returns the keymap to publish
// and the owner's view of every pairwise secret it just generated,
// keyed by peer x-only key.
func NewKeymap(owner curve.Point, roster []curve.Point) (Keymap, map[[32]byte][32]byte, error) {
	entries := make(map[[32]byte]Entry, len(roster))
	secrets := make(map[[32]byte][32]byte, len(roster))

	ownerX := owner.SerializeXOnly()
	for _, peer := range roster {
		peerX := peer.SerializeXOnly()
		if peerX == ownerX {
			continue
		}
		entry, secret, err := NewEntry(peer)
		if err != nil {
			return Keymap{}, nil, err
		}
		entries[peerX] = entry
		secrets[peerX] = secret
	}

	return Keymap{Owner: owner, Entries: entries}, secrets, nil
}

// Sighash implements curve.Sighash so a Keymap can be wrapped in a
// curve.Authenticable and signed by its owner.
func (k Keymap) Sighash() [32]byte {
	ownerX := k.Owner.SerializeXOnly()

	peers := make([][32]byte, 0, len(k.Entries))
	for p := range k.Entries {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return string(peers[i][:]) < string(peers[j][:])
	})

	var data [][]byte
	data = append(data, ownerX[:])
	for _, p := range peers {
		e := k.Entries[p]
		eph := e.Ephemeral.SerializeCompressed()
		ecdh := e.ECDHPoint.SerializeCompressed()
		cb := e.Proof.C.Serialize()
		zb := e.Proof.Z.Serialize()
		data = append(data, p[:], eph[:], ecdh[:], cb[:], zb[:], e.Cipher[:])
	}
	return curve.TaggedHash(curve.TagSighashEntry, data...)
}

// Verify checks that the keymap's owner is a roster member, that it
// addresses exactly every other roster member (no more, no fewer), and
// that every entry's DLEQ proof is valid against its intended peer.
func (k Keymap) Verify(roster []curve.Point) bool {
	ownerX := k.Owner.SerializeXOnly()

	inRoster := false
	want := make(map[[32]byte]curve.Point, len(roster))
	for _, p := range roster {
		px := p.SerializeXOnly()
		if px == ownerX {
			inRoster = true
			continue
		}
		want[px] = p
	}
	if !inRoster {
		return false
	}
	if len(k.Entries) != len(want) {
		return false
	}
	for px, peer := range want {
		entry, ok := k.Entries[px]
		if !ok {
			return false
		}
		if !entry.Verify(peer) {
			return false
		}
	}
	return true
}
