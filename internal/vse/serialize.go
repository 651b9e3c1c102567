package vse

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/brollup/internal/curve"
)

// entryDTO mirrors Entry for JSON encoding; Entry's own fields already
// round-trip through curve.Scalar/curve.Point's MarshalJSON, so only the
// [32]byte cipher needs its own hex encoding.
type entryDTO struct {
	Ephemeral curve.Point `json:"ephemeral"`
	ECDHPoint curve.Point `json:"ecdh_point"`
	Proof     DLEQProof   `json:"proof"`
	Cipher    string      `json:"cipher"`
}

func (e Entry) toDTO() entryDTO {
	return entryDTO{
		Ephemeral: e.Ephemeral,
		ECDHPoint: e.ECDHPoint,
		Proof:     e.Proof,
		Cipher:    hex.EncodeToString(e.Cipher[:]),
	}
}

func (d entryDTO) toEntry() (Entry, error) {
	cipher, err := hex.DecodeString(d.Cipher)
	if err != nil || len(cipher) != 32 {
		return Entry{}, fmt.Errorf("vse: decode entry cipher: %w", err)
	}
	e := Entry{Ephemeral: d.Ephemeral, ECDHPoint: d.ECDHPoint, Proof: d.Proof}
	copy(e.Cipher[:], cipher)
	return e, nil
}

// MarshalJSON implements json.Marshaler for Entry.
func (e Entry) MarshalJSON() ([]byte, error) { return json.Marshal(e.toDTO()) }

// UnmarshalJSON implements json.Unmarshaler for Entry.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var dto entryDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	v, err := dto.toEntry()
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// keymapDTO mirrors Keymap, re-keying its peer-map by hex-encoded x-only
// key since JSON object keys must be strings.
type keymapDTO struct {
	Owner   curve.Point      `json:"owner"`
	Entries map[string]Entry `json:"entries"`
}

// MarshalJSON implements json.Marshaler for Keymap.
func (k Keymap) MarshalJSON() ([]byte, error) {
	entries := make(map[string]Entry, len(k.Entries))
	for peer, e := range k.Entries {
		entries[hex.EncodeToString(peer[:])] = e
	}
	return json.Marshal(keymapDTO{Owner: k.Owner, Entries: entries})
}

// UnmarshalJSON implements json.Unmarshaler for Keymap.
func (k *Keymap) UnmarshalJSON(data []byte) error {
	var dto keymapDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	entries := make(map[[32]byte]Entry, len(dto.Entries))
	for hexKey, e := range dto.Entries {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("vse: decode keymap peer key %q: %w", hexKey, err)
		}
		var peer [32]byte
		copy(peer[:], raw)
		entries[peer] = e
	}
	k.Owner = dto.Owner
	k.Entries = entries
	return nil
}

// setupDTO mirrors Setup for persistence: the authenticated keymap map
// re-keyed by hex-encoded owner x-only key, the same way internal/store
// will key DKG sessions and directories by height.
type setupDTO struct {
	Height      uint64                       `json:"height"`
	Signatories []curve.Point                `json:"signatories"`
	Keymaps     map[string]AuthenticatedKeymap `json:"keymaps"`
}

// Serialize encodes the setup to JSON, the encoding internal/store
// persists a VSE setup under.
func (s Setup) Serialize() ([]byte, error) {
	keymaps := make(map[string]AuthenticatedKeymap, len(s.Keymaps))
	for owner, km := range s.Keymaps {
		keymaps[hex.EncodeToString(owner[:])] = km
	}
	return json.Marshal(setupDTO{Height: s.Height, Signatories: s.Signatories, Keymaps: keymaps})
}

// DeserializeSetup decodes a Setup from the encoding Serialize produces.
func DeserializeSetup(data []byte) (*Setup, error) {
	var dto setupDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	keymaps := make(map[[32]byte]AuthenticatedKeymap, len(dto.Keymaps))
	for hexKey, km := range dto.Keymaps {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("vse: decode setup owner key %q: %w", hexKey, err)
		}
		var owner [32]byte
		copy(owner[:], raw)
		keymaps[owner] = km
	}
	return &Setup{Height: dto.Height, Signatories: dto.Signatories, Keymaps: keymaps}, nil
}
