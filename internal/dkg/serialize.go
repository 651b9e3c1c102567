package dkg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/brollup/internal/curve"
)

// shareEntryDTO mirrors ShareEntry, hex-encoding its two ciphertexts.
type shareEntryDTO struct {
	HidingPoint   curve.Point `json:"hiding_point"`
	BindingPoint  curve.Point `json:"binding_point"`
	HidingCipher  string      `json:"hiding_cipher"`
	BindingCipher string      `json:"binding_cipher"`
}

// MarshalJSON implements json.Marshaler for ShareEntry.
func (e ShareEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(shareEntryDTO{
		HidingPoint:   e.HidingPoint,
		BindingPoint:  e.BindingPoint,
		HidingCipher:  hex.EncodeToString(e.HidingCipher[:]),
		BindingCipher: hex.EncodeToString(e.BindingCipher[:]),
	})
}

// UnmarshalJSON implements json.Unmarshaler for ShareEntry.
func (e *ShareEntry) UnmarshalJSON(data []byte) error {
	var dto shareEntryDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	hc, err := hex.DecodeString(dto.HidingCipher)
	if err != nil || len(hc) != 32 {
		return fmt.Errorf("dkg: decode hiding cipher: %w", err)
	}
	bc, err := hex.DecodeString(dto.BindingCipher)
	if err != nil || len(bc) != 32 {
		return fmt.Errorf("dkg: decode binding cipher: %w", err)
	}
	e.HidingPoint = dto.HidingPoint
	e.BindingPoint = dto.BindingPoint
	copy(e.HidingCipher[:], hc)
	copy(e.BindingCipher[:], bc)
	return nil
}

// packageDTO mirrors Package, re-keying its per-peer share map by
// hex-encoded x-only key.
type packageDTO struct {
	Signatory          curve.Point              `json:"signatory"`
	HidingCommitments  []curve.Point            `json:"hiding_commitments"`
	BindingCommitments []curve.Point            `json:"binding_commitments"`
	Shares             map[string]ShareEntry    `json:"shares"`
}

// MarshalJSON implements json.Marshaler for Package.
func (p Package) MarshalJSON() ([]byte, error) {
	shares := make(map[string]ShareEntry, len(p.Shares))
	for peer, e := range p.Shares {
		shares[hex.EncodeToString(peer[:])] = e
	}
	return json.Marshal(packageDTO{
		Signatory:          p.Signatory,
		HidingCommitments:  p.HidingCommitments,
		BindingCommitments: p.BindingCommitments,
		Shares:             shares,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Package.
func (p *Package) UnmarshalJSON(data []byte) error {
	var dto packageDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	shares := make(map[[32]byte]ShareEntry, len(dto.Shares))
	for hexKey, e := range dto.Shares {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("dkg: decode package peer key %q: %w", hexKey, err)
		}
		var peer [32]byte
		copy(peer[:], raw)
		shares[peer] = e
	}
	p.Signatory = dto.Signatory
	p.HidingCommitments = dto.HidingCommitments
	p.BindingCommitments = dto.BindingCommitments
	p.Shares = shares
	return nil
}

// sessionDTO mirrors Session for persistence, re-keying its package map
// by hex-encoded signatory x-only key. Grounded on the teacher's JSON
// storage DTO convention (coordinator_types.go's MuSig2StorageData):
// complex in-memory state is persisted as a JSON document rather than a
// hand-rolled binary layout.
type sessionDTO struct {
	Index    uint64                         `json:"index"`
	Roster   []curve.Point                  `json:"roster"`
	Packages map[string]AuthenticatedPackage `json:"packages"`
}

// Serialize encodes the session to JSON, the encoding internal/store
// persists a DKG session under.
func (s *Session) Serialize() ([]byte, error) {
	packages := make(map[string]AuthenticatedPackage, len(s.Packages))
	for signatory, pkg := range s.Packages {
		packages[hex.EncodeToString(signatory[:])] = pkg
	}
	return json.Marshal(sessionDTO{Index: s.Index, Roster: s.Roster, Packages: packages})
}

// DeserializeSession decodes a Session from the encoding Serialize
// produces.
func DeserializeSession(data []byte) (*Session, error) {
	var dto sessionDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	packages := make(map[[32]byte]AuthenticatedPackage, len(dto.Packages))
	for hexKey, pkg := range dto.Packages {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("dkg: decode session signatory key %q: %w", hexKey, err)
		}
		var signatory [32]byte
		copy(signatory[:], raw)
		packages[signatory] = pkg
	}
	return &Session{Index: dto.Index, Roster: dto.Roster, Packages: packages}, nil
}
