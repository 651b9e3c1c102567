package curve

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Scalar as a hex string of its 32-byte big-endian
// serialization, matching the teacher's convention of storing signed
// amounts and hashes as hex strings in its JSON storage DTOs (see
// coordinator_types.go's MuSig2StorageData).
func (s Scalar) MarshalJSON() ([]byte, error) {
	b := s.Serialize()
	return json.Marshal(hex.EncodeToString(b[:]))
}

// UnmarshalJSON decodes a Scalar from the hex encoding MarshalJSON
// produces.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("curve: decode scalar hex: %w", err)
	}
	v, err := ScalarFromBytes(b)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalJSON encodes a Point as a hex string of its 33-byte compressed
// SEC1 serialization, or an empty string for the point at infinity.
func (p Point) MarshalJSON() ([]byte, error) {
	if p.inf {
		return json.Marshal("")
	}
	b := p.SerializeCompressed()
	return json.Marshal(hex.EncodeToString(b[:]))
}

// UnmarshalJSON decodes a Point from the hex encoding MarshalJSON
// produces.
func (p *Point) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*p = Infinity
		return nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("curve: decode point hex: %w", err)
	}
	v, err := PointFromSlice(b)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
