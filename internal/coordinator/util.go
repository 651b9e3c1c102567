package coordinator

import (
	"encoding/hex"

	"github.com/klingon-exchange/brollup/pkg/helpers"
)

func hexOutpoint(op [36]byte) string { return hex.EncodeToString(op[:]) }

func outpointFromHex(s string) ([36]byte, error) {
	var out [36]byte
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != 36 {
		return out, ErrMissingLiftOutpoint
	}
	copy(out[:], b)
	return out, nil
}
