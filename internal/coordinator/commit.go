package coordinator

import (
	"encoding/json"
	"sort"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/musig"
)

// Purpose names one of the co-signed transactions a session's commit
// pool feeds a MuSig context for (spec.md §4.8).
type Purpose string

const (
	PurposePayloadAuth          Purpose = "payload-auth"
	PurposeVTXOProjector        Purpose = "vtxo-projector"
	PurposeConnectorProjector   Purpose = "connector-projector"
	PurposeZKPContingent        Purpose = "zkp-contingent"
)

// Commit is one user's authenticated contribution to a session: their
// account, their entry, and the nonce pairs they bring to every MuSig
// context they participate in. Payload-auth is the only required
// purpose; the projector and contingent purposes are present only when
// the entry needs them, and lift/connector nonces are keyed/ordered
// per the combinators the entry actually carries.
type Commit struct {
	Account Account
	Entry   Entry

	PayloadAuthNonce        musig.PublicNonce
	VTXOProjectorNonce      *musig.PublicNonce
	ConnectorProjectorNonce *musig.PublicNonce
	ZKPContingentNonce      *musig.PublicNonce

	// LiftNonces is keyed by the Liftup combinator's outpoint.
	LiftNonces map[[36]byte]musig.PublicNonce
	// ConnectorNonces is the ordered sequence of connector nonces this
	// commit contributes, one per connector output the entry spends.
	ConnectorNonces []musig.PublicNonce
}

// Sighash folds the account, entry, and every nonce this commit carries
// into one digest, the object Authenticable[Commit] signs over.
func (c Commit) Sighash() [32]byte {
	ax := c.Account.XOnly()
	eh := c.Entry.Sighash()
	data := [][]byte{ax[:], eh[:], nonceBytes(c.PayloadAuthNonce)}

	if c.VTXOProjectorNonce != nil {
		data = append(data, nonceBytes(*c.VTXOProjectorNonce))
	}
	if c.ConnectorProjectorNonce != nil {
		data = append(data, nonceBytes(*c.ConnectorProjectorNonce))
	}
	if c.ZKPContingentNonce != nil {
		data = append(data, nonceBytes(*c.ZKPContingentNonce))
	}

	outpoints := make([][36]byte, 0, len(c.LiftNonces))
	for op := range c.LiftNonces {
		outpoints = append(outpoints, op)
	}
	sort.Slice(outpoints, func(i, j int) bool {
		return string(outpoints[i][:]) < string(outpoints[j][:])
	})
	for _, op := range outpoints {
		n := c.LiftNonces[op]
		data = append(data, op[:], nonceBytes(n))
	}

	for _, n := range c.ConnectorNonces {
		data = append(data, nonceBytes(n))
	}

	return curve.TaggedHash(curve.TagSighashEntry, data...)
}

func nonceBytes(n musig.PublicNonce) []byte {
	r1 := n.R1.SerializeCompressed()
	r2 := n.R2.SerializeCompressed()
	out := make([]byte, 0, len(r1)+len(r2))
	out = append(out, r1[:]...)
	out = append(out, r2[:]...)
	return out
}

// commitDTO mirrors Commit for JSON transport; LiftNonces is re-keyed to
// a hex string since array types cannot be JSON object keys.
type commitDTO struct {
	Account                 accountJSON                 `json:"account"`
	Entry                   Entry                        `json:"entry"`
	PayloadAuthNonce        publicNonceJSON              `json:"payload_auth_nonce"`
	VTXOProjectorNonce      *publicNonceJSON             `json:"vtxo_projector_nonce,omitempty"`
	ConnectorProjectorNonce *publicNonceJSON             `json:"connector_projector_nonce,omitempty"`
	ZKPContingentNonce      *publicNonceJSON             `json:"zkp_contingent_nonce,omitempty"`
	LiftNonces              map[string]publicNonceJSON   `json:"lift_nonces,omitempty"`
	ConnectorNonces         []publicNonceJSON            `json:"connector_nonces,omitempty"`
}

type accountJSON struct {
	Key           curve.Point `json:"key"`
	RegistryIndex *uint32     `json:"registry_index,omitempty"`
	Rank          *uint32     `json:"rank,omitempty"`
}

type publicNonceJSON struct {
	R1 curve.Point `json:"r1"`
	R2 curve.Point `json:"r2"`
}

func toPublicNonceJSON(n musig.PublicNonce) publicNonceJSON {
	return publicNonceJSON{R1: n.R1, R2: n.R2}
}

func fromPublicNonceJSON(n publicNonceJSON) musig.PublicNonce {
	return musig.PublicNonce{R1: n.R1, R2: n.R2}
}

// MarshalJSON implements json.Marshaler for Commit.
func (c Commit) MarshalJSON() ([]byte, error) {
	dto := commitDTO{
		Account: accountJSON{
			Key:           c.Account.Key,
			RegistryIndex: c.Account.RegistryIndex,
			Rank:          c.Account.Rank,
		},
		Entry:            c.Entry,
		PayloadAuthNonce: toPublicNonceJSON(c.PayloadAuthNonce),
		ConnectorNonces:  make([]publicNonceJSON, len(c.ConnectorNonces)),
	}
	if c.VTXOProjectorNonce != nil {
		n := toPublicNonceJSON(*c.VTXOProjectorNonce)
		dto.VTXOProjectorNonce = &n
	}
	if c.ConnectorProjectorNonce != nil {
		n := toPublicNonceJSON(*c.ConnectorProjectorNonce)
		dto.ConnectorProjectorNonce = &n
	}
	if c.ZKPContingentNonce != nil {
		n := toPublicNonceJSON(*c.ZKPContingentNonce)
		dto.ZKPContingentNonce = &n
	}
	for i, n := range c.ConnectorNonces {
		dto.ConnectorNonces[i] = toPublicNonceJSON(n)
	}
	if len(c.LiftNonces) > 0 {
		dto.LiftNonces = make(map[string]publicNonceJSON, len(c.LiftNonces))
		for op, n := range c.LiftNonces {
			dto.LiftNonces[hexOutpoint(op)] = toPublicNonceJSON(n)
		}
	}
	return json.Marshal(dto)
}

// UnmarshalJSON implements json.Unmarshaler for Commit.
func (c *Commit) UnmarshalJSON(data []byte) error {
	var dto commitDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	c.Account = Account{Key: dto.Account.Key, RegistryIndex: dto.Account.RegistryIndex, Rank: dto.Account.Rank}
	c.Entry = dto.Entry
	c.PayloadAuthNonce = fromPublicNonceJSON(dto.PayloadAuthNonce)
	c.ConnectorNonces = make([]musig.PublicNonce, len(dto.ConnectorNonces))
	for i, n := range dto.ConnectorNonces {
		c.ConnectorNonces[i] = fromPublicNonceJSON(n)
	}
	if dto.VTXOProjectorNonce != nil {
		n := fromPublicNonceJSON(*dto.VTXOProjectorNonce)
		c.VTXOProjectorNonce = &n
	}
	if dto.ConnectorProjectorNonce != nil {
		n := fromPublicNonceJSON(*dto.ConnectorProjectorNonce)
		c.ConnectorProjectorNonce = &n
	}
	if dto.ZKPContingentNonce != nil {
		n := fromPublicNonceJSON(*dto.ZKPContingentNonce)
		c.ZKPContingentNonce = &n
	}
	if len(dto.LiftNonces) > 0 {
		c.LiftNonces = make(map[[36]byte]musig.PublicNonce, len(dto.LiftNonces))
		for k, n := range dto.LiftNonces {
			op, err := outpointFromHex(k)
			if err != nil {
				return err
			}
			c.LiftNonces[op] = fromPublicNonceJSON(n)
		}
	}
	return nil
}
