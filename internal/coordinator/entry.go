package coordinator

import (
	"encoding/json"
	"errors"

	"github.com/klingon-exchange/brollup/internal/curve"
)

var (
	ErrUnknownCombinatorKind = errors.New("coordinator: unknown combinator kind")
	ErrCombinatorInvalid     = errors.New("coordinator: combinator failed account validation")
)

// Entry is one user's state-transition payload: the account authoring
// it plus zero or more sub-combinators from the closed CombinatorKind
// set (spec.md §4.8).
//
// The original's Entry nests combinators in a fixed two-sided branch
// tree (uppermost-left for liftup/recharge, uppermost-right for the
// transactive/liquidity combinators); this is flattened here to an
// ordered slice, since Go has no direct equivalent of the source's
// deeply nested Option<Branch> enum and a validated slice expresses the
// same "zero or more sub-combinators" invariant more directly.
type Entry struct {
	Account     Account
	Combinators []Combinator
}

// NewEntry builds an entry for account with the given sub-combinators.
func NewEntry(account Account, combinators ...Combinator) Entry {
	return Entry{Account: account, Combinators: combinators}
}

// Sighash folds the account key and every combinator's own sighash, in
// order, into one digest.
func (e Entry) Sighash() [32]byte {
	ax := e.Account.XOnly()
	data := [][]byte{ax[:]}
	for _, c := range e.Combinators {
		h := c.Sighash()
		data = append(data, []byte{byte(c.Kind())}, h[:])
	}
	return curve.TaggedHash(curve.TagSighashEntry, data...)
}

// Validate requires every sub-combinator to validate against the
// entry's own account (spec.md §4.8 rule 3: "the account signs every
// sub-combinator").
func (e Entry) Validate() bool {
	for _, c := range e.Combinators {
		if !c.Validate(e.Account) {
			return false
		}
	}
	return true
}

// Liftups returns every Liftup sub-combinator in the entry, the set
// commit validation rule 4 checks against known DKG directories.
func (e Entry) Liftups() []Liftup {
	var out []Liftup
	for _, c := range e.Combinators {
		if l, ok := c.(Liftup); ok {
			out = append(out, l)
		}
	}
	return out
}

// combinatorDTO is the wire/storage encoding of one Combinator: its
// kind tag plus the concrete type's own JSON encoding, enabling the
// discriminated-union decode UnmarshalJSON performs.
type combinatorDTO struct {
	Kind CombinatorKind  `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler for Entry.
func (e Entry) MarshalJSON() ([]byte, error) {
	type accountDTO struct {
		Key           curve.Point `json:"key"`
		RegistryIndex *uint32     `json:"registry_index,omitempty"`
		Rank          *uint32     `json:"rank,omitempty"`
	}
	dtos := make([]combinatorDTO, 0, len(e.Combinators))
	for _, c := range e.Combinators {
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, combinatorDTO{Kind: c.Kind(), Data: raw})
	}
	return json.Marshal(struct {
		Account     accountDTO      `json:"account"`
		Combinators []combinatorDTO `json:"combinators"`
	}{
		Account: accountDTO{
			Key:           e.Account.Key,
			RegistryIndex: e.Account.RegistryIndex,
			Rank:          e.Account.Rank,
		},
		Combinators: dtos,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Entry.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var dto struct {
		Account struct {
			Key           curve.Point `json:"key"`
			RegistryIndex *uint32     `json:"registry_index,omitempty"`
			Rank          *uint32     `json:"rank,omitempty"`
		} `json:"account"`
		Combinators []combinatorDTO `json:"combinators"`
	}
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}

	combinators := make([]Combinator, 0, len(dto.Combinators))
	for _, c := range dto.Combinators {
		parsed, err := decodeCombinator(c.Kind, c.Data)
		if err != nil {
			return err
		}
		combinators = append(combinators, parsed)
	}

	e.Account = Account{Key: dto.Account.Key, RegistryIndex: dto.Account.RegistryIndex, Rank: dto.Account.Rank}
	e.Combinators = combinators
	return nil
}

func decodeCombinator(kind CombinatorKind, data json.RawMessage) (Combinator, error) {
	switch kind {
	case KindMove:
		var c Move
		return c, json.Unmarshal(data, &c)
	case KindCall:
		var c Call
		return c, json.Unmarshal(data, &c)
	case KindAdd:
		var c Add
		return c, json.Unmarshal(data, &c)
	case KindSub:
		var c Sub
		return c, json.Unmarshal(data, &c)
	case KindDeploy:
		var c Deploy
		return c, json.Unmarshal(data, &c)
	case KindSwapout:
		var c Swapout
		return c, json.Unmarshal(data, &c)
	case KindRevive:
		var c Revive
		return c, json.Unmarshal(data, &c)
	case KindClaim:
		var c Claim
		return c, json.Unmarshal(data, &c)
	case KindReserved:
		var c Reserved
		return c, json.Unmarshal(data, &c)
	case KindLiftup:
		var c Liftup
		return c, json.Unmarshal(data, &c)
	case KindRecharge:
		var c Recharge
		return c, json.Unmarshal(data, &c)
	default:
		return nil, ErrUnknownCombinatorKind
	}
}
