package coordinator

import (
	"encoding/binary"
	"fmt"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/pkg/helpers"
)

// CombinatorKind tags one of the closed set of state-transition
// sub-combinators an Entry may carry (spec.md §4.8: "an entry... with
// zero or more sub-combinators from a closed tag set"; enumerated in
// §9's design notes and grounded on
// _examples/original_source/src/constructive/entry/combinator/combinators/*).
type CombinatorKind byte

const (
	KindMove CombinatorKind = iota + 1
	KindCall
	KindAdd
	KindSub
	KindDeploy
	KindSwapout
	KindRevive
	KindClaim
	KindReserved
	KindLiftup
	KindRecharge
)

// Combinator is one sub-combinator of an Entry: it contributes its own
// bytes to the entry's sighash and validates itself against the
// account signing the entry.
type Combinator interface {
	Kind() CombinatorKind
	Sighash() [32]byte
	Validate(account Account) bool
}

func be64(v uint64) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], v)
	return out
}

func be32(v uint32) [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)
	return out
}

func combinatorSighash(kind CombinatorKind, data ...[]byte) [32]byte {
	all := append([][]byte{{byte(kind)}}, data...)
	return curve.TaggedHash(curve.TagSighashEntry, all...)
}

// Move transfers amount from the signing account to recipient.
type Move struct {
	Recipient curve.Point
	Amount    uint64
}

func (c Move) Kind() CombinatorKind { return KindMove }

func (c Move) Sighash() [32]byte {
	rx := c.Recipient.SerializeXOnly()
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), rx[:], amt[:])
}

// Validate requires a positive amount paid to someone other than self.
func (c Move) Validate(account Account) bool {
	return c.Amount > 0 && !c.Recipient.Equal(account.Key)
}

// String renders the move in BTC for logs, e.g. "move 0.5 BTC -> a1b2c3...".
func (c Move) String() string {
	rx := c.Recipient.SerializeXOnly()
	return fmt.Sprintf("move %s BTC -> %x", helpers.SatoshisToBTC(c.Amount), rx[:4])
}

// Call invokes a registered contract's method with calldata, standing in
// for the opcode-VM dispatch spec.md names out of scope (§1): a Call's
// Validate/Sighash pair is as far as this coordinator goes toward
// interpreting it.
type Call struct {
	ContractID   [32]byte
	MethodIndex  uint32
	Calldata     []byte
}

func (c Call) Kind() CombinatorKind { return KindCall }

func (c Call) Sighash() [32]byte {
	mi := be32(c.MethodIndex)
	return combinatorSighash(c.Kind(), c.ContractID[:], mi[:], c.Calldata)
}

func (c Call) Validate(account Account) bool {
	return c.ContractID != [32]byte{}
}

// Add credits amount of liquidity into a contract's balance.
type Add struct {
	ContractID [32]byte
	Amount     uint64
}

func (c Add) Kind() CombinatorKind { return KindAdd }

func (c Add) Sighash() [32]byte {
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), c.ContractID[:], amt[:])
}

func (c Add) Validate(account Account) bool { return c.Amount > 0 }

// Sub debits amount of liquidity from a contract's balance.
type Sub struct {
	ContractID [32]byte
	Amount     uint64
}

func (c Sub) Kind() CombinatorKind { return KindSub }

func (c Sub) Sighash() [32]byte {
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), c.ContractID[:], amt[:])
}

func (c Sub) Validate(account Account) bool { return c.Amount > 0 }

// Deploy registers a new contract under contractID with a content hash
// of its deployed payload (the payload itself lives outside this
// coordinator, per spec.md §1's bytecode-VM non-goal).
type Deploy struct {
	ContractID   [32]byte
	PayloadHash  [32]byte
}

func (c Deploy) Kind() CombinatorKind { return KindDeploy }

func (c Deploy) Sighash() [32]byte {
	return combinatorSighash(c.Kind(), c.ContractID[:], c.PayloadHash[:])
}

func (c Deploy) Validate(account Account) bool { return c.ContractID != [32]byte{} }

// Swapout withdraws amount from the rollup to an on-chain destination
// script, the exit path back to L1.
type Swapout struct {
	Amount            uint64
	DestinationScript []byte
}

func (c Swapout) Kind() CombinatorKind { return KindSwapout }

func (c Swapout) Sighash() [32]byte {
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), amt[:], c.DestinationScript)
}

func (c Swapout) Validate(account Account) bool {
	return c.Amount > 0 && len(c.DestinationScript) > 0
}

// Revive restores a previously dormant contract to active status.
type Revive struct {
	ContractID [32]byte
}

func (c Revive) Kind() CombinatorKind { return KindRevive }

func (c Revive) Sighash() [32]byte { return combinatorSighash(c.Kind(), c.ContractID[:]) }

func (c Revive) Validate(account Account) bool { return c.ContractID != [32]byte{} }

// Claim redeems a previously escrowed amount identified by claimID.
type Claim struct {
	ClaimID [32]byte
	Amount  uint64
}

func (c Claim) Kind() CombinatorKind { return KindClaim }

func (c Claim) Sighash() [32]byte {
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), c.ClaimID[:], amt[:])
}

func (c Claim) Validate(account Account) bool { return c.Amount > 0 }

// Reserved is a placeholder sub-combinator for a tag reserved for
// future protocol use; it carries an opaque payload and always fails
// Validate, since no semantics are assigned to it yet.
type Reserved struct {
	Tag  byte
	Data []byte
}

func (c Reserved) Kind() CombinatorKind { return KindReserved }

func (c Reserved) Sighash() [32]byte {
	return combinatorSighash(c.Kind(), []byte{c.Tag}, c.Data)
}

func (c Reserved) Validate(account Account) bool { return false }

// Liftup brings funds from a per-user lift prevout (a Taproot output
// cosigned by the user and one operator DKG directory) into the
// rollup.
type Liftup struct {
	OperatorKey curve.Point
	Outpoint    [36]byte // 32-byte txid || 4-byte big-endian vout
	Amount      uint64
}

func (c Liftup) Kind() CombinatorKind { return KindLiftup }

func (c Liftup) Sighash() [32]byte {
	ok := c.OperatorKey.SerializeXOnly()
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), ok[:], c.Outpoint[:], amt[:])
}

// Validate requires a distinct operator key from the signing account's
// own key (spec.md §4.8 validation rule 4: "the operator key ≠ user
// key"), a positive amount, and a non-zero outpoint.
func (c Liftup) Validate(account Account) bool {
	return c.Amount > 0 && !c.OperatorKey.Equal(account.Key) && c.Outpoint != [36]byte{}
}

// Recharge tops up the signing account's VTXO balance without an
// explicit transfer target.
type Recharge struct {
	Amount uint64
}

func (c Recharge) Kind() CombinatorKind { return KindRecharge }

func (c Recharge) Sighash() [32]byte {
	amt := be64(c.Amount)
	return combinatorSighash(c.Kind(), amt[:])
}

func (c Recharge) Validate(account Account) bool { return c.Amount > 0 }
