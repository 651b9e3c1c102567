// Package coordinator implements the rollup's session state machine
// (spec.md §4.8, "C3"): commit pool management, per-purpose MuSig+NOIST
// context construction, blame/blacklist policy, and the registries and
// state trees commits transition.
//
// Grounded on the teacher's internal/swap package (coordinator_types.go's
// Coordinator/CoordinatorConfig shape, coordinator_timeout.go's
// timeout-monitor goroutine pattern) and on
// _examples/original_source/src/inscriptive/registery/account_registery.rs
// and src/constructive/entry/entry.rs for the account/entry domain model
// the teacher has no direct counterpart for.
package coordinator

import "github.com/klingon-exchange/brollup/internal/curve"

// Account is one rollup user's on-chain identity: its public key plus
// the coordinator-assigned bookkeeping the account registry maintains
// once it is registered (registry index, call-count rank).
//
// Grounded on original_source's Account (key, registery_index, rank,
// both Option<u32> until the account is first registered).
type Account struct {
	Key            curve.Point
	RegistryIndex  *uint32
	Rank           *uint32
}

// NewAccount builds an as-yet-unregistered account for key.
func NewAccount(key curve.Point) Account {
	return Account{Key: key}
}

// IsRegistered reports whether the account has been assigned a
// registry index.
func (a Account) IsRegistered() bool { return a.RegistryIndex != nil }

// XOnly returns the account's x-only key, the identifier used
// throughout the coordinator (commit pool keys, blacklist keys, Nack
// targets).
func (a Account) XOnly() [32]byte { return a.Key.SerializeXOnly() }
