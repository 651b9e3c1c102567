package coordinator

import "errors"

// Error kinds named by spec.md §7. Library-level primitives (hashing,
// point arithmetic) already return their own typed errors from
// internal/curve, internal/dkg, internal/musig, and internal/noist;
// these are the session-level kinds the coordinator itself produces,
// wrapped as Nacks where a commit or uphold request originated them.
var (
	ErrInvalidPoint         = errors.New("coordinator: invalid point")
	ErrInvalidScalar        = errors.New("coordinator: invalid scalar")
	ErrInvalidTweak         = errors.New("coordinator: invalid tweak")
	ErrParityMismatch       = errors.New("coordinator: parity mismatch")
	ErrVseDecryptFail       = errors.New("coordinator: VSE decrypt failed")
	ErrVssCheckFail         = errors.New("coordinator: VSS check failed")
	ErrDuplicateSignatory   = errors.New("coordinator: duplicate signatory")
	ErrRosterMismatch       = errors.New("coordinator: roster mismatch")
	ErrSessionLocked        = errors.New("coordinator: session locked")
	ErrNotLocked            = errors.New("coordinator: session not locked")
	ErrBlacklisted          = errors.New("coordinator: account blacklisted")
	ErrAllowance            = errors.New("coordinator: allowance exceeded")
	ErrOverlap              = errors.New("coordinator: account already in commit pool")
	ErrMissingNonce         = errors.New("coordinator: missing nonce")
	ErrDuplicateNonce       = errors.New("coordinator: duplicate nonce")
	ErrMissingPartial       = errors.New("coordinator: missing partial signature")
	ErrInvalidPartial       = errors.New("coordinator: invalid partial signature")
	ErrBelowThreshold       = errors.New("coordinator: below signing threshold")
	ErrIdentityAtInfinity   = errors.New("coordinator: identity point at infinity")
	ErrTimeout              = errors.New("coordinator: timeout")
	ErrConn                 = errors.New("coordinator: connection error")
	ErrIO                   = errors.New("coordinator: io error")
	ErrSerialization        = errors.New("coordinator: serialization error")
	ErrAuth                 = errors.New("coordinator: authentication failed")
	ErrInvalidLiftOperator  = errors.New("coordinator: lift operator key equals user key, or names no known DKG directory")
	ErrInvalidLiftAccount   = errors.New("coordinator: lift user key does not match commit account")
	ErrMissingLiftOutpoint  = errors.New("coordinator: lift prevout outpoint missing")
	ErrInvalidRegistryIndex = errors.New("coordinator: invalid account registry index")
	ErrEntryInvalid         = ErrCombinatorInvalid
)

// NackReason tags the typed Nack a failed commit or uphold request
// resolves to (spec.md §4.8, §7). Operators see the same taxonomy
// without the allowance/blacklist variants (§7).
type NackReason int

const (
	NackSessionLocked NackReason = iota
	NackAuthErr
	NackBlacklistedUntil
	NackOverlap
	NackAllowance
	NackInvalidLiftOperatorKey
	NackInvalidLiftAccountKey
	NackMissingLiftOutpoint
	NackInvalidAccountRegistryIndex
	NackEntryInvalid
	NackTimeout
)

// Nack is the structured failure the coordinator returns instead of a
// bare boolean (spec.md §7: "No failure is masked into a Boolean
// success").
type Nack struct {
	Reason     NackReason
	RetryAfter int64 // unix seconds, set only for NackBlacklistedUntil
}

func (n Nack) Error() string {
	switch n.Reason {
	case NackSessionLocked:
		return "session locked"
	case NackAuthErr:
		return "authentication failed"
	case NackBlacklistedUntil:
		return "blacklisted"
	case NackOverlap:
		return "account already in commit pool"
	case NackAllowance:
		return "allowance exceeded"
	case NackInvalidLiftOperatorKey:
		return "invalid lift operator key"
	case NackInvalidLiftAccountKey:
		return "invalid lift account key"
	case NackMissingLiftOutpoint:
		return "missing lift outpoint"
	case NackInvalidAccountRegistryIndex:
		return "invalid account registry index"
	case NackEntryInvalid:
		return "entry failed account validation"
	case NackTimeout:
		return "timeout"
	default:
		return "nack"
	}
}
