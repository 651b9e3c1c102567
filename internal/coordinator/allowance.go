package coordinator

import "sync"

// AllowanceChecker is commit validation rule 5's rate-limit predicate
// (spec.md §4.8: "an opaque predicate"). Allow reports whether account
// may submit another commit right now.
type AllowanceChecker interface {
	Allow(account Account, now int64) bool
}

// EpochAllowance is a per-account call counter reset every epoch,
// mirroring original_source's account.rs rate limit: at most maxCalls
// commits per account per epoch window.
type EpochAllowance struct {
	mu         sync.Mutex
	epochStart map[[32]byte]int64
	calls      map[[32]byte]int
	maxCalls   int
	epochLen   int64
}

// NewEpochAllowance builds a counter-and-epoch allowance checker
// permitting maxCalls commits per account within each epochLen-second
// window.
func NewEpochAllowance(maxCalls int, epochLen int64) *EpochAllowance {
	return &EpochAllowance{
		epochStart: make(map[[32]byte]int64),
		calls:      make(map[[32]byte]int),
		maxCalls:   maxCalls,
		epochLen:   epochLen,
	}
}

// Allow reports whether account has a remaining call in its current
// epoch, incrementing the counter if so.
func (a *EpochAllowance) Allow(account Account, now int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := account.XOnly()

	start, ok := a.epochStart[key]
	if !ok || now-start >= a.epochLen {
		a.epochStart[key] = now
		a.calls[key] = 0
		start = now
	}

	if a.calls[key] >= a.maxCalls {
		return false
	}
	a.calls[key]++
	return true
}
