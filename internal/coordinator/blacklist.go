package coordinator

import (
	"sync"

	"github.com/klingon-exchange/brollup/internal/store"
)

// Blacklist tracks accounts temporarily barred from the commit pool
// after an upheld-gate timeout (spec.md §4.9: "missing partials after
// timeout add the offender to a blacklist with an expiry timestamp").
type Blacklist struct {
	mu    sync.Mutex
	store *store.Store

	expiry map[[32]byte]int64
}

// NewBlacklist opens a blacklist backed by s.
func NewBlacklist(s *store.Store) *Blacklist {
	return &Blacklist{store: s, expiry: make(map[[32]byte]int64)}
}

// IsBlacklisted reports whether account's key is currently barred, and
// until when.
func (b *Blacklist) IsBlacklisted(key [32]byte, now int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if until, ok := b.expiry[key]; ok {
		return until, now < until
	}
	until, err := b.store.BlacklistExpiry(key)
	if err != nil {
		return 0, false
	}
	b.expiry[key] = until
	return until, now < until
}

// Add bars key from the commit pool until expiresAt (unix seconds).
func (b *Blacklist) Add(key [32]byte, expiresAt int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiry[key] = expiresAt
	return b.store.PutBlacklist(key, expiresAt)
}
