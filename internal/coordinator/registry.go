package coordinator

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/store"
)

// AccountRegistry is the rollup-wide directory of registered accounts,
// indexed by key and, once registered, by registry index and by
// call-count rank.
//
// Grounded on original_source's AccountRegistery, which keeps the same
// dual index (by registery_index and by rank) in memory over a
// sled-backed store; here the backing store is internal/store's
// account_registry table.
type AccountRegistry struct {
	mu sync.Mutex

	store *store.Store

	byKey        map[[32]byte]Account
	byIndex      map[uint32][32]byte
	callCounters map[uint32]uint64
	nextIdx      uint32
}

// NewAccountRegistry opens an account registry backed by s.
func NewAccountRegistry(s *store.Store) *AccountRegistry {
	return &AccountRegistry{
		store:        s,
		byKey:        make(map[[32]byte]Account),
		byIndex:      make(map[uint32][32]byte),
		callCounters: make(map[uint32]uint64),
	}
}

// Lookup returns the account registered under key, if any.
func (r *AccountRegistry) Lookup(key curve.Point) (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	x := key.SerializeXOnly()
	if a, ok := r.byKey[x]; ok {
		return a, true
	}
	raw, err := r.store.GetAccount(x)
	if err != nil {
		return Account{}, false
	}
	var rec accountRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Account{}, false
	}
	a := Account{Key: key, RegistryIndex: rec.RegistryIndex, Rank: rec.Rank}
	r.byKey[x] = a
	if rec.RegistryIndex != nil {
		r.byIndex[*rec.RegistryIndex] = x
	}
	return a, true
}

// Register assigns account the next free registry index, if it does
// not already have one, and persists the result.
func (r *AccountRegistry) Register(account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	x := account.Key.SerializeXOnly()
	if account.RegistryIndex == nil {
		idx := r.nextIdx
		r.nextIdx++
		account.RegistryIndex = &idx
	}
	r.byKey[x] = account
	r.byIndex[*account.RegistryIndex] = x
	return account, r.persist(x, account)
}

// UpdateRank rewrites account's call-count rank, the ordering value
// original_source's sort_call_counters recomputes after every call.
func (r *AccountRegistry) UpdateRank(key curve.Point, rank uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	x := key.SerializeXOnly()
	a, ok := r.byKey[x]
	if !ok {
		return ErrInvalidRegistryIndex
	}
	a.Rank = &rank
	r.byKey[x] = a
	return r.persist(x, a)
}

// IncrementCallCounter bumps key's call count and returns the new value.
// The account must already be registered.
func (r *AccountRegistry) IncrementCallCounter(key curve.Point) (uint64, error) {
	r.mu.Lock()
	x := key.SerializeXOnly()
	a, ok := r.byKey[x]
	r.mu.Unlock()
	if !ok || a.RegistryIndex == nil {
		return 0, ErrInvalidRegistryIndex
	}

	counter, err := r.store.IncrementAccountCallCounter(*a.RegistryIndex)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.callCounters[*a.RegistryIndex] = counter
	r.mu.Unlock()
	return counter, nil
}

// RankAccounts resorts every known account by call counter (descending,
// ties broken by registry index ascending) and persists each account's
// new rank, mirroring original_source's sort_call_counters/rank_accounts.
func (r *AccountRegistry) RankAccounts() error {
	type ranked struct {
		key   curve.Point
		index uint32
		count uint64
	}

	r.mu.Lock()
	entries := make([]ranked, 0, len(r.byIndex))
	for idx, x := range r.byIndex {
		entries = append(entries, ranked{key: r.byKey[x].Key, index: idx, count: r.callCounters[idx]})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].index < entries[j].index
	})

	for i, e := range entries {
		if err := r.UpdateRank(e.key, uint32(i+1)); err != nil {
			return err
		}
	}
	return nil
}

func (r *AccountRegistry) persist(x [32]byte, a Account) error {
	rec := accountRecord{RegistryIndex: a.RegistryIndex, Rank: a.Rank}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.PutAccount(x, raw)
}

type accountRecord struct {
	RegistryIndex *uint32 `json:"registry_index,omitempty"`
	Rank          *uint32 `json:"rank,omitempty"`
}

// ContractRegistry tracks deployed contracts by id and their per-index
// call counters, the state original_source's contract registry and
// call-counter table maintain side by side.
type ContractRegistry struct {
	mu    sync.Mutex
	store *store.Store

	deployed map[[32]byte]contractRecord
	nextIdx  uint32
}

type contractRecord struct {
	PayloadHash [32]byte `json:"payload_hash"`
	Index       uint32   `json:"index"`
	Revived     bool     `json:"revived"`
}

// NewContractRegistry opens a contract registry backed by s.
func NewContractRegistry(s *store.Store) *ContractRegistry {
	return &ContractRegistry{store: s, deployed: make(map[[32]byte]contractRecord)}
}

// Deploy registers contractID with the given payload hash and the next
// free call-counter index, mirroring original_source's registery_index_
// height + 1 assignment in batch_update/insert_contract. Deploying an
// already-registered contractID is a no-op that returns its existing
// index.
func (r *ContractRegistry) Deploy(contractID, payloadHash [32]byte) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.deployed[contractID]; ok {
		return existing.Index, nil
	}
	idx := r.nextIdx
	r.nextIdx++
	rec := contractRecord{PayloadHash: payloadHash, Index: idx}
	r.deployed[contractID] = rec
	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	return idx, r.store.PutContract(contractID, raw)
}

// Lookup returns the contract record for contractID.
func (r *ContractRegistry) Lookup(contractID [32]byte) (contractRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.deployed[contractID]; ok {
		return rec, true
	}
	raw, err := r.store.GetContract(contractID)
	if err != nil {
		return contractRecord{}, false
	}
	var rec contractRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return contractRecord{}, false
	}
	r.deployed[contractID] = rec
	return rec, true
}

// Revive flips a dormant contract back to active.
func (r *ContractRegistry) Revive(contractID [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.deployed[contractID]
	if !ok {
		return ErrInvalidRegistryIndex
	}
	rec.Revived = true
	r.deployed[contractID] = rec
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.PutContract(contractID, raw)
}

// IncrementCallCounter bumps contractID's call count and returns the
// new value.
func (r *ContractRegistry) IncrementCallCounter(contractID [32]byte) (uint64, error) {
	r.mu.Lock()
	rec, ok := r.deployed[contractID]
	r.mu.Unlock()
	if !ok {
		return 0, ErrInvalidRegistryIndex
	}
	return r.store.IncrementCallCounter(rec.Index)
}

// StateHolder is one per-contract key/value sub-tree (spec.md §6:
// "one sub-tree per contract id, arbitrary byte keys and values").
type StateHolder struct {
	store *store.Store
}

// NewStateHolder opens a state holder backed by s.
func NewStateHolder(s *store.Store) *StateHolder { return &StateHolder{store: s} }

// Get reads key from contractID's state sub-tree.
func (h *StateHolder) Get(contractID [32]byte, key []byte) ([]byte, error) {
	return h.store.GetState(contractID, key)
}

// Put writes key/value into contractID's state sub-tree.
func (h *StateHolder) Put(contractID [32]byte, key, value []byte) error {
	return h.store.PutState(contractID, key, value)
}
