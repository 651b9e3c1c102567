package coordinator

import (
	"testing"

	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/store"
)

func TestAccountRegistryRankAccounts(t *testing.T) {
	s, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	reg := NewAccountRegistry(s)
	loud, _ := newTestAccount(t)
	quiet, _ := newTestAccount(t)

	loudReg, err := reg.Register(loud)
	if err != nil {
		t.Fatalf("Register loud: %v", err)
	}
	quietReg, err := reg.Register(quiet)
	if err != nil {
		t.Fatalf("Register quiet: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := reg.IncrementCallCounter(loudReg.Key); err != nil {
			t.Fatalf("IncrementCallCounter loud: %v", err)
		}
	}
	if _, err := reg.IncrementCallCounter(quietReg.Key); err != nil {
		t.Fatalf("IncrementCallCounter quiet: %v", err)
	}

	if err := reg.RankAccounts(); err != nil {
		t.Fatalf("RankAccounts: %v", err)
	}

	gotLoud, ok := reg.Lookup(loud.Key)
	if !ok || gotLoud.Rank == nil || *gotLoud.Rank != 1 {
		t.Fatalf("expected loud account ranked #1, got %+v", gotLoud.Rank)
	}
	gotQuiet, ok := reg.Lookup(quiet.Key)
	if !ok || gotQuiet.Rank == nil || *gotQuiet.Rank != 2 {
		t.Fatalf("expected quiet account ranked #2, got %+v", gotQuiet.Rank)
	}
}

func TestContractRegistryDeployAssignsIndexAndIsIdempotent(t *testing.T) {
	s, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	reg := NewContractRegistry(s)
	var contractA, contractB [32]byte
	contractA[0] = 0xaa
	contractB[0] = 0xbb
	var payload [32]byte
	payload[0] = 0x01

	idxA, err := reg.Deploy(contractA, payload)
	if err != nil {
		t.Fatalf("Deploy A: %v", err)
	}
	idxB, err := reg.Deploy(contractB, payload)
	if err != nil {
		t.Fatalf("Deploy B: %v", err)
	}
	if idxA == idxB {
		t.Fatalf("expected distinct indices, got %d and %d", idxA, idxB)
	}

	again, err := reg.Deploy(contractA, payload)
	if err != nil {
		t.Fatalf("redeploy A: %v", err)
	}
	if again != idxA {
		t.Fatalf("expected redeploy to return the same index, got %d want %d", again, idxA)
	}

	rec, ok := reg.Lookup(contractA)
	if !ok || rec.Revived {
		t.Fatalf("expected contract A deployed and not revived")
	}
	if err := reg.Revive(contractA); err != nil {
		t.Fatalf("Revive: %v", err)
	}
	rec, ok = reg.Lookup(contractA)
	if !ok || !rec.Revived {
		t.Fatalf("expected contract A revived")
	}

	counter, err := reg.IncrementCallCounter(contractA)
	if err != nil {
		t.Fatalf("IncrementCallCounter: %v", err)
	}
	if counter != 1 {
		t.Fatalf("expected call counter 1, got %d", counter)
	}
}

func TestStateHolderGetPutRoundTrip(t *testing.T) {
	s, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	h := NewStateHolder(s)
	var contractID [32]byte
	contractID[0] = 0x42

	if err := h.Put(contractID, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := h.Get(contractID, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected 'v', got %q", got)
	}
}

func TestSessionFinalizeWiresRegistriesAndState(t *testing.T) {
	s, err := store.Open(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	accounts := NewAccountRegistry(s)
	contracts := NewContractRegistry(s)
	state := NewStateHolder(s)
	blacklist := NewBlacklist(s)
	allowance := NewEpochAllowance(100, 3600)

	session := NewSessionCtx(dkg.NewManager(), accounts, contracts, state, blacklist, allowance, Config{})

	account, _ := newTestAccount(t)
	var contractID, payloadHash [32]byte
	contractID[0] = 0x7a
	payloadHash[0] = 0x01

	entry := NewEntry(account,
		Deploy{ContractID: contractID, PayloadHash: payloadHash},
		Add{ContractID: contractID, Amount: 50},
		Sub{ContractID: contractID, Amount: 20},
		Call{ContractID: contractID, MethodIndex: 1},
	)
	commit := Commit{Account: account, Entry: entry}

	session.mu.Lock()
	session.stage = StageUpheld
	session.passedCommits = []Commit{commit}
	session.mu.Unlock()

	var persisted []Commit
	if err := session.Finalize(func(passed []Commit) error {
		persisted = passed
		return nil
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if session.Stage() != StageOff {
		t.Fatalf("expected StageOff after Finalize, got %v", session.Stage())
	}
	if len(persisted) != 1 {
		t.Fatalf("expected 1 persisted commit, got %d", len(persisted))
	}

	got, ok := accounts.Lookup(account.Key)
	if !ok || !got.IsRegistered() {
		t.Fatalf("expected account to be registered after Finalize")
	}

	if _, ok := contracts.Lookup(contractID); !ok {
		t.Fatalf("expected contract to be deployed after Finalize")
	}
	counter, err := contracts.IncrementCallCounter(contractID)
	if err != nil {
		t.Fatalf("IncrementCallCounter: %v", err)
	}
	if counter != 2 {
		t.Fatalf("expected call counter 2 (1 from Finalize's Call + this increment), got %d", counter)
	}

	balance, err := state.Get(contractID, stateKeyBalance)
	if err != nil {
		t.Fatalf("Get balance: %v", err)
	}
	if len(balance) != 8 {
		t.Fatalf("expected 8-byte balance, got %d bytes", len(balance))
	}
}
