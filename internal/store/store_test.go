package store

import "testing"

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDKGSessionPutGetDelete(t *testing.T) {
	s := openTest(t)

	if err := s.PutSession(7, 0, []byte("key-session")); err != nil {
		t.Fatalf("PutSession(key): %v", err)
	}
	if err := s.PutSession(7, 3, []byte("nonce-3")); err != nil {
		t.Fatalf("PutSession(nonce): %v", err)
	}

	got, err := s.GetSession(7, 3)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if string(got) != "nonce-3" {
		t.Errorf("got %q, want nonce-3", got)
	}

	h, err := s.NonceHeight(7)
	if err != nil {
		t.Fatalf("NonceHeight: %v", err)
	}
	if h != 3 {
		t.Errorf("NonceHeight = %d, want 3", h)
	}

	indices, err := s.SessionIndices(7)
	if err != nil {
		t.Fatalf("SessionIndices: %v", err)
	}
	if len(indices) != 2 || indices[0] != 0 || indices[1] != 3 {
		t.Errorf("SessionIndices = %v, want [0 3]", indices)
	}

	if err := s.DeleteSession(7, 3); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(7, 3); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestVSESetupPutGet(t *testing.T) {
	s := openTest(t)
	if _, err := s.GetSetup(1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutSetup(1, []byte("setup-bytes")); err != nil {
		t.Fatalf("PutSetup: %v", err)
	}
	got, err := s.GetSetup(1)
	if err != nil {
		t.Fatalf("GetSetup: %v", err)
	}
	if string(got) != "setup-bytes" {
		t.Errorf("got %q", got)
	}
}

func TestAccountAndContractRegistry(t *testing.T) {
	s := openTest(t)
	var accountKey, contractID [32]byte
	accountKey[0] = 0xaa
	contractID[0] = 0xbb

	if err := s.PutAccount(accountKey, []byte("account-record")); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}
	got, err := s.GetAccount(accountKey)
	if err != nil || string(got) != "account-record" {
		t.Fatalf("GetAccount = (%q, %v)", got, err)
	}

	if err := s.PutContract(contractID, []byte("contract-record")); err != nil {
		t.Fatalf("PutContract: %v", err)
	}
	gotC, err := s.GetContract(contractID)
	if err != nil || string(gotC) != "contract-record" {
		t.Fatalf("GetContract = (%q, %v)", gotC, err)
	}
}

func TestCallCounterIncrements(t *testing.T) {
	s := openTest(t)
	for want := uint64(1); want <= 3; want++ {
		got, err := s.IncrementCallCounter(5)
		if err != nil {
			t.Fatalf("IncrementCallCounter: %v", err)
		}
		if got != want {
			t.Errorf("counter = %d, want %d", got, want)
		}
	}
}

func TestContractStateSubTree(t *testing.T) {
	s := openTest(t)
	var contractID [32]byte
	contractID[0] = 0x01

	if _, err := s.GetState(contractID, []byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutState(contractID, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	got, err := s.GetState(contractID, []byte("k"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("GetState = (%q, %v)", got, err)
	}
	if err := s.PutState(contractID, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("PutState overwrite: %v", err)
	}
	got, _ = s.GetState(contractID, []byte("k"))
	if string(got) != "v2" {
		t.Errorf("GetState after overwrite = %q, want v2", got)
	}
}

func TestBlacklistPutAndExpiry(t *testing.T) {
	s := openTest(t)
	var accountKey [32]byte
	accountKey[0] = 0x42

	if _, err := s.BlacklistExpiry(accountKey); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutBlacklist(accountKey, 1234567890); err != nil {
		t.Fatalf("PutBlacklist: %v", err)
	}
	exp, err := s.BlacklistExpiry(accountKey)
	if err != nil || exp != 1234567890 {
		t.Fatalf("BlacklistExpiry = (%d, %v)", exp, err)
	}
}
