// Package store persists the coordinator's durable state to SQLite: DKG
// directories and sessions, account/contract registries and their call
// counters, per-contract state trees, VSE setups, and the blacklist. Per
// spec.md §5
// ("Persistence. State writes occur only at session Finalize..."), the
// coordinator only calls into this package at a session's Finalize
// stage; everything before that lives in memory and is rolled back on
// failure without ever reaching here.
//
// Grounded on the teacher's internal/storage/storage.go: a single
// *sql.DB opened against one file with WAL journaling and a one-writer
// connection pool, wrapped in a mutex-guarded Storage type whose
// initSchema creates every table with CREATE TABLE IF NOT EXISTS.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("store: no such record")

// Config holds the store's on-disk location.
type Config struct {
	DataDir string
}

// Store is the coordinator's SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates (or reuses) the SQLite database under cfg.DataDir and
// ensures its schema exists.
func Open(cfg Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "rollup.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	schema := `
	-- DKG directories: one row per setup height, tracking the current
	-- max nonce session index (the "nonce-height slot" of spec.md §6).
	CREATE TABLE IF NOT EXISTS dkg_directories (
		setup_height INTEGER PRIMARY KEY,
		nonce_height INTEGER NOT NULL DEFAULT 0
	);

	-- DKG sessions, keyed within a directory by session index (0 is the
	-- key session, >=1 are disposable nonce sessions).
	CREATE TABLE IF NOT EXISTS dkg_sessions (
		setup_height INTEGER NOT NULL,
		session_index INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (setup_height, session_index)
	);

	-- VSE setups, one per epoch height.
	CREATE TABLE IF NOT EXISTS vse_setups (
		height INTEGER PRIMARY KEY,
		data BLOB NOT NULL
	);

	-- Account registry: id -> serialized record.
	CREATE TABLE IF NOT EXISTS account_registry (
		account_id TEXT PRIMARY KEY,
		record BLOB NOT NULL
	);

	-- Contract registry: id -> serialized record, plus a parallel
	-- per-contract call counter keyed by its u32 registry index.
	CREATE TABLE IF NOT EXISTS contract_registry (
		contract_id TEXT PRIMARY KEY,
		record BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contract_call_counters (
		contract_index INTEGER PRIMARY KEY,
		counter INTEGER NOT NULL DEFAULT 0
	);

	-- Account call counters: one row per account's u32 registry index,
	-- the tally account ranking sorts on.
	CREATE TABLE IF NOT EXISTS account_call_counters (
		account_index INTEGER PRIMARY KEY,
		counter INTEGER NOT NULL DEFAULT 0
	);

	-- Contract state: one sub-tree per contract id, arbitrary byte
	-- keys and values.
	CREATE TABLE IF NOT EXISTS contract_state (
		contract_id TEXT NOT NULL,
		key BLOB NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (contract_id, key)
	);

	-- Blacklist: account x-only key -> expiry unix timestamp.
	CREATE TABLE IF NOT EXISTS blacklist (
		account_key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// --- DKG directories/sessions -----------------------------------------

// PutSession upserts one DKG session's serialized bytes and, if index
// exceeds the directory's recorded nonce height, advances it.
func (s *Store) PutSession(setupHeight, index uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO dkg_sessions (setup_height, session_index, data) VALUES (?, ?, ?)
		 ON CONFLICT(setup_height, session_index) DO UPDATE SET data = excluded.data`,
		setupHeight, index, data); err != nil {
		return err
	}
	if index > 0 {
		if _, err := tx.Exec(
			`INSERT INTO dkg_directories (setup_height, nonce_height) VALUES (?, ?)
			 ON CONFLICT(setup_height) DO UPDATE SET nonce_height = MAX(nonce_height, excluded.nonce_height)`,
			setupHeight, index); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(
			`INSERT INTO dkg_directories (setup_height, nonce_height) VALUES (?, 0)
			 ON CONFLICT(setup_height) DO NOTHING`,
			setupHeight); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSession retrieves one DKG session's serialized bytes.
func (s *Store) GetSession(setupHeight, index uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM dkg_sessions WHERE setup_height = ? AND session_index = ?`,
		setupHeight, index).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// DeleteSession removes one nonce session (toxic-waste consumption).
func (s *Store) DeleteSession(setupHeight, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`DELETE FROM dkg_sessions WHERE setup_height = ? AND session_index = ?`,
		setupHeight, index)
	return err
}

// NonceHeight returns the current max nonce session index recorded for
// a directory.
func (s *Store) NonceHeight(setupHeight uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var h uint64
	err := s.db.QueryRow(
		`SELECT nonce_height FROM dkg_directories WHERE setup_height = ?`, setupHeight).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return h, err
}

// SessionIndices lists every session index persisted for a directory.
func (s *Store) SessionIndices(setupHeight uint64) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT session_index FROM dkg_sessions WHERE setup_height = ? ORDER BY session_index`, setupHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var idx uint64
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// --- VSE setups ----------------------------------------------------------

// PutSetup upserts one VSE setup's serialized bytes.
func (s *Store) PutSetup(height uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO vse_setups (height, data) VALUES (?, ?)
		 ON CONFLICT(height) DO UPDATE SET data = excluded.data`, height, data)
	return err
}

// GetSetup retrieves one VSE setup's serialized bytes.
func (s *Store) GetSetup(height uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM vse_setups WHERE height = ?`, height).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// --- Account / contract registries ---------------------------------------

// PutAccount upserts an account registry record keyed by its x-only key.
func (s *Store) PutAccount(accountKey [32]byte, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO account_registry (account_id, record) VALUES (?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET record = excluded.record`,
		hex.EncodeToString(accountKey[:]), record)
	return err
}

// GetAccount retrieves an account registry record.
func (s *Store) GetAccount(accountKey [32]byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var record []byte
	err := s.db.QueryRow(
		`SELECT record FROM account_registry WHERE account_id = ?`,
		hex.EncodeToString(accountKey[:])).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// PutContract upserts a contract registry record keyed by its id.
func (s *Store) PutContract(contractID [32]byte, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO contract_registry (contract_id, record) VALUES (?, ?)
		 ON CONFLICT(contract_id) DO UPDATE SET record = excluded.record`,
		hex.EncodeToString(contractID[:]), record)
	return err
}

// GetContract retrieves a contract registry record.
func (s *Store) GetContract(contractID [32]byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var record []byte
	err := s.db.QueryRow(
		`SELECT record FROM contract_registry WHERE contract_id = ?`,
		hex.EncodeToString(contractID[:])).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// IncrementCallCounter atomically bumps and returns a contract's call
// counter, keyed by its u32 registry index.
func (s *Store) IncrementCallCounter(contractIndex uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO contract_call_counters (contract_index, counter) VALUES (?, 1)
		 ON CONFLICT(contract_index) DO UPDATE SET counter = counter + 1`,
		contractIndex); err != nil {
		return 0, err
	}
	var counter uint64
	if err := tx.QueryRow(
		`SELECT counter FROM contract_call_counters WHERE contract_index = ?`,
		contractIndex).Scan(&counter); err != nil {
		return 0, err
	}
	return counter, tx.Commit()
}

// IncrementAccountCallCounter atomically bumps and returns an account's
// call counter, keyed by its u32 registry index.
func (s *Store) IncrementAccountCallCounter(accountIndex uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO account_call_counters (account_index, counter) VALUES (?, 1)
		 ON CONFLICT(account_index) DO UPDATE SET counter = counter + 1`,
		accountIndex); err != nil {
		return 0, err
	}
	var counter uint64
	if err := tx.QueryRow(
		`SELECT counter FROM account_call_counters WHERE account_index = ?`,
		accountIndex).Scan(&counter); err != nil {
		return 0, err
	}
	return counter, tx.Commit()
}

// --- Contract state sub-trees ---------------------------------------------

// PutState writes one key/value pair into a contract's state sub-tree.
func (s *Store) PutState(contractID [32]byte, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO contract_state (contract_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(contract_id, key) DO UPDATE SET value = excluded.value`,
		hex.EncodeToString(contractID[:]), key, value)
	return err
}

// GetState reads one key from a contract's state sub-tree.
func (s *Store) GetState(contractID [32]byte, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM contract_state WHERE contract_id = ? AND key = ?`,
		hex.EncodeToString(contractID[:]), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// --- Blacklist -------------------------------------------------------------

// PutBlacklist records accountKey as blacklisted until expiresAt.
func (s *Store) PutBlacklist(accountKey [32]byte, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO blacklist (account_key, expires_at) VALUES (?, ?)
		 ON CONFLICT(account_key) DO UPDATE SET expires_at = excluded.expires_at`,
		hex.EncodeToString(accountKey[:]), expiresAt)
	return err
}

// BlacklistExpiry returns the blacklist expiry for accountKey, or
// ErrNotFound if it is not blacklisted.
func (s *Store) BlacklistExpiry(accountKey [32]byte) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT expires_at FROM blacklist WHERE account_key = ?`,
		hex.EncodeToString(accountKey[:])).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return expiresAt, err
}
