// Package config provides centralized configuration for the rollup
// coordinator. ALL protocol parameters (network, thresholds, timeouts,
// rate limits) MUST be defined here. No hardcoded values should exist
// elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Network Types
// =============================================================================

// NetworkType selects which Bitcoin-style network the rollup's Taproot
// outputs and wire protocol target.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// =============================================================================
// Signatory Roster Bounds
// =============================================================================

// MinSignatories is the smallest operator quorum this coordinator will
// accept a VSE setup for; below this a threshold signature carries no
// meaningful fault tolerance.
const MinSignatories = 3

// MaxSignatories bounds the roster size the DKG/NOIST machinery is sized
// for; above this, per-session Lagrange interpolation and group
// commitment hashing costs grow without a corresponding security benefit.
const MaxSignatories = 64

// =============================================================================
// Session Timeouts
// =============================================================================

// UpholdTimeout is how long a Locked session waits for every cosigner's
// partial signature (users and the operator quorum) before it blames the
// offenders, records them to the blacklist, and returns to On (§4.8,
// §4.9, §5 "Cancellation & timeouts").
const UpholdTimeout = 30 * time.Second

// CommitPhaseTimeout is the backoff cmd/rollupd passes as
// coordinator.Config.Backoff. Nothing forces a lock when it elapses:
// the On stage accepts commits until the session is locked.
const CommitPhaseTimeout = 10 * time.Second

// RequestDeadline is the default per-network-request deadline. No
// package reads it: internal/peer's requests take their deadline from
// the caller's context and fail with ErrTimeout when it expires.
const RequestDeadline = 5 * time.Second

// =============================================================================
// DKG Nonce Pool
// =============================================================================

// NonceRefillThreshold is the disposable-nonce-session floor for a
// directory's nonce pool. No background refill task exists and no
// package reads this constant; nonce sessions are added only when a
// caller inserts them.
const NonceRefillThreshold = 8

// NonceRefillBatchSize is the nonce-session count for one refill round.
// No package reads it.
const NonceRefillBatchSize = 32

// =============================================================================
// Commit Pool / Allowance
// =============================================================================

// AllowanceWindow is the epoch length over which an account's commit
// submissions are rate-limited (§4.8 rule 5).
const AllowanceWindow = time.Hour

// AllowancePerWindow is the maximum number of commits one account may
// submit within AllowanceWindow.
const AllowancePerWindow = 8

// DefaultBlacklistDuration is how long an account newly added to the
// blacklist (on upheld-timeout blame, §4.8/§4.9) stays excluded from new
// sessions absent an operator override.
const DefaultBlacklistDuration = 24 * time.Hour

// =============================================================================
// Purposes
// =============================================================================

// Purpose names one of the per-session MuSig/NOIST contexts a
// coordinator session builds, per spec.md §3/§4.8.
type Purpose string

const (
	PurposePayloadAuth        Purpose = "payload_auth"
	PurposeVTXOProjector      Purpose = "vtxo_projector"
	PurposeConnectorProjector Purpose = "connector_projector"
	PurposeZKPContingent      Purpose = "zkp_contingent"
	PurposeLiftPrevout        Purpose = "lift_prevout"
	PurposeConnector          Purpose = "connector"
)

// =============================================================================
// Wire Protocol Defaults
// =============================================================================

// DefaultListenAddr is the coordinator's default websocket listen
// address for the peer transport in internal/peer.
const DefaultListenAddr = "0.0.0.0:7417"

// MaxMessageBytes bounds a single wire frame's payload length, guarding
// against a peer claiming an unbounded payload_len in the frame header
// described in spec.md §6.
const MaxMessageBytes = 16 << 20

// =============================================================================
// File-backed Configuration
// =============================================================================

// RollupConfig is the on-disk configuration document for one coordinator
// node, loaded from YAML the way the teacher's node config loads its
// own settings file.
type RollupConfig struct {
	Network        NetworkType `yaml:"network"`
	DataDir        string      `yaml:"data_dir"`
	ListenAddr     string      `yaml:"listen_addr"`
	UpholdTimeout  time.Duration `yaml:"uphold_timeout"`
	MinSignatories int         `yaml:"min_signatories"`
}

// DefaultRollupConfig returns the built-in defaults, overridable by a
// loaded file.
func DefaultRollupConfig() *RollupConfig {
	return &RollupConfig{
		Network:        Testnet,
		DataDir:        "~/.brollup",
		ListenAddr:     DefaultListenAddr,
		UpholdTimeout:  UpholdTimeout,
		MinSignatories: MinSignatories,
	}
}

// LoadRollupConfig reads and parses a YAML configuration file, falling
// back to DefaultRollupConfig for any field the file omits.
func LoadRollupConfig(path string) (*RollupConfig, error) {
	cfg := DefaultRollupConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration's invariants.
func (c *RollupConfig) Validate() error {
	switch c.Network {
	case Mainnet, Testnet, Regtest:
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	if c.MinSignatories < MinSignatories {
		return fmt.Errorf("config: min_signatories must be >= %d", MinSignatories)
	}
	if c.UpholdTimeout <= 0 {
		return fmt.Errorf("config: uphold_timeout must be positive")
	}
	return nil
}
