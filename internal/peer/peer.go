// Package peer models a remote participant (a user client or a fellow
// operator) as a capability rather than a concrete network object, per
// spec.md §9: "Peers are modelled as capabilities (interface with
// request_*/deliver_* operations) ... the core accepts any transport
// satisfying that capability set." internal/coordinator depends only on
// the Capability interface; WSPeer (ws.go) is one concrete transport.
//
// Grounded on the teacher's internal/node/message_sender.go (per-peer
// request/response correlation, context-based deadlines) generalized
// from a fixed swap-message catalogue to the capability set spec.md §6
// names.
package peer

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrTimeout       = errors.New("peer: request timed out")
	ErrConnClosed    = errors.New("peer: connection closed")
	ErrUnknownPeer   = errors.New("peer: no such peer registered")
	ErrAlreadyExists = errors.New("peer: peer already registered")
)

// Capability is the set of request/deliver operations spec.md §6 names.
// Every method is non-blocking from the caller's scheduling point of
// view: it suspends only at network I/O, honors ctx cancellation, and on
// expiry/cancellation must not leave any shared coordinator state
// half-written (§5).
type Capability interface {
	// Ping is a liveness check.
	Ping(ctx context.Context) error

	// RequestVSEKeymap asks the peer to produce its VSE keymap for the
	// given setup request payload, returning the peer's authenticated
	// keymap encoding.
	RequestVSEKeymap(ctx context.Context, payload []byte) ([]byte, error)

	// DeliverVSESetup pushes a completed VSE setup to the peer.
	DeliverVSESetup(ctx context.Context, payload []byte) error

	// RetrieveVSESetup asks the peer for a VSE setup it holds.
	RetrieveVSESetup(ctx context.Context, payload []byte) ([]byte, error)

	// RequestDKGPackages asks the peer for count fresh DKG packages
	// against the setup at setupHeight, per
	// wire.EncodeRequestDKGPackagesPayload's authoritative encoding.
	RequestDKGPackages(ctx context.Context, setupHeight, count uint64) ([]byte, error)

	// DeliverDKGSessions pushes completed DKG sessions to the peer.
	DeliverDKGSessions(ctx context.Context, payload []byte) error

	// RequestOpCov sends an OpCov packet to an operator peer and awaits
	// its bundled OpCovAck of NOIST partial signatures.
	RequestOpCov(ctx context.Context, payload []byte) ([]byte, error)

	// RequestCommit sends a user's authenticated Commit and awaits the
	// coordinator's CommitAck (or a Nack encoded in the same payload).
	RequestCommit(ctx context.Context, payload []byte) ([]byte, error)

	// RequestUphold sends a user's partial signatures and awaits the
	// coordinator's UpholdAck.
	RequestUphold(ctx context.Context, payload []byte) ([]byte, error)

	// RequestPartialSigs asks a peer to produce partial signatures for
	// the MuSig/NOIST contexts described in payload.
	RequestPartialSigs(ctx context.Context, payload []byte) ([]byte, error)

	// Close releases any underlying transport resources.
	Close() error
}

// Manager owns the process-wide set of connected peer handles, guarded
// by one mutex per §5's "Peer Manager" entry in the global lock
// ordering.
type Manager struct {
	mu    sync.Mutex
	peers map[string]Capability
}

// NewManager creates an empty peer set.
func NewManager() *Manager {
	return &Manager{peers: make(map[string]Capability)}
}

// Register adds a peer under id, failing if one is already registered.
func (m *Manager) Register(id string, cap Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.peers[id]; exists {
		return ErrAlreadyExists
	}
	m.peers[id] = cap
	return nil
}

// Unregister removes and closes the peer at id, if present.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	cap, ok := m.peers[id]
	if ok {
		delete(m.peers, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return cap.Close()
}

// Get returns the peer registered under id.
func (m *Manager) Get(id string) (Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cap, ok := m.peers[id]
	if !ok {
		return nil, ErrUnknownPeer
	}
	return cap, nil
}

// IDs returns every currently registered peer id.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// Broadcast concurrently requests partial signatures from every
// registered operator peer, returning the per-peer payload or error
// keyed by peer id. Used for the OpCov fan-out in §4.8.
func Broadcast(ctx context.Context, m *Manager, payload []byte, fn func(Capability, context.Context, []byte) ([]byte, error)) map[string]Result {
	ids := m.IDs()
	results := make(map[string]Result, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		cap, err := m.Get(id)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := fn(cap, ctx, payload)
			mu.Lock()
			results[id] = Result{Payload: out, Err: err}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Result is one peer's response to a Broadcast call.
type Result struct {
	Payload []byte
	Err     error
}
