package dkg

import (
	"errors"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/vse"
)

var (
	ErrKeySessionMissing    = errors.New("dkg: directory has no key session yet")
	ErrKeySessionExists     = errors.New("dkg: directory already has a key session")
	ErrNonceSessionExists   = errors.New("dkg: duplicate nonce session index")
	ErrNonceBeforeKey       = errors.New("dkg: nonce session submitted before the key session")
	ErrNoSuchSession        = errors.New("dkg: no such session")
	ErrProtectedSession     = errors.New("dkg: the key session cannot be removed")
)

// Directory owns exactly one key session (index 0) and an ordered set
// of disposable nonce sessions, all validated against one VSE Setup.
type Directory struct {
	Setup         *vse.Setup
	KeySession    *Session
	NonceSessions map[uint64]*Session
	NonceHeight   uint64
}

// NewDirectory creates an empty directory bound to a VSE setup.
func NewDirectory(setup *vse.Setup) *Directory {
	return &Directory{Setup: setup, NonceSessions: make(map[uint64]*Session)}
}

// NewSessionToFill returns the index of the next session this directory
// needs filled: 0 if the key session is missing, else NonceHeight+1.
func (d *Directory) NewSessionToFill() uint64 {
	if d.KeySession == nil {
		return 0
	}
	return d.NonceHeight + 1
}

// InsertSessionFilled adopts a fully-populated session into the
// directory, rejecting duplicates and nonce sessions submitted before
// the key session exists.
func (d *Directory) InsertSessionFilled(session *Session) error {
	if session.Index == 0 {
		if d.KeySession != nil {
			return ErrKeySessionExists
		}
		d.KeySession = session
		return nil
	}
	if d.KeySession == nil {
		return ErrNonceBeforeKey
	}
	if _, exists := d.NonceSessions[session.Index]; exists {
		return ErrNonceSessionExists
	}
	d.NonceSessions[session.Index] = session
	if session.Index > d.NonceHeight {
		d.NonceHeight = session.Index
	}
	return nil
}

// PickIndex returns the smallest available nonce session index.
func (d *Directory) PickIndex() (uint64, bool) {
	var best uint64
	found := false
	for idx := range d.NonceSessions {
		if !found || idx < best {
			best = idx
			found = true
		}
	}
	return best, found
}

// RemoveSession deletes a nonce session from the directory (toxic-waste
// consumption). The key session (index 0) can never be removed.
func (d *Directory) RemoveSession(index uint64) error {
	if index == 0 {
		return ErrProtectedSession
	}
	if _, ok := d.NonceSessions[index]; !ok {
		return ErrNoSuchSession
	}
	delete(d.NonceSessions, index)
	return nil
}

// GroupKey returns the group's public key: the key session's combined
// hiding point plus its combined post-binding point (binding factors
// derived with no external group-key/message input, since the group
// key does not depend on either). Partial signing folds both the
// hiding and post-binding shares of the key session into the final
// signature, so the verification key must include both terms too.
func (d *Directory) GroupKey() (curve.Point, bool) {
	if d.KeySession == nil {
		return curve.Point{}, false
	}
	return d.KeySession.GroupCombinedFullPoint(nil, nil)
}

// NonceSession looks up a nonce session by index.
func (d *Directory) NonceSession(index uint64) (*Session, error) {
	s, ok := d.NonceSessions[index]
	if !ok {
		return nil, ErrNoSuchSession
	}
	return s, nil
}
