package noist

import (
	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/musig"
)

// PickSigningSession draws the lowest-indexed available nonce session
// out of dir, binds it to dir's key session and message, and
// optionally consumes (removes) that nonce session so it can never be
// reused. Lives here rather than in internal/dkg so dkg need not import
// noist.
//
// Grounded on
// _examples/original_source/src/transmutive/noist/dkg/directory.rs's
// pick_signing_session, which always removes the chosen nonce session
// once a NOIST context has been built from it ("toxic waste").
func PickSigningSession(dir *dkg.Directory, message [32]byte, musigCtx *musig.Session, toxic bool) (*SessionCtx, error) {
	if dir.KeySession == nil {
		return nil, dkg.ErrKeySessionMissing
	}
	idx, ok := dir.PickIndex()
	if !ok {
		return nil, dkg.ErrNoSuchSession
	}
	nonceSession, err := dir.NonceSession(idx)
	if err != nil {
		return nil, err
	}

	ctx, err := NewSessionCtx(dir.KeySession, nonceSession, message, musigCtx)
	if err != nil {
		return nil, err
	}

	if toxic {
		if err := dir.RemoveSession(idx); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}
