// Package coordinator implements the rollup's session state machine
// (spec.md §4.8, "C3"): commit pool management, per-purpose MuSig+NOIST
// context construction, blame/blacklist policy, and the registries and
// state trees commits transition.
//
// Grounded on the teacher's internal/swap package (coordinator_types.go's
// Coordinator/ActiveSwap shape and coordinator_timeout.go's deadline-driven
// monitoring loop) and on _examples/original_source/src/constructive and
// src/inscriptive for the account/entry/registry domain model the teacher
// has no direct counterpart for.
package coordinator

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/klingon-exchange/brollup/internal/curve"
	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/musig"
	"github.com/klingon-exchange/brollup/internal/noist"
	"github.com/klingon-exchange/brollup/internal/store"
	"github.com/klingon-exchange/brollup/pkg/helpers"
)

// Stage is one of the session lifecycle's five states (spec.md §4.8).
type Stage int

const (
	StageOff Stage = iota
	StageOn
	StageLocked
	StageUpheld
	StageFinalized
)

func (s Stage) String() string {
	switch s {
	case StageOff:
		return "off"
	case StageOn:
		return "on"
	case StageLocked:
		return "locked"
	case StageUpheld:
		return "upheld"
	case StageFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

var (
	ErrWrongStage        = errors.New("coordinator: operation not valid in current stage")
	ErrNoSuchPurpose     = errors.New("coordinator: no MuSig context for that purpose")
	ErrNoSuchLift        = errors.New("coordinator: no MuSig context for that lift outpoint")
	ErrUnknownOperatorDir = errors.New("coordinator: operator key names no known DKG directory")
)

// Config holds the session's tunables (spec.md §4.8, §4.9).
type Config struct {
	// UpholdTimeout bounds the "await upheld" phase; on expiry blame is
	// recorded and the stage returns to On with a backoff.
	UpholdTimeout time.Duration
	// Backoff is measured from an upheld-timeout: the session returns to
	// On at once, and Open (Off -> On) is refused until Backoff has
	// passed since that timeout.
	Backoff time.Duration
}

// purposeCtx remembers the (dir_height, nonce_height, NOIST ctx, MuSig
// ctx) tuple spec.md §4.8's lock transition assembles per purpose.
type purposeCtx struct {
	DirHeight   uint64
	NonceHeight uint64
	Noist       *noist.SessionCtx
	Musig       *musig.Session
}

// SessionCtx is the coordinator's session state machine: one instance
// runs at a time (spec.md §5: "sessions are serialized by the single
// coordinator loop; no two sessions run concurrently").
type SessionCtx struct {
	mu sync.Mutex

	cfg Config

	dirs      *dkg.Manager
	accounts  *AccountRegistry
	contracts *ContractRegistry
	state     *StateHolder
	blacklist *Blacklist
	allowance AllowanceChecker

	stage Stage

	commitPool     map[[32]byte]curve.Authenticable[Commit]
	passedCommits  []Commit
	purposeCtxs    map[Purpose]*purposeCtx
	liftCtxs       map[[36]byte]*purposeCtx
	connectorCtxs  []*purposeCtx

	upholdDeadline time.Time
	reopenAt       time.Time
}

// NewSessionCtx builds an idle session bound to the shared registries,
// state tree, and directory manager.
func NewSessionCtx(dirs *dkg.Manager, accounts *AccountRegistry, contracts *ContractRegistry, state *StateHolder, blacklist *Blacklist, allowance AllowanceChecker, cfg Config) *SessionCtx {
	return &SessionCtx{
		cfg:         cfg,
		dirs:        dirs,
		accounts:    accounts,
		contracts:   contracts,
		state:       state,
		blacklist:   blacklist,
		allowance:   allowance,
		stage:       StageOff,
		commitPool:  make(map[[32]byte]curve.Authenticable[Commit]),
		purposeCtxs: make(map[Purpose]*purposeCtx),
		liftCtxs:    make(map[[36]byte]*purposeCtx),
	}
}

// Stage returns the session's current stage.
func (s *SessionCtx) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Open transitions Off -> On, clearing any leftover state from a prior
// session.
func (s *SessionCtx) Open(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageOff {
		return ErrWrongStage
	}
	if now.Before(s.reopenAt) {
		return ErrWrongStage
	}
	s.commitPool = make(map[[32]byte]curve.Authenticable[Commit])
	s.passedCommits = nil
	s.purposeCtxs = make(map[Purpose]*purposeCtx)
	s.liftCtxs = make(map[[36]byte]*purposeCtx)
	s.connectorCtxs = nil
	s.stage = StageOn
	return nil
}

// SubmitCommit validates and inserts an authenticated commit into the
// pool (spec.md §4.8 "Validation"). Returns a Nack describing the first
// rule that failed.
func (s *SessionCtx) SubmitCommit(auth curve.Authenticable[Commit], now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageOn {
		return Nack{Reason: NackSessionLocked}
	}

	// Rule 1: Schnorr authentication, embedded key matches account.
	if !auth.Authenticate() {
		return Nack{Reason: NackAuthErr}
	}
	commit := auth.Object
	if auth.Key != commit.Account.XOnly() {
		return Nack{Reason: NackAuthErr}
	}

	// Rule 2: not blacklisted, not already pooled.
	x := commit.Account.XOnly()
	if until, blocked := s.blacklist.IsBlacklisted(x, now); blocked {
		return Nack{Reason: NackBlacklistedUntil, RetryAfter: until}
	}
	if _, exists := s.commitPool[x]; exists {
		return Nack{Reason: NackOverlap}
	}

	// Rule 3: entry passes account-validation.
	if !commit.Entry.Validate() {
		return Nack{Reason: NackEntryInvalid}
	}

	// Rule 4: every lift prevout names a known operator directory and a
	// distinct, matching user key (Liftup.Validate already checked
	// operator != user key and non-zero outpoint).
	for _, lift := range commit.Entry.Liftups() {
		if lift.Outpoint == ([36]byte{}) {
			return Nack{Reason: NackMissingLiftOutpoint}
		}
		if !s.operatorDirExists(lift.OperatorKey) {
			return Nack{Reason: NackInvalidLiftOperatorKey}
		}
	}

	// Rule 5: allowance / rate-limit predicate.
	if !s.allowance.Allow(commit.Account, now) {
		return Nack{Reason: NackAllowance}
	}

	s.commitPool[x] = auth
	return nil
}

// operatorDirExists reports whether any directory this manager knows
// about has operatorKey as its group key.
func (s *SessionCtx) operatorDirExists(operatorKey curve.Point) bool {
	for _, h := range s.dirs.Heights() {
		dir, err := s.dirs.Directory(h)
		if err != nil {
			continue
		}
		gk, ok := dir.GroupKey()
		if ok && gk.Equal(operatorKey) {
			return true
		}
	}
	return false
}

// pruneAndOrder returns the surviving commits, pruned of anything that
// failed late-breaking re-checks and ordered by account x-only key: a
// deterministic comparator, stable on ties by construction since the
// key itself is the ranking value (spec.md §4.8 lock-transition rule 1,
// resolving the open question of a tie-break rule).
func (s *SessionCtx) pruneAndOrder(now int64) []curve.Authenticable[Commit] {
	out := make([]curve.Authenticable[Commit], 0, len(s.commitPool))
	for x, auth := range s.commitPool {
		if _, blocked := s.blacklist.IsBlacklisted(x, now); blocked {
			continue
		}
		out = append(out, auth)
	}
	sort.Slice(out, func(i, j int) bool {
		xi := out[i].Object.Account.XOnly()
		xj := out[j].Object.Account.XOnly()
		return helpers.CompareBytes(xi[:], xj[:]) < 0
	})
	return out
}

// Lock performs the §4.8 lock transition: prune/order the pool, then
// build one MuSig+NOIST context per active purpose, per lift outpoint,
// and per connector slot.
func (s *SessionCtx) Lock(now int64, messages PurposeMessages) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageOn {
		return ErrWrongStage
	}

	survivors := s.pruneAndOrder(now)
	s.passedCommits = make([]Commit, len(survivors))
	for i, a := range survivors {
		s.passedCommits[i] = a.Object
	}

	dir, ok := s.dirs.Latest()
	if !ok {
		return ErrUnknownOperatorDir
	}

	if err := s.buildPurpose(dir, PurposePayloadAuth, messages.PayloadAuth, func(c Commit) *musig.PublicNonce {
		n := c.PayloadAuthNonce
		return &n
	}); err != nil {
		return err
	}
	if hasNonce(s.passedCommits, func(c Commit) *musig.PublicNonce { return c.VTXOProjectorNonce }) {
		if err := s.buildPurpose(dir, PurposeVTXOProjector, messages.VTXOProjector, func(c Commit) *musig.PublicNonce { return c.VTXOProjectorNonce }); err != nil {
			return err
		}
	}
	if hasNonce(s.passedCommits, func(c Commit) *musig.PublicNonce { return c.ConnectorProjectorNonce }) {
		if err := s.buildPurpose(dir, PurposeConnectorProjector, messages.ConnectorProjector, func(c Commit) *musig.PublicNonce { return c.ConnectorProjectorNonce }); err != nil {
			return err
		}
	}
	if hasNonce(s.passedCommits, func(c Commit) *musig.PublicNonce { return c.ZKPContingentNonce }) {
		if err := s.buildPurpose(dir, PurposeZKPContingent, messages.ZKPContingent, func(c Commit) *musig.PublicNonce { return c.ZKPContingentNonce }); err != nil {
			return err
		}
	}

	for _, c := range s.passedCommits {
		for outpoint, nonce := range c.LiftNonces {
			lift := findLiftByOutpoint(c.Entry, outpoint)
			if lift == nil {
				continue
			}
			liftDir, err := s.directoryForKey(lift.OperatorKey)
			if err != nil {
				return err
			}
			msg := messages.Lift[outpoint]
			ctx, err := s.buildCtx(liftDir, msg, []curve.Point{c.Account.Key}, map[[32]byte]musig.PublicNonce{c.Account.XOnly(): nonce})
			if err != nil {
				return err
			}
			s.liftCtxs[outpoint] = ctx
		}
	}

	for i, msg := range messages.Connectors {
		users := make([]curve.Point, 0, len(s.passedCommits))
		nonces := make(map[[32]byte]musig.PublicNonce, len(s.passedCommits))
		for _, c := range s.passedCommits {
			if i < len(c.ConnectorNonces) {
				users = append(users, c.Account.Key)
				nonces[c.Account.XOnly()] = c.ConnectorNonces[i]
			}
		}
		if len(users) == 0 {
			continue
		}
		ctx, err := s.buildCtx(dir, msg, users, nonces)
		if err != nil {
			return err
		}
		s.connectorCtxs = append(s.connectorCtxs, ctx)
	}

	s.stage = StageLocked
	s.upholdDeadline = time.Unix(now, 0).Add(s.cfg.UpholdTimeout)
	return nil
}

// PurposeMessages carries the sighash each purpose's MuSig/NOIST
// context signs over, computed by the caller from the locked session's
// passed commits (building the actual payload-auth/projector/contingent
// transactions is outside this package's scope).
type PurposeMessages struct {
	PayloadAuth        [32]byte
	VTXOProjector      [32]byte
	ConnectorProjector [32]byte
	ZKPContingent      [32]byte
	Lift               map[[36]byte][32]byte
	Connectors         [][32]byte
}

func hasNonce(commits []Commit, pick func(Commit) *musig.PublicNonce) bool {
	for _, c := range commits {
		if pick(c) != nil {
			return true
		}
	}
	return false
}

func findLiftByOutpoint(e Entry, outpoint [36]byte) *Liftup {
	for _, l := range e.Liftups() {
		if l.Outpoint == outpoint {
			return &l
		}
	}
	return nil
}

func (s *SessionCtx) directoryForKey(operatorKey curve.Point) (*dkg.Directory, error) {
	for _, h := range s.dirs.Heights() {
		dir, err := s.dirs.Directory(h)
		if err != nil {
			continue
		}
		gk, ok := dir.GroupKey()
		if ok && gk.Equal(operatorKey) {
			return dir, nil
		}
	}
	return nil, ErrUnknownOperatorDir
}

func (s *SessionCtx) buildPurpose(dir *dkg.Directory, purpose Purpose, message [32]byte, pick func(Commit) *musig.PublicNonce) error {
	users := make([]curve.Point, 0, len(s.passedCommits))
	nonces := make(map[[32]byte]musig.PublicNonce, len(s.passedCommits))
	for _, c := range s.passedCommits {
		if n := pick(c); n != nil {
			users = append(users, c.Account.Key)
			nonces[c.Account.XOnly()] = *n
		}
	}
	if len(users) == 0 {
		return nil
	}
	ctx, err := s.buildCtx(dir, message, users, nonces)
	if err != nil {
		return err
	}
	s.purposeCtxs[purpose] = ctx
	return nil
}

// buildCtx is the shared lock-transition step (spec.md §4.8 rule 3):
// pick one fresh nonce session (toxic), aggregate the user keys plus
// the directory's group key into a MuSig context, insert every user's
// nonce plus the NOIST group's own nonce pair as the operator cosigner,
// then bind the sealed MuSig session to a NOIST context over the same
// nonce session.
func (s *SessionCtx) buildCtx(dir *dkg.Directory, message [32]byte, userKeys []curve.Point, userNonces map[[32]byte]musig.PublicNonce) (*purposeCtx, error) {
	idx, ok := dir.PickIndex()
	if !ok {
		return nil, dkg.ErrNoSuchSession
	}
	nonceSession, err := dir.NonceSession(idx)
	if err != nil {
		return nil, err
	}
	groupKey, ok := dir.GroupKey()
	if !ok {
		return nil, noist.ErrGroupKeyUnavailable
	}
	groupKeyX := groupKey.SerializeXOnly()
	hiding, ok := nonceSession.GroupCombinedHidingPoint()
	if !ok {
		return nil, noist.ErrGroupNonceUnavailable
	}
	postBinding, ok := nonceSession.GroupCombinedPostBindingPoint(&groupKeyX, &message)
	if !ok {
		return nil, noist.ErrGroupNonceUnavailable
	}

	keys := append(append([]curve.Point{}, userKeys...), groupKey)
	keyAggCtx, err := musig.NewKeyAggCtx(keys)
	if err != nil {
		return nil, err
	}
	musigSession := musig.NewSession(keyAggCtx, message)
	for _, uk := range userKeys {
		n := userNonces[uk.SerializeXOnly()]
		if err := musigSession.InsertNonce(uk, n.R1, n.R2); err != nil {
			return nil, err
		}
	}
	if err := musigSession.InsertNonce(groupKey, hiding, postBinding); err != nil {
		return nil, err
	}

	noistCtx, err := noist.NewSessionCtx(dir.KeySession, nonceSession, message, musigSession)
	if err != nil {
		return nil, err
	}
	if err := dir.RemoveSession(idx); err != nil {
		return nil, err
	}

	return &purposeCtx{DirHeight: dir.Setup.Height, NonceHeight: idx, Noist: noistCtx, Musig: musigSession}, nil
}

// CommitAck returns, once the session is Locked or Upheld, the
// per-purpose MuSig session contexts whose key set includes account.
// It does not return the account's entries, and per-lift and connector
// contexts are not included.
func (s *SessionCtx) CommitAck(account curve.Point) (map[Purpose]*musig.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageLocked && s.stage != StageUpheld {
		return nil, ErrWrongStage
	}
	out := make(map[Purpose]*musig.Session)
	for purpose, ctx := range s.purposeCtxs {
		if _, err := ctx.Musig.KeyAggCtx().KeyIndex(account); err == nil {
			out[purpose] = ctx.Musig
		}
	}
	return out, nil
}

// InsertOperatorPartials inserts one operator's NOIST partial signature
// (from an OpCovAck) into purpose's NOIST context, then injects the
// aggregated signature, once the threshold is met, as the operator
// cosigner's partial sig in the wrapping MuSig ctx (spec.md §4.8's
// set_operator_agg_sigs). Lift contexts are reached through
// InsertOperatorLiftPartial; connector contexts are not reached.
func (s *SessionCtx) InsertOperatorPartials(signatory curve.Point, purpose Purpose, sig curve.Scalar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageLocked {
		return ErrWrongStage
	}
	ctx, ok := s.purposeCtxs[purpose]
	if !ok {
		return ErrNoSuchPurpose
	}
	return s.insertOperatorPartial(ctx, signatory, sig)
}

// InsertOperatorLiftPartial is InsertOperatorPartials's analogue for a
// per-lift-prevout NOIST context.
func (s *SessionCtx) InsertOperatorLiftPartial(outpoint [36]byte, signatory curve.Point, sig curve.Scalar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageLocked {
		return ErrWrongStage
	}
	ctx, ok := s.liftCtxs[outpoint]
	if !ok {
		return ErrNoSuchLift
	}
	return s.insertOperatorPartial(ctx, signatory, sig)
}

func (s *SessionCtx) insertOperatorPartial(ctx *purposeCtx, signatory curve.Point, sig curve.Scalar) error {
	if err := ctx.Noist.InsertPartialSig(signatory, sig); err != nil {
		return err
	}
	if !ctx.Noist.IsThresholdMet() {
		return nil
	}
	agg, err := ctx.Noist.AggregatedSig()
	if err != nil {
		return err
	}
	operatorKey := ctx.Noist.GroupKey
	return ctx.Musig.InsertPartialSig(operatorKey, agg)
}

// Uphold inserts a user's partial signature for purpose into the
// session's MuSig context.
func (s *SessionCtx) Uphold(purpose Purpose, signatory curve.Point, sig curve.Scalar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageLocked {
		return ErrWrongStage
	}
	ctx, ok := s.purposeCtxs[purpose]
	if !ok {
		return ErrNoSuchPurpose
	}
	return ctx.Musig.InsertPartialSig(signatory, sig)
}

// UpholdLift is Uphold's analogue for a per-lift-prevout MuSig context.
func (s *SessionCtx) UpholdLift(outpoint [36]byte, signatory curve.Point, sig curve.Scalar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageLocked {
		return ErrWrongStage
	}
	ctx, ok := s.liftCtxs[outpoint]
	if !ok {
		return ErrNoSuchLift
	}
	return ctx.Musig.InsertPartialSig(signatory, sig)
}

// CheckUpheldGate re-evaluates the upheld gate (spec.md §4.8): met when
// every MuSig ctx's blame list is empty and every NOIST ctx has an
// aggregated signature. On timeout, blame is recorded to the blacklist
// and the stage returns to On with a backoff.
func (s *SessionCtx) CheckUpheldGate(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageLocked {
		return false, ErrWrongStage
	}

	if s.gateMet() {
		s.stage = StageUpheld
		return true, nil
	}

	if now.Before(s.upholdDeadline) {
		return false, nil
	}

	expiry := now.Add(24 * time.Hour).Unix()
	for _, key := range s.blameUnion() {
		_ = s.blacklist.Add(key, expiry)
	}
	s.stage = StageOn
	s.reopenAt = now.Add(s.cfg.Backoff)
	return false, Nack{Reason: NackTimeout}
}

func (s *SessionCtx) allMusigCtxs() []*musig.Session {
	out := make([]*musig.Session, 0, len(s.purposeCtxs)+len(s.liftCtxs)+len(s.connectorCtxs))
	for _, c := range s.purposeCtxs {
		out = append(out, c.Musig)
	}
	for _, c := range s.liftCtxs {
		out = append(out, c.Musig)
	}
	for _, c := range s.connectorCtxs {
		out = append(out, c.Musig)
	}
	return out
}

func (s *SessionCtx) allNoistCtxs() []*noist.SessionCtx {
	out := make([]*noist.SessionCtx, 0, len(s.purposeCtxs)+len(s.liftCtxs)+len(s.connectorCtxs))
	for _, c := range s.purposeCtxs {
		out = append(out, c.Noist)
	}
	for _, c := range s.liftCtxs {
		out = append(out, c.Noist)
	}
	for _, c := range s.connectorCtxs {
		out = append(out, c.Noist)
	}
	return out
}

func (s *SessionCtx) gateMet() bool {
	for _, m := range s.allMusigCtxs() {
		if len(m.BlameList()) != 0 {
			return false
		}
	}
	for _, n := range s.allNoistCtxs() {
		if !n.IsThresholdMet() {
			return false
		}
	}
	return true
}

func (s *SessionCtx) blameUnion() [][32]byte {
	seen := make(map[[32]byte]bool)
	var out [][32]byte
	for _, m := range s.allMusigCtxs() {
		for _, k := range m.BlameList() {
			x := k.SerializeXOnly()
			if !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		}
	}
	return out
}

// UpheldAck returns the per-purpose aggregate Schnorr signatures a
// given sender is owed: payload-auth (required), vtxo/connector/zkp
// (if present), every lift the sender owns, and every connector the
// sender signed.
func (s *SessionCtx) UpheldAck(sender curve.Point) (map[Purpose][64]byte, map[[36]byte][64]byte, [][64]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageUpheld {
		return nil, nil, nil, ErrWrongStage
	}

	purposeSigs := make(map[Purpose][64]byte)
	for purpose, ctx := range s.purposeCtxs {
		if _, err := ctx.Musig.KeyAggCtx().KeyIndex(sender); err != nil {
			continue
		}
		sig, err := ctx.Musig.FullAggSig()
		if err != nil {
			return nil, nil, nil, err
		}
		purposeSigs[purpose] = sig
	}

	liftSigs := make(map[[36]byte][64]byte)
	for outpoint, ctx := range s.liftCtxs {
		if _, err := ctx.Musig.KeyAggCtx().KeyIndex(sender); err != nil {
			continue
		}
		sig, err := ctx.Musig.FullAggSig()
		if err != nil {
			return nil, nil, nil, err
		}
		liftSigs[outpoint] = sig
	}

	var connectorSigs [][64]byte
	for _, ctx := range s.connectorCtxs {
		if _, err := ctx.Musig.KeyAggCtx().KeyIndex(sender); err != nil {
			continue
		}
		sig, err := ctx.Musig.FullAggSig()
		if err != nil {
			return nil, nil, nil, err
		}
		connectorSigs = append(connectorSigs, sig)
	}

	return purposeSigs, liftSigs, connectorSigs, nil
}

// Finalize commits the session's result and returns to Off. Per
// spec.md §5, this is the only point at which state writes occur: it
// registers and ranks every committing account, applies the passed
// commits' Deploy/Revive/Call/Add/Sub combinators to the contract
// registry and state tree, and then invokes persist, which the caller
// uses to write the passed commits themselves via internal/store,
// within this call's critical section. The session sits in
// StageFinalized for the duration of that work and only reaches Off
// once every write has succeeded; a failure at either step rolls the
// stage back to Upheld so Finalize can be retried.
func (s *SessionCtx) Finalize(persist func(passed []Commit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageUpheld {
		return ErrWrongStage
	}

	s.stage = StageFinalized

	if err := s.applyFinalize(); err != nil {
		s.stage = StageUpheld
		return err
	}
	if err := persist(s.passedCommits); err != nil {
		s.stage = StageUpheld
		return err
	}

	s.stage = StageOff
	return nil
}

// applyFinalize registers and ranks every account that committed this
// session and applies the contract-registry/state-tree effects of its
// Deploy, Revive, Call, Add, and Sub combinators. Grounded on
// original_source's update_registery/batch_update: register new
// accounts, bump each committer's call counter, then re-rank once over
// the whole batch.
func (s *SessionCtx) applyFinalize() error {
	for _, c := range s.passedCommits {
		account, ok := s.accounts.Lookup(c.Account.Key)
		if !ok {
			account = NewAccount(c.Account.Key)
		}
		registered, err := s.accounts.Register(account)
		if err != nil {
			return err
		}
		if _, err := s.accounts.IncrementCallCounter(registered.Key); err != nil {
			return err
		}

		for _, comb := range c.Entry.Combinators {
			switch v := comb.(type) {
			case Deploy:
				if _, err := s.contracts.Deploy(v.ContractID, v.PayloadHash); err != nil {
					return err
				}
			case Revive:
				if err := s.contracts.Revive(v.ContractID); err != nil {
					return err
				}
			case Call:
				if _, err := s.contracts.IncrementCallCounter(v.ContractID); err != nil {
					return err
				}
			case Add:
				if err := s.creditBalance(v.ContractID, v.Amount); err != nil {
					return err
				}
			case Sub:
				if err := s.debitBalance(v.ContractID, v.Amount); err != nil {
					return err
				}
			}
		}
	}
	return s.accounts.RankAccounts()
}

// stateKeyBalance is the fixed state-tree key Add/Sub credit and debit
// within a contract's per-contract sub-tree.
var stateKeyBalance = []byte("balance")

func (s *SessionCtx) creditBalance(contractID [32]byte, amount uint64) error {
	balance, err := s.contractBalance(contractID)
	if err != nil {
		return err
	}
	return s.putContractBalance(contractID, balance+amount)
}

func (s *SessionCtx) debitBalance(contractID [32]byte, amount uint64) error {
	balance, err := s.contractBalance(contractID)
	if err != nil {
		return err
	}
	if amount > balance {
		balance = 0
	} else {
		balance -= amount
	}
	return s.putContractBalance(contractID, balance)
}

func (s *SessionCtx) contractBalance(contractID [32]byte) (uint64, error) {
	raw, err := s.state.Get(contractID, stateKeyBalance)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *SessionCtx) putContractBalance(contractID [32]byte, balance uint64) error {
	b := be64(balance)
	return s.state.Put(contractID, stateKeyBalance, b[:])
}

// PassedCommits returns the commits carried through the current or most
// recently locked session.
func (s *SessionCtx) PassedCommits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Commit, len(s.passedCommits))
	copy(out, s.passedCommits)
	return out
}
