// services/match_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"rps-match-service/models"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var wagerPattern = regexp.MustCompile(`^\d+$`)

// Column bounds of the matches table.
const (
	maxWalletLen   = 128
	maxWagerDigits = 78
)

// MatchConfig holds the phase windows and store retry budget.
type MatchConfig struct {
	CommitWindow time.Duration
	RevealWindow time.Duration
	MaxAttempts  int
	CacheSize    int
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		CommitWindow: 60 * time.Second,
		RevealWindow: 60 * time.Second,
		MaxAttempts:  5,
		CacheSize:    1024,
	}
}

// Request payloads. MatchID comes from the route, never from the body.
type CreateRequest struct {
	Wallet string `json:"wallet"`
	Wager  string `json:"wager"`
}

type JoinRequest struct {
	MatchID string `json:"-"`
	Wallet  string `json:"wallet"`
}

type CommitRequest struct {
	MatchID string `json:"-"`
	Wallet  string `json:"wallet"`
	Commit  string `json:"commit"`
}

type RevealRequest struct {
	MatchID string `json:"-"`
	Wallet  string `json:"wallet"`
	Choice  string `json:"choice"`
	Salt    string `json:"salt"`
}

// MatchService is the match state machine. Every action reads the current
// snapshot, computes the next one, and writes it with a compare-and-set;
// events go out only after the write commits.
type MatchService struct {
	store    MatchStore
	notifier Notifier
	clock    quartz.Clock
	cfg      MatchConfig
	logger   *log.Logger
	metrics  *Metrics
	cache    *lru.Cache // terminal matches only; they never change again
	newID    func() string
}

type Option func(*MatchService)

func WithConfig(cfg MatchConfig) Option {
	return func(s *MatchService) { s.cfg = cfg }
}

func WithMetrics(m *Metrics) Option {
	return func(s *MatchService) { s.metrics = m }
}

// WithIDGenerator replaces uuid generation, for deterministic tests. fn must
// return canonical UUID strings; anything else is never found again.
func WithIDGenerator(fn func() string) Option {
	return func(s *MatchService) { s.newID = fn }
}

func NewMatchService(store MatchStore, notifier Notifier, clock quartz.Clock, logger *log.Logger, opts ...Option) *MatchService {
	s := &MatchService{
		store:    store,
		notifier: notifier,
		clock:    clock,
		cfg:      DefaultMatchConfig(),
		logger:   logger.WithPrefix("match"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxAttempts < 1 {
		s.cfg.MaxAttempts = 1
	}
	if s.cfg.CacheSize > 0 {
		cache, err := lru.New(s.cfg.CacheSize)
		if err != nil {
			s.logger.Warn("Read cache disabled", "error", err)
		} else {
			s.cache = cache
		}
	}
	return s
}

// transition is the outcome of a validated step: the snapshot to write, the
// audit row to append with it, the events to publish afterwards, and an
// error to hand back once the write has committed (deadline expiry).
type transition struct {
	next   *models.Match
	audit  *models.AuditLog
	events []models.Event
	fail   error
}

// stepFunc validates an action against cur (a private copy) and returns the
// transition, or an error if nothing should be written. A nil transition
// with a nil error means there is nothing to do.
type stepFunc func(cur *models.Match, now time.Time) (*transition, error)

// Create opens a match waiting for an opponent.
func (s *MatchService) Create(ctx context.Context, req CreateRequest) (m *models.Match, err error) {
	defer s.observe("create", time.Now(), &err)

	if req.Wallet == "" {
		return nil, validationError("wallet is required")
	}
	if err := checkWallet(req.Wallet); err != nil {
		return nil, err
	}
	if !wagerPattern.MatchString(req.Wager) {
		return nil, validationError("wager must be a non-negative integer")
	}
	if len(req.Wager) > maxWagerDigits {
		return nil, validationError("wager must have at most %d digits", maxWagerDigits)
	}
	wager, err := decimal.NewFromString(req.Wager)
	if err != nil {
		return nil, validationError("wager must be a non-negative integer")
	}

	now := s.clock.Now()
	m = &models.Match{
		ID:      s.newID(),
		Status:  models.StatusWaitingForPlayers,
		PlayerA: req.Wallet,
		Wager:   wager,
	}
	audit := auditRow(m.ID, models.AuditCreate, req.Wallet, map[string]any{
		"wallet": req.Wallet,
		"wager":  req.Wager,
	})
	if err := s.store.Create(ctx, m, audit); err != nil {
		s.logger.Error("Failed to create match", "wallet", req.Wallet, "error", err)
		return nil, err
	}

	s.logger.Info("Match created", "match", m.ID, "wallet", req.Wallet, "wager", m.Wager.String())
	s.publish(ctx, []models.Event{{
		Type:      models.EventMatchCreated,
		MatchID:   m.ID,
		Status:    m.Status,
		Timestamp: now,
	}})
	return m, nil
}

// Join seats the second player and opens the commit window.
func (s *MatchService) Join(ctx context.Context, req JoinRequest) (m *models.Match, err error) {
	defer s.observe("join", time.Now(), &err)

	if req.MatchID == "" || req.Wallet == "" {
		return nil, validationError("match id and wallet are required")
	}
	if err := checkWallet(req.Wallet); err != nil {
		return nil, err
	}

	return s.apply(ctx, req.MatchID, func(cur *models.Match, now time.Time) (*transition, error) {
		if cur.PlayerB != nil {
			return nil, ErrAlreadyJoined
		}
		if cur.Status != models.StatusWaitingForPlayers {
			return nil, ErrWrongPhase
		}
		if cur.PlayerA == req.Wallet {
			return nil, ErrCannotJoinOwn
		}

		wallet := req.Wallet
		deadline := now.Add(s.cfg.CommitWindow)
		cur.PlayerB = &wallet
		cur.Status = models.StatusCommitPhase
		cur.CommitDeadline = &deadline

		s.logger.Info("Match joined", "match", cur.ID, "wallet", wallet, "commitDeadline", deadline)
		return &transition{
			next:  cur,
			audit: auditRow(cur.ID, models.AuditJoin, wallet, map[string]any{"wallet": wallet}),
			events: []models.Event{{
				Type:      models.EventMatchJoined,
				MatchID:   cur.ID,
				Status:    cur.Status,
				Wallet:    wallet,
				Timestamp: now,
			}},
		}, nil
	})
}

// Commit stores a player's digest. The second commit opens the reveal window.
func (s *MatchService) Commit(ctx context.Context, req CommitRequest) (m *models.Match, err error) {
	defer s.observe("commit", time.Now(), &err)

	if req.MatchID == "" || req.Wallet == "" || req.Commit == "" {
		return nil, validationError("match id, wallet and commit are required")
	}
	if err := checkWallet(req.Wallet); err != nil {
		return nil, err
	}

	return s.apply(ctx, req.MatchID, func(cur *models.Match, now time.Time) (*transition, error) {
		if cur.Status != models.StatusCommitPhase {
			return nil, ErrWrongPhase
		}
		if deadlineElapsed(cur, now) {
			return s.cancelTransition(cur, now, req.Wallet), nil
		}
		side := cur.SideOf(req.Wallet)
		if side == models.SideNone {
			return nil, ErrNotAPlayer
		}
		slot := cur.CommitSlot(side)
		if *slot != nil {
			return nil, ErrAlreadyCommitted
		}

		digest := req.Commit
		*slot = &digest
		events := []models.Event{{
			Type:      models.EventMatchCommitted,
			MatchID:   cur.ID,
			Status:    cur.Status,
			Wallet:    req.Wallet,
			Timestamp: now,
		}}

		if *cur.CommitSlot(opposite(side)) != nil {
			deadline := now.Add(s.cfg.RevealWindow)
			cur.Status = models.StatusRevealPhase
			cur.RevealDeadline = &deadline
			events = append(events, models.Event{
				Type:      models.EventMatchUpdated,
				MatchID:   cur.ID,
				Status:    cur.Status,
				Timestamp: now,
			})
			s.logger.Info("Both commits in, reveal phase open", "match", cur.ID, "revealDeadline", deadline)
		}

		return &transition{
			next: cur,
			audit: auditRow(cur.ID, models.AuditCommit, req.Wallet, map[string]any{
				"wallet": req.Wallet,
				"commit": digest,
			}),
			events: events,
		}, nil
	})
}

// Reveal checks a choice and salt against the stored digest. A mismatch
// rejects only this request; the player may retry before the deadline.
func (s *MatchService) Reveal(ctx context.Context, req RevealRequest) (m *models.Match, err error) {
	defer s.observe("reveal", time.Now(), &err)

	if req.MatchID == "" || req.Wallet == "" || req.Salt == "" {
		return nil, validationError("match id, wallet and salt are required")
	}
	if err := checkWallet(req.Wallet); err != nil {
		return nil, err
	}
	choice, err := models.ParseChoice(req.Choice)
	if err != nil {
		return nil, validationError("%s", err.Error())
	}

	return s.apply(ctx, req.MatchID, func(cur *models.Match, now time.Time) (*transition, error) {
		if cur.Status != models.StatusRevealPhase {
			return nil, ErrWrongPhase
		}
		if deadlineElapsed(cur, now) {
			return s.cancelTransition(cur, now, req.Wallet), nil
		}
		side := cur.SideOf(req.Wallet)
		if side == models.SideNone {
			return nil, ErrNotAPlayer
		}
		commit := *cur.CommitSlot(side)
		if commit == nil {
			return nil, ErrNoCommit
		}
		slot := cur.RevealSlot(side)
		if *slot != nil {
			return nil, ErrAlreadyRevealed
		}
		if !VerifyCommit(*commit, choice, req.Salt) {
			return nil, ErrInvalidReveal
		}

		*slot = models.ChoicePtr(choice)
		events := []models.Event{{
			Type:      models.EventMatchRevealed,
			MatchID:   cur.ID,
			Status:    cur.Status,
			Wallet:    req.Wallet,
			Choice:    models.ChoicePtr(choice),
			Timestamp: now,
		}}

		if cur.RevealA != nil && cur.RevealB != nil {
			cur.Status = models.StatusCompleted
			switch Resolve(*cur.RevealA, *cur.RevealB) {
			case WinnerA:
				cur.Winner = &cur.PlayerA
			case WinnerB:
				cur.Winner = cur.PlayerB
			case Draw:
				cur.Winner = nil
			}
			events = append(events, models.Event{
				Type:      models.EventMatchCompleted,
				MatchID:   cur.ID,
				Status:    cur.Status,
				Winner:    cur.Winner,
				Timestamp: now,
			})
			s.logger.Info("Match completed", "match", cur.ID,
				"choiceA", cur.RevealA.String(), "choiceB", cur.RevealB.String(), "winner", winnerLabel(cur.Winner))
		}

		return &transition{
			next: cur,
			audit: auditRow(cur.ID, models.AuditReveal, req.Wallet, map[string]any{
				"wallet": req.Wallet,
				"choice": choice.String(),
				"salt":   req.Salt,
				"commit": *commit,
			}),
			events: events,
		}, nil
	})
}

// Expire cancels the match if its current phase deadline has passed. It
// reports whether this call performed the cancellation.
func (s *MatchService) Expire(ctx context.Context, matchID string) (bool, error) {
	_, err := s.apply(ctx, matchID, func(cur *models.Match, now time.Time) (*transition, error) {
		if cur.Status != models.StatusCommitPhase && cur.Status != models.StatusRevealPhase {
			return nil, nil
		}
		if !deadlineElapsed(cur, now) {
			return nil, nil
		}
		return s.cancelTransition(cur, now, "system"), nil
	})
	if errors.Is(err, ErrDeadlinePassed) {
		return true, nil
	}
	return false, err
}

// SweepExpired cancels up to limit matches whose deadline has passed and
// returns how many it cancelled.
func (s *MatchService) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListExpired(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, id := range ids {
		expired, err := s.Expire(ctx, id)
		if err != nil {
			s.logger.Error("Failed to expire match", "match", id, "error", err)
			continue
		}
		if expired {
			cancelled++
		}
	}
	return cancelled, nil
}

// Get returns the current snapshot of a match.
func (s *MatchService) Get(ctx context.Context, matchID string) (*models.Match, error) {
	if matchID == "" {
		return nil, validationError("match id is required")
	}
	if !validMatchID(matchID) {
		return nil, ErrNotFound
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(matchID); ok {
			return v.(*models.Match).Clone(), nil
		}
	}
	m, err := s.store.Get(ctx, matchID)
	if errors.Is(err, ErrMatchNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.remember(m)
	return m, nil
}

// AuditTrail exposes the append-only action log for reconciliation.
func (s *MatchService) AuditTrail(ctx context.Context, matchID string) ([]models.AuditLog, error) {
	return s.store.AuditTrail(ctx, matchID)
}

// apply runs step under optimistic concurrency: a version conflict means
// another action won the race, so the snapshot is re-read and the step
// recomputed from scratch.
func (s *MatchService) apply(ctx context.Context, matchID string, step stepFunc) (*models.Match, error) {
	if !validMatchID(matchID) {
		return nil, ErrNotFound
	}
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		cur, err := s.store.Get(ctx, matchID)
		if errors.Is(err, ErrMatchNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			s.logger.Error("Failed to load match", "match", matchID, "error", err)
			return nil, err
		}

		t, err := step(cur.Clone(), s.clock.Now())
		if err != nil {
			return nil, err
		}
		if t == nil {
			return cur, nil
		}

		err = s.store.Update(ctx, t.next, cur.Version, t.audit)
		if errors.Is(err, ErrConflict) {
			s.metrics.IncRetry()
			s.logger.Debug("Version conflict, retrying", "match", matchID, "attempt", attempt)
			continue
		}
		if errors.Is(err, ErrMatchNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			s.logger.Error("Failed to write match", "match", matchID, "error", err)
			return nil, err
		}

		s.remember(t.next)
		s.publish(ctx, t.events)
		return t.next, t.fail
	}

	s.logger.Warn("Giving up after repeated conflicts", "match", matchID, "attempts", s.cfg.MaxAttempts)
	return nil, ErrStoreContention
}

func (s *MatchService) cancelTransition(cur *models.Match, now time.Time, actor string) *transition {
	phase := cur.Status
	deadline := phaseDeadline(cur)
	cur.Status = models.StatusCancelled

	s.logger.Info("Deadline elapsed, match cancelled", "match", cur.ID, "phase", phase, "deadline", *deadline)
	return &transition{
		next: cur,
		audit: auditRow(cur.ID, models.AuditCancel, actor, map[string]any{
			"reason":   "deadline_elapsed",
			"phase":    phase,
			"deadline": deadline.UTC().Format(time.RFC3339Nano),
		}),
		events: []models.Event{{
			Type:      models.EventMatchCancelled,
			MatchID:   cur.ID,
			Status:    cur.Status,
			Timestamp: now,
		}},
		fail: ErrDeadlinePassed,
	}
}

// publish never fails the action: the write has already committed.
func (s *MatchService) publish(ctx context.Context, events []models.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if err := s.notifier.Publish(ctx, ev); err != nil {
			s.metrics.IncPublishFailure()
			s.logger.Warn("Failed to publish event", "match", ev.MatchID, "type", ev.Type, "error", err)
		}
	}
}

func (s *MatchService) remember(m *models.Match) {
	if s.cache != nil && m.Status.Terminal() {
		s.cache.Add(m.ID, m.Clone())
	}
}

func (s *MatchService) observe(action string, start time.Time, err *error) {
	s.metrics.Observe(action, start, *err)
	if *err != nil {
		s.logger.Debug("Action rejected", "action", action, "code", ErrorCode(*err))
	}
}

// phaseDeadline returns the deadline governing the match's current phase.
// validMatchID reports whether id has the canonical 36-character UUID form
// every match id is created with. Other strings cannot name a match, and the
// uuid column would reject them with a driver error.
func validMatchID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func checkWallet(wallet string) error {
	if len(wallet) > maxWalletLen {
		return validationError("wallet must be at most %d characters", maxWalletLen)
	}
	return nil
}

func phaseDeadline(m *models.Match) *time.Time {
	switch m.Status {
	case models.StatusCommitPhase:
		return m.CommitDeadline
	case models.StatusRevealPhase:
		return m.RevealDeadline
	default:
		return nil
	}
}

func deadlineElapsed(m *models.Match, now time.Time) bool {
	d := phaseDeadline(m)
	return d != nil && now.After(*d)
}

func opposite(side models.Side) models.Side {
	if side == models.SideA {
		return models.SideB
	}
	return models.SideA
}

func auditRow(matchID string, action models.AuditAction, actor string, payload map[string]any) *models.AuditLog {
	raw, _ := json.Marshal(payload)
	return &models.AuditLog{
		MatchID: matchID,
		Action:  action,
		Actor:   actor,
		Payload: datatypes.JSON(raw),
	}
}

func winnerLabel(w *string) string {
	if w == nil {
		return "draw"
	}
	return *w
}
