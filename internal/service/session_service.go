package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
	"github.com/sandeepkv93/secure-session-store/internal/observability"
	"github.com/sandeepkv93/secure-session-store/internal/repository"
	"github.com/sandeepkv93/secure-session-store/internal/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxCreateAttempts = 3

var ErrIdentityRequired = errors.New("identity is required")

type SessionService struct {
	repo       repository.SessionRepository
	identities repository.IdentityRepository
	index      IdentityIndex
	missing    MissingSessionCache
	missingTTL time.Duration
	policy     domain.TTLPolicy
	sid        *security.SIDGenerator
	logger     *slog.Logger
	now        func() time.Time

	reloadMu  sync.Mutex
	journalMu sync.Mutex
	journal   map[string]indexWrite
}

// indexWrite is the last hot-path index mutation for a session id during a reload.
type indexWrite struct {
	name    string
	removed bool
}

type SessionServiceOption func(*SessionService)

// WithClock replaces the wall clock used for timestamps and TTL checks.
func WithClock(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMissingSessionCache short-circuits lookups of ids that recently resolved to nothing.
func WithMissingSessionCache(cache MissingSessionCache, ttl time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		if cache != nil {
			s.missing = cache
			s.missingTTL = ttl
		}
	}
}

func NewSessionService(
	repo repository.SessionRepository,
	identities repository.IdentityRepository,
	index IdentityIndex,
	policy domain.TTLPolicy,
	sid *security.SIDGenerator,
	logger *slog.Logger,
	opts ...SessionServiceOption,
) *SessionService {
	if index == nil {
		index = NewNoopIdentityIndex()
	}
	if sid == nil {
		sid = security.NewSIDGenerator(0, false)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SessionService{
		repo:       repo,
		identities: identities,
		index:      index,
		missing:    NewNoopMissingSessionCache(),
		policy:     policy,
		sid:        sid,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionService) Policy() domain.TTLPolicy { return s.policy }

func (s *SessionService) IndexBackend() string { return s.index.Backend() }

// Create persists a new anonymous session holding data. Identifier collisions are retried.
func (s *SessionService) Create(ctx context.Context, data map[string]any) (*domain.Session, error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.create")
	defer span.End()

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id, err := s.sid.Generate()
		if err != nil {
			return nil, s.fail(ctx, span, "create", started, err)
		}
		sess := domain.NewSession(id, data, s.now())
		err = s.repo.Save(ctx, sess)
		if errors.Is(err, repository.ErrSessionConflict) {
			s.logger.Warn("session id collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, s.fail(ctx, span, "create", started, err)
		}
		if err := s.missing.Forget(ctx, id); err != nil {
			s.logger.Warn("missing session cache forget failed", "error", err)
		}
		span.SetAttributes(attribute.String("session.id", id))
		observability.RecordSessionOperation(ctx, "create", "success", started)
		return sess, nil
	}
	err := fmt.Errorf("create session after %d attempts: %w", maxCreateAttempts, repository.ErrSessionConflict)
	return nil, s.fail(ctx, span, "create", started, err)
}

// Get fetches the session, enforces its TTL and records the access, all in one transaction.
// Expired sessions are reported without being written.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.get", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	if id == "" {
		return nil, s.fail(ctx, span, "get", started, domain.SessionNotFound(id))
	}
	if missing, err := s.missing.IsMissing(ctx, id); err != nil {
		s.logger.Warn("missing session cache read failed", "error", err)
	} else if missing {
		return nil, s.fail(ctx, span, "get", started, domain.SessionNotFound(id))
	}

	var out *domain.Session
	err := s.repo.WithinTransaction(ctx, func(tx repository.SessionRepository) error {
		sess, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if at, ok := s.indexedAccess(ctx, id); ok && sess.AdoptAccess(at, now) {
			span.AddEvent("index access adopted")
		}
		if err := s.policy.Enforce(sess, now); err != nil {
			return err
		}
		ts := now.UnixMilli()
		if err := tx.UpdateLastAccess(ctx, id, ts); err != nil {
			return err
		}
		if ts > sess.LastAccessAt {
			sess.LastAccessAt = ts
		}
		out = sess
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.markMissing(ctx, id)
		}
		return nil, s.fail(ctx, span, "get", started, err)
	}
	observability.RecordSessionOperation(ctx, "get", "success", started)
	return out, nil
}

// Delete removes the session record and its index entry.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.delete", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	if err := s.repo.RemoveByID(ctx, id); err != nil {
		return s.fail(ctx, span, "delete", started, err)
	}
	s.removeFromIndex(ctx, id)
	s.markMissing(ctx, id)
	observability.RecordSessionOperation(ctx, "delete", "success", started)
	return nil
}

// Save bumps the access and update timestamps of sess and replaces the stored record.
func (s *SessionService) Save(ctx context.Context, sess *domain.Session) error {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.save", trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	sess.Touch(s.now())
	if err := s.repo.Replace(ctx, sess); err != nil {
		return s.fail(ctx, span, "save", started, err)
	}
	observability.RecordSessionOperation(ctx, "save", "success", started)
	return nil
}

// Destroy deletes sess and reports whether a record was removed. A missing record is not an error.
func (s *SessionService) Destroy(ctx context.Context, sess *domain.Session) (bool, error) {
	sess.Touch(s.now())
	err := s.Delete(ctx, sess.ID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetIdentity binds identity to sess and indexes the binding. The record itself is written by Save.
func (s *SessionService) SetIdentity(ctx context.Context, sess *domain.Session, identity *domain.Identity) {
	if identity == nil {
		s.ClearIdentity(ctx, sess)
		return
	}
	sess.BindIdentity(identity)
	s.noteIndexWrite(sess.ID, indexWrite{name: identity.DisplayName})
	if err := s.index.Upsert(ctx, sess.ID, identity.DisplayName); err != nil {
		observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "upsert", "error")
		s.logger.Warn("identity index upsert failed", "session_id", sess.ID, "error", err)
		return
	}
	observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "upsert", "success")
}

// ClearIdentity returns sess to the anonymous state and drops its index entry.
func (s *SessionService) ClearIdentity(ctx context.Context, sess *domain.Session) {
	sess.ClearIdentity()
	s.removeFromIndex(ctx, sess.ID)
}

// Login verifies the credentials of the named identity, binds it to sess and persists the record.
func (s *SessionService) Login(ctx context.Context, sess *domain.Session, displayName, password string) (*domain.Identity, error) {
	if s.identities == nil {
		return nil, ErrIdentityRequired
	}
	identity, err := s.identities.FindByDisplayName(ctx, displayName)
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, security.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := security.CheckPassword(identity.PasswordHash, password); err != nil {
		return nil, err
	}
	s.SetIdentity(ctx, sess, identity)
	if err := s.Save(ctx, sess); err != nil {
		s.removeFromIndex(ctx, sess.ID)
		return nil, err
	}
	return identity, nil
}

// Logout clears the identity binding of sess and persists the record.
func (s *SessionService) Logout(ctx context.Context, sess *domain.Session) error {
	s.ClearIdentity(ctx, sess)
	return s.Save(ctx, sess)
}

// Lookup resolves a session id to its identity name through the index alone.
func (s *SessionService) Lookup(ctx context.Context, id string) (string, bool, error) {
	name, ok, err := s.index.Lookup(ctx, id)
	observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "lookup", lookupOutcome(ok, err))
	return name, ok, err
}

// LoadIdentityIndex repopulates the index from persisted bindings. Failures are logged and
// swallowed so an unavailable index never blocks startup. The load may run while requests are
// served: entries changed after the bindings were listed are reconciled once the load completes.
func (s *SessionService) LoadIdentityIndex(ctx context.Context) int {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.startJournal()
	defer s.stopJournal()

	backend := s.index.Backend()
	bindings, err := s.repo.ListIdentityBindings(ctx)
	if err != nil {
		observability.RecordIdentityIndexOperation(ctx, backend, "load", "error")
		s.logger.Error("identity index load: list bindings failed", "backend", backend, "error", err)
		return 0
	}
	entries := make([]IndexEntry, 0, len(bindings))
	for _, b := range bindings {
		entries = append(entries, IndexEntry{SessionID: b.SessionID, IdentityName: b.IdentityName})
	}
	n, err := s.index.Load(ctx, entries)
	n -= s.reconcileLoaded(ctx, bindings)
	if n < 0 {
		n = 0
	}
	if err != nil {
		observability.RecordIdentityIndexOperation(ctx, backend, "load", "error")
		s.logger.Error("identity index load failed", "backend", backend, "loaded", n, "total", len(entries), "error", err)
	} else {
		observability.RecordIdentityIndexOperation(ctx, backend, "load", "success")
		s.logger.Info("identity index loaded", "backend", backend, "entries", n)
	}
	observability.RecordIdentityIndexLoaded(ctx, backend, n)
	return n
}

// reconcileLoaded corrects loaded entries that went stale during the load and returns how many
// were removed. Ids written on the hot path replay that write; the rest are checked against the
// durable record, which also catches deletes made by other processes sharing the index.
func (s *SessionService) reconcileLoaded(ctx context.Context, bindings []repository.IdentityBinding) int {
	removed := 0
	for _, b := range bindings {
		if ctx.Err() != nil {
			return removed
		}
		if w, ok := s.journaled(b.SessionID); ok {
			var err error
			switch {
			case w.removed:
				if err = s.index.Remove(ctx, b.SessionID); err == nil {
					removed++
				}
			case w.name != b.IdentityName:
				err = s.index.Upsert(ctx, b.SessionID, w.name)
			}
			if err != nil {
				s.logger.Warn("identity index reconcile: replay failed", "session_id", b.SessionID, "error", err)
			}
			continue
		}
		name, keep, err := s.currentBinding(ctx, b)
		if err != nil {
			s.logger.Warn("identity index reconcile failed", "session_id", b.SessionID, "error", err)
			continue
		}
		switch {
		case !keep:
			if err := s.index.Remove(ctx, b.SessionID); err != nil {
				s.logger.Warn("identity index reconcile: remove failed", "session_id", b.SessionID, "error", err)
				continue
			}
			removed++
		case name != b.IdentityName:
			if err := s.index.Upsert(ctx, b.SessionID, name); err != nil {
				s.logger.Warn("identity index reconcile: upsert failed", "session_id", b.SessionID, "error", err)
			}
		}
	}
	if removed > 0 {
		observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "reconcile", "removed")
	}
	return removed
}

// currentBinding re-reads the binding of b.SessionID. keep is false when the session is gone or
// anonymous.
func (s *SessionService) currentBinding(ctx context.Context, b repository.IdentityBinding) (string, bool, error) {
	sess, err := s.repo.FindByID(ctx, b.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if sess.IdentityRef == nil {
		return "", false, nil
	}
	if *sess.IdentityRef == b.IdentityID {
		return b.IdentityName, true, nil
	}
	if s.identities == nil {
		return "", false, nil
	}
	identity, err := s.identities.FindByID(ctx, *sess.IdentityRef)
	if errors.Is(err, repository.ErrIdentityNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return identity.DisplayName, true, nil
}

func (s *SessionService) startJournal() {
	s.journalMu.Lock()
	s.journal = map[string]indexWrite{}
	s.journalMu.Unlock()
}

func (s *SessionService) stopJournal() {
	s.journalMu.Lock()
	s.journal = nil
	s.journalMu.Unlock()
}

func (s *SessionService) noteIndexWrite(id string, w indexWrite) {
	s.journalMu.Lock()
	if s.journal != nil {
		s.journal[id] = w
	}
	s.journalMu.Unlock()
}

func (s *SessionService) journaled(id string) (indexWrite, bool) {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	w, ok := s.journal[id]
	return w, ok
}

func (s *SessionService) indexedAccess(ctx context.Context, id string) (int64, bool) {
	at, ok, err := s.index.Touch(ctx, id)
	if err != nil {
		observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "touch", "error")
		s.logger.Warn("identity index touch failed", "session_id", id, "error", err)
		return 0, false
	}
	observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "touch", lookupOutcome(ok, nil))
	return at, ok
}

func (s *SessionService) removeFromIndex(ctx context.Context, id string) {
	s.noteIndexWrite(id, indexWrite{removed: true})
	if err := s.index.Remove(ctx, id); err != nil {
		observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "remove", "error")
		s.logger.Warn("identity index remove failed", "session_id", id, "error", err)
		return
	}
	observability.RecordIdentityIndexOperation(ctx, s.index.Backend(), "remove", "success")
}

func (s *SessionService) markMissing(ctx context.Context, id string) {
	if err := s.missing.MarkMissing(ctx, id, s.missingTTL); err != nil {
		s.logger.Warn("missing session cache write failed", "error", err)
	}
}

func (s *SessionService) fail(ctx context.Context, span trace.Span, op string, started time.Time, err error) error {
	outcome := observability.Outcome(err, domain.ErrSessionNotFound)
	if errors.Is(err, domain.ErrSessionExpired) {
		outcome = "expired"
	}
	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("session.outcome", outcome))
	observability.RecordSessionOperation(ctx, op, outcome, started)
	return err
}

func lookupOutcome(ok bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case ok:
		return "hit"
	default:
		return "miss"
	}
}
