package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
	"github.com/sandeepkv93/secure-session-store/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionConflict = errors.New("session id already exists")

// IdentityBinding pairs a persisted session with the display name of its identity.
type IdentityBinding struct {
	SessionID    string
	IdentityID   string
	IdentityName string
}

type SessionRepository interface {
	Save(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	Replace(ctx context.Context, s *domain.Session) error
	UpdateLastAccess(ctx context.Context, id string, at int64) error
	RemoveByID(ctx context.Context, id string) error
	ListIdentityBindings(ctx context.Context) ([]IdentityBinding, error)
	Count(ctx context.Context) (int64, error)
	// WithinTransaction runs fn against a repository bound to one transaction. Reads inside fn lock
	// the rows they return until the transaction ends.
	WithinTransaction(ctx context.Context, fn func(tx SessionRepository) error) error
}

type GormSessionRepository struct {
	db     *gorm.DB
	locked bool
}

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Save(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "save", "invalid")
		return err
	}
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "session", "save", "conflict")
			return ErrSessionConflict
		}
		observability.RecordRepositoryOperation(ctx, "session", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "save", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	q := r.db.WithContext(ctx)
	if r.locked {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "not_found")
			return nil, domain.SessionNotFound(id)
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) Replace(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "replace", "invalid")
		return err
	}
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", s.ID).
		Select("identity_ref", "session_data", "identity_data", "last_access_at", "last_update_at").
		Updates(s)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "replace", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "replace", "not_found")
		return domain.SessionNotFound(s.ID)
	}
	observability.RecordRepositoryOperation(ctx, "session", "replace", "success")
	return nil
}

// UpdateLastAccess moves last_access_at forward to at; it never moves it backwards.
func (r *GormSessionRepository) UpdateLastAccess(ctx context.Context, id string, at int64) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_access_at", gorm.Expr("CASE WHEN last_access_at < ? THEN ? ELSE last_access_at END", at, at))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "update_last_access", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "update_last_access", "not_found")
		return domain.SessionNotFound(id)
	}
	observability.RecordRepositoryOperation(ctx, "session", "update_last_access", "success")
	return nil
}

func (r *GormSessionRepository) RemoveByID(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "remove_by_id", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "remove_by_id", "not_found")
		return domain.SessionNotFound(id)
	}
	observability.RecordRepositoryOperation(ctx, "session", "remove_by_id", "success")
	return nil
}

func (r *GormSessionRepository) ListIdentityBindings(ctx context.Context) ([]IdentityBinding, error) {
	var rows []IdentityBinding
	err := r.db.WithContext(ctx).
		Table("sessions").
		Select("sessions.id AS session_id, identities.id AS identity_id, identities.display_name AS identity_name").
		Joins("JOIN identities ON identities.id = sessions.identity_ref").
		Order("sessions.id").
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_identity_bindings", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_identity_bindings", "success")
	return rows, nil
}

func (r *GormSessionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "count", "success")
	return n, nil
}

func (r *GormSessionRepository) WithinTransaction(ctx context.Context, fn func(tx SessionRepository) error) error {
	if r.locked {
		return fn(r)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormSessionRepository{db: tx, locked: true})
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
			observability.RecordRepositoryOperation(ctx, "session", "transaction", "rolled_back")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "transaction", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "transaction", "success")
	return nil
}
