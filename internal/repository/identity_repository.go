package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
	"github.com/sandeepkv93/secure-session-store/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityConflict = errors.New("identity already exists")
)

type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
	FindByDisplayName(ctx context.Context, name string) (*domain.Identity, error)
}

type GormIdentityRepository struct{ db *gorm.DB }

func NewIdentityRepository(db *gorm.DB) IdentityRepository { return &GormIdentityRepository{db: db} }

func (r *GormIdentityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	if identity.Attributes == nil {
		identity.Attributes = map[string]any{}
	}
	err := r.db.WithContext(ctx).Create(identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "identity", "create", "conflict")
			return ErrIdentityConflict
		}
		observability.RecordRepositoryOperation(ctx, "identity", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "identity", "create", "success")
	return nil
}

func (r *GormIdentityRepository) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormIdentityRepository) FindByDisplayName(ctx context.Context, name string) (*domain.Identity, error) {
	return r.findOne(ctx, "find_by_display_name", "display_name = ?", name)
}

func (r *GormIdentityRepository) findOne(ctx context.Context, op, where string, arg any) (*domain.Identity, error) {
	var identity domain.Identity
	err := r.db.WithContext(ctx).Where(where, arg).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "identity", op, "not_found")
			return nil, ErrIdentityNotFound
		}
		observability.RecordRepositoryOperation(ctx, "identity", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "identity", op, "success")
	return &identity, nil
}
