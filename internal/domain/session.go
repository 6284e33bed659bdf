package domain

import (
	"fmt"
	"maps"
	"time"
)

type Session struct {
	ID           string         `gorm:"primaryKey;size:255" json:"id"`
	IdentityRef  *string        `gorm:"size:64;index" json:"identity_ref,omitempty"`
	SessionData  map[string]any `gorm:"serializer:json" json:"session_data"`
	IdentityData map[string]any `gorm:"serializer:json" json:"identity_data"`
	CreatedAt    int64          `gorm:"not null" json:"created_at"`
	LastAccessAt int64          `gorm:"not null;index" json:"last_access_at"`
	LastUpdateAt int64          `gorm:"not null" json:"last_update_at"`
}

// NewSession returns an anonymous session with every timestamp set to now.
func NewSession(id string, data map[string]any, now time.Time) *Session {
	ts := now.UnixMilli()
	if data == nil {
		data = map[string]any{}
	}
	return &Session{
		ID:           id,
		SessionData:  data,
		IdentityData: map[string]any{},
		CreatedAt:    ts,
		LastAccessAt: ts,
		LastUpdateAt: ts,
	}
}

func (s *Session) Anonymous() bool { return s.IdentityRef == nil }

// BindIdentity attaches identity and snapshots its attributes. A nil identity clears the binding.
// Nothing is persisted here.
func (s *Session) BindIdentity(identity *Identity) {
	if identity == nil {
		s.ClearIdentity()
		return
	}
	ref := identity.ID
	s.IdentityRef = &ref
	s.IdentityData = maps.Clone(identity.Attributes)
	if s.IdentityData == nil {
		s.IdentityData = map[string]any{}
	}
}

func (s *Session) ClearIdentity() {
	s.IdentityRef = nil
	s.IdentityData = map[string]any{}
}

// Touch bumps the access and update timestamps to now without ever moving them backwards.
func (s *Session) Touch(now time.Time) {
	ts := now.UnixMilli()
	if ts > s.LastAccessAt {
		s.LastAccessAt = ts
	}
	if ts > s.LastUpdateAt {
		s.LastUpdateAt = ts
	}
}

// AdoptAccess takes an access timestamp observed outside the durable record when it is strictly
// newer. Timestamps ahead of now are clamped to now.
func (s *Session) AdoptAccess(ts int64, now time.Time) bool {
	if limit := now.UnixMilli(); ts > limit {
		ts = limit
	}
	if ts <= s.LastAccessAt {
		return false
	}
	s.LastAccessAt = ts
	return true
}

// Validate checks the record before it reaches the store.
func (s *Session) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSession)
	case s.CreatedAt <= 0:
		return fmt.Errorf("%w: missing created timestamp", ErrInvalidSession)
	case s.LastAccessAt < s.CreatedAt || s.LastUpdateAt < s.CreatedAt:
		return fmt.Errorf("%w: timestamps precede creation", ErrInvalidSession)
	case s.IdentityRef == nil && len(s.IdentityData) > 0:
		return fmt.Errorf("%w: identity data without identity", ErrInvalidSession)
	}
	if s.SessionData == nil {
		s.SessionData = map[string]any{}
	}
	if s.IdentityData == nil {
		s.IdentityData = map[string]any{}
	}
	return nil
}
