package domain

import (
	"strings"
	"time"
)

const (
	TTLTypeCreated    = "created"
	TTLTypeLastAccess = "lastAccess"
	TTLTypeLastUpdate = "lastUpdate"
)

// TTLPolicy computes session expiry. A zero TimeToLive disables expiry.
type TTLPolicy struct {
	TimeToLive time.Duration
	Type       string
}

func (p TTLPolicy) Enabled() bool { return p.TimeToLive > 0 }

// ExpiresAt returns the expiry in milliseconds since epoch. ok is false when the session never expires.
func (p TTLPolicy) ExpiresAt(s *Session) (int64, bool) {
	if !p.Enabled() {
		return 0, false
	}
	ref := referenceTimestamp(s, p.Type)
	if ref == 0 {
		ref = s.CreatedAt
	}
	return ref + p.TimeToLive.Milliseconds(), true
}

// Remaining returns the time left before expiry; ok is false when expiry is disabled.
func (p TTLPolicy) Remaining(s *Session, now time.Time) (time.Duration, bool) {
	expiresAt, ok := p.ExpiresAt(s)
	if !ok {
		return 0, false
	}
	left := expiresAt - now.UnixMilli()
	if left < 0 {
		left = 0
	}
	return time.Duration(left) * time.Millisecond, true
}

func (p TTLPolicy) HasExpired(s *Session, now time.Time) bool {
	left, ok := p.Remaining(s, now)
	return ok && left == 0
}

func (p TTLPolicy) Enforce(s *Session, now time.Time) error {
	if p.HasExpired(s, now) {
		return SessionExpired(s.ID)
	}
	return nil
}

// referenceTimestamp resolves a ttl type name to a field value. Unknown names resolve to created.
func referenceTimestamp(s *Session, field string) int64 {
	switch normalizeTTLType(field) {
	case "lastaccess":
		return s.LastAccessAt
	case "lastupdate":
		return s.LastUpdateAt
	default:
		return s.CreatedAt
	}
}

func normalizeTTLType(field string) string {
	v := strings.ToLower(strings.TrimSpace(field))
	v = strings.NewReplacer("_", "", "-", "").Replace(v)
	return strings.TrimSuffix(v, "at")
}

// KnownTTLType reports whether field names one of the session timestamps.
func KnownTTLType(field string) bool {
	switch normalizeTTLType(field) {
	case "", "created", "lastaccess", "lastupdate":
		return true
	}
	return false
}
