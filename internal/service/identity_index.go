package service

import (
	"context"
	"sync"
)

// IndexEntry maps a session id to the identity name bound to it.
type IndexEntry struct {
	SessionID    string
	IdentityName string
}

// IdentityIndex is the process-wide side table of session id to identity name. It is a derived
// cache: the session record stays authoritative and the index may lag behind it.
type IdentityIndex interface {
	Upsert(ctx context.Context, sessionID, identityName string) error
	Remove(ctx context.Context, sessionID string) error
	// Touch returns the last access time (ms) recorded for the session outside the session store.
	Touch(ctx context.Context, sessionID string) (int64, bool, error)
	// RecordAccess notes an authenticated request for a bound session. Older timestamps are ignored.
	RecordAccess(ctx context.Context, sessionID string, at int64) error
	Lookup(ctx context.Context, sessionID string) (string, bool, error)
	// Load repopulates the index from persisted bindings and reports how many entries were written.
	Load(ctx context.Context, entries []IndexEntry) (int, error)
	Backend() string
}

// NoopIdentityIndex stands in for the index in per-application deployments.
type NoopIdentityIndex struct{}

func NewNoopIdentityIndex() *NoopIdentityIndex {
	return &NoopIdentityIndex{}
}

func (NoopIdentityIndex) Upsert(context.Context, string, string) error { return nil }

func (NoopIdentityIndex) Remove(context.Context, string) error { return nil }

func (NoopIdentityIndex) Touch(context.Context, string) (int64, bool, error) { return 0, false, nil }

func (NoopIdentityIndex) RecordAccess(context.Context, string, int64) error { return nil }

func (NoopIdentityIndex) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }

func (NoopIdentityIndex) Load(context.Context, []IndexEntry) (int, error) { return 0, nil }

func (NoopIdentityIndex) Backend() string { return "noop" }

type indexRecord struct {
	name       string
	lastAccess int64
}

type InMemoryIdentityIndex struct {
	mu      sync.RWMutex
	entries map[string]indexRecord
}

func NewInMemoryIdentityIndex() *InMemoryIdentityIndex {
	return &InMemoryIdentityIndex{entries: make(map[string]indexRecord)}
}

func (x *InMemoryIdentityIndex) Upsert(_ context.Context, sessionID, identityName string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec := x.entries[sessionID]
	rec.name = identityName
	x.entries[sessionID] = rec
	return nil
}

func (x *InMemoryIdentityIndex) Remove(_ context.Context, sessionID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, sessionID)
	return nil
}

func (x *InMemoryIdentityIndex) Touch(_ context.Context, sessionID string) (int64, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.entries[sessionID]
	if !ok || rec.lastAccess == 0 {
		return 0, false, nil
	}
	return rec.lastAccess, true, nil
}

func (x *InMemoryIdentityIndex) RecordAccess(_ context.Context, sessionID string, at int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.entries[sessionID]
	if !ok || at <= rec.lastAccess {
		return nil
	}
	rec.lastAccess = at
	x.entries[sessionID] = rec
	return nil
}

func (x *InMemoryIdentityIndex) Lookup(_ context.Context, sessionID string) (string, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.entries[sessionID]
	return rec.name, ok, nil
}

func (x *InMemoryIdentityIndex) Load(_ context.Context, entries []IndexEntry) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		rec := x.entries[e.SessionID]
		rec.name = e.IdentityName
		x.entries[e.SessionID] = rec
	}
	return len(entries), nil
}

func (x *InMemoryIdentityIndex) Backend() string { return "memory" }

func (x *InMemoryIdentityIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
