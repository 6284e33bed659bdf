package service

import (
	"context"
	"sync"
	"time"
)

// MissingSessionCache remembers session ids that recently resolved to nothing so repeated lookups
// of unknown ids skip the store.
type MissingSessionCache interface {
	IsMissing(ctx context.Context, sessionID string) (bool, error)
	MarkMissing(ctx context.Context, sessionID string, ttl time.Duration) error
	Forget(ctx context.Context, sessionID string) error
}

type NoopMissingSessionCache struct{}

func NewNoopMissingSessionCache() *NoopMissingSessionCache {
	return &NoopMissingSessionCache{}
}

func (c *NoopMissingSessionCache) IsMissing(context.Context, string) (bool, error) {
	return false, nil
}

func (c *NoopMissingSessionCache) MarkMissing(context.Context, string, time.Duration) error {
	return nil
}

func (c *NoopMissingSessionCache) Forget(context.Context, string) error {
	return nil
}

type InMemoryMissingSessionCache struct {
	mu    sync.RWMutex
	store map[string]time.Time
}

func NewInMemoryMissingSessionCache() *InMemoryMissingSessionCache {
	return &InMemoryMissingSessionCache{
		store: make(map[string]time.Time),
	}
}

func (c *InMemoryMissingSessionCache) IsMissing(_ context.Context, sessionID string) (bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	expiresAt, ok := c.store[sessionID]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		if current, still := c.store[sessionID]; still && now.After(current) {
			delete(c.store, sessionID)
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryMissingSessionCache) MarkMissing(_ context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[sessionID] = time.Now().UTC().Add(ttl)
	return nil
}

func (c *InMemoryMissingSessionCache) Forget(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, sessionID)
	return nil
}
