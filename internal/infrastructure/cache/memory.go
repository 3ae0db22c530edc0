package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

// MemorySessionCache implements SessionCache with an in-process map.
// Used when no Redis is configured, and as the test double for the
// cache-aside path. Check-and-set is serialized by the mutex so racing
// requests cannot lose updates.
type MemorySessionCache struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.Session
}

// NewMemorySessionCache creates an empty in-memory session cache.
func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{
		sessions: make(map[uuid.UUID]*model.Session),
	}
}

// Get retrieves a cached session. Expired entries are dropped on read.
func (c *MemorySessionCache) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	c.mu.RLock()
	s, ok := c.sessions[id]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if s.Expired(time.Now().UTC()) {
		c.mu.Lock()
		delete(c.sessions, id)
		c.mu.Unlock()
		return nil, nil
	}

	copied := *s
	return &copied, nil
}

// Set stores a session, overwriting any previous value for the ID.
func (c *MemorySessionCache) Set(ctx context.Context, session *model.Session) error {
	copied := *session
	c.mu.Lock()
	c.sessions[session.ID] = &copied
	c.mu.Unlock()
	return nil
}

// Delete removes a session; absent IDs are a no-op.
func (c *MemorySessionCache) Delete(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached sessions, for tests and stats.
func (c *MemorySessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Compile-time verification that MemorySessionCache implements SessionCache.
var _ SessionCache = (*MemorySessionCache)(nil)
