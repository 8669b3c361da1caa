package device

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Allowlist is the persisted set of registered device identifiers for a user.
// Add and Remove are idempotent.
type Allowlist interface {
	Add(ctx context.Context, userID, visitorID string) error
	Remove(ctx context.Context, userID, visitorID string) error
	Contains(ctx context.Context, userID, visitorID string) (bool, error)
}

// MemoryAllowlist is a mutex-guarded in-memory allowlist for dev/testing.
type MemoryAllowlist struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// NewMemoryAllowlist creates an empty in-memory allowlist.
func NewMemoryAllowlist() *MemoryAllowlist {
	return &MemoryAllowlist{sets: make(map[string]map[string]struct{})}
}

// Add registers a visitor id for the user. No-op when already present.
func (a *MemoryAllowlist) Add(_ context.Context, userID, visitorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.sets[userID]
	if !ok {
		set = make(map[string]struct{})
		a.sets[userID] = set
	}
	set[visitorID] = struct{}{}
	return nil
}

// Remove forgets a visitor id. No-op when absent.
func (a *MemoryAllowlist) Remove(_ context.Context, userID, visitorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.sets[userID]; ok {
		delete(set, visitorID)
	}
	return nil
}

// Contains reports whether the visitor id is registered for the user.
func (a *MemoryAllowlist) Contains(_ context.Context, userID, visitorID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set, ok := a.sets[userID]
	if !ok {
		return false, nil
	}
	_, found := set[visitorID]
	return found, nil
}

// RedisAllowlist stores registered devices in a Redis set per user, so
// registrations from multiple sessions converge without coordination.
type RedisAllowlist struct {
	client *redis.Client
	prefix string
}

// NewRedisAllowlist builds an allowlist over the given client. An empty
// prefix defaults to "attendify:devices".
func NewRedisAllowlist(client *redis.Client, prefix string) *RedisAllowlist {
	if prefix == "" {
		prefix = "attendify:devices"
	}
	return &RedisAllowlist{client: client, prefix: prefix}
}

func (a *RedisAllowlist) key(userID string) string {
	return a.prefix + ":" + userID
}

// Add registers a visitor id for the user.
func (a *RedisAllowlist) Add(ctx context.Context, userID, visitorID string) error {
	return a.client.SAdd(ctx, a.key(userID), visitorID).Err()
}

// Remove forgets a visitor id.
func (a *RedisAllowlist) Remove(ctx context.Context, userID, visitorID string) error {
	return a.client.SRem(ctx, a.key(userID), visitorID).Err()
}

// Contains reports whether the visitor id is registered for the user.
func (a *RedisAllowlist) Contains(ctx context.Context, userID, visitorID string) (bool, error) {
	return a.client.SIsMember(ctx, a.key(userID), visitorID).Result()
}
