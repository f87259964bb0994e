// Package cooldown implements the account-cooldown store that
// SPEC_FULL.md adds on top of spec.md: when C9 classifies an error as
// quota-exhausted, the orchestrator parks the offending account here for
// a fixed cooldown window, instead of letting it be re-selected on the
// very next retry. Reset timestamps in the upstream error body are not
// parsed. Grounded in the Antigravity adapter
// example's cooldown.Default().SetCooldown/SetCooldownDuration pattern
// (see DESIGN.md).
package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records (account identifier -> cooldown-until) and answers
// whether an account is currently cooling down.
type Store interface {
	SetCooldown(ctx context.Context, accountID string, until time.Time) error
	SetCooldownDuration(ctx context.Context, accountID string, d time.Duration) error
	IsCoolingDown(ctx context.Context, accountID string) (bool, error)
}

// MemoryStore is the default in-process Store: a single gravityproxy
// instance's whole account pool lives in one map.
type MemoryStore struct {
	mu    sync.Mutex
	until map[string]time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{until: make(map[string]time.Time)}
}

func (s *MemoryStore) SetCooldown(_ context.Context, accountID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[accountID] = until
	return nil
}

func (s *MemoryStore) SetCooldownDuration(ctx context.Context, accountID string, d time.Duration) error {
	return s.SetCooldown(ctx, accountID, time.Now().Add(d))
}

func (s *MemoryStore) IsCoolingDown(_ context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.until[accountID]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(s.until, accountID)
		return false, nil
	}
	return true, nil
}

// RedisStore shares cooldown state across several gravityproxy processes
// that draw from the same account pool, mirroring the teacher's
// dependency-injected-*http.Client pattern: callers pass an interface and
// default to MemoryStore, swapping in RedisStore only when they need the
// distributed behavior.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a RedisStore against an already-configured
// *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "gravityproxy:cooldown:"}
}

func (s *RedisStore) SetCooldown(ctx context.Context, accountID string, until time.Time) error {
	d := time.Until(until)
	if d <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.prefix+accountID, "1", d).Err()
}

func (s *RedisStore) SetCooldownDuration(ctx context.Context, accountID string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.prefix+accountID, "1", d).Err()
}

func (s *RedisStore) IsCoolingDown(ctx context.Context, accountID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+accountID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
