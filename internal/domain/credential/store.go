package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Store persists the current credential outside the cache. Load returns
// nil without error when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context) error
}

// MemoryStore keeps the credential in process. Caches sharing one
// MemoryStore share credentials.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store
func (s *MemoryStore) Load(context.Context) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, nil
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}

// RedisStore shares the credential between processes. Keys expire with the
// credential.
type RedisStore struct {
	cli *redis.Client
	key string
	now func() time.Time
}

// NewRedisStore creates a store on cli under prefix+"credential". now sets
// the clock key expiry is measured against; nil means time.Now.
func NewRedisStore(cli *redis.Client, prefix string, now func() time.Time) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{
		cli: cli,
		key: prefix + "credential",
		now: now,
	}
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	resp, err := s.cli.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("ping error: %w", err)
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response: %s", resp)
	}
	return nil
}

// Load implements Store
func (s *RedisStore) Load(ctx context.Context) (*Credential, error) {
	b, err := s.cli.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s failed: %w", s.key, err)
	}

	var cred Credential
	if err := sonic.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential failed: %w", err)
	}
	return &cred, nil
}

// Save implements Store. Already expired credentials are not written.
func (s *RedisStore) Save(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return errors.New("credential is nil")
	}
	ttl := cred.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	b, err := sonic.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential failed: %w", err)
	}
	if err := s.cli.Set(ctx, s.key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s failed: %w", s.key, err)
	}
	return nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.cli.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s failed: %w", s.key, err)
	}
	return nil
}
