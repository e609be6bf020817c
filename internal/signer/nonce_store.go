package signer

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore tracks seen nonces in Redis so replay protection holds
// across all gateway instances. SETNX with a TTL makes the check atomic.
type RedisNonceStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{Client: client, Prefix: "svc:nonce:"}
}

// Remember records the nonce and reports whether it was new.
func (s *RedisNonceStore) Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, s.Prefix+nonce, 1, ttl).Result()
}

// MemoryNonceStore is the fallback when no Redis is configured; the replay
// guarantee then holds per process. Expired entries are swept lazily on
// each call.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Remember(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, n)
		}
	}
	if _, ok := s.seen[nonce]; ok {
		return false, nil
	}
	s.seen[nonce] = now.Add(ttl)
	return true, nil
}
