package csrf

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// MemoryReplayStore 适用于单实例部署。
//
// 容量满时 LRU 会淘汰尚未过期的 nonce；此后截止时间不晚于被淘汰 nonce 的令牌一律视为已消费，
// 直到这些令牌自然过期。
type MemoryReplayStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
	now   func() time.Time
	// floor 是被提前淘汰的 nonce 中最晚的令牌截止时间（UnixNano）。
	floor atomic.Int64
}

func NewMemoryReplayStore(size int, ttl time.Duration) *MemoryReplayStore {
	if size <= 0 {
		size = 100_000
	}
	m := &MemoryReplayStore{now: time.Now}
	m.cache = expirable.NewLRU[string, time.Time](size, m.onEvict, ttl)
	return m
}

func (m *MemoryReplayStore) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache.Contains(nonce) {
		return false, nil
	}
	expires := m.now().Add(ttl)
	if expires.UnixNano() <= m.floor.Load() {
		return false, nil
	}
	m.cache.Add(nonce, expires)
	return true, nil
}

func (m *MemoryReplayStore) onEvict(_ string, expires time.Time) {
	if !expires.After(m.now()) {
		return
	}
	n := expires.UnixNano()
	for {
		cur := m.floor.Load()
		if n <= cur || m.floor.CompareAndSwap(cur, n) {
			return
		}
	}
}

// RedisClient 是 RedisReplayStore 使用的最小命令集合。
//
//go:generate mockgen -destination=mocks/redis_mock.go -package=mocks storefront/internal/csrf RedisClient
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisReplayStore 用 SET NX PX 在多实例间共享已消费 nonce。
type RedisReplayStore struct {
	client RedisClient
	prefix string
}

func NewRedisReplayStore(client RedisClient) *RedisReplayStore {
	return &RedisReplayStore{client: client, prefix: "storefront:csrf:"}
}

func (s *RedisReplayStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
}
