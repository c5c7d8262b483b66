package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/config"
)

const (
	redisBreakerDuration = 30 * time.Second
	redisPingTimeout     = 2 * time.Second
)

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager enforces per-window limits on Redis when configured and in memory otherwise.
// A Redis failure opens a breaker and the memory limiter serves until it closes.
type Manager struct {
	settings       Settings
	nowFn          func() time.Time
	memory         *MemoryLimiter
	newRedisClient RedisClientFactory

	mu           sync.Mutex
	redis        *RedisLimiter
	breakerUntil time.Time
}

// NewManager builds a Manager from the rate-limit config section.
func NewManager(rl config.RateLimitConfig, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		settings:       SettingsFromConfig(rl),
		nowFn:          nowFn,
		memory:         NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Allow counts one request against key and reports whether it fits within limit.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	if limiter := m.redisLimiter(ctx, now); limiter != nil {
		result, errAllow := limiter.Allow(ctx, key, limit, m.settings.Window, now)
		if errAllow == nil {
			return result, nil
		}
		m.tripBreaker(errAllow, now)
	}
	return m.memory.Allow(ctx, key, limit, m.settings.Window, now)
}

// DefaultLimit returns the configured limit for users whose plan sets none.
func (m *Manager) DefaultLimit() int {
	if m == nil {
		return 0
	}
	return m.settings.Limit
}

// Sweep drops expired in-memory counters and returns how many were removed.
func (m *Manager) Sweep() int {
	if m == nil {
		return 0
	}
	return m.memory.Sweep(m.settings.Window, m.nowFn())
}

// Close releases the Redis client if one was opened.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		return nil
	}
	errClose := m.redis.client.Close()
	m.redis = nil
	return errClose
}

// redisLimiter returns the connected Redis limiter, dialing lazily, or nil
// when Redis is not configured or the breaker is open.
func (m *Manager) redisLimiter(ctx context.Context, now time.Time) *RedisLimiter {
	if m.settings.Redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		m.mu.Unlock()
		return nil
	}
	m.breakerUntil = time.Time{}
	if m.redis != nil {
		limiter := m.redis
		m.mu.Unlock()
		return limiter
	}
	m.mu.Unlock()

	client := m.newRedisClient(m.settings.Redis)
	ctxPing, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		m.tripBreaker(errPing, now)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis != nil {
		_ = client.Close()
		return m.redis
	}
	m.redis = NewRedisLimiter(client, m.settings.Prefix)
	return m.redis
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}
