package ratelimit

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ukschat/ukschat/internal/config"
)

// DefaultRedisPrefix is the fallback Redis key prefix.
const DefaultRedisPrefix = "ukschat:rl"

// Settings is the normalized limiter configuration.
type Settings struct {
	Limit  int
	Window time.Duration
	Prefix string
	// Redis is nil when counters stay in process memory.
	Redis *redis.Options
}

// SettingsFromConfig normalizes the application rate-limit section.
func SettingsFromConfig(rl config.RateLimitConfig) Settings {
	s := Settings{
		Limit:  rl.Limit,
		Window: rl.Window,
		Prefix: strings.TrimSpace(rl.Redis.Prefix),
	}
	if s.Limit < 0 {
		s.Limit = 0
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
	if s.Prefix == "" {
		s.Prefix = DefaultRedisPrefix
	}
	if addr := strings.TrimSpace(rl.Redis.Addr); rl.Redis.Enabled && addr != "" {
		s.Redis = &redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(rl.Redis.Password),
			DB:       max(rl.Redis.DB, 0),
		}
	}
	return s
}
