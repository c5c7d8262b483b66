package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks over fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

// Scope indicates which dimension the rate limit applies to.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeUser
	ScopePlan
)

// Decision describes the resolved rate limit and scope.
type Decision struct {
	Limit  int
	Scope  Scope
	PlanID uint64
}

// windowBounds returns the window index containing now and the time it resets.
func windowBounds(now time.Time, window time.Duration) (int64, time.Time) {
	if window <= 0 {
		window = time.Second
	}
	size := window.Nanoseconds()
	idx := now.UnixNano() / size
	return idx, time.Unix(0, (idx+1)*size).UTC()
}
