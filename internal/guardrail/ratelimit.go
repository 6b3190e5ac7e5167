package guardrail

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter provides per-user token-bucket rate limiting with TTL cleanup
// of idle entries.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry

	rps   rate.Limit
	burst int

	entryTTL time.Duration
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newUserLimiter(perMinute, burst int) *userLimiter {
	return &userLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		entryTTL: 10 * time.Minute,
	}
}

// allow consumes one token for the user when available and reports the
// remaining whole tokens plus when the next token accrues.
func (ul *userLimiter) allow(userID string, now time.Time) (ok bool, remaining int, resetAt time.Time) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	entry, found := ul.limiters[userID]
	if !found {
		entry = &limiterEntry{limiter: rate.NewLimiter(ul.rps, ul.burst)}
		ul.limiters[userID] = entry
	}
	entry.lastAccess = now

	ok = entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	remaining = int(tokens)

	resetAt = now
	if tokens < float64(ul.burst) && ul.rps > 0 {
		// Time until one full token accrues.
		resetAt = now.Add(time.Duration(float64(time.Second) / float64(ul.rps)))
	}
	return ok, remaining, resetAt
}

// cleanup removes entries that have not been used within the TTL.
func (ul *userLimiter) cleanup(now time.Time) {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	cutoff := now.Add(-ul.entryTTL)
	for userID, entry := range ul.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(ul.limiters, userID)
		}
	}
}
