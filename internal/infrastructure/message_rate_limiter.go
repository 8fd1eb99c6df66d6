package infrastructure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter implements token bucket rate limiting per user
type MessageRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*userBucket
	rate        rate.Limit // tokens per second
	burst       int        // burst capacity
	idleTTL     time.Duration
	cleanupTick time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMessageRateLimiter creates a rate limiter with specified rate and burst
// rate: messages per second allowed
// burst: maximum burst capacity
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &MessageRateLimiter{
		buckets:     make(map[string]*userBucket),
		rate:        rate.Limit(perSecond),
		burst:       burst,
		idleTTL:     10 * time.Minute,
		cleanupTick: 5 * time.Minute,
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *MessageRateLimiter) bucket(userID string, now time.Time) *userBucket {
	b, exists := rl.buckets[userID]
	if !exists {
		b = &userBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[userID] = b
	}
	b.lastSeen = now
	return b
}

// Allow checks if user can send a message (consumes 1 token if allowed)
func (rl *MessageRateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	return rl.bucket(userID, now).limiter.AllowN(now, 1)
}

// WaitTime returns how long to wait before next message is allowed
func (rl *MessageRateLimiter) WaitTime(userID string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[userID]
	if !exists {
		return 0
	}
	now := rl.now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// Reset removes rate limit state for a user
func (rl *MessageRateLimiter) Reset(userID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, userID)
}

// Stop ends the background cleanup.
func (rl *MessageRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *MessageRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(rl.now())
		}
	}
}

// evictIdle removes buckets not used within idleTTL
func (rl *MessageRateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, userID)
		}
	}
}

// GetStats returns rate limiter statistics
func (rl *MessageRateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_users": len(rl.buckets),
		"rate":         float64(rl.rate),
		"burst":        rl.burst,
	}
}
