// Package ratelimit implements the registry's Rate Limiter: a per-principal
// token bucket, admission-checked in-process via golang.org/x/time/rate.
// An admitted request is also counted in a Redis fixed-window counter, whose
// count supplies the remaining/reset fields of that admitted decision; a
// denied client gets figures from the local bucket alone.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worldcache/registry/internal/common"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
	"golang.org/x/time/rate"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetEpochSeconds int64
}

// Limiter admits requests per principal. Bursts are shaped locally by a
// golang.org/x/time/rate.Limiter per principal; a Redis fixed-window
// counter, shared across replicas, supplies the remaining/reset figures of
// an admitted request. A denied request reports the bucket's burst as its
// limit, 0 remaining, and a reset one second ahead, without consulting Redis.
type Limiter struct {
	cache *common.Cache
	cfg   *config.RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New constructs a Limiter. cache may be nil, in which case admission is
// decided purely from the in-process bucket (single-node deployments).
func New(cache *common.Cache, cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{cache: cache, cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// AllowRead admits a read-path request for principalID (an authenticated
// principal's ID, or "anon:{source-address}" for unauthenticated reads).
func (l *Limiter) AllowRead(ctx context.Context, principalID string) (*Decision, error) {
	return l.allow(ctx, "read", principalID, l.cfg.ReadRatePerSec, l.cfg.ReadBurst, 1)
}

// AllowPublish admits a publish-path request for principalID, drawing
// cfg.PublishCost tokens per §4.11 "publish operations draw a higher cost
// than reads."
func (l *Limiter) AllowPublish(ctx context.Context, principalID string) (*Decision, error) {
	cost := l.cfg.PublishCost
	if cost <= 0 {
		cost = 1
	}
	return l.allow(ctx, "publish", principalID, l.cfg.PublishRatePerSec, l.cfg.PublishBurst, cost)
}

func (l *Limiter) allow(ctx context.Context, class, principalID string, ratePerSec float64, burst, cost int) (*Decision, error) {
	bucketKey := class + ":" + principalID
	localLimiter := l.localBucket(bucketKey, ratePerSec, burst)

	if !localLimiter.AllowN(time.Now(), cost) {
		return denyDecision(burst), nil
	}

	if l.cache == nil {
		return &Decision{Allowed: true, Limit: burst, Remaining: int(localLimiter.Tokens())}, nil
	}

	window := time.Second
	key := fmt.Sprintf("ratelimit:%s:%s", class, principalID)
	count, err := l.cache.IncrWithExpiry(ctx, key, window)
	if err != nil {
		// Redis unavailable: fail open, trusting the in-process bucket that
		// already admitted this request above.
		return &Decision{Allowed: true, Limit: burst, Remaining: int(localLimiter.Tokens())}, nil
	}

	limit := int(ratePerSec)
	if limit <= 0 {
		limit = 1
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Allowed:           true,
		Limit:             limit,
		Remaining:         remaining,
		ResetEpochSeconds: time.Now().Add(window).Unix(),
	}, nil
}

func denyDecision(burst int) *Decision {
	return &Decision{
		Allowed:           false,
		Limit:             burst,
		Remaining:         0,
		ResetEpochSeconds: time.Now().Add(time.Second).Unix(),
	}
}

func (l *Limiter) localBucket(bucketKey string, ratePerSec float64, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[bucketKey]
	if !ok {
		b = rate.NewLimiter(rate.Limit(ratePerSec), burst)
		l.buckets[bucketKey] = b
	}
	return b
}

// Err converts a denied Decision into the registry's rate-limited error
// kind, carrying the three response fields §4.11 requires in details.
func Err(d *Decision) error {
	return registryerr.New(registryerr.KindRateLimited, "rate limit exceeded").
		WithDetails(map[string]interface{}{
			"limit":                d.Limit,
			"remaining":            d.Remaining,
			"reset_epoch_seconds": d.ResetEpochSeconds,
		})
}
