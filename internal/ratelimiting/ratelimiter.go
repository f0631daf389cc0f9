package ratelimiting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// RateLimiter hands out tokens from one bucket per key.
type RateLimiter interface {
	// Wait blocks until a token for key is available. It fails early when the
	// wait would outlast the context deadline.
	Wait(ctx context.Context, key string) error
}

type tokenBucketRateLimiter struct {
	limiterByKey    *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond int
	burstSize       int
}

func (rateLimiter *tokenBucketRateLimiter) limiterFor(key string) *rate.Limiter {
	limiter, _ := rateLimiter.limiterByKey.GetOrSet(key, rate.NewLimiter(rate.Limit(rateLimiter.refillPerSecond), rateLimiter.burstSize))
	return limiter.Value()
}

func (rateLimiter *tokenBucketRateLimiter) Wait(ctx context.Context, key string) error {
	if err := rateLimiter.limiterFor(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit for %s: %w", key, err)
	}
	return nil
}

type RefillPerSecond int
type BurstSize int

func NewTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) (RateLimiter, func()) {
	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiterTTLCache.Start()

	return &tokenBucketRateLimiter{
		limiterByKey:    limiterTTLCache,
		refillPerSecond: int(refillPerSecond),
		burstSize:       int(burstSize),
	}, limiterTTLCache.Stop
}

// EndpointKeyFunc buckets outgoing requests by method and path.
func EndpointKeyFunc(r *http.Request) string {
	return fmt.Sprintf("endpoint: %s %.100s", r.Method, r.URL.Path)
}

// HostKeyFunc buckets outgoing requests by destination host.
func HostKeyFunc(r *http.Request) string {
	return fmt.Sprintf("host: %s", r.URL.Host)
}
