package swr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Amund211/marketcache/internal/cache"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/signals"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	outcomeSuccess    = "success"
	outcomeError      = "error"
	outcomeDeduped    = "deduped"
	outcomeSuperseded = "superseded"
)

type swrMetricsCollection struct {
	revalidationCount metric.Int64Counter
	retryCount        metric.Int64Counter
}

func setupSWRMetrics(meter metric.Meter) (swrMetricsCollection, error) {
	revalidationCount, err := meter.Int64Counter(
		"swr/revalidation_count",
		metric.WithDescription("Revalidation attempts by outcome"),
		metric.WithUnit("{revalidation}"),
	)
	if err != nil {
		return swrMetricsCollection{}, fmt.Errorf("failed to create revalidation count metric: %w", err)
	}

	retryCount, err := meter.Int64Counter(
		"swr/retry_count",
		metric.WithDescription("Retries scheduled after a failed revalidation"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return swrMetricsCollection{}, fmt.Errorf("failed to create retry count metric: %w", err)
	}

	return swrMetricsCollection{
		revalidationCount: revalidationCount,
		retryCount:        retryCount,
	}, nil
}

// listener receives the outcome of every revalidation of the key it is registered for.
type listener interface {
	onValidating()
	onSettled(value any, err error, inFlight bool)
	onIdle()
	onMutated(value any)
}

// Client ties resources to a shared KeyedCache and the host environment.
type Client struct {
	cache *cache.KeyedCache
	env   signals.Environment

	metrics swrMetricsCollection
	tracer  trace.Tracer

	mu        sync.Mutex
	listeners map[string]map[listener]struct{}
}

func NewClient(keyedCache *cache.KeyedCache, env signals.Environment) (*Client, error) {
	const name = "marketcache/swr"

	metrics, err := setupSWRMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Client{
		cache:     keyedCache,
		env:       env,
		metrics:   metrics,
		tracer:    otel.Tracer(name),
		listeners: make(map[string]map[listener]struct{}),
	}, nil
}

func (c *Client) Cache() *cache.KeyedCache {
	return c.cache
}

// Clear drops cached values for every key containing pattern, or all keys when
// pattern is empty. Subscribers keep what they are showing until their next
// revalidation.
func (c *Client) Clear(ctx context.Context, pattern string) {
	removed := c.cache.Clear(pattern)
	logging.FromContext(ctx).InfoContext(ctx, "Cleared cache", slog.String("pattern", pattern), slog.Int("removed", removed))
}

func (c *Client) register(key string, l listener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.listeners[key]
	if !ok {
		byKey = make(map[listener]struct{})
		c.listeners[key] = byKey
	}
	byKey[l] = struct{}{}
}

func (c *Client) unregister(key string, l listener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.listeners[key]
	if !ok {
		return
	}
	delete(byKey, l)
	if len(byKey) == 0 {
		delete(c.listeners, key)
	}
}

func (c *Client) listenersFor(key string) []listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey := c.listeners[key]
	result := make([]listener, 0, len(byKey))
	for l := range byKey {
		result = append(result, l)
	}
	return result
}

func (c *Client) recordRevalidation(ctx context.Context, outcome string, forced bool) {
	c.metrics.revalidationCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("forced", forced),
	))
}

// Mutate stores value for key and shows it to every subscriber of the key,
// without revalidating.
func Mutate[T any](c *Client, key string, value T) {
	if key == "" {
		return
	}
	c.cache.Set(key, value)
	for _, l := range c.listenersFor(key) {
		l.onMutated(value)
	}
}
