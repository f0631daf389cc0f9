// Package taxonomy keeps the selectable platforms and skills, fetched
// together, shared by everything in the process.
package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Amund211/marketcache/internal/domain"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultTTL = 5 * time.Minute

const (
	outcomeSuccess    = "success"
	outcomeError      = "error"
	outcomeFresh      = "fresh"
	outcomeInFlight   = "in_flight"
	outcomeSuperseded = "superseded"
)

type Provider interface {
	GetPlatforms(ctx context.Context) ([]domain.Platform, error)
	GetSkills(ctx context.Context) ([]domain.Skill, error)
}

type Options struct {
	// Lists younger than TTL are served without fetching.
	TTL     time.Duration
	NowFunc func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TTL:     DefaultTTL,
		NowFunc: time.Now,
	}
}

type State struct {
	Platforms     []domain.Platform
	Skills        []domain.Skill
	Loading       bool
	Error         error
	LastFetchedAt time.Time
}

// PlatformsOr returns fallback when no platforms are cached, e.g. after a failed fetch.
func (s State) PlatformsOr(fallback []domain.Platform) []domain.Platform {
	if len(s.Platforms) == 0 {
		return fallback
	}
	return s.Platforms
}

// SkillsOr returns fallback when no skills are cached.
func (s State) SkillsOr(fallback []domain.Skill) []domain.Skill {
	if len(s.Skills) == 0 {
		return fallback
	}
	return s.Skills
}

type taxonomyMetricsCollection struct {
	fetchCount metric.Int64Counter
}

func setupTaxonomyMetrics(meter metric.Meter) (taxonomyMetricsCollection, error) {
	fetchCount, err := meter.Int64Counter(
		"taxonomy/fetch_count",
		metric.WithDescription("Taxonomy fetch requests by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return taxonomyMetricsCollection{}, fmt.Errorf("failed to create fetch count metric: %w", err)
	}

	return taxonomyMetricsCollection{
		fetchCount: fetchCount,
	}, nil
}

type Cache struct {
	provider Provider
	ttl      time.Duration
	nowFunc  func() time.Time

	metrics taxonomyMetricsCollection
	tracer  trace.Tracer

	mu       sync.Mutex
	state    State
	inFlight int
	// Sequence of the newest fetch. Only the newest fetch may write the lists.
	latest uint64
}

func NewCache(provider Provider, opts Options) (*Cache, error) {
	const name = "marketcache/taxonomy"

	metrics, err := setupTaxonomyMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.NowFunc == nil {
		opts.NowFunc = time.Now
	}

	return &Cache{
		provider: provider,
		ttl:      opts.TTL,
		nowFunc:  opts.NowFunc,
		metrics:  metrics,
		tracer:   otel.Tracer(name),
		state: State{
			Platforms: []domain.Platform{},
			Skills:    []domain.Skill{},
		},
	}, nil
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Must be called with c.mu held.
func (c *Cache) snapshot() State {
	state := c.state
	state.Platforms = slices.Clone(c.state.Platforms)
	state.Skills = slices.Clone(c.state.Skills)
	return state
}

// Fetch refreshes both lists unless a fetch is already running or the cached
// lists are non-empty and younger than the TTL. force skips both checks.
//
// On failure both lists are emptied and the error is kept in the state, so
// callers can fall back to static lists. The returned state is the one
// observed when Fetch finished.
func (c *Cache) Fetch(ctx context.Context, force bool) State {
	logger := logging.FromContext(ctx).With(slog.String("component", "taxonomy"))

	c.mu.Lock()
	if !force {
		if c.inFlight > 0 {
			state := c.snapshot()
			c.mu.Unlock()
			logger.DebugContext(ctx, "Skipping taxonomy fetch", "reason", "in flight")
			c.recordFetch(ctx, outcomeInFlight, force)
			return state
		}
		fresh := len(c.state.Platforms) > 0 && len(c.state.Skills) > 0 &&
			!c.state.LastFetchedAt.IsZero() && c.nowFunc().Sub(c.state.LastFetchedAt) < c.ttl
		if fresh {
			state := c.snapshot()
			c.mu.Unlock()
			logger.DebugContext(ctx, "Skipping taxonomy fetch", "reason", "fresh")
			c.recordFetch(ctx, outcomeFresh, force)
			return state
		}
	}
	c.latest++
	seq := c.latest
	c.inFlight++
	c.state.Loading = true
	c.state.Error = nil
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "Taxonomy.Fetch", trace.WithAttributes(attribute.Bool("taxonomy.forced", force)))
	defer span.End()

	platforms, skills, err := c.fetchBoth(ctx)

	c.mu.Lock()
	c.inFlight--
	c.state.Loading = c.inFlight > 0
	if seq != c.latest {
		state := c.snapshot()
		c.mu.Unlock()
		logger.InfoContext(ctx, "Discarding superseded taxonomy fetch")
		c.recordFetch(ctx, outcomeSuperseded, force)
		return state
	}
	if err != nil {
		c.state.Platforms = []domain.Platform{}
		c.state.Skills = []domain.Skill{}
		c.state.Error = err
	} else {
		c.state.Platforms = platforms
		c.state.Skills = skills
		c.state.Error = nil
		c.state.LastFetchedAt = c.nowFunc()
	}
	state := c.snapshot()
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "Failed to fetch taxonomy", "error", err.Error())
		reporting.Report(ctx, err, map[string]string{"forced": fmt.Sprint(force)})
		c.recordFetch(ctx, outcomeError, force)
		return state
	}

	logger.InfoContext(ctx, "Fetched taxonomy", "platforms", len(platforms), "skills", len(skills))
	c.recordFetch(ctx, outcomeSuccess, force)
	return state
}

// Refetch fetches regardless of the TTL and any running fetch.
func (c *Cache) Refetch(ctx context.Context) State {
	return c.Fetch(ctx, true)
}

func (c *Cache) fetchBoth(ctx context.Context) ([]domain.Platform, []domain.Skill, error) {
	var platforms []domain.Platform
	var skills []domain.Skill

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		platforms, err = c.provider.GetPlatforms(gctx)
		if err != nil {
			return fmt.Errorf("failed to get platforms: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		skills, err = c.provider.GetSkills(gctx)
		if err != nil {
			return fmt.Errorf("failed to get skills: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if platforms == nil {
		platforms = []domain.Platform{}
	}
	if skills == nil {
		skills = []domain.Skill{}
	}
	return platforms, skills, nil
}

func (c *Cache) recordFetch(ctx context.Context, outcome string, forced bool) {
	c.metrics.fetchCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("forced", forced),
	))
}
