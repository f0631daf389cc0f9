package swr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Amund211/marketcache/internal/cache"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/signals"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrFetcherPanicked = errors.New("fetcher panicked")

// Resource keeps the state of one key fresh for one subscriber.
type Resource[T any] struct {
	client *Client
	key    string
	fetch  FetchFunc[T]
	opts   Options[T]
	id     string

	// Context for revalidations triggered by timers and signals
	baseCtx context.Context

	mu           sync.Mutex
	state        State[T]
	closed       bool
	retryCount   int
	retryTimer   signals.Timer
	refreshTimer signals.Timer
	unsubscribes []func()

	// States waiting to be passed to OnStateChange, in the order they were
	// reached. Only one goroutine delivers at a time.
	pendingStates []State[T]
	delivering    bool
}

// Subscribe creates a resource for key. An empty key disables the resource:
// it never fetches and its state stays empty.
//
// The resource starts from the cached value for key, or opts.InitialData when
// nothing is cached, and revalidates according to opts until Close is called.
func Subscribe[T any](ctx context.Context, client *Client, key string, fetch FetchFunc[T], opts Options[T]) *Resource[T] {
	r := &Resource[T]{
		client: client,
		key:    key,
		fetch:  fetch,
		opts:   opts.normalized(),
		id:     uuid.NewString(),
	}

	r.baseCtx = logging.AddMetaToContext(
		context.WithoutCancel(ctx),
		slog.String("component", "swr"),
		slog.String("key", key),
		slog.String("subscriber", r.id),
	)

	if key == "" {
		r.closed = true
		return r
	}

	// Registered before reading the cache, so a revalidation settling in
	// between is either observed here or delivered as a broadcast.
	r.mu.Lock()
	client.register(key, r)
	if cached, ok := cache.Get[T](client.cache, key); ok {
		r.state.Data = cached
		r.state.HasData = true
	} else if r.opts.InitialData != nil {
		r.state.Data = *r.opts.InitialData
		r.state.HasData = true
	}
	r.state.IsValidating = client.cache.InFlight(key)
	r.mu.Unlock()

	env := client.env
	if r.opts.RevalidateOnFocus {
		r.unsubscribes = append(r.unsubscribes, env.OnFocus(func() {
			env.Go(func() { r.Revalidate(r.baseCtx, false) })
		}))
	}
	if r.opts.RevalidateOnReconnect {
		r.unsubscribes = append(r.unsubscribes, env.OnReconnect(func() {
			env.Go(func() { r.Revalidate(r.baseCtx, true) })
		}))
	}
	if r.opts.RefreshInterval > 0 {
		r.mu.Lock()
		r.scheduleRefresh()
		r.mu.Unlock()
	}
	if r.opts.RevalidateOnMount {
		env.Go(func() { r.Revalidate(r.baseCtx, false) })
	}

	return r
}

func (r *Resource[T]) Key() string {
	return r.key
}

func (r *Resource[T]) State() State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Revalidate runs the fetcher unless the key is disabled, the resource is
// closed, or (when force is false) the key was revalidated within the deduping
// interval. It returns once the revalidation settled or was skipped.
func (r *Resource[T]) Revalidate(ctx context.Context, force bool) {
	if r.isClosed() {
		return
	}

	logger := logging.FromContext(ctx)
	client := r.client

	claim, ok := client.cache.ClaimRevalidation(r.key, client.env.Now(), r.opts.DedupingInterval, force)
	if !ok {
		logger.DebugContext(ctx, "Skipping revalidation", "reason", "deduped")
		client.recordRevalidation(ctx, outcomeDeduped, force)
		return
	}

	ctx, span := client.tracer.Start(ctx, "swr.Revalidate", trace.WithAttributes(
		attribute.String("swr.key", r.key),
		attribute.Bool("swr.forced", force),
	))
	defer span.End()

	for _, l := range client.listenersFor(r.key) {
		l.onValidating()
	}

	startedAt := client.env.Now()
	data, err := r.callFetcher(ctx)
	settledAt := client.env.Now()

	result := client.cache.Settle(claim, settledAt, data, err == nil)
	if !result.Applied {
		logger.InfoContext(ctx, "Discarding superseded revalidation", "duration", settledAt.Sub(startedAt))
		client.recordRevalidation(ctx, outcomeSuperseded, force)
		if !result.InFlight {
			for _, l := range client.listenersFor(r.key) {
				l.onIdle()
			}
		}
		return
	}

	for _, l := range client.listenersFor(r.key) {
		l.onSettled(data, err, result.InFlight)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "Revalidation failed", "error", err.Error(), "duration", settledAt.Sub(startedAt))
		client.recordRevalidation(ctx, outcomeError, force)
		r.handleError(ctx, err)
		return
	}

	logger.DebugContext(ctx, "Revalidation succeeded", "duration", settledAt.Sub(startedAt))
	client.recordRevalidation(ctx, outcomeSuccess, force)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.retryCount = 0
	r.mu.Unlock()

	if r.opts.OnSuccess != nil {
		r.opts.OnSuccess(data, r.key)
	}
}

func (r *Resource[T]) callFetcher(ctx context.Context) (data T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var empty T
			data = empty
			err = fmt.Errorf("%w: %v", ErrFetcherPanicked, recovered)
		}
	}()
	return r.fetch(ctx)
}

func (r *Resource[T]) handleError(ctx context.Context, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	retry := r.opts.IsRetriable(err) && r.retryCount < r.opts.ErrorRetryCount
	if retry {
		r.retryCount++
		if r.retryTimer != nil {
			r.retryTimer.Stop()
		}
		r.retryTimer = r.client.env.AfterFunc(r.opts.ErrorRetryInterval, func() {
			r.Revalidate(r.baseCtx, true)
		})
	}
	attempt := r.retryCount
	r.mu.Unlock()

	if retry {
		logging.FromContext(ctx).InfoContext(ctx, "Scheduled retry", "attempt", attempt, "in", r.opts.ErrorRetryInterval)
		r.client.metrics.retryCount.Add(ctx, 1)
	}

	if r.opts.OnError != nil {
		r.opts.OnError(err, r.key)
	}
}

// Must be called with r.mu held.
func (r *Resource[T]) scheduleRefresh() {
	r.refreshTimer = r.client.env.AfterFunc(r.opts.RefreshInterval, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.scheduleRefresh()
		r.mu.Unlock()

		r.Revalidate(r.baseCtx, false)
	})
}

// Mutate shows value immediately to every subscriber of the key, stores it in
// the cache, and then revalidates in the background to reconcile with the
// server. The background revalidation is subject to deduplication.
func (r *Resource[T]) Mutate(ctx context.Context, value T) {
	if r.key == "" {
		return
	}
	Mutate(r.client, r.key, value)

	logging.FromContext(ctx).DebugContext(ctx, "Mutated cached value", "key", r.key)

	r.client.env.Go(func() { r.Revalidate(r.baseCtx, false) })
}

// MutateFunc is Mutate with the value computed from the currently cached one.
func (r *Resource[T]) MutateFunc(ctx context.Context, update func(current T, ok bool) T) {
	if r.key == "" {
		return
	}
	current, ok := cache.Get[T](r.client.cache, r.key)
	r.Mutate(ctx, update(current, ok))
}

// Close stops all triggers. A revalidation already in flight still updates the
// shared cache, but no longer touches this resource's state.
func (r *Resource[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}
	unsubscribes := r.unsubscribes
	r.unsubscribes = nil
	r.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	r.client.unregister(r.key, r)
}

func (r *Resource[T]) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// update applies f to the state and queues the result for OnStateChange.
// States are delivered in the order they were reached, even when revalidations
// settle concurrently. If another goroutine is already delivering, it delivers
// this state too and update returns early.
func (r *Resource[T]) update(f func(state *State[T])) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	f(&r.state)
	if r.opts.OnStateChange == nil {
		r.mu.Unlock()
		return
	}
	r.pendingStates = append(r.pendingStates, r.state)
	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true
	r.mu.Unlock()

	r.deliverPending()
}

func (r *Resource[T]) deliverPending() {
	finished := false
	defer func() {
		if !finished {
			// OnStateChange panicked
			r.mu.Lock()
			r.delivering = false
			r.pendingStates = nil
			r.mu.Unlock()
		}
	}()

	for {
		r.mu.Lock()
		if len(r.pendingStates) == 0 {
			r.delivering = false
			r.mu.Unlock()
			finished = true
			return
		}
		state := r.pendingStates[0]
		r.pendingStates = r.pendingStates[1:]
		r.mu.Unlock()

		r.opts.OnStateChange(state)
	}
}

func (r *Resource[T]) onValidating() {
	r.update(func(state *State[T]) {
		state.IsValidating = true
	})
}

func (r *Resource[T]) onSettled(value any, err error, inFlight bool) {
	r.update(func(state *State[T]) {
		state.IsValidating = inFlight
		if err != nil {
			state.Error = err
			return
		}
		state.Error = nil
		if typed, ok := asT[T](value); ok {
			state.Data = typed
			state.HasData = true
		}
	})
}

func (r *Resource[T]) onIdle() {
	r.update(func(state *State[T]) {
		state.IsValidating = false
	})
}

func (r *Resource[T]) onMutated(value any) {
	r.update(func(state *State[T]) {
		if typed, ok := asT[T](value); ok {
			state.Data = typed
			state.HasData = true
		}
	})
}

// asT converts a broadcast value back to T. A nil value is the zero T, as
// stored for a nil interface, pointer, slice or map result.
func asT[T any](value any) (T, bool) {
	if value == nil {
		var empty T
		return empty, true
	}
	typed, ok := value.(T)
	return typed, ok
}

var _ listener = (*Resource[int])(nil)
