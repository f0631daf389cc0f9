// Package optimistic applies speculative values immediately and reconciles
// them with the result of an asynchronous mutation.
//
// Rollback depth is a single step: every transition snapshots the value it
// started from, and a failed transition restores its own snapshot. Callers that
// need stacked rollback across overlapping transitions must serialize them.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Amund211/marketcache/internal/logging"
)

var ErrNoSnapshot = errors.New("no snapshot to roll back to")
var ErrMutatorPanicked = errors.New("mutator panicked")

// MutatorFunc performs the server side of an optimistic transition. When ok is
// true, result is authoritative and replaces the speculative value.
type MutatorFunc[T any] func(ctx context.Context) (result T, ok bool, err error)

// Discard adapts a mutator that has no authoritative result.
func Discard[T any](fn func(ctx context.Context) error) MutatorFunc[T] {
	return func(ctx context.Context) (T, bool, error) {
		var empty T
		return empty, false, fn(ctx)
	}
}

type RunOptions[T any] struct {
	// Keep the speculative value when the mutator fails.
	DisableRollback bool

	OnSuccess func(result T, ok bool)
	OnError   func(err error)
}

type State[T any] struct {
	Current     T
	Previous    T
	HasPrevious bool
	IsPending   bool
	Err         error
}

// Value holds a single optimistically updated value.
type Value[T any] struct {
	name    string
	metrics optimisticMetricsCollection

	mu          sync.Mutex
	current     T
	previous    T
	hasPrevious bool
	snapshotID  uint64
	pending     int
	err         error
	// Bumped on every change of current
	version uint64
	// Bumped by Reset. Transitions started under an older generation settle
	// without touching the state.
	generation uint64
}

func NewValue[T any](name string, initial T) (*Value[T], error) {
	metrics, err := newMetrics()
	if err != nil {
		return nil, err
	}
	return &Value[T]{
		name:    name,
		metrics: metrics,
		current: initial,
	}, nil
}

func (v *Value[T]) State() State[T] {
	v.mu.Lock()
	defer v.mu.Unlock()

	return State[T]{
		Current:     v.current,
		Previous:    v.previous,
		HasPrevious: v.hasPrevious,
		IsPending:   v.pending > 0,
		Err:         v.err,
	}
}

func (v *Value[T]) Current() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Run shows value immediately, then runs fn. The error from fn is stored in
// the state and returned.
func (v *Value[T]) Run(ctx context.Context, value T, fn MutatorFunc[T], opts RunOptions[T]) (T, bool, error) {
	return v.RunFunc(ctx, func(T) T { return value }, fn, opts)
}

// RunFunc is Run with the speculative value computed from the current one.
// update runs without the lock held, and runs again if the value changed
// while it was computing.
func (v *Value[T]) RunFunc(ctx context.Context, update func(current T) T, fn MutatorFunc[T], opts RunOptions[T]) (T, bool, error) {
	var snapshot T
	var snapshotID, generation uint64
	for {
		v.mu.Lock()
		base, version := v.current, v.version
		v.mu.Unlock()

		next := update(base)

		v.mu.Lock()
		if v.version != version {
			v.mu.Unlock()
			continue
		}
		snapshot = base
		v.previous = snapshot
		v.hasPrevious = true
		v.snapshotID++
		snapshotID = v.snapshotID
		generation = v.generation
		v.setCurrent(next)
		v.pending++
		v.err = nil
		v.mu.Unlock()
		break
	}

	result, ok, err := callMutator(ctx, fn)

	v.mu.Lock()
	if generation == v.generation {
		v.pending--
		if err != nil {
			v.err = err
			if !opts.DisableRollback {
				v.setCurrent(snapshot)
			}
		} else if ok {
			v.setCurrent(result)
		}
		if snapshotID == v.snapshotID {
			v.hasPrevious = false
			var empty T
			v.previous = empty
		}
	}
	v.mu.Unlock()

	if err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Optimistic update failed",
			slog.String("runner", v.name),
			slog.Bool("rolledBack", !opts.DisableRollback),
			slog.String("error", err.Error()),
		)
		v.metrics.recordRollback(ctx, v.name, "run", !opts.DisableRollback)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		var empty T
		return empty, false, err
	}

	v.metrics.recordCommit(ctx, v.name, "run")
	if opts.OnSuccess != nil {
		opts.OnSuccess(result, ok)
	}
	return result, ok, nil
}

// Reset overwrites the value and clears the error, the pending flag and the
// snapshot. Transitions still in flight no longer modify the state.
func (v *Value[T]) Reset(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.setCurrent(value)
	var empty T
	v.previous = empty
	v.hasPrevious = false
	v.pending = 0
	v.err = nil
	v.generation++
}

// Rollback restores the snapshot taken by the most recent transition.
// It returns ErrNoSnapshot, leaving the state untouched, when there is none.
func (v *Value[T]) Rollback() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.hasPrevious {
		return ErrNoSnapshot
	}
	v.setCurrent(v.previous)
	var empty T
	v.previous = empty
	v.hasPrevious = false
	return nil
}

// Must be called with v.mu held.
func (v *Value[T]) setCurrent(value T) {
	v.current = value
	v.version++
}

func callMutator[T any](ctx context.Context, fn MutatorFunc[T]) (result T, ok bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var empty T
			result, ok = empty, false
			err = fmt.Errorf("%w: %v", ErrMutatorPanicked, recovered)
		}
	}()
	return fn(ctx)
}
