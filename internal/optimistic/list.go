package optimistic

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Amund211/marketcache/internal/logging"
)

type listEntry[T any] struct {
	// Identifies an item across snapshots, so an authoritative result can
	// replace the speculative item it was created for.
	token uint64
	item  T
}

type ListState[T any] struct {
	Items       []T
	Previous    []T
	HasPrevious bool
	IsPending   bool
	Err         error
}

// List holds an ordered collection updated optimistically. Every operation
// snapshots the whole list and restores its own snapshot on failure.
type List[T any] struct {
	name    string
	metrics optimisticMetricsCollection

	mu          sync.Mutex
	entries     []listEntry[T]
	previous    []listEntry[T]
	hasPrevious bool
	snapshotID  uint64
	pending     int
	err         error
	generation  uint64
	// Bumped on every change of entries
	version uint64

	nextToken atomic.Uint64
}

func NewList[T any](name string, initial []T) (*List[T], error) {
	metrics, err := newMetrics()
	if err != nil {
		return nil, err
	}

	l := &List[T]{
		name:    name,
		metrics: metrics,
	}
	l.entries = l.wrap(initial)
	return l, nil
}

func (l *List[T]) wrap(items []T) []listEntry[T] {
	entries := make([]listEntry[T], 0, len(items))
	for _, item := range items {
		entries = append(entries, listEntry[T]{token: l.nextToken.Add(1), item: item})
	}
	return entries
}

// Must be called with l.mu held.
func (l *List[T]) setEntries(entries []listEntry[T]) {
	l.entries = entries
	l.version++
}

func unwrap[T any](entries []listEntry[T]) []T {
	items := make([]T, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.item)
	}
	return items
}

func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return unwrap(l.entries)
}

func (l *List[T]) State() ListState[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := ListState[T]{
		Items:       unwrap(l.entries),
		HasPrevious: l.hasPrevious,
		IsPending:   l.pending > 0,
		Err:         l.err,
	}
	if l.hasPrevious {
		state.Previous = unwrap(l.previous)
	}
	return state
}

// AddItem appends item immediately. When fn returns an authoritative result it
// replaces the appended item, wherever it has moved to.
func (l *List[T]) AddItem(ctx context.Context, item T, fn MutatorFunc[T], opts RunOptions[T]) (T, bool, error) {
	token := l.nextToken.Add(1)
	return l.run(ctx, "add", func(entries []listEntry[T]) []listEntry[T] {
		return append(entries, listEntry[T]{token: token, item: item})
	}, func(entries []listEntry[T], result T) {
		for i := range entries {
			if entries[i].token == token {
				entries[i].item = result
				return
			}
		}
	}, fn, opts)
}

// RemoveItem removes every item matching match immediately.
func (l *List[T]) RemoveItem(ctx context.Context, match func(item T) bool, fn MutatorFunc[T], opts RunOptions[T]) (T, bool, error) {
	return l.run(ctx, "remove", func(entries []listEntry[T]) []listEntry[T] {
		return slices.DeleteFunc(entries, func(entry listEntry[T]) bool {
			return match(entry.item)
		})
	}, nil, fn, opts)
}

// UpdateItem replaces every item matching match with update(item) immediately.
// A partial update is a function copying the changed fields onto the item; see
// Set for replacing matched items with a fixed value.
func (l *List[T]) UpdateItem(ctx context.Context, match func(item T) bool, update func(item T) T, fn MutatorFunc[T], opts RunOptions[T]) (T, bool, error) {
	return l.run(ctx, "update", func(entries []listEntry[T]) []listEntry[T] {
		for i := range entries {
			if match(entries[i].item) {
				entries[i].item = update(entries[i].item)
			}
		}
		return entries
	}, nil, fn, opts)
}

func (l *List[T]) run(
	ctx context.Context,
	operation string,
	apply func(entries []listEntry[T]) []listEntry[T],
	commit func(entries []listEntry[T], result T),
	fn MutatorFunc[T],
	opts RunOptions[T],
) (T, bool, error) {
	// apply runs without the lock held, and runs again if the list changed
	// while it was computing.
	var snapshot []listEntry[T]
	var snapshotID, generation uint64
	for {
		l.mu.Lock()
		base, version := l.entries, l.version
		l.mu.Unlock()

		next := apply(slices.Clone(base))

		l.mu.Lock()
		if l.version != version {
			l.mu.Unlock()
			continue
		}
		snapshot = slices.Clone(base)
		l.previous = snapshot
		l.hasPrevious = true
		l.snapshotID++
		snapshotID = l.snapshotID
		generation = l.generation
		l.setEntries(next)
		l.pending++
		l.err = nil
		l.mu.Unlock()
		break
	}

	result, ok, err := callMutator(ctx, fn)

	l.mu.Lock()
	if generation == l.generation {
		l.pending--
		if err != nil {
			l.err = err
			if !opts.DisableRollback {
				l.setEntries(slices.Clone(snapshot))
			}
		} else if ok && commit != nil {
			entries := slices.Clone(l.entries)
			commit(entries, result)
			l.setEntries(entries)
		}
		if snapshotID == l.snapshotID {
			l.previous = nil
			l.hasPrevious = false
		}
	}
	l.mu.Unlock()

	if err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Optimistic list update failed",
			slog.String("runner", l.name),
			slog.String("operation", operation),
			slog.Bool("rolledBack", !opts.DisableRollback),
			slog.String("error", err.Error()),
		)
		l.metrics.recordRollback(ctx, l.name, operation, !opts.DisableRollback)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		var empty T
		return empty, false, err
	}

	l.metrics.recordCommit(ctx, l.name, operation)
	if opts.OnSuccess != nil {
		opts.OnSuccess(result, ok)
	}
	return result, ok, nil
}

// Reset replaces the list and clears the error, the pending flag and the
// snapshot. Operations still in flight no longer modify the state.
func (l *List[T]) Reset(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setEntries(l.wrap(items))
	l.previous = nil
	l.hasPrevious = false
	l.pending = 0
	l.err = nil
	l.generation++
}

// Rollback restores the snapshot taken by the most recent operation.
func (l *List[T]) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasPrevious {
		return ErrNoSnapshot
	}
	l.setEntries(l.previous)
	l.previous = nil
	l.hasPrevious = false
	return nil
}

// Set returns an update for UpdateItem that replaces the matched items with item.
func Set[T any](item T) func(T) T {
	return func(T) T { return item }
}
