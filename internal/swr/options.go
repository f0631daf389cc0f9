package swr

import (
	"context"
	"time"
)

type FetchFunc[T any] func(ctx context.Context) (T, error)

type Options[T any] struct {
	// Revalidate when the resource is subscribed.
	RevalidateOnMount bool
	// Revalidate when the host regains foreground focus.
	RevalidateOnFocus bool
	// Revalidate, bypassing deduplication, when connectivity is restored.
	RevalidateOnReconnect bool

	// Minimum time between two non-forced revalidations of the same key.
	DedupingInterval time.Duration
	// Poll period. Zero disables polling.
	RefreshInterval time.Duration

	// Number of automatic retries after a failed revalidation.
	ErrorRetryCount int
	// Delay between a failure and the retry it schedules.
	ErrorRetryInterval time.Duration
	// IsRetriable decides whether a failure may be retried. nil retries every error.
	IsRetriable func(err error) bool

	// InitialData is shown until the first revalidation settles, if the cache is empty.
	InitialData *T

	OnSuccess     func(data T, key string)
	OnError       func(err error, key string)
	OnStateChange func(state State[T])
}

// DefaultOptions returns the default revalidation behaviour:
// revalidate on mount, focus and reconnect, 2s deduping, no polling,
// three retries five seconds apart.
func DefaultOptions[T any]() Options[T] {
	return Options[T]{
		RevalidateOnMount:     true,
		RevalidateOnFocus:     true,
		RevalidateOnReconnect: true,
		DedupingInterval:      2 * time.Second,
		RefreshInterval:       0,
		ErrorRetryCount:       3,
		ErrorRetryInterval:    5 * time.Second,
	}
}

func (o Options[T]) normalized() Options[T] {
	if o.DedupingInterval < 0 {
		o.DedupingInterval = 0
	}
	if o.RefreshInterval < 0 {
		o.RefreshInterval = 0
	}
	if o.ErrorRetryCount < 0 {
		o.ErrorRetryCount = 0
	}
	if o.ErrorRetryInterval < 0 {
		o.ErrorRetryInterval = 0
	}
	if o.IsRetriable == nil {
		o.IsRetriable = func(err error) bool { return true }
	}
	return o
}

// State is what a single subscriber sees of its key.
type State[T any] struct {
	Data    T
	HasData bool
	Error   error
	// True while a revalidation of the key is in flight.
	IsValidating bool
}

func (s State[T]) IsLoading() bool {
	return !s.HasData && s.IsValidating
}
