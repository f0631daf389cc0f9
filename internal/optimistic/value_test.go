package optimistic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Amund211/marketcache/internal/optimistic"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name     string
	Headline string
	Version  int
}

var errSaveFailed = errors.New("save failed")

func newValue(t *testing.T, initial profile) *optimistic.Value[profile] {
	t.Helper()
	value, err := optimistic.NewValue("profile", initial)
	require.NoError(t, err)
	return value
}

func TestValueRun(t *testing.T) {
	t.Parallel()

	initial := profile{Name: "Ada", Headline: "Engineer", Version: 1}

	t.Run("failed mutation rolls back", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, initial)

		onErrorCalled := false
		_, ok, err := value.Run(t.Context(), profile{Name: "Ada", Headline: "Staff engineer"},
			func(ctx context.Context) (profile, bool, error) {
				state := value.State()
				require.Equal(t, "Staff engineer", state.Current.Headline)
				require.True(t, state.IsPending)
				require.True(t, state.HasPrevious)
				require.Equal(t, initial, state.Previous)
				return profile{}, false, errSaveFailed
			},
			optimistic.RunOptions[profile]{
				OnSuccess: func(profile, bool) { t.Fatal("unexpected success") },
				OnError: func(err error) {
					require.ErrorIs(t, err, errSaveFailed)
					onErrorCalled = true
				},
			},
		)

		require.ErrorIs(t, err, errSaveFailed)
		require.False(t, ok)
		require.True(t, onErrorCalled)

		state := value.State()
		require.Equal(t, initial, state.Current)
		require.False(t, state.IsPending)
		require.ErrorIs(t, state.Err, errSaveFailed)
	})

	t.Run("failed mutation without rollback keeps the speculative value", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, initial)
		speculative := profile{Name: "Ada", Headline: "Staff engineer"}

		_, _, err := value.Run(t.Context(), speculative,
			optimistic.Discard[profile](func(ctx context.Context) error { return errSaveFailed }),
			optimistic.RunOptions[profile]{DisableRollback: true},
		)

		require.ErrorIs(t, err, errSaveFailed)
		require.Equal(t, speculative, value.Current())
		require.ErrorIs(t, value.State().Err, errSaveFailed)
	})

	t.Run("authoritative result wins over the speculative value", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, initial)
		authoritative := profile{Name: "Ada", Headline: "Staff engineer", Version: 2}

		var successResult profile
		result, ok, err := value.Run(t.Context(), profile{Name: "Ada", Headline: "Staff engineer"},
			func(ctx context.Context) (profile, bool, error) {
				return authoritative, true, nil
			},
			optimistic.RunOptions[profile]{
				OnSuccess: func(result profile, ok bool) {
					require.True(t, ok)
					successResult = result
				},
			},
		)

		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, authoritative, result)
		require.Equal(t, authoritative, successResult)

		state := value.State()
		require.Equal(t, authoritative, state.Current)
		require.False(t, state.IsPending)
		require.NoError(t, state.Err)
		require.False(t, state.HasPrevious)
	})

	t.Run("speculative value is kept without an authoritative result", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, initial)

		_, ok, err := value.RunFunc(t.Context(),
			func(current profile) profile {
				current.Headline = "Principal engineer"
				return current
			},
			optimistic.Discard[profile](func(ctx context.Context) error { return nil }),
			optimistic.RunOptions[profile]{},
		)

		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, profile{Name: "Ada", Headline: "Principal engineer", Version: 1}, value.Current())
	})

	t.Run("a new run clears the previous error", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, initial)
		_, _, err := value.Run(t.Context(), profile{},
			optimistic.Discard[profile](func(ctx context.Context) error { return errSaveFailed }),
			optimistic.RunOptions[profile]{},
		)
		require.Error(t, err)

		_, _, err = value.Run(t.Context(), profile{Name: "Grace"},
			func(ctx context.Context) (profile, bool, error) {
				require.NoError(t, value.State().Err)
				return profile{}, false, nil
			},
			optimistic.RunOptions[profile]{},
		)
		require.NoError(t, err)
		require.Equal(t, profile{Name: "Grace"}, value.Current())
	})

	t.Run("overlapping runs each restore their own snapshot", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, profile{Version: 1})

		_, _, err := value.Run(t.Context(), profile{Version: 2},
			func(ctx context.Context) (profile, bool, error) {
				_, _, innerErr := value.Run(ctx, profile{Version: 3},
					optimistic.Discard[profile](func(ctx context.Context) error { return errSaveFailed }),
					optimistic.RunOptions[profile]{},
				)
				require.ErrorIs(t, innerErr, errSaveFailed)
				require.Equal(t, profile{Version: 2}, value.Current())
				require.True(t, value.State().IsPending, "outer run still pending")
				return profile{}, false, nil
			},
			optimistic.RunOptions[profile]{},
		)

		require.NoError(t, err)
		state := value.State()
		require.Equal(t, profile{Version: 2}, state.Current)
		require.False(t, state.IsPending)
		require.ErrorIs(t, state.Err, errSaveFailed)
	})
}

func TestValueReset(t *testing.T) {
	t.Parallel()

	value := newValue(t, profile{Version: 1})

	_, _, err := value.Run(t.Context(), profile{Version: 2},
		func(ctx context.Context) (profile, bool, error) {
			value.Reset(profile{Version: 10})

			state := value.State()
			require.False(t, state.IsPending)
			require.False(t, state.HasPrevious)
			return profile{}, false, errSaveFailed
		},
		optimistic.RunOptions[profile]{},
	)
	require.ErrorIs(t, err, errSaveFailed)

	state := value.State()
	require.Equal(t, profile{Version: 10}, state.Current, "stale run does not roll back over a reset")
	require.NoError(t, state.Err)
	require.False(t, state.IsPending)
}

func TestValueRollback(t *testing.T) {
	t.Parallel()

	t.Run("without a snapshot", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, profile{Version: 1})
		require.ErrorIs(t, value.Rollback(), optimistic.ErrNoSnapshot)
		require.Equal(t, profile{Version: 1}, value.Current())
	})

	t.Run("while a run is pending", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, profile{Version: 1})
		_, _, err := value.Run(t.Context(), profile{Version: 2},
			func(ctx context.Context) (profile, bool, error) {
				require.NoError(t, value.Rollback())
				require.Equal(t, profile{Version: 1}, value.Current())
				require.ErrorIs(t, value.Rollback(), optimistic.ErrNoSnapshot)
				return profile{}, false, nil
			},
			optimistic.RunOptions[profile]{},
		)
		require.NoError(t, err)
		require.Equal(t, profile{Version: 1}, value.Current())
	})
}

func TestValueCallbacks(t *testing.T) {
	t.Parallel()

	t.Run("update may read the state", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, profile{Name: "Ada", Version: 1})
		_, _, err := value.RunFunc(t.Context(),
			func(current profile) profile {
				require.False(t, value.State().IsPending)
				require.Equal(t, current, value.Current())
				current.Version++
				return current
			},
			optimistic.Discard[profile](func(ctx context.Context) error { return nil }),
			optimistic.RunOptions[profile]{},
		)

		require.NoError(t, err)
		require.Equal(t, profile{Name: "Ada", Version: 2}, value.Current())
	})

	t.Run("update reruns when the value changes underneath it", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, profile{Name: "Ada", Version: 1})
		calls := 0
		_, _, err := value.RunFunc(t.Context(),
			func(current profile) profile {
				calls++
				if calls == 1 {
					value.Reset(profile{Name: "Grace", Version: 5})
				}
				current.Version++
				return current
			},
			optimistic.Discard[profile](func(ctx context.Context) error { return nil }),
			optimistic.RunOptions[profile]{},
		)

		require.NoError(t, err)
		require.Equal(t, 2, calls)
		require.Equal(t, profile{Name: "Grace", Version: 6}, value.Current())
	})

	t.Run("panicking mutator is rolled back", func(t *testing.T) {
		t.Parallel()

		value := newValue(t, profile{Version: 1})
		var callbackErr error
		_, ok, err := value.Run(t.Context(), profile{Version: 2},
			func(ctx context.Context) (profile, bool, error) {
				panic("boom")
			},
			optimistic.RunOptions[profile]{OnError: func(err error) { callbackErr = err }},
		)

		require.ErrorIs(t, err, optimistic.ErrMutatorPanicked)
		require.ErrorIs(t, callbackErr, optimistic.ErrMutatorPanicked)
		require.False(t, ok)

		state := value.State()
		require.Equal(t, profile{Version: 1}, state.Current)
		require.False(t, state.IsPending)
		require.ErrorIs(t, state.Err, optimistic.ErrMutatorPanicked)

		_, _, err = value.Run(t.Context(), profile{Version: 3},
			optimistic.Discard[profile](func(ctx context.Context) error { return nil }),
			optimistic.RunOptions[profile]{},
		)
		require.NoError(t, err)
		require.Equal(t, profile{Version: 3}, value.Current())
	})
}
