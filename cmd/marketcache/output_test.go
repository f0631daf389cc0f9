package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Amund211/marketcache/internal/domain"
	"github.com/Amund211/marketcache/internal/swr"
	"github.com/Amund211/marketcache/internal/taxonomy"
	"github.com/stretchr/testify/require"
)

func TestValidateOutput(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateOutput("json"))
	require.NoError(t, validateOutput("yaml"))
	require.Error(t, validateOutput("xml"))
}

func TestRenderTaxonomy(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	state := taxonomy.State{
		Platforms:     []domain.Platform{{ID: "upwork", Name: "Upwork"}},
		Skills:        []domain.Skill{{ID: "go", Name: "Go", Category: "languages"}},
		LastFetchedAt: fetchedAt,
	}

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		require.NoError(t, render(buf, "json", newTaxonomyView(state)))
		require.JSONEq(t, `{
			"platforms": [{"id": "upwork", "name": "Upwork"}],
			"skills": [{"id": "go", "name": "Go", "category": "languages"}],
			"lastFetchedAt": "2026-01-02T03:04:05Z"
		}`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		require.NoError(t, render(buf, "yaml", newTaxonomyView(state)))
		require.Equal(t, `platforms:
  - id: upwork
    name: Upwork
skills:
  - id: go
    name: Go
    category: languages
lastFetchedAt: 2026-01-02T03:04:05Z
---
`, buf.String())
	})

	t.Run("failed fetch", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		view := newTaxonomyView(taxonomy.State{
			Platforms: []domain.Platform{},
			Skills:    []domain.Skill{},
			Error:     errors.New("failed to get skills: temporarily unavailable"),
		})
		require.NoError(t, render(buf, "json", view))
		require.JSONEq(t, `{
			"platforms": [],
			"skills": [],
			"error": "failed to get skills: temporarily unavailable"
		}`, buf.String())
	})
}

func TestRenderWatch(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

	buf := &bytes.Buffer{}
	require.NoError(t, render(buf, "json", newWatchView("/jobs", at, swr.State[any]{IsValidating: true})))
	require.JSONEq(t, `{"key": "/jobs", "at": "2026-01-02T03:04:05Z", "isValidating": true, "isLoading": true}`, buf.String())

	buf.Reset()
	state := swr.State[any]{
		Data:    []any{map[string]any{"id": float64(1)}},
		HasData: true,
		Error:   errors.New("boom"),
	}
	require.NoError(t, render(buf, "json", newWatchView("/jobs", at, state)))
	require.JSONEq(t, `{
		"key": "/jobs",
		"at": "2026-01-02T03:04:05Z",
		"isValidating": false,
		"isLoading": false,
		"error": "boom",
		"data": [{"id": 1}]
	}`, buf.String())
}
