package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Amund211/marketcache/internal/domain"
	"github.com/Amund211/marketcache/internal/swr"
	"github.com/Amund211/marketcache/internal/taxonomy"
	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (expected json or yaml)", format)
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case outputYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		if err := encoder.Close(); err != nil {
			return err
		}
		// Separate consecutive documents
		_, err := io.WriteString(w, "---\n")
		return err
	}
	return validateOutput(format)
}

type taxonomyView struct {
	Platforms     []domain.Platform `json:"platforms" yaml:"platforms"`
	Skills        []domain.Skill    `json:"skills" yaml:"skills"`
	Error         string            `json:"error,omitempty" yaml:"error,omitempty"`
	LastFetchedAt *time.Time        `json:"lastFetchedAt,omitempty" yaml:"lastFetchedAt,omitempty"`
}

func newTaxonomyView(state taxonomy.State) taxonomyView {
	view := taxonomyView{
		Platforms: state.Platforms,
		Skills:    state.Skills,
	}
	if state.Error != nil {
		view.Error = state.Error.Error()
	}
	if !state.LastFetchedAt.IsZero() {
		lastFetchedAt := state.LastFetchedAt.UTC()
		view.LastFetchedAt = &lastFetchedAt
	}
	return view
}

type watchView struct {
	Key          string    `json:"key" yaml:"key"`
	At           time.Time `json:"at" yaml:"at"`
	IsValidating bool      `json:"isValidating" yaml:"isValidating"`
	IsLoading    bool      `json:"isLoading" yaml:"isLoading"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
	Data         any       `json:"data,omitempty" yaml:"data,omitempty"`
}

func newWatchView(key string, at time.Time, state swr.State[any]) watchView {
	view := watchView{
		Key:          key,
		At:           at.UTC(),
		IsValidating: state.IsValidating,
		IsLoading:    state.IsLoading(),
	}
	if state.Error != nil {
		view.Error = state.Error.Error()
	}
	if state.HasData {
		view.Data = state.Data
	}
	return view
}
