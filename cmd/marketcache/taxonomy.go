package main

import (
	"fmt"

	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/taxonomy"
	"github.com/spf13/cobra"
)

func newTaxonomyCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Print the selectable platforms and skills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			cache, err := taxonomy.NewCache(a.api, taxonomy.DefaultOptions())
			if err != nil {
				return fmt.Errorf("failed to initialize taxonomy cache: %w", err)
			}

			state := cache.Fetch(logging.WithComponent(ctx, "taxonomy"), force)
			if err := render(cmd.OutOrStdout(), flags.output, newTaxonomyView(state)); err != nil {
				return fmt.Errorf("failed to render taxonomy: %w", err)
			}
			if state.Error != nil {
				return fmt.Errorf("failed to fetch taxonomy: %w", state.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "fetch even if a fetch is running or the cache is fresh")

	return cmd
}
