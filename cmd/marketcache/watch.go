package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Amund211/marketcache/internal/adapters/marketapi"
	"github.com/Amund211/marketcache/internal/cache"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/signals"
	"github.com/Amund211/marketcache/internal/swr"
	"github.com/spf13/cobra"
)

type watchFlags struct {
	opts swr.Options[any]
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	wf := &watchFlags{opts: swr.DefaultOptions[any]()}

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch an API path and print every state change",
		Long: `Watch subscribes to an API path and prints its state every time it changes.

Send SIGUSR1 to simulate regaining focus. SIGUSR2 toggles connectivity, and
coming back online triggers a reconnect.
Stop with SIGINT or SIGTERM.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			return watch(logging.WithComponent(ctx, "watch"), cmd, flags.output, a.api, args[0], wf.opts)
		},
	}

	cmd.Flags().DurationVar(&wf.opts.RefreshInterval, "refresh-interval", 0, "poll period, 0 disables polling")
	cmd.Flags().DurationVar(&wf.opts.DedupingInterval, "dedup-interval", wf.opts.DedupingInterval, "minimum time between two revalidations")
	cmd.Flags().IntVar(&wf.opts.ErrorRetryCount, "retry-count", wf.opts.ErrorRetryCount, "retries after a failed revalidation")
	cmd.Flags().DurationVar(&wf.opts.ErrorRetryInterval, "retry-interval", wf.opts.ErrorRetryInterval, "delay before each retry")

	return cmd
}

func watch(ctx context.Context, cmd *cobra.Command, output string, api *marketapi.Client, path string, opts swr.Options[any]) error {
	logger := logging.FromContext(ctx)

	env := signals.NewSystem()
	client, err := swr.NewClient(cache.NewKeyedCache(), env)
	if err != nil {
		return fmt.Errorf("failed to initialize swr client: %w", err)
	}

	var outputMu sync.Mutex
	opts.IsRetriable = marketapi.IsRetriable
	opts.OnStateChange = func(state swr.State[any]) {
		outputMu.Lock()
		defer outputMu.Unlock()
		if err := render(cmd.OutOrStdout(), output, newWatchView(path, env.Now(), state)); err != nil {
			logger.ErrorContext(ctx, "Failed to render state", "error", err.Error())
		}
	}

	fetch := func(ctx context.Context) (any, error) {
		return marketapi.Get[any](ctx, api, path)
	}

	resource := swr.Subscribe(ctx, client, path, fetch, opts)
	defer resource.Close()

	hostSignals := make(chan os.Signal, 1)
	signal.Notify(hostSignals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(hostSignals)

	logger.InfoContext(ctx, "Watching", "path", path)
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Stopped watching", "path", path)
			return nil
		case sig := <-hostSignals:
			switch sig {
			case syscall.SIGUSR1:
				logger.InfoContext(ctx, "Focus")
				env.Focus()
			case syscall.SIGUSR2:
				online := !env.Online()
				logger.InfoContext(ctx, "Connectivity changed", "online", online)
				env.SetOnline(online)
			}
		}
	}
}
