package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/app"
	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/jwebster45206/pbem-engine/internal/logger"
	"github.com/jwebster45206/pbem-engine/internal/seed"
	"github.com/spf13/cobra"
)

// newRootCmd builds the pbemctl command tree. Settings come from the same
// environment variables the worker reads.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pbemctl",
		Short: "Operate the play-by-mail pipeline",
		Long: `pbemctl runs one-off pipeline operations against the configured database.

Available subcommands:
  migrate - Apply database migrations
  seed    - Load a campaign fixture from YAML
  process - Process the next pending message
  batch   - Process up to n pending messages
  stats   - Show queue statistics`,
		SilenceUsage: true,
	}

	root.AddCommand(
		migrateCmd(),
		seedCmd(),
		processCmd(),
		batchCmd(),
		statsCmd(),
	)
	return root
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.SetupTo(os.Stderr, cfg), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.DatabasePath)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load a campaign fixture from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := seed.LoadFile(cmd.Context(), store, args[0], log)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process the next pending message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Processor.ProcessNext(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func batchCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process up to n pending messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("--n must be positive")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Processor.ProcessBatch(ctx, n))
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "maximum number of messages to process")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context(), time.Now(), cfg.MaxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Failed to close connections", "error", err)
		}
	}()
	return fn(ctx, a)
}
