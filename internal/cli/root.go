// Package cli provides the command-line interface for TraceMem.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/YimingShu-teay/TraceMem/internal/config"
	"github.com/YimingShu-teay/TraceMem/internal/engine"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Per-invocation state, set up in PersistentPreRunE
	cfg *config.Config
	a   *app
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tracemem",
	Short: "Layered long-term memory over conversations",
	Long: `TraceMem builds and queries a layered memory over multi-speaker conversations.

Dialogue is segmented into topic spans and distilled into episodes, semantic
facts and per-speaker experiences. Each speaker's experiences are clustered
into a card of topics and threads, and questions are answered by routing
through those cards.

Typical LoCoMo run:
  tracemem add --data dataset/locomo10.json
  tracemem build --data dataset/locomo10.json --snapshot
  tracemem answer --data dataset/locomo10.json`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := config.ParseLevel(cfg.Log.Level)
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog := config.SetupLogger(cfg.Log.File, level)
		slog.SetDefault(logger)
		a = newApp(cfg, logger, closeLog)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if a != nil {
			if err := a.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close resources: %v\n", err)
			}
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(scoresCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// datasetFlags holds the flags shared by the dataset commands.
type datasetFlags struct {
	data    string
	workers int
}

func (f *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.data, "data", "dataset/locomo10.json", "path to the LoCoMo JSON dataset")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "conversations processed concurrently (default from config)")
}

// workerCount returns the flag value, or the configured width when unset.
func (f *datasetFlags) workerCount() int {
	if f.workers > 0 {
		return f.workers
	}
	return cfg.Pipeline.Workers
}

// printFailures lists the failed units of a report on stderr.
func printFailures(r *engine.Report) {
	for _, f := range r.Failures {
		fmt.Fprintf(os.Stderr, "  failed %s: %v\n", f.Unit, f.Err)
	}
}
