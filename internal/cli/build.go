package cli

import (
	"fmt"

	"github.com/YimingShu-teay/TraceMem/internal/dataset"
	"github.com/spf13/cobra"
)

var (
	buildFlags    datasetFlags
	buildSnapshot bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build topic and thread cards for every speaker",
	Long: `Cluster each speaker's experiences into a card of topics and threads.

Both speakers of every conversation get a card, speaker B first. Rebuilding
replaces a speaker's threads, so --snapshot can save a copy of the SQLite
store first.

Examples:
  tracemem build --data dataset/locomo10.json
  tracemem build --data dataset/locomo10.json --snapshot`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, err := dataset.LoadLoCoMo(buildFlags.data)
		if err != nil {
			return err
		}
		if buildSnapshot {
			if err := a.snapshot(cmd.Context()); err != nil {
				return err
			}
		}
		eng, err := a.engine(buildFlags.workerCount())
		if err != nil {
			return err
		}

		fmt.Printf("Building cards for %d conversations with %d workers...\n", len(samples), buildFlags.workerCount())
		report := eng.Build(cmd.Context(), samples)
		printFailures(report)
		fmt.Printf("Conversations: %s\n", report)
		fmt.Printf("Cards written to %s\n", cfg.Paths.CardsDir)
		return cmd.Context().Err()
	},
}

func init() {
	buildFlags.register(buildCmd)
	buildCmd.Flags().BoolVar(&buildSnapshot, "snapshot", false, "snapshot the SQLite store before rebuilding")
}
