package cli

import (
	"fmt"

	"github.com/YimingShu-teay/TraceMem/internal/dataset"
	"github.com/spf13/cobra"
)

var scoresCmd = &cobra.Command{
	Use:   "scores <file>...",
	Short: "Aggregate judge scores per question category",
	Long: `Read one or more scored result files (conversation keys mapping to lists
of items with "category" and "llm_score") and print the mean score per
category and overall.

Example:
  tracemem scores results/run1_scored.json`,
	Args: cobra.MinimumNArgs(1),
	// Scoring reads local files only; skip storage and provider setup.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		for i, path := range args {
			summary, err := dataset.LoadScores(path)
			if err != nil {
				return err
			}
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("%s\n", path)
			fmt.Printf("  %-10s %-8s %s\n", "Category", "Mean", "Count")
			for _, c := range summary.Categories {
				fmt.Printf("  %-10d %-8.4f %d\n", c.Category, c.Mean, c.Count)
			}
			fmt.Printf("  %-10s %-8.4f %d\n", "overall", summary.Overall, summary.Count)
		}
		return nil
	},
}
