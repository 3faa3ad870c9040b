package cli

import (
	"fmt"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/dataset"
	"github.com/YimingShu-teay/TraceMem/internal/router"
	"github.com/spf13/cobra"
)

var (
	answerFlags   datasetFlags
	answerOut     string
	answerVerbose bool
)

var answerCmd = &cobra.Command{
	Use:   "answer [speaker-a speaker-b question]",
	Short: "Answer questions from memory",
	Long: `Answer questions by routing through the speakers' cards.

Without arguments every question of the dataset is answered (category 5 is
skipped) and results are written after each conversation. With arguments a
single question is answered for the given pair.

Examples:
  tracemem answer --data dataset/locomo10.json --out results/run1.json
  tracemem answer Caroline Melanie "When did Caroline go to the LGBTQ support group?"`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 3 {
			return fmt.Errorf("expected no arguments or <speaker-a> <speaker-b> <question>, got %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := a.engine(answerFlags.workerCount())
		if err != nil {
			return err
		}
		files, err := a.cards()
		if err != nil {
			return err
		}
		watcher, err := files.Watch()
		if err != nil {
			a.logger.Warn("card watcher unavailable, cached cards will not refresh", "error", err)
		} else {
			defer watcher.Stop()
		}

		if len(args) == 3 {
			ans, err := eng.Router().Answer(cmd.Context(), args[2], router.Pair{A: args[0], B: args[1]})
			if err != nil {
				return err
			}
			if answerVerbose {
				fmt.Printf("Cards: %s\n", strings.Join(ans.Speakers, ", "))
				for _, s := range ans.Speakers {
					fmt.Printf("  %s threads: %s\n", s, strings.Join(ans.ThreadIDs[s], ", "))
				}
				fmt.Printf("Episodes: %d\n\n", len(ans.Episodes))
			}
			fmt.Println(ans.Text)
			return nil
		}

		samples, err := dataset.LoadLoCoMo(answerFlags.data)
		if err != nil {
			return err
		}
		out := answerOut
		if out == "" {
			out = cfg.Paths.ResultsPath
		}
		results := dataset.NewResults(out)

		fmt.Printf("Answering %d conversations with %d workers...\n", len(samples), answerFlags.workerCount())
		conversations, questions := eng.Answer(cmd.Context(), samples, results)
		printFailures(conversations)
		fmt.Printf("Conversations: %s\n", conversations)
		fmt.Printf("Questions:     %s\n", questions)
		fmt.Printf("Results written to %s\n", results.Path())
		return cmd.Context().Err()
	},
}

func init() {
	answerFlags.register(answerCmd)
	answerCmd.Flags().StringVarP(&answerOut, "out", "o", "", "results file (default from config)")
	answerCmd.Flags().BoolVar(&answerVerbose, "show-routing", false, "print the chosen cards and threads for a single question")
}
