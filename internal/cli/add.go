package cli

import (
	"fmt"

	"github.com/YimingShu-teay/TraceMem/internal/dataset"
	"github.com/spf13/cobra"
)

var addFlags datasetFlags

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Ingest a LoCoMo dataset into memory",
	Long: `Segment every session of every conversation, extract episodes, semantic
facts and experiences, and write them to the memory store.

Conversations are processed concurrently. A failed topic span is reported
and the rest of its conversation continues.

Examples:
  tracemem add --data dataset/locomo10.json
  tracemem add --data dataset/locomo10.json --workers 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, err := dataset.LoadLoCoMo(addFlags.data)
		if err != nil {
			return err
		}
		eng, err := a.engine(addFlags.workerCount())
		if err != nil {
			return err
		}

		fmt.Printf("Ingesting %d conversations with %d workers...\n", len(samples), addFlags.workerCount())
		conversations, spans := eng.Ingest(cmd.Context(), samples)
		printFailures(conversations)
		fmt.Printf("Conversations: %s\n", conversations)
		fmt.Printf("Topic spans:   %s\n", spans)
		return cmd.Context().Err()
	},
}

func init() {
	addFlags.register(addCmd)
}
