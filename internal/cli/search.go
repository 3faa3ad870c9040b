package cli

import (
	"fmt"
	"strings"

	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/memory"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/spf13/cobra"
)

var (
	searchRoles   string
	searchSpeaker string
	searchKind    string
	searchMode    string
	searchTopK    int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search one memory collection",
	Long: `Search a single collection by similarity, keywords or both.

Episodes belong to the conversation (--roles). Semantic facts, experiences
and threads belong to one speaker of it (--roles and --speaker).

Examples:
  tracemem search "adopted a cat" --roles Amy_Mike
  tracemem search "running" --roles Amy_Mike --speaker Mike --kind experience
  tracemem search "Miso" --roles Amy_Mike --speaker Amy --kind thread --mode keyword`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, owner, err := collectionOwner(searchKind, searchRoles, searchSpeaker)
		if err != nil {
			return err
		}

		mem, err := a.memory(searchMode != "keyword")
		if err != nil {
			return err
		}

		query := args[0]
		var results []memory.Result
		switch searchMode {
		case "vector":
			results, err = mem.Search(cmd.Context(), kind, owner, query, searchTopK)
		case "keyword":
			results, err = mem.KeywordSearch(cmd.Context(), kind, owner, query, searchTopK)
		case "hybrid":
			results, err = mem.HybridSearch(cmd.Context(), kind, owner, query, searchTopK)
		default:
			return fmt.Errorf("unknown search mode %q (want vector, keyword or hybrid)", searchMode)
		}
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Printf("No %s found in %s\n", kind, mem.Collection(kind, owner))
			return nil
		}
		threadMap := searchThreadMap(kind)
		fmt.Printf("%d results from %s:\n\n", len(results), mem.Collection(kind, owner))
		for i, r := range results {
			meta := r.Record.Meta()
			fmt.Printf("%2d. [%.4f] %s  %s\n", i+1, r.Score, r.Record.RecordID(), meta.Timestamp)
			if ref, ok := threadMap[r.Record.RecordID()]; ok {
				fmt.Printf("    topic: %s / thread: %s\n", ref.TopicTitle, ref.ThreadTitle)
				fmt.Printf("    episodes: %s\n", strings.Join(ref.SourceEpisodes, ", "))
			}
			fmt.Printf("    %s\n", strings.ReplaceAll(llm.Truncate(r.Record.Document(), 400), "\n", " "))
		}
		return nil
	},
}

// searchThreadMap loads the card thread map for thread searches so results
// can show their topic and source episodes. A missing map only loses that.
func searchThreadMap(kind types.Kind) types.ThreadMap {
	if kind != types.KindThread {
		return nil
	}
	files, err := a.cards()
	if err != nil {
		a.logger.Warn("thread provenance unavailable", "error", err)
		return nil
	}
	m, err := files.LoadThreadMap(searchRoles, searchSpeaker)
	if err != nil {
		a.logger.Warn("thread provenance unavailable", "error", err)
		return nil
	}
	return m
}

func init() {
	searchCmd.Flags().StringVar(&searchRoles, "roles", "", "conversation roles, e.g. Amy_Mike")
	searchCmd.Flags().StringVar(&searchSpeaker, "speaker", "", "speaker for semantic, experience and thread collections")
	searchCmd.Flags().StringVarP(&searchKind, "kind", "k", "episodes", "record kind: episodes, semantic, experience, thread")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "vector", "vector, keyword or hybrid")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "n", 10, "maximum results")
}
