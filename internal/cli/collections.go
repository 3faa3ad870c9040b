package cli

import (
	"fmt"
	"strings"

	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/spf13/cobra"
)

var (
	collectionsReset   string
	collectionsRoles   string
	collectionsSpeaker string
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List memory collections and their sizes",
	Long: `List every memory collection with its entry count.

With --reset, drop one collection instead. Episodes belong to the
conversation (--roles); the other kinds also need --speaker.

Examples:
  tracemem collections
  tracemem collections --reset experience --roles Amy_Mike --speaker Amy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := a.memory(false)
		if err != nil {
			return err
		}

		if collectionsReset != "" {
			kind, owner, err := collectionOwner(collectionsReset, collectionsRoles, collectionsSpeaker)
			if err != nil {
				return err
			}
			if err := mem.Reset(cmd.Context(), kind, owner); err != nil {
				return err
			}
			fmt.Printf("Dropped %s\n", mem.Collection(kind, owner))
			return nil
		}

		infos, err := mem.Collections(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No collections")
			return nil
		}

		fmt.Printf("%-40s | %-10s\n", "Collection", "Entries")
		fmt.Println(strings.Repeat("-", 53))
		total := 0
		for _, info := range infos {
			fmt.Printf("%-40s | %-10d\n", info.Name, info.Count)
			total += info.Count
		}
		fmt.Println(strings.Repeat("-", 53))
		fmt.Printf("%-40s | %-10d\n", fmt.Sprintf("%d collections", len(infos)), total)
		return nil
	},
}

// collectionOwner resolves a kind name and the roles/speaker flags to the
// owner of that kind's collection.
func collectionOwner(kindName, roles, speaker string) (types.Kind, string, error) {
	kind, err := types.ParseKind(kindName)
	if err != nil {
		return "", "", err
	}
	if roles == "" {
		return "", "", fmt.Errorf("--roles is required")
	}
	if kind == types.KindEpisode {
		return kind, roles, nil
	}
	if speaker == "" {
		return "", "", fmt.Errorf("--speaker is required for %s", kind)
	}
	return kind, types.SpeakerOwner(roles, speaker), nil
}

func init() {
	collectionsCmd.Flags().StringVar(&collectionsReset, "reset", "", "drop the collection of this kind")
	collectionsCmd.Flags().StringVar(&collectionsRoles, "roles", "", "conversation roles, e.g. Amy_Mike")
	collectionsCmd.Flags().StringVar(&collectionsSpeaker, "speaker", "", "speaker for semantic, experience and thread collections")
}
