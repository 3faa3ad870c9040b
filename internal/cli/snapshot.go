package cli

import (
	"fmt"
	"time"

	"github.com/YimingShu-teay/TraceMem/internal/backup"
	"github.com/spf13/cobra"
)

var (
	snapshotList    bool
	snapshotRestore string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Snapshot, list or restore the SQLite memory store",
	Long: `Write a verified copy of the SQLite store to the snapshot directory,
keeping the newest snapshots only.

Examples:
  tracemem snapshot
  tracemem snapshot --list
  tracemem snapshot --restore snapshots/tracemem-20240508-135600.000.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := a.snapshots()
		if err != nil {
			return err
		}

		switch {
		case snapshotList:
			infos, err := backup.List(svc.Dir())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Printf("No snapshots in %s\n", svc.Dir())
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%s  %s  %d bytes\n", info.Timestamp.Format("2006-01-02 15:04:05"), info.Path, info.Size)
			}
			usage, err := backup.DiskUsage(svc.Dir())
			if err != nil {
				return err
			}
			fmt.Printf("%d snapshots, %d bytes\n", len(infos), usage)
			return nil

		case snapshotRestore != "":
			if err := svc.Restore(cmd.Context(), snapshotRestore); err != nil {
				return err
			}
			fmt.Printf("Restored %s to %s\n", snapshotRestore, cfg.Storage.SQLitePath)
			return nil
		}

		result, err := svc.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot written: %s (%d bytes, %s)\n", result.Path, result.Size, result.Duration.Round(time.Millisecond))
		for _, p := range result.Pruned {
			fmt.Printf("Pruned: %s\n", p)
		}
		return nil
	},
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotList, "list", false, "list existing snapshots")
	snapshotCmd.Flags().StringVar(&snapshotRestore, "restore", "", "restore the store from a snapshot file")
	snapshotCmd.MarkFlagsMutuallyExclusive("list", "restore")
}
