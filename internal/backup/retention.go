package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "tracemem-"
	fileSuffix = ".db"
	timeLayout = "20060102-150405.000"
)

// fileName returns the snapshot file name for t.
func fileName(t time.Time) string {
	return filePrefix + t.UTC().Format(timeLayout) + fileSuffix
}

// List returns the snapshots in dir, newest first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		ts := info.ModTime()
		if stamp, ok := strings.CutPrefix(strings.TrimSuffix(name, fileSuffix), filePrefix); ok {
			if parsed, err := time.Parse(timeLayout, stamp); err == nil {
				ts = parsed
			}
		}
		snapshots = append(snapshots, Info{Path: filepath.Join(dir, name), Timestamp: ts, Size: info.Size()})
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// Prune removes all but the keep newest snapshots in dir and returns the
// removed paths. Deletion continues past individual failures.
func Prune(dir string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be >= 1, got %d", keep)
	}
	snapshots, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(snapshots) <= keep {
		return nil, nil
	}

	var (
		removed []string
		errs    []error
	)
	for _, s := range snapshots[keep:] {
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, s.Path)
	}
	if err := errors.Join(errs...); err != nil {
		return removed, fmt.Errorf("failed to delete some snapshots: %w", err)
	}
	return removed, nil
}

// DiskUsage returns the total size of the snapshots in dir.
func DiskUsage(dir string) (int64, error) {
	snapshots, err := List(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range snapshots {
		total += s.Size
	}
	return total, nil
}
