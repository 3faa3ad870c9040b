package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Entry is one stored document.
type Entry struct {
	ID        string
	Document  string
	Metadata  types.Metadata
	Embedding []float32
}

// Match is an entry returned by a query together with its relevance.
type Match struct {
	Entry
	Score float64
}

// CollectionInfo describes a stored collection.
type CollectionInfo struct {
	Name  string
	Count int
}

// ValidateEntries checks that every entry has an id and an embedding of the
// same dimension.
func ValidateEntries(entries []Entry) error {
	dim := -1
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%w: entry id is required", ErrInvalidInput)
		}
		if len(e.Embedding) == 0 {
			return fmt.Errorf("%w: entry %s has no embedding", ErrInvalidInput, e.ID)
		}
		if dim >= 0 && len(e.Embedding) != dim {
			return fmt.Errorf("%w: entries have mixed embedding dimensions (%d and %d)", ErrInvalidInput, dim, len(e.Embedding))
		}
		dim = len(e.Embedding)
	}
	return nil
}

// SortMatches orders matches by score descending, keeping the original order
// for ties, and truncates to k when k > 0.
func SortMatches(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
