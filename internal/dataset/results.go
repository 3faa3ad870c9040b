package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ResultItem is one answered question in the results file.
type ResultItem struct {
	Question       string          `json:"question"`
	GTAnswer       json.RawMessage `json:"gt_answer"`
	Category       int             `json:"category"`
	Evidence       []string        `json:"evidence"`
	TraceMemAnswer string          `json:"tracemem_answer"`
}

// ConversationKey is the results-file key of the conversation at idx.
func ConversationKey(idx int) string {
	return fmt.Sprintf("Conversation_%d", idx)
}

// Results accumulates answers per conversation and rewrites the file on Save.
type Results struct {
	path string

	mu   sync.Mutex
	data map[string][]ResultItem
}

// NewResults creates an empty result set written to path.
func NewResults(path string) *Results {
	return &Results{path: path, data: make(map[string][]ResultItem)}
}

// Path returns the results file path.
func (r *Results) Path() string { return r.path }

// Set replaces the items recorded for conversation idx.
func (r *Results) Set(idx int, items []ResultItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if items == nil {
		items = []ResultItem{}
	}
	r.data[ConversationKey(idx)] = items
}

// Len returns the number of conversations recorded.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Save writes every recorded conversation to the results file atomically.
func (r *Results) Save() error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r.data, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".results-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp results file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace results file: %w", err)
	}
	return nil
}
