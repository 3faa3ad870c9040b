package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ScoredItem is a judged answer in an evaluation file.
type ScoredItem struct {
	Category Category `json:"category"`
	LLMScore float64  `json:"llm_score"`
}

// Category is a question category; it decodes from numbers and quoted numbers.
type Category int

// UnmarshalJSON implements json.Unmarshaler.
func (c *Category) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid category %s: %w", b, err)
	}
	*c = Category(f)
	return nil
}

// CategoryScore is the mean score of one question category.
type CategoryScore struct {
	Category int
	Mean     float64
	Count    int
}

// ScoreSummary aggregates an evaluation file.
type ScoreSummary struct {
	Categories []CategoryScore // Ordered by category
	Overall    float64
	Count      int
}

// LoadScores reads an evaluation file and aggregates it by category.
func LoadScores(path string) (*ScoreSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}
	var byConversation map[string][]ScoredItem
	if err := json.Unmarshal(data, &byConversation); err != nil {
		return nil, fmt.Errorf("failed to decode scores %s: %w", path, err)
	}

	var items []ScoredItem
	for _, list := range byConversation {
		items = append(items, list...)
	}
	return Aggregate(items), nil
}

// Aggregate computes per-category and overall mean scores, rounded to four places.
func Aggregate(items []ScoredItem) *ScoreSummary {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	total := 0.0
	for _, it := range items {
		c := int(it.Category)
		sums[c] += it.LLMScore
		counts[c]++
		total += it.LLMScore
	}

	out := &ScoreSummary{Count: len(items)}
	for c, n := range counts {
		out.Categories = append(out.Categories, CategoryScore{Category: c, Mean: round4(sums[c] / float64(n)), Count: n})
	}
	sort.Slice(out.Categories, func(i, j int) bool { return out.Categories[i].Category < out.Categories[j].Category })
	if len(items) > 0 {
		out.Overall = round4(total / float64(len(items)))
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
