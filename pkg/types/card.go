package types

// Card is the persisted topic hierarchy of one speaker within a speaker pair.
type Card struct {
	Speaker    string  `json:"speaker"`
	Roles      string  `json:"roles"`
	ThemeTitle string  `json:"theme_title,omitempty"` // Absent when the theme call could not be parsed
	Topics     []Topic `json:"topics"`
}

// Topic is a coarse cluster of experiences with its nested threads.
type Topic struct {
	TopicTitle string          `json:"topic_title,omitempty"`
	Threads    []ThreadSummary `json:"threads"`
}

// ThreadSummary is the card-level view of a persisted Thread.
type ThreadSummary struct {
	ThreadTitle string `json:"thread_title,omitempty"`
	Summary     string `json:"summary,omitempty"`
	ThreadID    string `json:"thread_id"`
}

// ThreadIDs returns every thread id in card order.
func (c *Card) ThreadIDs() []string {
	var ids []string
	for _, topic := range c.Topics {
		for _, th := range topic.Threads {
			ids = append(ids, th.ThreadID)
		}
	}
	return ids
}

// HasThread reports whether id is referenced by the card.
func (c *Card) HasThread(id string) bool {
	for _, topic := range c.Topics {
		for _, th := range topic.Threads {
			if th.ThreadID == id {
				return true
			}
		}
	}
	return false
}

// ThreadRef locates a thread inside a card and records its provenance.
type ThreadRef struct {
	TopicTitle     string   `json:"topic_title,omitempty"`
	ThreadTitle    string   `json:"thread_title,omitempty"`
	SourceEpisodes []string `json:"source_episodes"`
	Members        []string `json:"members"` // Experience ids
}

// ThreadMap maps thread id to its reference, written alongside a card.
type ThreadMap map[string]ThreadRef
