package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the fixed record kinds. Its value is also the
// collection suffix used by the memory store.
type Kind string

const (
	KindEpisode    Kind = "episodes"
	KindSemantic   Kind = "semantic"
	KindExperience Kind = "experience"
	KindThread     Kind = "thread"
)

// Kinds lists all record kinds in collection order.
var Kinds = []Kind{KindEpisode, KindSemantic, KindExperience, KindThread}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEpisode, KindSemantic, KindExperience, KindThread:
		return true
	}
	return false
}

// ParseKind converts user input (singular or plural) into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "episodes", "episode":
		return KindEpisode, nil
	case "semantic", "fact", "facts":
		return KindSemantic, nil
	case "experience", "experiences":
		return KindExperience, nil
	case "thread", "threads":
		return KindThread, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// ExperienceSentinel is the content returned when a span holds no personal
// experience for a speaker.
const ExperienceSentinel = "N/A"

// Metadata is the persisted, fully-typed attribute set of a record.
// Fields that do not apply to a kind are left empty.
type Metadata struct {
	Type           Kind       `json:"type"`
	UserID         string     `json:"user_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Timestamp      string     `json:"timestamp,omitempty"`
	SourceEpisode  string     `json:"source_episode,omitempty"`
	SourceEpisodes []string   `json:"source_episodes,omitempty"`
	RevisionCount  int        `json:"revision_count,omitempty"`
}

// Record is the closed set of memory records. Only the four kinds in this
// package implement it.
type Record interface {
	RecordID() string
	Kind() Kind
	// Owner is the collection owner: the speaker pair for episodes, the
	// pair-scoped speaker for all other kinds.
	Owner() string
	// Document is the stored text.
	Document() string
	// EmbedText is the text sent to the embedding provider.
	EmbedText() string
	Meta() Metadata
	sealed()
}

// NewID returns a random record id.
func NewID() string {
	return uuid.NewString()
}

// Episode is a summary of one topic span.
type Episode struct {
	ID        string    `json:"episode_id"`
	UserID    string    `json:"user_id"` // Speaker pair
	Summary   string    `json:"summary"`
	Timestamp string    `json:"timestamp"` // Dataset timestamp of the session
	CreatedAt time.Time `json:"created_at"`
}

// NewEpisode builds an episode with a fresh id.
func NewEpisode(roles, summary, timestamp string) *Episode {
	return &Episode{ID: NewID(), UserID: roles, Summary: summary, Timestamp: timestamp, CreatedAt: time.Now().UTC()}
}

func (e *Episode) RecordID() string  { return e.ID }
func (e *Episode) Kind() Kind        { return KindEpisode }
func (e *Episode) Owner() string     { return e.UserID }
func (e *Episode) Document() string  { return e.Summary }
func (e *Episode) EmbedText() string { return e.Summary }
func (e *Episode) sealed()           {}

func (e *Episode) Meta() Metadata {
	return Metadata{Type: KindEpisode, UserID: e.UserID, CreatedAt: e.CreatedAt, Timestamp: e.Timestamp}
}

// SemanticFact is an atomic, speaker-attributed statement.
type SemanticFact struct {
	ID            string     `json:"memory_id"`
	UserID        string     `json:"user_id"` // Pair-scoped speaker
	Content       string     `json:"content"`
	SourceEpisode string     `json:"source_episode"`
	Timestamp     string     `json:"timestamp"`
	RevisionCount int        `json:"revision_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// NewSemanticFact builds a fact with a fresh id.
func NewSemanticFact(owner, content, episodeID, timestamp string) *SemanticFact {
	return &SemanticFact{ID: NewID(), UserID: owner, Content: content, SourceEpisode: episodeID, Timestamp: timestamp, CreatedAt: time.Now().UTC()}
}

func (f *SemanticFact) RecordID() string  { return f.ID }
func (f *SemanticFact) Kind() Kind        { return KindSemantic }
func (f *SemanticFact) Owner() string     { return f.UserID }
func (f *SemanticFact) Document() string  { return f.Content }
func (f *SemanticFact) EmbedText() string { return f.Content }
func (f *SemanticFact) sealed()           {}

func (f *SemanticFact) Meta() Metadata {
	return Metadata{
		Type:          KindSemantic,
		UserID:        f.UserID,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
		Timestamp:     f.Timestamp,
		SourceEpisode: f.SourceEpisode,
		RevisionCount: f.RevisionCount,
	}
}

// Experience is a first-person biographical note for one speaker.
type Experience struct {
	ID            string    `json:"experience_id"`
	UserID        string    `json:"user_id"`
	Content       string    `json:"content"`
	SourceEpisode string    `json:"source_episode"`
	Timestamp     string    `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewExperience builds an experience with a fresh id.
func NewExperience(owner, content, episodeID, timestamp string) *Experience {
	return &Experience{ID: NewID(), UserID: owner, Content: content, SourceEpisode: episodeID, Timestamp: timestamp, CreatedAt: time.Now().UTC()}
}

func (x *Experience) RecordID() string  { return x.ID }
func (x *Experience) Kind() Kind        { return KindExperience }
func (x *Experience) Owner() string     { return x.UserID }
func (x *Experience) Document() string  { return x.Content }
func (x *Experience) EmbedText() string { return "Keywords:" + x.Content }
func (x *Experience) sealed()           {}

func (x *Experience) Meta() Metadata {
	return Metadata{Type: KindExperience, UserID: x.UserID, CreatedAt: x.CreatedAt, Timestamp: x.Timestamp, SourceEpisode: x.SourceEpisode}
}

// Thread is a persisted cluster of experiences sharing a fine-grained topic.
type Thread struct {
	ID             string    `json:"thread_id"`
	UserID         string    `json:"user_id"`
	Content        string    `json:"content"`
	SourceEpisodes []string  `json:"source_episode"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewThread builds a thread with a fresh id.
func NewThread(owner, content string, episodes []string) *Thread {
	return &Thread{ID: NewID(), UserID: owner, Content: content, SourceEpisodes: episodes, CreatedAt: time.Now().UTC()}
}

func (t *Thread) RecordID() string  { return t.ID }
func (t *Thread) Kind() Kind        { return KindThread }
func (t *Thread) Owner() string     { return t.UserID }
func (t *Thread) Document() string  { return t.Content }
func (t *Thread) EmbedText() string { return t.Content }
func (t *Thread) sealed()           {}

func (t *Thread) Meta() Metadata {
	return Metadata{Type: KindThread, UserID: t.UserID, CreatedAt: t.CreatedAt, SourceEpisodes: t.SourceEpisodes}
}

// DecodeRecord rebuilds the concrete record for kind from its stored parts.
func DecodeRecord(kind Kind, id, content string, meta Metadata) (Record, error) {
	switch kind {
	case KindEpisode:
		return &Episode{ID: id, UserID: meta.UserID, Summary: content, Timestamp: meta.Timestamp, CreatedAt: meta.CreatedAt}, nil
	case KindSemantic:
		return &SemanticFact{
			ID:            id,
			UserID:        meta.UserID,
			Content:       content,
			SourceEpisode: meta.SourceEpisode,
			Timestamp:     meta.Timestamp,
			RevisionCount: meta.RevisionCount,
			CreatedAt:     meta.CreatedAt,
			UpdatedAt:     meta.UpdatedAt,
		}, nil
	case KindExperience:
		return &Experience{ID: id, UserID: meta.UserID, Content: content, SourceEpisode: meta.SourceEpisode, Timestamp: meta.Timestamp, CreatedAt: meta.CreatedAt}, nil
	case KindThread:
		return &Thread{ID: id, UserID: meta.UserID, Content: content, SourceEpisodes: meta.SourceEpisodes, CreatedAt: meta.CreatedAt}, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}
