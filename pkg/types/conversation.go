package types

import (
	"regexp"
	"strings"
	"time"
)

// Utterance is one turn of a conversation session.
type Utterance struct {
	Speaker      string `json:"speaker"`                 // Speaker name (or "user" when outside the pair)
	Text         string `json:"text"`                    // Raw utterance text
	ImageCaption string `json:"image_caption,omitempty"` // Caption of a shared image
	SearchQuery  string `json:"search_query,omitempty"`  // Image search query annotation
	DiaID        string `json:"dia_id,omitempty"`        // Dataset dialogue id (e.g. "D1:3")
}

// annotationPattern matches bracketed annotations such as "[Image: ...]".
var annotationPattern = regexp.MustCompile(`\[.*?\]`)

// Content returns the utterance text with image and search annotations appended
// in bracket form, the way episode prompts present a turn.
func (u Utterance) Content() string {
	parts := []string{u.Text}
	if u.ImageCaption != "" {
		parts = append(parts, "[Image: "+u.ImageCaption+"]")
	}
	if u.SearchQuery != "" {
		parts = append(parts, "[Search: "+u.SearchQuery+"]")
	}
	return strings.Join(parts, " ")
}

// Display returns the text used for segmentation: bracketed annotations are
// stripped from the text and the image caption is appended as "Image: ...".
// It returns "" when nothing is left to show.
func (u Utterance) Display() string {
	var parts []string
	if text := strings.TrimSpace(annotationPattern.ReplaceAllString(u.Text, "")); text != "" {
		parts = append(parts, text)
	}
	if u.ImageCaption != "" {
		parts = append(parts, "Image: "+u.ImageCaption)
	}
	return strings.Join(parts, " ")
}

// Session is an ordered list of utterances sharing one dataset timestamp.
type Session struct {
	Name         string      `json:"name"`          // e.g. "session_3"
	Number       int         `json:"number"`        // Numeric suffix of Name
	RawTimestamp string      `json:"raw_timestamp"` // Timestamp as written in the dataset
	Time         time.Time   `json:"time"`          // Parsed timestamp (zero if unparsable)
	Utterances   []Utterance `json:"utterances"`
}

// Timestamp returns the raw dataset timestamp or "Unknown Time".
func (s Session) Timestamp() string {
	if s.RawTimestamp == "" {
		return "Unknown Time"
	}
	return s.RawTimestamp
}

// SpeakerFacts holds the semantic facts one speaker contributed to a span.
type SpeakerFacts struct {
	Speaker string   `json:"speaker"`
	Facts   []string `json:"facts"`
}

// TopicSpan is a contiguous, inclusive range of utterance indices covering a
// single topic, together with the facts extracted from it.
type TopicSpan struct {
	Start int            `json:"start"`
	End   int            `json:"end"`
	Facts []SpeakerFacts `json:"facts"` // In order of each speaker's first fact
}

// Len returns the number of utterances covered by the span.
func (s TopicSpan) Len() int {
	return s.End - s.Start + 1
}

// FactsFor returns the facts attributed to speaker.
func (s TopicSpan) FactsFor(speaker string) []string {
	for _, sf := range s.Facts {
		if sf.Speaker == speaker {
			return sf.Facts
		}
	}
	return nil
}

// Speakers returns the speakers that contributed at least one fact.
func (s TopicSpan) Speakers() []string {
	out := make([]string, 0, len(s.Facts))
	for _, sf := range s.Facts {
		out = append(out, sf.Speaker)
	}
	return out
}

// FactCount returns the total number of facts across speakers.
func (s TopicSpan) FactCount() int {
	n := 0
	for _, sf := range s.Facts {
		n += len(sf.Facts)
	}
	return n
}

// Roles returns the speaker-pair identifier used as the collection namespace.
func Roles(speakerA, speakerB string) string {
	return speakerA + "_" + speakerB
}

// SpeakerOwner returns the owner id of a speaker's records within a pair.
func SpeakerOwner(roles, speaker string) string {
	return roles + "_" + speaker
}
