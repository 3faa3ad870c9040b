// Package dataset reads LoCoMo conversations and writes evaluation results.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/YimingShu-teay/TraceMem/pkg/types"
)

// OutsiderSpeaker replaces any speaker that is not one of the pair.
const OutsiderSpeaker = "user"

// AdversarialCategory marks questions that are never answered.
const AdversarialCategory = 5

// QA is one benchmark question.
type QA struct {
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer,omitempty"` // String or number, kept as written
	Evidence []string        `json:"evidence"`
	Category int             `json:"category"`
}

// AnswerText returns the ground-truth answer as plain text.
func (q QA) AnswerText() string {
	var s string
	if err := json.Unmarshal(q.Answer, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(q.Answer))
}

// Sample is one LoCoMo conversation with its questions.
type Sample struct {
	Index    int // Position in the dataset file
	SampleID string
	SpeakerA string
	SpeakerB string
	Sessions []types.Session // Ordered by session number
	QA       []QA
}

// Roles returns the owner id of the pair.
func (s *Sample) Roles() string { return types.Roles(s.SpeakerA, s.SpeakerB) }

// Name is a short label for logs and reports.
func (s *Sample) Name() string {
	if s.SampleID != "" {
		return s.SampleID
	}
	return fmt.Sprintf("conversation_%d", s.Index)
}

type rawSample struct {
	SampleID     string                     `json:"sample_id"`
	Conversation map[string]json.RawMessage `json:"conversation"`
	QA           []QA                       `json:"qa"`
}

type rawTurn struct {
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	DiaID       string `json:"dia_id"`
	BlipCaption string `json:"blip_caption"`
	Query       string `json:"query"`
}

// LoadLoCoMo reads a LoCoMo dataset file.
func LoadLoCoMo(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseLoCoMo(data)
}

// ParseLoCoMo decodes a LoCoMo dataset document.
func ParseLoCoMo(data []byte) ([]Sample, error) {
	var raw []rawSample
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}

	samples := make([]Sample, 0, len(raw))
	for i, rs := range raw {
		s, err := buildSample(i, rs)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func buildSample(index int, rs rawSample) (Sample, error) {
	s := Sample{Index: index, SampleID: rs.SampleID, QA: rs.QA}
	if err := decodeString(rs.Conversation, "speaker_a", &s.SpeakerA); err != nil {
		return s, err
	}
	if err := decodeString(rs.Conversation, "speaker_b", &s.SpeakerB); err != nil {
		return s, err
	}
	if s.SpeakerA == "" || s.SpeakerB == "" {
		return s, fmt.Errorf("conversation is missing speaker_a or speaker_b")
	}

	for key, value := range rs.Conversation {
		num, ok := sessionNumber(key)
		if !ok {
			continue
		}
		var turns []rawTurn
		if err := json.Unmarshal(value, &turns); err != nil {
			return s, fmt.Errorf("failed to decode %s: %w", key, err)
		}

		session := types.Session{Name: key, Number: num}
		_ = decodeString(rs.Conversation, key+"_date_time", &session.RawTimestamp)
		if session.RawTimestamp != "" {
			// An unparsable timestamp leaves Time zero; prompts use the raw text.
			session.Time, _ = ParseTimestamp(session.RawTimestamp)
		}
		for _, t := range turns {
			speaker := t.Speaker
			switch {
			case speaker == "":
				speaker = s.SpeakerA
			case speaker != s.SpeakerA && speaker != s.SpeakerB:
				speaker = OutsiderSpeaker
			}
			session.Utterances = append(session.Utterances, types.Utterance{
				Speaker:      speaker,
				Text:         t.Text,
				ImageCaption: t.BlipCaption,
				SearchQuery:  t.Query,
				DiaID:        t.DiaID,
			})
		}
		s.Sessions = append(s.Sessions, session)
	}

	sort.Slice(s.Sessions, func(i, j int) bool { return s.Sessions[i].Number < s.Sessions[j].Number })
	return s, nil
}

// sessionNumber extracts n from a "session_<n>" key.
func sessionNumber(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "session_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodeString(m map[string]json.RawMessage, key string, dst *string) error {
	v, ok := m[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
