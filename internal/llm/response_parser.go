package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports model output that could not be parsed for a pipeline step.
// Callers branch on it with errors.As, log it and degrade.
type ParseError struct {
	Step string // segment, experience, topic, theme, thread, choice, search
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %v (raw: %q)", e.Step, e.Err, Truncate(e.Raw, 200))
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Truncate shortens s to at most n bytes for logging.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var errNoJSON = errors.New("no JSON object found")

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	// Match braces outside of string literals.
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// decodeJSON extracts the first JSON object in raw and decodes it into a T.
func decodeJSON[T any](step, raw string) (T, error) {
	var out T
	obj := extractJSON(raw)
	if obj == "" {
		return out, &ParseError{Step: step, Raw: raw, Err: errNoJSON}
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, &ParseError{Step: step, Raw: raw, Err: err}
	}
	return out, nil
}

// Intent is the topic label the segmenter assigns to an utterance.
type Intent string

const (
	IntentChangeTopic  Intent = "CHANGE_TOPIC"
	IntentDevelopTopic Intent = "DEVELOP_TOPIC"
)

// SegmentLabel is the parsed <Dn> block for one utterance.
type SegmentLabel struct {
	Intent   Intent
	Semantic string
}

var (
	segmentOpenRe = regexp.MustCompile(`<D(\d+)>`)
	intentRe      = regexp.MustCompile(`(?s)<intent>(.*?)</intent>`)
	semanticRe    = regexp.MustCompile(`(?s)<semantic>(.*?)</semantic>`)
)

// ParseSegmentation parses <Dn>...</Dn> blocks for a session of n utterances.
// Keys of the result are 0-based utterance positions. Blocks whose index is out
// of range or already seen are ignored, and a block without <intent> develops
// the current topic. A reply with no usable block is a *ParseError.
func ParseSegmentation(raw string, n int) (map[int]SegmentLabel, error) {
	labels := make(map[int]SegmentLabel)
	for _, loc := range segmentOpenRe.FindAllStringSubmatchIndex(raw, -1) {
		num, err := strconv.Atoi(raw[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		pos := num - 1
		if pos < 0 || pos >= n {
			continue
		}
		if _, seen := labels[pos]; seen {
			continue
		}
		rest := raw[loc[1]:]
		end := strings.Index(rest, "</D"+strconv.Itoa(num)+">")
		if end < 0 {
			continue
		}
		body := rest[:end]

		label := SegmentLabel{Intent: IntentDevelopTopic}
		if m := intentRe.FindStringSubmatch(body); m != nil {
			if strings.Contains(strings.ToUpper(m[1]), "CHANGE") {
				label.Intent = IntentChangeTopic
			}
		}
		if m := semanticRe.FindStringSubmatch(body); m != nil {
			label.Semantic = strings.TrimSpace(m[1])
		}
		labels[pos] = label
	}
	if len(labels) == 0 && n > 0 {
		return nil, &ParseError{Step: "segment", Raw: raw, Err: errors.New("no <Dn> blocks found")}
	}
	return labels, nil
}

// ParseExperience returns the "Experience" field of a persona reply, trimmed.
// Callers compare the result against the N/A sentinel.
func ParseExperience(raw string) (string, error) {
	v, err := decodeJSON[struct {
		Experience *string `json:"Experience"`
	}]("experience", raw)
	if err != nil {
		return "", err
	}
	if v.Experience == nil {
		return "", &ParseError{Step: "experience", Raw: raw, Err: errors.New("missing Experience field")}
	}
	return strings.TrimSpace(*v.Experience), nil
}

// ParseTopicTitle returns the "topic_title" field of a topic reply.
func ParseTopicTitle(raw string) (string, error) {
	v, err := decodeJSON[struct {
		TopicTitle string `json:"topic_title"`
	}]("topic", raw)
	if err != nil {
		return "", err
	}
	return requireField("topic", raw, "topic_title", v.TopicTitle)
}

// ParseThemeTitle returns the "theme_title" field of a theme reply.
func ParseThemeTitle(raw string) (string, error) {
	v, err := decodeJSON[struct {
		ThemeTitle string `json:"theme_title"`
	}]("theme", raw)
	if err != nil {
		return "", err
	}
	return requireField("theme", raw, "theme_title", v.ThemeTitle)
}

// ParseThreadSummary returns the title and summary of a thread reply. Either
// may be empty, but not both.
func ParseThreadSummary(raw string) (title, summary string, err error) {
	v, err := decodeJSON[struct {
		ThreadTitle string `json:"thread_title"`
		Summary     string `json:"summary"`
	}]("thread", raw)
	if err != nil {
		return "", "", err
	}
	title, summary = strings.TrimSpace(v.ThreadTitle), strings.TrimSpace(v.Summary)
	if title == "" && summary == "" {
		return "", "", &ParseError{Step: "thread", Raw: raw, Err: errors.New("missing thread_title and summary")}
	}
	return title, summary, nil
}

func requireField(step, raw, name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ParseError{Step: step, Raw: raw, Err: fmt.Errorf("missing %s", name)}
	}
	return value, nil
}

// ParseChoice returns the "choice" list of a card-selection reply as given.
// Filtering against the real speakers is the caller's job.
func ParseChoice(raw string) ([]string, error) {
	v, err := decodeJSON[struct {
		Choice []string `json:"choice"`
	}]("choice", raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(v.Choice))
	for _, c := range v.Choice {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// SpeakerThreads is one entry of a thread-search reply.
type SpeakerThreads struct {
	Speaker   string
	ThreadIDs []string
}

type threadRef struct {
	ThreadID string `json:"thread_id"`
}

// ThreadSearchResult is the parsed thread-search reply.
type ThreadSearchResult struct {
	Reason  string
	Results []SpeakerThreads
}

// ParseThreadSearch parses {"reason": ..., "results": [{"Name": [{"thread_id": ...}]}]}.
// Entries are returned in reply order; ids are not validated.
func ParseThreadSearch(raw string) (ThreadSearchResult, error) {
	v, err := decodeJSON[struct {
		Reason  string                   `json:"reason"`
		Results []map[string][]threadRef `json:"results"`
	}]("search", raw)
	if err != nil {
		return ThreadSearchResult{}, err
	}
	if v.Results == nil {
		return ThreadSearchResult{}, &ParseError{Step: "search", Raw: raw, Err: errors.New("missing results")}
	}

	res := ThreadSearchResult{Reason: v.Reason}
	for _, entry := range v.Results {
		for speaker, refs := range entry {
			st := SpeakerThreads{Speaker: strings.TrimSpace(speaker)}
			for _, r := range refs {
				if id := strings.TrimSpace(r.ThreadID); id != "" {
					st.ThreadIDs = append(st.ThreadIDs, id)
				}
			}
			res.Results = append(res.Results, st)
		}
	}
	return res, nil
}
