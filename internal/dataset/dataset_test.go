package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `[
  {
    "sample_id": "conv-1",
    "conversation": {
      "speaker_a": "Amy",
      "speaker_b": "Mike",
      "session_2_date_time": "8:00 pm on 9 May, 2023",
      "session_2": [
        {"speaker": "Mike", "dia_id": "D2:1", "text": "I ran a marathon."}
      ],
      "session_10": [
        {"speaker": "Amy", "dia_id": "D10:1", "text": "Later."}
      ],
      "session_1_date_time": "1:56 pm on 8 May, 2023",
      "session_1": [
        {"speaker": "Amy", "dia_id": "D1:1", "text": "Meet Miso!", "blip_caption": "a grey cat", "query": "cat"},
        {"speaker": "Bob", "dia_id": "D1:2", "text": "Hi all"},
        {"dia_id": "D1:3", "text": "no speaker"}
      ]
    },
    "qa": [
      {"question": "What is Amy's cat called?", "answer": "Miso", "evidence": ["D1:1"], "category": 4},
      {"question": "When did Mike run?", "answer": 2023, "evidence": ["D2:1"], "category": 2}
    ]
  }
]`

func TestParseLoCoMo(t *testing.T) {
	samples, err := ParseLoCoMo([]byte(sampleJSON))
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.Equal(t, "conv-1", s.Name())
	assert.Equal(t, "Amy_Mike", s.Roles())
	require.Len(t, s.Sessions, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{s.Sessions[0].Number, s.Sessions[1].Number, s.Sessions[2].Number})

	first := s.Sessions[0]
	assert.Equal(t, "1:56 pm on 8 May, 2023", first.Timestamp())
	assert.Equal(t, time.Date(2023, time.May, 8, 13, 56, 0, 0, time.UTC), first.Time)
	require.Len(t, first.Utterances, 3)
	assert.Equal(t, "Meet Miso! [Image: a grey cat] [Search: cat]", first.Utterances[0].Content())
	assert.Equal(t, OutsiderSpeaker, first.Utterances[1].Speaker)
	assert.Equal(t, "Amy", first.Utterances[2].Speaker, "a missing speaker is speaker_a")

	assert.Equal(t, "Unknown Time", s.Sessions[2].Timestamp())
	assert.Equal(t, "Miso", s.QA[0].AnswerText())
	assert.Equal(t, "2023", s.QA[1].AnswerText())
}

func TestParseLoCoMo_MissingSpeakers(t *testing.T) {
	_, err := ParseLoCoMo([]byte(`[{"conversation": {"speaker_a": "Amy"}}]`))
	assert.Error(t, err)
}

func TestLoadLoCoMo_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locomo.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))
	samples, err := LoadLoCoMo(path)
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	_, err = LoadLoCoMo(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"1:56 pm on 8 May, 2023", time.Date(2023, time.May, 8, 13, 56, 0, 0, time.UTC)},
		{"12:05 am on 1 Jan, 2022", time.Date(2022, time.January, 1, 0, 5, 0, 0, time.UTC)},
		{"12:30 pm on 25 December, 2021", time.Date(2021, time.December, 25, 12, 30, 0, 0, time.UTC)},
		{"  9 am   on  3 Feb 2020 ", time.Date(2020, time.February, 3, 9, 0, 0, 0, time.UTC)},
		{"2023-05-08T13:56:00Z", time.Date(2023, time.May, 8, 13, 56, 0, 0, time.UTC)},
		{"2023-05-08", time.Date(2023, time.May, 8, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	for _, bad := range []string{"yesterday", "noon on 8 May, 2023", "1:56 pm on 31 February, 2023"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestResults_SaveRewritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.json")
	r := NewResults(path)

	r.Set(0, []ResultItem{{Question: "q", GTAnswer: json.RawMessage(`2023`), Category: 2, Evidence: []string{"D1:1"}, TraceMemAnswer: "a"}})
	require.NoError(t, r.Save())
	r.Set(1, nil)
	require.NoError(t, r.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Empty(t, decoded["Conversation_1"])
	item := decoded["Conversation_0"][0]
	assert.Equal(t, float64(2023), item["gt_answer"])
	assert.Equal(t, "a", item["tracemem_answer"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestLoadScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "Conversation_0": [
    {"category": 1, "llm_score": 1},
    {"category": "1", "llm_score": 0},
    {"category": 3, "llm_score": 1}
  ],
  "Conversation_1": [
    {"category": 2, "llm_score": 1}
  ]
}`), 0o644))

	summary, err := LoadScores(path)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Count)
	assert.Equal(t, 0.75, summary.Overall)
	assert.Equal(t, []CategoryScore{
		{Category: 1, Mean: 0.5, Count: 2},
		{Category: 2, Mean: 1, Count: 1},
		{Category: 3, Mean: 1, Count: 1},
	}, summary.Categories)
}

func TestAggregate_RoundsAndHandlesEmpty(t *testing.T) {
	assert.Equal(t, &ScoreSummary{}, Aggregate(nil))

	s := Aggregate([]ScoredItem{{Category: 1, LLMScore: 1}, {Category: 1, LLMScore: 0}, {Category: 1, LLMScore: 0}})
	assert.Equal(t, 0.3333, s.Categories[0].Mean)
}
