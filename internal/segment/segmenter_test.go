package segment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/YimingShu-teay/TraceMem/internal/llm"
	"github.com/YimingShu-teay/TraceMem/internal/llm/llmtest"
	"github.com/YimingShu-teay/TraceMem/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(texts ...string) types.Session {
	s := types.Session{Name: "session_1", Number: 1, RawTimestamp: "1:56 pm on 8 May, 2023"}
	for i, t := range texts {
		speaker := "Amy"
		if i%2 == 1 {
			speaker = "Mike"
		}
		s.Utterances = append(s.Utterances, types.Utterance{Speaker: speaker, Text: t})
	}
	return s
}

func block(n int, intent llm.Intent, semantic string) string {
	return fmt.Sprintf("<D%d>\n<intent>%s</intent>\n<semantic>%s</semantic>\n</D%d>\n", n, intent, semantic, n)
}

// assertCovering checks that spans partition [0, n-1].
func assertCovering(t *testing.T, spans []types.TopicSpan, n int) {
	t.Helper()
	require.NotEmpty(t, spans)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, n-1, spans[len(spans)-1].End)
	for i, s := range spans {
		assert.LessOrEqual(t, s.Start, s.End)
		if i > 0 {
			assert.Equal(t, spans[i-1].End+1, s.Start)
		}
	}
}

func TestPrompt(t *testing.T) {
	s := session("Hi Mike! [laughs]", "Look at this", "[Image: dog]")
	s.Utterances[1].ImageCaption = "a photo of a dog"

	got := Prompt(s)
	want := "Current Time: 1:56 pm on 8 May, 2023\n" +
		"<D1>Amy: Hi Mike!</D1>\n" +
		"<D2>Mike: Look at this Image: a photo of a dog</D2>"
	assert.Equal(t, want, got, "utterance 3 has nothing to display but keeps its number")
}

func TestSegment_SplitsOnTopicChange(t *testing.T) {
	reply := block(1, llm.IntentDevelopTopic, "Amy adopted a cat named Miso.") +
		block(2, llm.IntentDevelopTopic, "Mike asks about Miso.") +
		block(3, llm.IntentDevelopTopic, "Miso is grey.") +
		block(4, llm.IntentChangeTopic, "Mike is training for a marathon.") +
		block(5, llm.IntentDevelopTopic, "")
	gen := llmtest.NewScriptedGenerator().Always(llm.SegmentSystemPrompt, reply)

	spans, err := New(gen, nil).Segment(context.Background(), session("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assertCovering(t, spans, 5)

	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, 2, spans[0].End)
	assert.Equal(t, []string{"Amy", "Mike"}, spans[0].Speakers())
	assert.Equal(t, []string{"Amy adopted a cat named Miso.", "Miso is grey."}, spans[0].FactsFor("Amy"))

	assert.Equal(t, 3, spans[1].Start)
	assert.Equal(t, 4, spans[1].End)
	assert.Equal(t, []string{"Mike is training for a marathon."}, spans[1].FactsFor("Mike"))
}

func TestSegment_NoChangeYieldsOneSpan(t *testing.T) {
	reply := block(1, llm.IntentDevelopTopic, "x") + block(2, llm.IntentDevelopTopic, "y")
	gen := llmtest.NewScriptedGenerator().Always(llm.SegmentSystemPrompt, reply)

	spans, err := New(gen, nil).Segment(context.Background(), session("a", "b"))
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assertCovering(t, spans, 2)
}

func TestSegment_ChangeOnFirstUtteranceDoesNotOpenEmptySpan(t *testing.T) {
	reply := block(1, llm.IntentChangeTopic, "x") + block(2, llm.IntentChangeTopic, "y")
	gen := llmtest.NewScriptedGenerator().Always(llm.SegmentSystemPrompt, reply)

	spans, err := New(gen, nil).Segment(context.Background(), session("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assertCovering(t, spans, 3)
	assert.Equal(t, 0, spans[0].End)
}

func TestSegment_UnparsableReplyKeepsOneSpan(t *testing.T) {
	gen := llmtest.NewScriptedGenerator().Always(llm.SegmentSystemPrompt, "Sorry, I cannot help with that.")

	spans, err := New(gen, nil).Segment(context.Background(), session("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assertCovering(t, spans, 3)
	assert.Zero(t, spans[0].FactCount())
}

func TestSegment_ProviderErrorFailsSession(t *testing.T) {
	gen := llmtest.NewScriptedGenerator().On(llm.SegmentSystemPrompt, func(string) (string, error) {
		return "", errors.New("503")
	})
	_, err := New(gen, nil).Segment(context.Background(), session("a"))
	assert.Error(t, err)
}

func TestSegment_EmptySessionMakesNoCall(t *testing.T) {
	gen := llmtest.NewScriptedGenerator()
	spans, err := New(gen, nil).Segment(context.Background(), types.Session{Name: "session_2"})
	require.NoError(t, err)
	assert.Empty(t, spans)
	assert.Empty(t, gen.Calls())
}

func TestFold_CoversAnyLabelling(t *testing.T) {
	utts := session(strings.Split("abcdefghij", "")...).Utterances
	for mask := 0; mask < 1<<len(utts); mask += 37 {
		labels := make(map[int]llm.SegmentLabel)
		for i := range utts {
			if mask&(1<<i) != 0 {
				labels[i] = llm.SegmentLabel{Intent: llm.IntentChangeTopic}
			}
		}
		assertCovering(t, Fold(utts, labels), len(utts))
	}
}
