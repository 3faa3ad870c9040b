package llm

import (
	"fmt"
	"strings"
)

// System prompts for each pipeline step. User prompts are built by the
// functions below or by the component that owns the input format.

// SegmentSystemPrompt labels every utterance with a topic intent and extracts
// the semantic facts it carries.
const SegmentSystemPrompt = `TASK: Topic segmentation and semantic memory extraction.

INPUT: a timestamp line followed by numbered dialogue lines.
<D1>Jordan: Have you been to the new ramen shop near the station? Image: a narrow shop with a red noren curtain</D1>
<D2>Sam: Not yet, my sister says the miso broth is great. Maybe on Saturday.</D2>
<D3>Jordan: Nice. Are you still doing the pottery course?</D3>
<D4>Sam: I finished the wheel basics in March, now I'm glazing.</D4>

For EVERY line Dn produce exactly one block:
<Dn>
<intent>CHANGE_TOPIC or DEVELOP_TOPIC</intent>
<semantic>facts stated in Dn, or empty</semantic>
</Dn>

INTENT RULES (look at Dn-2, Dn-1, Dn+1 and Dn+2 together):
1. CHANGE_TOPIC when Dn brings in anything new: a new subject, activity or domain, or a "by the way" shift.
   Do not let ten or more lines pass without a topic change.
2. DEVELOP_TOPIC only when Dn merely answers the previous line or adds detail about exactly the same thing.

SEMANTIC RULES:
1. Read Dn-1 and Dn-2 as context. If Dn answers them and also introduces something new, state both.
2. Capture WHO does or feels WHAT, WHEN and WHERE.
3. Keep every detail: names, emotions, adjectives, relative times, nuances.
4. Keep every image detail (names, colors, descriptions) using the form [Image: ...].

EXAMPLE OUTPUT:
<D1>
<intent>DEVELOP_TOPIC</intent>
<semantic>Jordan asks Sam whether Sam has been to the new ramen shop near the station. [Image: a narrow shop with a red noren curtain]</semantic>
</D1>
<D2>
<intent>DEVELOP_TOPIC</intent>
<semantic>Sam has not been to the ramen shop. Sam's sister says its miso broth is great. Sam may go on Saturday.</semantic>
</D2>
<D3>
<intent>CHANGE_TOPIC</intent>
<semantic></semantic>
</D3>
<D4>
<intent>DEVELOP_TOPIC</intent>
<semantic>Sam finished the pottery wheel basics in March. Sam is now learning glazing.</semantic>
</D4>`

// EpisodeSystemPrompt summarizes one topic span into an episode.
const EpisodeSystemPrompt = `TASK: Topic summarizer.

INPUT:
Current Time: <time>
<speaker>: <text>
...

EXAMPLE INPUT:
Current Time: 9:15 am on 3 February, 2021
Priya: Did you send the venue deposit yet?
Tom: Not yet, I'll pay it on Thursday. Want to see the contract first?
Priya: Yes please. Also, the florist moved our call to tomorrow at noon.
Tom: Good to know, I'll be there.

EXAMPLE OUTPUT:
As of 3 February, 2021, Priya asks Tom whether he has sent the venue deposit. Tom says he has not and will pay it on Thursday, offering to share the contract first. Priya accepts and tells Tom the florist moved their call to the next day at noon. Tom confirms he will join.

RULES:
1. Cover every keyword and topic that was discussed.
2. Omit nothing: names, activities, colors, places and other attributes stay in.
3. Say who did what, with whom and when, keeping all modifiers.
4. When someone shares an image, describe all of it as "[Who] shows [what]".
5. Include the absolute time ("As of 3 February, 2021") and every relative time ("yesterday", "last year").

Reply with the summary text only.`

// ExperienceSystemPrompt extracts a speaker's own biographical experience.
const ExperienceSystemPrompt = `TASK: Persona slice extraction.

INPUT:
Speaker: ...
**Episode Summary**: ...
**Labeled Semantic Memories**: ...

Extract the speaker's personal experience: a chronological record of concrete facts about the speaker's OWN life.

FILTER OUT:
- Anything not about the speaker's own life, such as acknowledgements or greetings with no personal content.
- If nothing personal remains, the experience MUST be "N/A".

EXTRACT:
- Possessions, actions, emotions, events, activities, habits, plans, routines and self-descriptions.
- Personal facts that surface while discussing someone else.
- Every specific detail (names, activities, colors, times), combining the episode summary and the semantic memories.
- Image details as "Image: ...".
- The absolute timestamp and any relative time expressions, with the original descriptors kept verbatim.

OUTPUT FORMAT (JSON only):
{"Experience": "As of ..., <detailed experience>"}
or
{"Experience": "N/A"}`

// ThemeSystemPrompt names the overall theme of a card.
const ThemeSystemPrompt = `TASK: Theme summarization.

INPUT: a JSON list of topic titles.

RULES:
1. Give one representative theme title.
2. Keep as many of the original keywords as possible.
3. Do not include any time information.

OUTPUT FORMAT (JSON only):
{"theme_title": "..."}`

// TopicSystemPrompt names one topic cluster.
const TopicSystemPrompt = `TASK: Topic summarization.

INPUT: the experiences grouped under one topic.

RULES:
1. Give one representative topic title.
2. Keep as many of the original keywords as possible.
3. Do not include any time information.

OUTPUT FORMAT (JSON only):
{"topic_title": "..."}`

// ThreadSystemPrompt names and summarizes one thread cluster.
const ThreadSystemPrompt = `TASK: Thread summarization.

INPUT: the experiences grouped under one thread.

RULES:
1. Give one representative thread title.
2. Write one summary that keeps every raw keyword (names, events, colors, verbs) in a concise form.
3. Do not include any time information.

OUTPUT FORMAT (JSON only):
{"thread_title": "...", "summary": "..."}`

// UserSystemPrompt chooses which speakers' cards a question needs.
const UserSystemPrompt = `TASK: Choose whose memory card(s) to search for the question.

INPUT:
Question: ...
Users in the conversation: <user a>,<user b>

RULES:
1. Choose ONLY from the users listed in "Users in the conversation". Never invent a user.
2. A question about one user selects only that user.
3. A question about both users, their interaction, or "they" selects both.
4. Select at least one user.

EXAMPLES (users "Amy","Mike"):
"What did Amy do yesterday?" -> {"choice":["Amy"]}
"What did Mike and Amy talk about?" -> {"choice":["Amy","Mike"]}
"How are they feeling?" -> {"choice":["Amy","Mike"]}

OUTPUT FORMAT (JSON only):
{"choice":["..."]}`

// SearchSystemPrompt picks the threads relevant to a question from one or two cards.
const SearchSystemPrompt = `TASK: Search threads in memory cards.

INPUT:
question: ...
Contents: one or two cards, each introduced by "user name:<name>" and followed by the card JSON.

APPROACH:
1. Read the question before reading the cards.
2. Use the thread summaries under each topic to find relevant threads.
3. Reason step by step and put the reasoning in "reason".
4. Return up to 10 of the most relevant threads per user. Every thread_id must be copied exactly and appear once.
5. The list for a user must not be empty. With two cards, return results for BOTH users.

OUTPUT FORMAT: pure JSON, no comments, no markdown fences, starting with "{" and ending with "}".
{
  "reason": "...",
  "results": [
    {"<user name 1>": [{"thread_id": "..."}, {"thread_id": "..."}]},
    {"<user name 2>": [{"thread_id": "..."}]}
  ]
}`

// AnswerSystemPrompt answers a question from retrieved episodes and threads.
const AnswerSystemPrompt = `TASK: Answer the question from the provided memories.

INPUT:
Question: ...
Contents: episodes and per-user threads.

INSTRUCTIONS:
1. Resolve relative time references against the memory timestamp. If a memory from 4 May 2022 says "went to India last year", the trip was in 2021.
2. Always turn relative references into concrete dates, months or years, and answer with the concrete value.
3. If the memories only support a range ("the week before 3 July 2024"), answer with that range.
4. Look for direct evidence for questions about specific events or facts.
5. Some questions need commonsense; reason carefully and give your best guess.
6. Some questions need several memories; link them and reason across them.

APPROACH:
1. Read the question, then analyze all contents with attention to the relevant parts.
2. Check absolute timestamps and relative time expressions, and show any date calculation.
3. Think step by step, show your reasoning, and reuse the wording of the contents where possible.

OUTPUT: your reasoning followed by the answer.`

// UserChoicePrompt builds the user prompt for UserSystemPrompt.
func UserChoicePrompt(question string, speakers []string) string {
	return fmt.Sprintf("Question: %s\nUsers in the conversation: %s", question, strings.Join(speakers, ","))
}

// ThreadSearchPrompt builds the user prompt for SearchSystemPrompt.
func ThreadSearchPrompt(question, contents string) string {
	return fmt.Sprintf("question:%s\nContents:%s", question, contents)
}

// AnswerContents is the material the answer prompt is built from.
type AnswerContents struct {
	Episodes []string
	// Threads maps a speaker to their retrieved thread documents, emitted in Speakers order.
	Speakers []string
	Threads  map[string][]string
}

// AnswerPrompt builds the user prompt for AnswerSystemPrompt.
func AnswerPrompt(question string, c AnswerContents) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nContents:\nEpisodes:\n%s\n\n", question, strings.Join(c.Episodes, "\n"))
	for _, s := range c.Speakers {
		fmt.Fprintf(&sb, "%s threads:\n%s\n\n", s, strings.Join(c.Threads[s], "\n"))
	}
	return sb.String()
}
