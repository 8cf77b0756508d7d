package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/kb-assistant/internal/tools"
)

func textBlock(index int, deltas ...string) []StreamEvent {
	events := []StreamEvent{ContentBlockStart{Index: index, Kind: BlockText}}
	for _, d := range deltas {
		events = append(events, ContentBlockDelta{Index: index, Text: d})
	}
	return append(events, ContentBlockStop{Index: index})
}

func toolBlock(index int, name, id string) []StreamEvent {
	return []StreamEvent{
		ContentBlockStart{Index: index, Kind: BlockToolUse, ToolName: name, ToolUseID: id},
		ContentBlockStop{Index: index},
	}
}

func concatEvents(groups ...[]StreamEvent) []StreamEvent {
	var all []StreamEvent
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

func TestClassify_ThoughtThenAnswer(t *testing.T) {
	events := concatEvents(
		textBlock(0, "Let me ", "check"),
		toolBlock(1, "search", "toolu_1"),
		[]StreamEvent{
			AssistantMessage{Text: "Let me check", StopReason: "tool_use"},
			ToolResult{ToolUseID: "toolu_1", ToolName: "search", Result: tools.TextResult("42")},
		},
		textBlock(0, "The answer ", "is 42"),
		[]StreamEvent{AssistantMessage{Text: "The answer is 42", StopReason: "end_turn"}},
	)

	var out strings.Builder
	answer, err := Classify(newFakeStream(events...), &out, testFormatter{})
	require.NoError(t, err)
	assert.Equal(t, "Let me check\nThe answer is 42", answer)
	assert.Equal(t, "<muted>Let me check</muted>\n<md>The answer is 42</md>\n", out.String())
}

func TestClassify_NoEvents(t *testing.T) {
	var out strings.Builder
	answer, err := Classify(newFakeStream(), &out, testFormatter{})
	require.NoError(t, err)
	assert.Equal(t, "", answer)
	assert.Equal(t, "", out.String())
}

func TestClassify_ToolCallWithEmptyBufferWritesNothing(t *testing.T) {
	events := concatEvents(
		toolBlock(0, "list", "toolu_1"),
		[]StreamEvent{AssistantMessage{StopReason: "tool_use"}},
		textBlock(0, "Done"),
	)

	var out strings.Builder
	answer, err := Classify(newFakeStream(events...), &out, testFormatter{})
	require.NoError(t, err)
	assert.Equal(t, "Done", answer)
	assert.Equal(t, "<md>Done</md>\n", out.String())
}

func TestClassify_AssistantMessageFallback(t *testing.T) {
	events := []StreamEvent{
		AssistantMessage{Text: "Searching first.", StopReason: "tool_use"},
		ToolResult{ToolUseID: "toolu_1", ToolName: "search", Result: tools.TextResult("No results found.")},
		AssistantMessage{Text: "Nothing found.", StopReason: "end_turn"},
	}

	var out strings.Builder
	answer, err := Classify(newFakeStream(events...), &out, testFormatter{})
	require.NoError(t, err)
	assert.Equal(t, "Searching first.\nNothing found.", answer)
	assert.Equal(t, "<muted>Searching first.</muted>\n<md>Nothing found.</md>\n", out.String())
}

func TestClassify_AssistantMessageIgnoredAfterStreamedText(t *testing.T) {
	events := concatEvents(
		textBlock(0, "streamed"),
		[]StreamEvent{AssistantMessage{Text: "streamed", StopReason: "end_turn"}},
	)

	var out strings.Builder
	answer, err := Classify(newFakeStream(events...), &out, testFormatter{})
	require.NoError(t, err)
	assert.Equal(t, "streamed", answer)
}

func TestClassify_RoundLimitNoticeIsNotRecorded(t *testing.T) {
	events := concatEvents(
		textBlock(0, "Looking"),
		toolBlock(1, "search", "toolu_1"),
		[]StreamEvent{RoundLimitReached{Rounds: 10}},
	)

	var out strings.Builder
	answer, err := Classify(newFakeStream(events...), &out, testFormatter{})
	require.NoError(t, err)
	assert.Equal(t, "Looking\n", answer)
	assert.Equal(t, "<muted>Looking</muted>\n<muted>(stopped after 10 tool rounds without a final answer)</muted>\n", out.String())
}

func TestClassify_StreamErrorDiscardsPendingText(t *testing.T) {
	stream := newFakeStream(concatEvents(
		textBlock(0, "Let me check"),
		toolBlock(1, "search", "toolu_1"),
		textBlock(0, "partial"),
	)...)
	stream.err = errors.New("connection reset")

	var out strings.Builder
	answer, err := Classify(stream, &out, testFormatter{})
	require.EqualError(t, err, "connection reset")
	assert.Equal(t, "Let me check\n", answer)
	assert.Equal(t, "<muted>Let me check</muted>\n", out.String())
}

// Every streamed byte appears in the answer exactly once, in order, with a single newline after each thought
func TestClassify_AnswerReconstructsStreamedText(t *testing.T) {
	tests := []struct {
		name   string
		rounds [][]string // deltas per round; every round but the last ends with a tool call
	}{
		{name: "single round", rounds: [][]string{{"a", "b", "c"}}},
		{name: "thought with newlines", rounds: [][]string{{"line one\n", "line two\n"}, {"final\n\n"}}},
		{name: "silent middle round", rounds: [][]string{{"first"}, {}, {"second"}, {"end"}}},
		{name: "unicode", rounds: [][]string{{"héllo ", "wörld"}, {"日本", "語"}}},
		{name: "no final text", rounds: [][]string{{"only thought"}, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []StreamEvent
			var want strings.Builder
			for i, deltas := range tt.rounds {
				events = append(events, textBlock(0, deltas...)...)
				text := strings.Join(deltas, "")
				if i < len(tt.rounds)-1 {
					events = append(events, toolBlock(1, "search", "toolu")...)
					if text != "" {
						want.WriteString(text + "\n")
					}
				} else {
					want.WriteString(text)
				}
			}

			answer, err := Classify(newFakeStream(events...), &strings.Builder{}, testFormatter{})
			require.NoError(t, err)
			assert.Equal(t, want.String(), answer)
		})
	}
}
