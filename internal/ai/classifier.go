package ai

import (
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Formatter renders text for the terminal
type Formatter interface {
	Muted(text string) string
	Markdown(text string) string
	Error(text string) string
}

// TextBuffer is the per-turn classification state. Pending text is unclassified until either a tool call starts,
// which makes it a thought, or the stream ends, which makes it the answer
type TextBuffer struct {
	pending strings.Builder
	emitted bool // any streamed text seen this turn
	answer  strings.Builder
}

// flushThought writes pending text as a thought and records it in the answer
func (b *TextBuffer) flushThought(out io.Writer, f Formatter) {
	text := b.pending.String()
	b.pending.Reset()
	fmt.Fprint(out, f.Muted(text)+"\n")
	b.answer.WriteString(text)
	b.answer.WriteString("\n")
}

// Classify consumes a turn's events, streaming thoughts to out as they are identified and rendering the final answer
// as markdown once the stream ends. It returns everything the model said this turn, thoughts first, in order. On a
// stream error, the text classified so far is returned with the error and the pending text is discarded
func Classify(events EventStream, out io.Writer, f Formatter) (string, error) {
	var buf TextBuffer
	for events.Next() {
		switch ev := events.Current().(type) {
		case ContentBlockStart:
			if ev.Kind == BlockToolUse && buf.pending.Len() > 0 {
				buf.flushThought(out, f)
			}
		case ContentBlockDelta:
			buf.pending.WriteString(ev.Text)
			if ev.Text != "" {
				buf.emitted = true
			}
		case AssistantMessage:
			// Only sessions that never stream partial text rely on whole messages
			if buf.emitted || ev.Text == "" {
				continue
			}
			buf.pending.WriteString(ev.Text)
			if ev.StopReason == string(anthropic.StopReasonToolUse) {
				buf.flushThought(out, f)
			}
		case RoundLimitReached:
			fmt.Fprint(out, f.Muted(fmt.Sprintf("(stopped after %d tool rounds without a final answer)", ev.Rounds))+"\n")
		case ContentBlockStop, ToolResult:
		}
	}
	if err := events.Err(); err != nil {
		return buf.answer.String(), err
	}

	if buf.pending.Len() > 0 {
		final := buf.pending.String()
		rendered := strings.TrimRight(f.Markdown(final), "\n")
		fmt.Fprint(out, rendered+"\n")
		buf.answer.WriteString(final)
	}
	return buf.answer.String(), nil
}
