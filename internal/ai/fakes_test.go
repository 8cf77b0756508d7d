package ai

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/cchalm/kb-assistant/internal/tools"
)

// fakeStream replays a fixed list of events, then reports err
type fakeStream struct {
	events  []StreamEvent
	err     error
	pos     int
	current StreamEvent
	closed  bool
}

func newFakeStream(events ...StreamEvent) *fakeStream {
	return &fakeStream{events: events}
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.current = s.events[s.pos]
	s.pos++
	return true
}

func (s *fakeStream) Current() StreamEvent { return s.current }
func (s *fakeStream) Err() error           { return s.err }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	stream  *fakeStream
	err     error
	options SessionOptions
}

func (o *fakeOpener) Open(ctx context.Context, opts SessionOptions) (EventStream, error) {
	o.options = opts
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

// testFormatter tags output so tests can tell how each piece of text was rendered
type testFormatter struct{}

func (testFormatter) Muted(text string) string    { return "<muted>" + text + "</muted>" }
func (testFormatter) Markdown(text string) string { return "<md>" + text + "</md>\n\n" }
func (testFormatter) Error(text string) string    { return "<error>" + text + "</error>" }

type toolCall struct {
	Name  string
	Input string
}

// recordingBackend returns canned results and records every call it receives
type recordingBackend struct {
	mu     sync.Mutex
	calls  []toolCall
	result tools.Result
}

func (b *recordingBackend) ToolParams() []anthropic.ToolParam {
	return []anthropic.ToolParam{{
		Name:        "search",
		Description: anthropic.String("Search the knowledge base"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{"query": map[string]any{"type": "string"}},
			Required:   []string{"query"},
		},
	}}
}

func (b *recordingBackend) Call(ctx context.Context, name string, input json.RawMessage) tools.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, toolCall{Name: name, Input: string(input)})
	return b.result
}

func (b *recordingBackend) Calls() []toolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]toolCall(nil), b.calls...)
}
