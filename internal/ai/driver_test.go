package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func newTestDriver(t *testing.T, opener SessionOpener, out *strings.Builder) *Driver {
	t.Helper()
	return NewDriver(
		opener,
		&recordingBackend{},
		[]string{"search", "Read", "Glob"},
		testFormatter{},
		out,
		DriverConfig{Model: "claude-test", MaxToolRounds: 3, MaxOutputTokens: 1024},
		zaptest.NewLogger(t),
		noop.NewTracerProvider().Tracer("test"),
	)
}

func TestAsk_PassesTranscriptAndOptions(t *testing.T) {
	stream := newFakeStream(textBlock(0, "It is a language.")...)
	opener := &fakeOpener{stream: stream}
	var out strings.Builder
	driver := newTestDriver(t, opener, &out)

	answer := driver.Ask(context.Background(), "What is Go?", []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})

	assert.Equal(t, "It is a language.", answer)
	assert.Equal(t, "<md>It is a language.</md>\n", out.String())
	assert.True(t, stream.closed)

	opts := opener.options
	assert.Equal(t, "user: hi\n\nassistant: hello\n\nWhat is Go?", opts.Prompt)
	assert.Equal(t, "claude-test", opts.Model)
	assert.Equal(t, SystemPrompt(), opts.SystemPrompt)
	assert.Equal(t, []string{"search", "Read", "Glob"}, opts.AllowedTools)
	assert.Equal(t, 3, opts.MaxToolRounds)
	assert.Equal(t, int64(1024), opts.MaxOutputTokens)
	assert.NotEmpty(t, opts.TurnID)
}

func TestAsk_OpenFailureBecomesAnswer(t *testing.T) {
	var out strings.Builder
	driver := newTestDriver(t, &fakeOpener{err: errors.New("missing credentials")}, &out)

	answer := driver.Ask(context.Background(), "anything", nil)
	assert.Equal(t, "Error: failed to open session: missing credentials", answer)
	assert.Equal(t, "<error>Error: failed to open session: missing credentials</error>\n", out.String())
}

func TestAsk_StreamFailureBecomesAnswer(t *testing.T) {
	stream := newFakeStream(textBlock(0, "partial")...)
	stream.err = errors.New("overloaded")
	var out strings.Builder
	driver := newTestDriver(t, &fakeOpener{stream: stream}, &out)

	answer := driver.Ask(context.Background(), "anything", nil)
	assert.Equal(t, "Error: overloaded", answer)
	assert.True(t, stream.closed)
}

func TestAsk_EmptyTurnIsEmptyAnswer(t *testing.T) {
	var out strings.Builder
	driver := newTestDriver(t, &fakeOpener{stream: newFakeStream()}, &out)

	answer := driver.Ask(context.Background(), "anything", nil)
	require.Equal(t, "", answer)
	assert.Equal(t, "", out.String())
}

func TestAsk_TurnIDsAreUnique(t *testing.T) {
	opener := &fakeOpener{stream: newFakeStream()}
	driver := newTestDriver(t, opener, &strings.Builder{})

	driver.Ask(context.Background(), "one", nil)
	first := opener.options.TurnID
	opener.stream = newFakeStream()
	driver.Ask(context.Background(), "two", nil)
	assert.NotEqual(t, first, opener.options.TurnID)
}
