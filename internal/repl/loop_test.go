package repl

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/cchalm/kb-assistant/internal/ai"
	"github.com/cchalm/kb-assistant/internal/terminal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type askedQuestion struct {
	question string
	history  []ai.Message
}

// fakeAsker answers "answer: <question>" and records every call
type fakeAsker struct {
	mu    sync.Mutex
	asked []askedQuestion
	// before runs at the start of each Ask, if set
	before func(ctx context.Context, question string)

	active    atomic.Int32
	maxActive atomic.Int32
}

func (a *fakeAsker) Ask(ctx context.Context, question string, history []ai.Message) string {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		m := a.maxActive.Load()
		if n <= m || a.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if a.before != nil {
		a.before(ctx, question)
	}
	a.mu.Lock()
	a.asked = append(a.asked, askedQuestion{question: question, history: history})
	a.mu.Unlock()
	return "answer: " + question
}

func (a *fakeAsker) Asked() []askedQuestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]askedQuestion(nil), a.asked...)
}

func newTestLoop(t *testing.T, asker Asker, input string) (*Loop, *strings.Builder) {
	t.Helper()
	var out strings.Builder
	loop := New(asker, NewScannerReader(strings.NewReader(input)), &out, terminal.New(false), zaptest.NewLogger(t))
	return loop, &out
}

func TestRun_AnswersQuestionsAndRecordsHistory(t *testing.T) {
	asker := &fakeAsker{}
	loop, _ := newTestLoop(t, asker, "first\nsecond\n")

	require.NoError(t, loop.Run(context.Background()))

	asked := asker.Asked()
	require.Len(t, asked, 2)
	assert.Empty(t, asked[0].history)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "first"},
		{Role: ai.RoleAssistant, Content: "answer: first"},
	}, asked[1].history)
	assert.Len(t, loop.History(), 4)
}

func TestRun_ContinuationLinesAreJoined(t *testing.T) {
	asker := &fakeAsker{}
	loop, _ := newTestLoop(t, asker, "hello\\\nworld\n")

	require.NoError(t, loop.Run(context.Background()))

	asked := asker.Asked()
	require.Len(t, asked, 1)
	assert.Equal(t, "hello\nworld", asked[0].question)
}

func TestRun_ContinuedQuestionAtEndOfInputIsAnswered(t *testing.T) {
	asker := &fakeAsker{}
	loop, _ := newTestLoop(t, asker, "one\\\ntwo\\")

	require.NoError(t, loop.Run(context.Background()))

	asked := asker.Asked()
	require.Len(t, asked, 1)
	assert.Equal(t, "one\ntwo", asked[0].question)
}

func TestRun_EmptyLinesArePromptedAgain(t *testing.T) {
	asker := &fakeAsker{}
	loop, _ := newTestLoop(t, asker, "\n   \nquestion\n")

	require.NoError(t, loop.Run(context.Background()))
	require.Len(t, asker.Asked(), 1)
}

func TestRun_ExitCommands(t *testing.T) {
	for _, cmd := range []string{"exit", "quit", "  EXIT  ", "Quit"} {
		t.Run(cmd, func(t *testing.T) {
			asker := &fakeAsker{}
			loop, _ := newTestLoop(t, asker, "before\n"+cmd+"\nafter\n")

			require.NoError(t, loop.Run(context.Background()))

			asked := asker.Asked()
			require.Len(t, asked, 1)
			assert.Equal(t, "before", asked[0].question)
		})
	}
}

func TestRun_ClearEmptiesHistory(t *testing.T) {
	asker := &fakeAsker{}
	loop, out := newTestLoop(t, asker, "first\nCLEAR\nsecond\n")

	require.NoError(t, loop.Run(context.Background()))

	asked := asker.Asked()
	require.Len(t, asked, 2)
	assert.Empty(t, asked[1].history)
	assert.Contains(t, out.String(), "Conversation history cleared.")
	assert.Len(t, loop.History(), 2)
}

func TestRun_TurnsNeverOverlap(t *testing.T) {
	asker := &fakeAsker{before: func(ctx context.Context, question string) {
		time.Sleep(5 * time.Millisecond)
	}}
	loop, _ := newTestLoop(t, asker, "a\nb\nc\nd\ne\n")

	require.NoError(t, loop.Run(context.Background()))

	assert.Len(t, asker.Asked(), 5)
	assert.Equal(t, int32(1), asker.maxActive.Load())
	var order []string
	for _, a := range asker.Asked() {
		order = append(order, a.question)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
}

func TestRun_ShutdownWaitsForInFlightTurn(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var turnCtxErr atomic.Value
	asker := &fakeAsker{before: func(ctx context.Context, question string) {
		close(started)
		<-release
		turnCtxErr.Store(ctx.Err() == nil)
	}}

	pr, pw := io.Pipe()
	defer pw.Close()
	var out strings.Builder
	loop := New(asker, NewScannerReader(pr), &out, terminal.New(false), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(ctx) }()

	_, err := io.WriteString(pw, "slow question\n")
	require.NoError(t, err)
	<-started
	cancel()

	select {
	case <-runDone:
		t.Fatal("Run returned while a turn was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-runDone)

	assert.Equal(t, true, turnCtxErr.Load(), "turn context should not be cancelled by shutdown")
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "slow question"},
		{Role: ai.RoleAssistant, Content: "answer: slow question"},
	}, loop.History())
}

func TestRun_InputClosedWhileTurnInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	asker := &fakeAsker{before: func(ctx context.Context, question string) {
		close(started)
		<-release
	}}

	pr, pw := io.Pipe()
	var out strings.Builder
	loop := New(asker, NewScannerReader(pr), &out, terminal.New(false), zaptest.NewLogger(t))

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(context.Background()) }()

	_, err := io.WriteString(pw, "slow question\n")
	require.NoError(t, err)
	<-started
	require.NoError(t, pw.Close())

	select {
	case <-runDone:
		t.Fatal("Run returned while a turn was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-runDone)

	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "slow question"},
		{Role: ai.RoleAssistant, Content: "answer: slow question"},
	}, loop.History())
}

func TestRun_CancelWhileWaitingForInput(t *testing.T) {
	pr, pw := io.Pipe()
	var out strings.Builder
	loop := New(&fakeAsker{}, NewScannerReader(pr), &out, terminal.New(false), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(ctx) }()

	cancel()
	require.NoError(t, <-runDone)
	// Unblock the pending read
	require.NoError(t, pw.Close())
}

type panickyAsker struct {
	fakeAsker
}

func (a *panickyAsker) Ask(ctx context.Context, question string, history []ai.Message) string {
	if question == "boom" {
		panic("something broke")
	}
	return a.fakeAsker.Ask(ctx, question, history)
}

func TestRun_RecoversFromPanickingTurn(t *testing.T) {
	asker := &panickyAsker{}
	loop, out := newTestLoop(t, asker, "boom\nfine\n")

	require.NoError(t, loop.Run(context.Background()))

	assert.Contains(t, out.String(), "Error: unexpected failure: something broke")
	asked := asker.Asked()
	require.Len(t, asked, 1)
	assert.Equal(t, "fine", asked[0].question)
	assert.Empty(t, asked[0].history)
}

type interruptingReader struct{}

func (interruptingReader) ReadLine(string) (string, error) { return "", ErrInterrupted }
func (interruptingReader) Close() error                   { return nil }

func TestRun_InterruptAtPromptCloses(t *testing.T) {
	asker := &fakeAsker{}
	loop := New(asker, interruptingReader{}, &strings.Builder{}, terminal.New(false), zaptest.NewLogger(t))
	require.NoError(t, loop.Run(context.Background()))
	assert.Empty(t, asker.Asked())
}
