// Package repl implements the interactive question loop.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/cchalm/kb-assistant/internal/ai"
)

const (
	prompt             = "> "
	continuationPrompt = "... "
	continuationMarker = `\`
)

// Asker answers a question given the conversation so far
type Asker interface {
	Ask(ctx context.Context, question string, history []ai.Message) string
}

type Formatter interface {
	Muted(text string) string
	Notice(text string) string
	Error(text string) string
}

// Loop reads questions and answers them one turn at a time
type Loop struct {
	asker     Asker
	input     LineReader
	out       io.Writer
	formatter Formatter
	logger    *zap.Logger

	history []ai.Message
}

func New(asker Asker, input LineReader, out io.Writer, formatter Formatter, logger *zap.Logger) *Loop {
	return &Loop{
		asker:     asker,
		input:     input,
		out:       out,
		formatter: formatter,
		logger:    logger,
	}
}

// History returns a copy of the conversation history
func (l *Loop) History() []ai.Message {
	return append([]ai.Message(nil), l.history...)
}

type readResult struct {
	line string
	err  error
}

type turnOutcome struct {
	answer   string
	panicked any
}

// Run reads and answers questions until input ends, the user exits, or ctx is cancelled. Run does not return while a
// turn is in flight: a turn always finishes and is recorded in the history first. Turns run under a context that is
// not cancelled with ctx
func (l *Loop) Run(ctx context.Context) error {
	for {
		question, err := l.readQuestion(ctx)
		eof := errors.Is(err, io.EOF)
		switch {
		case eof && question != "":
			// Answer a trailing continued question before closing
		case eof, errors.Is(err, ErrInterrupted), ctx.Err() != nil && errors.Is(err, ctx.Err()):
			l.logger.Info("input closed", zap.Error(err))
			return nil
		case err != nil:
			return fmt.Errorf("failed to read question: %w", err)
		}

		trimmed := strings.TrimSpace(question)
		switch strings.ToLower(trimmed) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			l.history = nil
			fmt.Fprintln(l.out, l.formatter.Notice("Conversation history cleared."))
			continue
		}

		if !l.runTurn(ctx, question) || eof {
			return nil
		}
	}
}

// runTurn answers one question and records it. It returns false if the loop should stop
func (l *Loop) runTurn(ctx context.Context, question string) bool {
	history := l.History()
	done := make(chan turnOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- turnOutcome{panicked: r}
			}
		}()
		answer := l.asker.Ask(context.WithoutCancel(ctx), question, history)
		done <- turnOutcome{answer: answer}
	}()

	select {
	case outcome := <-done:
		l.settle(question, outcome)
		return true
	case <-ctx.Done():
		fmt.Fprintln(l.out, l.formatter.Muted("(finishing the current answer before exiting)"))
		l.logger.Info("shutdown requested, waiting for the in-flight turn")
		l.settle(question, <-done)
		return false
	}
}

func (l *Loop) settle(question string, outcome turnOutcome) {
	if outcome.panicked != nil {
		l.logger.Error("turn panicked", zap.Any("panic", outcome.panicked))
		fmt.Fprintln(l.out, l.formatter.Error(fmt.Sprintf("Error: unexpected failure: %v", outcome.panicked)))
		return
	}
	l.history = append(l.history,
		ai.Message{Role: ai.RoleUser, Content: question},
		ai.Message{Role: ai.RoleAssistant, Content: outcome.answer},
	)
	fmt.Fprintln(l.out)
}

// readQuestion reads one question, following continuation lines. On io.EOF it returns whatever was continued so far
func (l *Loop) readQuestion(ctx context.Context) (string, error) {
	var lines []string
	p := prompt
	for {
		line, err := l.readLine(ctx, p)
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		trimmed := strings.TrimRight(line, " \t")
		if !strings.HasSuffix(trimmed, continuationMarker) {
			lines = append(lines, line)
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, strings.TrimSuffix(trimmed, continuationMarker))
		p = continuationPrompt
	}
}

// readLine reads a line, giving up early if ctx is cancelled
func (l *Loop) readLine(ctx context.Context, p string) (string, error) {
	results := make(chan readResult, 1)
	go func() {
		line, err := l.input.ReadLine(p)
		results <- readResult{line: line, err: err}
	}()

	select {
	case r := <-results:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
