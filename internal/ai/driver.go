package ai

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type DriverConfig struct {
	Model           string
	MaxToolRounds   int
	MaxOutputTokens int64
}

// Driver runs one model turn per question
type Driver struct {
	opener       SessionOpener
	tools        ToolBackend
	allowedTools []string
	formatter    Formatter
	out          io.Writer
	config       DriverConfig
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewDriver(
	opener SessionOpener,
	tools ToolBackend,
	allowedTools []string,
	formatter Formatter,
	out io.Writer,
	config DriverConfig,
	logger *zap.Logger,
	tracer trace.Tracer,
) *Driver {
	return &Driver{
		opener:       opener,
		tools:        tools,
		allowedTools: allowedTools,
		formatter:    formatter,
		out:          out,
		config:       config,
		logger:       logger,
		tracer:       tracer,
	}
}

// Ask answers a question in the context of history, streaming output as it goes. Ask always returns an answer: if
// the session fails, the answer is the error message shown to the user
func (d *Driver) Ask(ctx context.Context, question string, history []Message) string {
	turnID := uuid.NewString()
	logger := d.logger.With(zap.String("turn_id", turnID))
	ctx, span := d.tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.Int("history.length", len(history)),
	))
	defer span.End()

	logger.Info("starting turn", zap.Int("history_length", len(history)), zap.Int("question_length", len(question)))

	prompt, err := BuildPrompt(question, history)
	if err != nil {
		return d.fail(span, logger, fmt.Errorf("failed to build prompt: %w", err))
	}

	stream, err := d.opener.Open(ctx, SessionOptions{
		Prompt:          prompt,
		Model:           d.config.Model,
		SystemPrompt:    SystemPrompt(),
		Tools:           d.tools,
		AllowedTools:    d.allowedTools,
		MaxToolRounds:   d.config.MaxToolRounds,
		MaxOutputTokens: d.config.MaxOutputTokens,
		TurnID:          turnID,
	})
	if err != nil {
		return d.fail(span, logger, fmt.Errorf("failed to open session: %w", err))
	}
	defer func() {
		if err := stream.Close(); err != nil {
			logger.Warn("failed to close session", zap.Error(err))
		}
	}()

	answer, err := Classify(stream, d.out, d.formatter)
	if err != nil {
		return d.fail(span, logger, err)
	}

	span.SetAttributes(attribute.Int("answer.length", len(answer)))
	logger.Info("turn finished", zap.Int("answer_length", len(answer)))
	return answer
}

func (d *Driver) fail(span trace.Span, logger *zap.Logger, err error) string {
	logger.Error("turn failed", zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	msg := "Error: " + err.Error()
	fmt.Fprint(d.out, d.formatter.Error(msg)+"\n")
	return msg
}
