package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cchalm/kb-assistant/internal/tools"
)

// AnthropicSessionOpener opens sessions against the Anthropic Messages API
type AnthropicSessionOpener struct {
	client anthropic.Client
	logger *zap.Logger
	tracer trace.Tracer
}

func NewAnthropicSessionOpener(client anthropic.Client, logger *zap.Logger, tracer trace.Tracer) *AnthropicSessionOpener {
	return &AnthropicSessionOpener{
		client: client,
		logger: logger,
		tracer: tracer,
	}
}

func (o *AnthropicSessionOpener) Open(ctx context.Context, opts SessionOptions) (EventStream, error) {
	if opts.Tools == nil {
		return nil, errors.New("session requires a tool backend")
	}
	if opts.MaxOutputTokens <= 0 {
		return nil, fmt.Errorf("max output tokens must be positive, got %d", opts.MaxOutputTokens)
	}
	if opts.MaxToolRounds < 0 {
		return nil, fmt.Errorf("max tool rounds must not be negative, got %d", opts.MaxToolRounds)
	}

	allowed := make(map[string]bool, len(opts.AllowedTools))
	for _, name := range opts.AllowedTools {
		allowed[name] = true
	}

	var toolParams []anthropic.ToolUnionParam
	for _, tool := range opts.Tools.ToolParams() {
		toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &tool})
	}

	return &anthropicSession{
		ctx:        ctx,
		client:     o.client,
		opts:       opts,
		allowed:    allowed,
		toolParams: toolParams,
		messages:   []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt))},
		logger:     o.logger.With(zap.String("turn_id", opts.TurnID)),
		tracer:     o.tracer,
	}, nil
}

// anthropicSession drives model rounds lazily from Next. Tool calls requested by a round run to completion, in order,
// before the next round is requested, so events are always delivered in the order they happened
type anthropicSession struct {
	ctx        context.Context
	client     anthropic.Client
	opts       SessionOptions
	allowed    map[string]bool
	toolParams []anthropic.ToolUnionParam
	logger     *zap.Logger
	tracer     trace.Tracer

	messages   []anthropic.MessageParam
	stream     *ssestream.Stream[anthropic.MessageStreamEventUnion]
	response   anthropic.Message
	roundSpan  trace.Span
	rounds     int // model requests made
	toolRounds int // rounds whose tool calls were executed

	queue   []StreamEvent
	current StreamEvent
	err     error
	done    bool
}

func (s *anthropicSession) Next() bool {
	for {
		if len(s.queue) > 0 {
			s.current = s.queue[0]
			s.queue = s.queue[1:]
			return true
		}
		if s.done {
			return false
		}

		if s.stream == nil {
			s.startRound()
			continue
		}

		if s.stream.Next() {
			event := s.stream.Current()
			if err := s.response.Accumulate(event); err != nil {
				s.fail(fmt.Errorf("failed to accumulate response content stream: %w", err))
				continue
			}
			s.translate(event)
			continue
		}
		if err := s.stream.Err(); err != nil {
			s.fail(fmt.Errorf("failed to stream response: %w", err))
			continue
		}
		s.finishRound()
	}
}

func (s *anthropicSession) Current() StreamEvent {
	return s.current
}

func (s *anthropicSession) Err() error {
	return s.err
}

func (s *anthropicSession) Close() error {
	s.done = true
	s.queue = nil
	return s.closeStream()
}

func (s *anthropicSession) closeStream() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

func (s *anthropicSession) fail(err error) {
	s.err = err
	s.done = true
	if s.roundSpan != nil {
		s.roundSpan.RecordError(err)
		s.roundSpan.SetStatus(codes.Error, err.Error())
		s.roundSpan.End()
		s.roundSpan = nil
	}
	if closeErr := s.closeStream(); closeErr != nil {
		s.logger.Warn("failed to close model stream", zap.Error(closeErr))
	}
}

func (s *anthropicSession) startRound() {
	s.rounds++
	_, s.roundSpan = s.tracer.Start(s.ctx, "model.round", trace.WithAttributes(
		attribute.String("turn.id", s.opts.TurnID),
		attribute.Int("round", s.rounds),
		attribute.String("model", s.opts.Model),
	))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.opts.Model),
		MaxTokens: s.opts.MaxOutputTokens,
		Messages:  s.messages,
		Tools:     s.toolParams,
	}
	if s.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.opts.SystemPrompt}}
	}

	s.response = anthropic.Message{}
	s.stream = s.client.Messages.NewStreaming(s.ctx, params)
}

func (s *anthropicSession) translate(event anthropic.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		start := ContentBlockStart{Index: int(ev.Index)}
		switch ev.ContentBlock.Type {
		case "text":
			start.Kind = BlockText
		case "tool_use":
			start.Kind = BlockToolUse
			start.ToolName = ev.ContentBlock.Name
			start.ToolUseID = ev.ContentBlock.ID
		default:
			start.Kind = BlockOther
		}
		s.queue = append(s.queue, start)
	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
			s.queue = append(s.queue, ContentBlockDelta{Index: int(ev.Index), Text: delta.Text})
		}
	case anthropic.ContentBlockStopEvent:
		s.queue = append(s.queue, ContentBlockStop{Index: int(ev.Index)})
	}
}

func (s *anthropicSession) finishRound() {
	if err := s.closeStream(); err != nil {
		s.logger.Warn("failed to close model stream", zap.Error(err))
	}
	response := s.response

	if response.StopReason == "" {
		b, err := json.Marshal(response)
		if err != nil {
			s.logger.Error("error while marshalling corrupt message for inspection", zap.Error(err))
		}
		s.fail(fmt.Errorf("malformed message: %v", string(b)))
		return
	}

	s.logger.Debug("model round finished",
		zap.Int("round", s.rounds),
		zap.String("stop_reason", string(response.StopReason)),
		zap.Int64("input_tokens", response.Usage.InputTokens),
		zap.Int64("output_tokens", response.Usage.OutputTokens),
		zap.Int64("cache_read_tokens", response.Usage.CacheReadInputTokens),
	)
	s.roundSpan.SetAttributes(
		attribute.String("stop_reason", string(response.StopReason)),
		attribute.Int64("input_tokens", response.Usage.InputTokens),
		attribute.Int64("output_tokens", response.Usage.OutputTokens),
	)
	s.roundSpan.End()
	s.roundSpan = nil

	var text strings.Builder
	var toolUses []anthropic.ToolUseBlock
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			toolUses = append(toolUses, b)
		}
	}
	s.queue = append(s.queue, AssistantMessage{Text: text.String(), StopReason: string(response.StopReason)})

	if response.StopReason != anthropic.StopReasonToolUse || len(toolUses) == 0 {
		s.done = true
		return
	}

	if s.toolRounds >= s.opts.MaxToolRounds {
		s.logger.Warn("tool round limit reached, ending turn", zap.Int("rounds", s.toolRounds))
		s.queue = append(s.queue, RoundLimitReached{Rounds: s.toolRounds})
		s.done = true
		return
	}
	s.toolRounds++

	s.messages = append(s.messages, response.ToParam())
	var results []anthropic.ContentBlockParamUnion
	for _, toolUse := range toolUses {
		result := s.callTool(toolUse)
		s.queue = append(s.queue, ToolResult{ToolUseID: toolUse.ID, ToolName: toolUse.Name, Result: result})
		results = append(results, toolResultBlock(toolUse.ID, result))
	}
	s.messages = append(s.messages, anthropic.NewUserMessage(results...))
}

func (s *anthropicSession) callTool(toolUse anthropic.ToolUseBlock) tools.Result {
	if !s.allowed[toolUse.Name] {
		s.logger.Warn("model requested a tool outside the allow-list", zap.String("tool", toolUse.Name))
		return tools.ErrorResult(fmt.Sprintf("tool %s is not available", toolUse.Name))
	}
	return s.opts.Tools.Call(s.ctx, toolUse.Name, toolUse.Input)
}

func toolResultBlock(toolUseID string, result tools.Result) anthropic.ContentBlockParamUnion {
	var content []anthropic.ToolResultBlockParamContentUnion
	for _, c := range result.Content {
		if c == "" {
			continue
		}
		content = append(content, anthropic.ToolResultBlockParamContentUnion{OfText: &anthropic.TextBlockParam{Text: c}})
	}
	if len(content) == 0 {
		content = append(content, anthropic.ToolResultBlockParamContentUnion{OfText: &anthropic.TextBlockParam{Text: "(no output)"}})
	}
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: toolUseID,
			Content:   content,
			IsError:   anthropic.Bool(result.IsError),
		},
	}
}
