// Package ai runs model turns: it streams a model session with tool use, classifies the streamed text into thoughts
// and a final answer, and reports the answer back to the caller.
package ai

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/cchalm/kb-assistant/internal/tools"
)

// BlockKind is the kind of a content block announced by ContentBlockStart
type BlockKind int

const (
	BlockOther BlockKind = iota
	BlockText
	BlockToolUse
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockToolUse:
		return "tool_use"
	default:
		return "other"
	}
}

// StreamEvent is one event of a model session. The set of implementations is closed
type StreamEvent interface {
	isStreamEvent()
}

// ContentBlockStart announces a new content block. ToolName and ToolUseID are set for BlockToolUse
type ContentBlockStart struct {
	Index     int
	Kind      BlockKind
	ToolName  string
	ToolUseID string
}

// ContentBlockDelta carries an incremental fragment of text for the block at Index
type ContentBlockDelta struct {
	Index int
	Text  string
}

type ContentBlockStop struct {
	Index int
}

// AssistantMessage is a complete assistant message, emitted once per model round after its blocks have streamed
type AssistantMessage struct {
	Text       string
	StopReason string
}

// ToolResult reports the outcome of a tool call made on the model's behalf
type ToolResult struct {
	ToolUseID string
	ToolName  string
	Result    tools.Result
}

// RoundLimitReached is the last event of a session that stopped because the model kept requesting tools
type RoundLimitReached struct {
	Rounds int
}

func (ContentBlockStart) isStreamEvent() {}
func (ContentBlockDelta) isStreamEvent() {}
func (ContentBlockStop) isStreamEvent()  {}
func (AssistantMessage) isStreamEvent()  {}
func (ToolResult) isStreamEvent()        {}
func (RoundLimitReached) isStreamEvent() {}

// EventStream is a finite, non-restartable sequence of events for one turn, read with the same Next/Current/Err
// protocol as the SDK's streams. Close must be called once the stream is no longer needed
type EventStream interface {
	Next() bool
	Current() StreamEvent
	Err() error
	Close() error
}

// ToolBackend executes tool calls for a session
type ToolBackend interface {
	ToolParams() []anthropic.ToolParam
	Call(ctx context.Context, name string, input json.RawMessage) tools.Result
}

type SessionOptions struct {
	Prompt          string
	Model           string
	SystemPrompt    string
	Tools           ToolBackend
	AllowedTools    []string // Tool calls for names not in this list are refused without executing
	MaxToolRounds   int
	MaxOutputTokens int64
	TurnID          string
}

// SessionOpener starts model sessions
type SessionOpener interface {
	Open(ctx context.Context, opts SessionOptions) (EventStream, error)
}
