package agentrun

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of message from an agent process.
type MessageType string

const (
	// MessageText is assistant text output.
	MessageText MessageType = "text"

	// MessageToolUse indicates the agent is invoking a tool.
	MessageToolUse MessageType = "tool_use"

	// MessageToolResult contains the output of a tool invocation.
	MessageToolResult MessageType = "tool_result"

	// MessageError indicates an error from the agent or runtime.
	MessageError MessageType = "error"

	// MessageSystem contains system-level messages (e.g., status changes).
	MessageSystem MessageType = "system"

	// MessageInit is the handshake message sent at session start.
	MessageInit MessageType = "init"

	// MessageEOF signals the end of the message stream.
	MessageEOF MessageType = "eof"

	// MessageResult is the terminal message of a turn, carrying the final
	// answer text, success/failure, and usage totals.
	MessageResult MessageType = "result"

	// MessageThinking is a reasoning/thinking block (non-streaming).
	MessageThinking MessageType = "thinking"

	// Streaming delta variants. Convention: "_delta" suffix — see
	// filter.IsDelta, which recognizes any type ending in "_delta" without
	// needing its own switch statement updated per addition.
	MessageTextDelta     MessageType = "text_delta"
	MessageThinkingDelta MessageType = "thinking_delta"
	MessageToolUseDelta  MessageType = "tool_use_delta"
)

// StopReason describes why a turn ended, as reported by the backend.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Message is a structured output from an agent process.
type Message struct {
	// Type identifies the kind of message.
	Type MessageType `json:"type"`

	// Content is the text content (for Text, Error, System, Result messages).
	Content string `json:"content,omitempty"`

	// ResumeID carries the backend-native session identifier captured from
	// the backend's own framing event (e.g. codex's thread_id), populated
	// on MessageInit.
	ResumeID string `json:"resume_id,omitempty"`

	// ErrorCode is a short backend-defined error code, populated on
	// MessageError when the backend supplies one.
	ErrorCode string `json:"error_code,omitempty"`

	// Tool contains tool invocation details (for ToolUse, ToolResult messages).
	Tool *ToolCall `json:"tool,omitempty"`

	// Usage contains token usage data (typically on Text or Result messages).
	Usage *Usage `json:"usage,omitempty"`

	// StopReason carries the backend's stop reason, when known. Populated on
	// streaming delta messages ahead of the terminal Result message for
	// backends that only report it mid-stream.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// Process carries subprocess metadata, populated on MessageInit.
	Process *ProcessMeta `json:"process,omitempty"`

	// Raw is the original unparsed JSON from the backend.
	// Backends populate this for pass-through or debugging.
	Raw json.RawMessage `json:"raw,omitempty"`

	// RawLine is the original unparsed output line from stdout.
	// Used for crash-recovery log pipelines and audit logging.
	RawLine string `json:"raw_line,omitempty"`

	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`
}

// ProcessMeta carries subprocess identity, attached to the MessageInit
// message so consumers can correlate agent output with an OS process.
type ProcessMeta struct {
	PID    int    `json:"pid"`
	Binary string `json:"binary"`
}

// ExitError wraps a non-zero subprocess exit code, preserving the original
// *exec.ExitError in the chain via Unwrap.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agentrun: process exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ToolCall describes a tool invocation by the agent.
type ToolCall struct {
	// Name is the tool identifier.
	Name string `json:"name"`

	// Input is the tool's input parameters as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`

	// Output is the tool's result as raw JSON.
	Output json.RawMessage `json:"output,omitempty"`
}

// Usage contains token usage data from the agent's model.
type Usage struct {
	// InputTokens is the cumulative context window fill.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens generated.
	OutputTokens int `json:"output_tokens"`

	// CacheReadTokens is the number of tokens served from a prompt cache.
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`

	// CacheWriteTokens is the number of tokens written to a prompt cache.
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`

	// ThinkingTokens is the number of extended-thinking tokens generated.
	ThinkingTokens int `json:"thinking_tokens,omitempty"`

	// CostUSD is the backend-reported cost of the turn, when available.
	CostUSD float64 `json:"cost_usd,omitempty"`
}
