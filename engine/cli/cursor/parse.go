package cursor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/takopi/takopi"
	"github.com/takopi/takopi/engine/cli"
	"github.com/takopi/takopi/engine/cli/internal/jsonutil"
	"github.com/takopi/takopi/engine/internal/errfmt"
)

// ParseLine parses a single JSONL output line from the Cursor agent CLI.
// Returns cli.ErrSkipLine for blank lines.
func (b *Backend) ParseLine(line string) (agentrun.Message, error) {
	if strings.TrimSpace(line) == "" {
		return agentrun.Message{}, cli.ErrSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return agentrun.Message{}, fmt.Errorf("cursor: invalid JSON: %w", err)
	}

	typeStr := jsonutil.GetString(raw, "type")
	if typeStr == "" {
		return agentrun.Message{}, fmt.Errorf("cursor: missing or empty type field")
	}

	var msg agentrun.Message
	msg.Raw = json.RawMessage(line)
	msg.Timestamp = time.Now()

	// First event carrying a session ID is captured write-once as the
	// resume handle, regardless of its event type.
	if sid := jsonutil.GetString(raw, "session_id"); sid != "" {
		captured := sid
		if b.sessionID.CompareAndSwap(nil, &captured) {
			msg.Type = agentrun.MessageInit
			msg.ResumeID = sid
			return msg, nil
		}
	}

	switch typeStr {
	case "thinking":
		msg.Type = agentrun.MessageThinking
		msg.Content = jsonutil.GetString(raw, "text")
		if jsonutil.GetString(raw, "subtype") == "delta" {
			msg.Type = agentrun.MessageThinkingDelta
		}
	case "assistant":
		msg.Type = agentrun.MessageText
		msg.Content = extractAssistantText(raw)
	case "tool_call":
		msg.Type = agentrun.MessageToolUse
		msg.Tool = &agentrun.ToolCall{
			Name:  jsonutil.GetString(raw, "name"),
			Input: marshalField(raw, "input"),
		}
	case "tool_result":
		msg.Type = agentrun.MessageToolResult
		msg.Tool = &agentrun.ToolCall{
			Name:   jsonutil.GetString(raw, "name"),
			Output: marshalField(raw, "output"),
		}
	case "result":
		isError := false
		if v, ok := raw["is_error"].(bool); ok {
			isError = v
		}
		if jsonutil.GetString(raw, "subtype") == "success" && !isError {
			msg.Type = agentrun.MessageResult
			msg.Content = jsonutil.GetString(raw, "result")
		} else {
			msg.Type = agentrun.MessageError
			content := jsonutil.GetString(raw, "result")
			if content == "" {
				content = "cursor agent reported an error"
			}
			msg.Content = errfmt.Truncate(content)
		}
	case "error":
		msg.Type = agentrun.MessageError
		msg.Content = errfmt.Truncate(jsonutil.GetString(raw, "message"))
	default:
		msg.Type = agentrun.MessageSystem
		msg.Content = typeStr
	}

	return msg, nil
}

// extractAssistantText joins the text segments of an assistant message's
// content array: {"message": {"content": [{"type": "text", "text": "..."}]}}.
func extractAssistantText(raw map[string]any) string {
	message := jsonutil.GetMap(raw, "message")
	if message == nil {
		return ""
	}
	content, _ := message["content"].([]any)
	var sb strings.Builder
	for _, item := range content {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if jsonutil.GetString(m, "type") == "text" {
			sb.WriteString(jsonutil.GetString(m, "text"))
		}
	}
	return sb.String()
}

func marshalField(raw map[string]any, key string) json.RawMessage {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`"[marshal error: %v]"`, err))
	}
	return data
}
