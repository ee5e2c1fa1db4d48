package pi

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

// ParseLine parses a single JSONL output line from the pi CLI.
// Returns cli.ErrSkipLine for blank lines.
//
// pi's JSONL schema is modest: a "message_start"/"message_end" pair
// brackets each turn, "thinking" and "tool_call"/"tool_result" carry
// incremental progress, and "error" reports a fatal failure. The session
// file name (the handle used to resume) is only available on
// "message_end", in a "session_file" field that is present for a fresh
// session and omitted when resuming an existing one.
func (b *Backend) ParseLine(line string) (agentrun.Message, error) {
	if strings.TrimSpace(line) == "" {
		return agentrun.Message{}, cli.ErrSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return agentrun.Message{}, fmt.Errorf("pi: invalid JSON: %w", err)
	}

	typeStr := jsonutil.GetString(raw, "type")
	if typeStr == "" {
		return agentrun.Message{}, fmt.Errorf("pi: missing or empty type field")
	}

	var msg agentrun.Message
	msg.Raw = json.RawMessage(line)
	msg.Timestamp = time.Now()

	switch typeStr {
	case "message_start":
		msg.Type = agentrun.MessageSystem
		msg.Content = "message_start"
	case "message_end":
		if sf := jsonutil.GetString(raw, "session_file"); sf != "" {
			captured := sf
			b.sessionFile.CompareAndSwap(nil, &captured)
		}
		msg.Type = agentrun.MessageResult
		msg.Content = jsonutil.GetString(raw, "text")
		if msg.Content == "" {
			msg.Content = jsonutil.GetString(raw, "result")
		}
	case "thinking":
		msg.Type = agentrun.MessageThinkingDelta
		msg.Content = jsonutil.GetString(raw, "text")
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
	case "error":
		msg.Type = agentrun.MessageError
		content := jsonutil.GetString(raw, "message")
		if content == "" {
			content = "pi reported an error"
		}
		msg.Content = errfmt.Truncate(content)
	default:
		msg.Type = agentrun.MessageSystem
		msg.Content = typeStr
	}

	return msg, nil
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
