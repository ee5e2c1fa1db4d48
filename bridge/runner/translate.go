package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/takopi/takopi"
	"github.com/takopi/takopi/bridge/event"
)

// translator converts one engine backend's agentrun.Message stream into
// event.TakopiEvent, uniformly for all five engines. The teacher's CLI
// backends already normalize wildly different JSONL shapes down to one
// Message shape (Type/Content/Tool/Usage/ResumeID); this is the one
// remaining normalization step, from Message shape to the bridge's event
// sum, shared across engines instead of reimplemented per engine.
//
// A translator is stateful for exactly one run: it tracks whether
// session.started has fired yet and pairs MessageToolUse with its
// eventual MessageToolResult.
type translator struct {
	factory *event.Factory
	started bool

	// pending holds action IDs for in-flight tool calls, FIFO per tool
	// name. agentrun.ToolCall carries no stable ID, so this assumes the
	// typical non-concurrent CLI tool-call sequencing (one tool call's
	// result arrives before the next one starts) — the same assumption
	// the teacher's own backends make when treating tool use/result as a
	// strict alternating pair within one subprocess's stdout stream.
	pending map[string][]string
	seq     int
}

func newTranslator(engine event.EngineID) *translator {
	return &translator{
		factory: event.NewFactory(engine),
		pending: make(map[string][]string),
	}
}

// Translate converts one agentrun.Message into zero or more TakopiEvents.
// Text, text and tool-use deltas, system and EOF messages produce none;
// an unrecognized message type produces one Unknown event.
func (t *translator) Translate(msg agentrun.Message) ([]event.TakopiEvent, error) {
	switch msg.Type {
	case agentrun.MessageInit:
		return t.translateInit(msg)
	case agentrun.MessageToolUse:
		return t.translateToolUse(msg)
	case agentrun.MessageToolResult:
		return t.translateToolResult(msg)
	case agentrun.MessageThinking, agentrun.MessageThinkingDelta:
		return t.translateThinking(msg)
	case agentrun.MessageResult:
		return t.translateResult(msg)
	case agentrun.MessageError:
		return t.translateError(msg)
	case agentrun.MessageText, agentrun.MessageTextDelta, agentrun.MessageToolUseDelta, agentrun.MessageSystem, agentrun.MessageEOF:
		return nil, nil
	default:
		return []event.TakopiEvent{event.Unknown(t.factory.Engine(), msg)}, nil
	}
}

func (t *translator) translateInit(msg agentrun.Message) ([]event.TakopiEvent, error) {
	if t.started || msg.ResumeID == "" {
		// A backend may emit more than one init-shaped message (e.g. a
		// handshake message with no resume handle yet); only the first
		// one carrying a resume value starts the session.
		return nil, nil
	}
	resume := event.ResumeToken{Engine: t.factory.Engine(), Value: msg.ResumeID}
	meta := map[string]any{}
	if msg.Process != nil {
		meta["pid"] = msg.Process.PID
		meta["binary"] = msg.Process.Binary
	}
	evt, err := t.factory.Started(resume, "", meta)
	if err != nil {
		return nil, fmt.Errorf("runner: translate init: %w", err)
	}
	t.started = true
	return []event.TakopiEvent{evt}, nil
}

func (t *translator) translateToolUse(msg agentrun.Message) ([]event.TakopiEvent, error) {
	name := "tool"
	if msg.Tool != nil && msg.Tool.Name != "" {
		name = msg.Tool.Name
	}
	t.seq++
	id := fmt.Sprintf("%s-%d", name, t.seq)
	t.pending[name] = append(t.pending[name], id)

	detail := map[string]any{}
	if msg.Tool != nil && len(msg.Tool.Input) > 0 {
		detail["input"] = json.RawMessage(msg.Tool.Input)
	}
	kind := actionKindForTool(name)
	return []event.TakopiEvent{t.factory.ActionStarted(id, kind, name, detail)}, nil
}

func (t *translator) translateToolResult(msg agentrun.Message) ([]event.TakopiEvent, error) {
	name := "tool"
	if msg.Tool != nil && msg.Tool.Name != "" {
		name = msg.Tool.Name
	}
	id := t.popPending(name)
	if id == "" {
		// A result with no matching start (e.g. truncated stream); still
		// surface it rather than silently dropping it.
		t.seq++
		id = fmt.Sprintf("%s-%d", name, t.seq)
	}

	detail := map[string]any{}
	if msg.Tool != nil && len(msg.Tool.Output) > 0 {
		detail["output"] = json.RawMessage(msg.Tool.Output)
	}
	kind := actionKindForTool(name)
	return []event.TakopiEvent{t.factory.ActionCompleted(id, kind, name, true, "", "", detail)}, nil
}

func (t *translator) translateThinking(msg agentrun.Message) ([]event.TakopiEvent, error) {
	if msg.Content == "" {
		return nil, nil
	}
	t.seq++
	id := fmt.Sprintf("thinking-%d", t.seq)
	return []event.TakopiEvent{
		t.factory.ActionStarted(id, event.ActionThinking, msg.Content, nil),
		t.factory.ActionCompleted(id, event.ActionThinking, msg.Content, true, "", "", nil),
	}, nil
}

func (t *translator) translateResult(msg agentrun.Message) ([]event.TakopiEvent, error) {
	var usage event.Usage
	if msg.Usage != nil {
		usage = event.Usage{
			"input_tokens":  msg.Usage.InputTokens,
			"output_tokens": msg.Usage.OutputTokens,
		}
		if msg.Usage.CacheReadTokens > 0 {
			usage["cache_read_tokens"] = msg.Usage.CacheReadTokens
		}
		if msg.Usage.CostUSD > 0 {
			usage["cost_usd"] = msg.Usage.CostUSD
		}
	}
	evt, err := t.factory.CompletedOK(msg.Content, usage)
	if err != nil {
		return nil, fmt.Errorf("runner: translate result: %w", err)
	}
	return []event.TakopiEvent{evt}, nil
}

func (t *translator) translateError(msg agentrun.Message) ([]event.TakopiEvent, error) {
	errMsg := msg.Content
	if errMsg == "" {
		errMsg = "engine reported an error"
	}
	evt, err := t.factory.CompletedError(errMsg)
	if err != nil {
		return nil, fmt.Errorf("runner: translate error: %w", err)
	}
	return []event.TakopiEvent{evt}, nil
}

// Finish produces the terminal event for a run that ended without the
// engine ever emitting MessageResult/MessageError (e.g. the subprocess
// was killed or exited abnormally). runErr, if non-nil, is the error
// RunTurn or the process reported.
func (t *translator) Finish(runErr error) (event.TakopiEvent, error) {
	if runErr == nil {
		return t.factory.CompletedOK("", nil)
	}
	return t.factory.CompletedError(runErr.Error())
}

func (t *translator) popPending(name string) string {
	ids := t.pending[name]
	if len(ids) == 0 {
		return ""
	}
	id := ids[0]
	t.pending[name] = ids[1:]
	return id
}

// actionKindForTool maps a tool name to an ActionKind using simple
// substring heuristics; unrecognized names render as ActionTool.
func actionKindForTool(name string) event.ActionKind {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "bash", "shell", "exec", "command", "run"):
		return event.ActionCommand
	case containsAny(lower, "search", "web", "browse"):
		return event.ActionWebSearch
	case containsAny(lower, "write", "edit", "patch", "apply"):
		return event.ActionFileChange
	default:
		return event.ActionTool
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
