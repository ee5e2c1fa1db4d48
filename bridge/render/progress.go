// Package render folds a TakopiEvent stream into the bounded views used to
// post Telegram progress/final messages, plus a Markdown-to-entity
// converter for formatting the answer text those messages carry.
package render

import (
	"fmt"
	"strings"

	"github.com/takopi/takopi/bridge/event"
)

// ResumeFormatter renders a resume token into its canonical wire form,
// appended to a final/progress frame so a reply can resume the thread.
type ResumeFormatter func(event.ResumeToken) string

type actionSlot struct {
	id   string
	text string
	open bool
}

// ExecProgressRenderer accumulates a TakopiEvent stream into a bounded,
// clock-independent view: the last MaxActions action lines (oldest falling
// off as new ones arrive) plus the session title and resume token.
//
// Action lines are keyed by Action.ID only while the action is open — once
// an id's action.completed is observed the id is retired, so a later
// action reusing that id starts a fresh line instead of overwriting the
// earlier (now closed) one.
type ExecProgressRenderer struct {
	maxActions      int
	commandWidth    int // 0 means unclamped
	resumeFormatter ResumeFormatter

	title  string
	resume *event.ResumeToken

	slots     []actionSlot
	openIndex map[string]int
	steps     int
}

// Option configures an ExecProgressRenderer at construction time.
type Option func(*ExecProgressRenderer)

// WithCommandWidth clamps command-kind action titles to width runes,
// appending an ellipsis. width <= 0 leaves titles unclamped (the default).
func WithCommandWidth(width int) Option {
	return func(r *ExecProgressRenderer) { r.commandWidth = width }
}

// WithResumeFormatter sets the formatter used to render the trailing
// resume line. Defaults to ResumeToken.String.
func WithResumeFormatter(f ResumeFormatter) Option {
	return func(r *ExecProgressRenderer) { r.resumeFormatter = f }
}

// NewExecProgressRenderer builds a renderer bounded to maxActions recent
// action lines.
func NewExecProgressRenderer(maxActions int, opts ...Option) *ExecProgressRenderer {
	r := &ExecProgressRenderer{
		maxActions: maxActions,
		openIndex:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resumeFormatter == nil {
		r.resumeFormatter = func(t event.ResumeToken) string { return t.String() }
	}
	return r
}

// RecentActions returns the current bounded view of rendered action lines,
// oldest first.
func (r *ExecProgressRenderer) RecentActions() []string {
	out := make([]string, len(r.slots))
	for i, s := range r.slots {
		out[i] = s.text
	}
	return out
}

// NoteEvent folds one event into the view. It returns false for event
// kinds the renderer does not track (e.g. KindUnknown), which the caller
// should treat as "not handled" rather than an error.
func (r *ExecProgressRenderer) NoteEvent(evt event.TakopiEvent) bool {
	switch evt.Kind {
	case event.KindSessionStarted:
		r.title = evt.Title
		tok := evt.Resume
		r.resume = &tok
		return true

	case event.KindAction:
		switch evt.Phase {
		case event.PhaseStarted:
			r.upsert(evt.Action, actionSymbolStarted, false, false)
			return true
		case event.PhaseUpdated:
			r.upsert(evt.Action, actionSymbolUpdated, false, false)
			return true
		case event.PhaseCompleted:
			r.steps++
			r.upsert(evt.Action, symbolFor(evt.OK), evt.OK, true)
			return true
		default:
			return false
		}

	case event.KindCompleted:
		return true

	default:
		return false
	}
}

const (
	actionSymbolStarted = "▸"
	actionSymbolUpdated = "~"
)

func symbolFor(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func (r *ExecProgressRenderer) upsert(a event.Action, symbol string, ok, final bool) {
	text := r.formatAction(a, symbol, ok, final)
	if idx, isOpen := r.openIndex[a.ID]; isOpen {
		r.slots[idx] = actionSlot{id: a.ID, text: text, open: !final}
		if final {
			delete(r.openIndex, a.ID)
		}
		return
	}
	r.slots = append(r.slots, actionSlot{id: a.ID, text: text, open: !final})
	if !final {
		r.openIndex[a.ID] = len(r.slots) - 1
	}
	r.clamp()
}

func (r *ExecProgressRenderer) clamp() {
	if r.maxActions <= 0 || len(r.slots) <= r.maxActions {
		return
	}
	drop := len(r.slots) - r.maxActions
	r.slots = r.slots[drop:]
	for k := range r.openIndex {
		delete(r.openIndex, k)
	}
	for i, s := range r.slots {
		if s.open {
			r.openIndex[s.id] = i
		}
	}
}

func (r *ExecProgressRenderer) formatAction(a event.Action, symbol string, ok, final bool) string {
	return formatActionLine(a, symbol, ok, final, r.commandWidth)
}

func formatActionLine(a event.Action, symbol string, ok, final bool, commandWidth int) string {
	switch a.Kind {
	case event.ActionCommand:
		title := a.Title
		if commandWidth > 0 && len([]rune(title)) > commandWidth {
			trimmed := []rune(title)[:commandWidth-1]
			title = string(trimmed) + "…"
		}
		suffix := ""
		if final && !ok {
			if ec, found := a.Detail["exit_code"]; found {
				suffix = fmt.Sprintf(" (exit %v)", ec)
			}
		}
		return fmt.Sprintf("%s `%s`%s", symbol, title, suffix)
	case event.ActionWebSearch:
		return fmt.Sprintf("%s searched: %s", symbol, a.Title)
	case event.ActionTool:
		return fmt.Sprintf("%s tool: %s", symbol, a.Title)
	case event.ActionFileChange:
		return fmt.Sprintf("%s updated %s", symbol, a.Title)
	default:
		return fmt.Sprintf("%s %s", symbol, a.Title)
	}
}

// RenderProgress renders the in-flight progress frame: a header
// ("working · Ns · step K"), the bounded action view, and a trailing
// resume line if one is known. elapsedSeconds is clock-derived by the
// caller so output stays deterministic in tests.
func (r *ExecProgressRenderer) RenderProgress(elapsedSeconds float64) string {
	header := fmt.Sprintf("working · %ds · step %d", int(elapsedSeconds), r.steps)
	return r.renderFrame(header, strings.Join(r.RecentActions(), "\n"))
}

// RenderFinal renders the terminal frame: a header ("<status> · Ns · step
// K"), the answer text, and a trailing resume line if one is known.
func (r *ExecProgressRenderer) RenderFinal(elapsedSeconds float64, answer, status string) string {
	header := fmt.Sprintf("%s · %ds · step %d", status, int(elapsedSeconds), r.steps)
	return r.renderFrame(header, answer)
}

func (r *ExecProgressRenderer) renderFrame(header, body string) string {
	parts := []string{header}
	if body != "" {
		parts = append(parts, "", body)
	}
	if r.resume != nil {
		parts = append(parts, "", r.resumeFormatter(*r.resume))
	}
	return strings.Join(parts, "\n")
}
