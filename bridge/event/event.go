// Package event defines the canonical TakopiEvent shapes emitted by every
// engine runner (codex, claude, opencode, cursor, pi) and the EventFactory
// that centralizes the per-run resume-token invariant so engine-specific
// translators never have to be trusted with it.
package event

import "fmt"

// EngineID is an opaque, process-wide unique, immutable engine identifier
// (e.g. "codex", "claude").
type EngineID string

// ResumeToken is an opaque handle identifying one engine-side session.
// Two tokens are equal iff both fields are equal. A token is only ever
// emitted by the engine runner that produced the session.
type ResumeToken struct {
	Engine EngineID
	Value  string
}

// String renders the token as "<engine>:<value>", also used as ThreadKey.
func (t ResumeToken) String() string {
	return string(t.Engine) + ":" + t.Value
}

// ActionKind is an open set; unknown kinds render as "note" in the renderer.
type ActionKind string

const (
	ActionCommand    ActionKind = "command"
	ActionTool       ActionKind = "tool"
	ActionWebSearch  ActionKind = "web_search"
	ActionFileChange ActionKind = "file_change"
	ActionNote       ActionKind = "note"
	ActionThinking   ActionKind = "thinking"
)

// Action describes one sub-step within a run.
type Action struct {
	ID     string
	Kind   ActionKind
	Title  string
	Detail map[string]any
}

// Phase distinguishes the three action lifecycle events.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseUpdated   Phase = "updated"
	PhaseCompleted Phase = "completed"
)

// Kind tags the TakopiEvent sum.
type Kind string

const (
	KindSessionStarted Kind = "session.started"
	KindAction         Kind = "action"
	KindCompleted      Kind = "completed"
	KindUnknown        Kind = "unknown"
)

// Usage carries token/cost accounting, passed through verbatim from the
// engine's own reporting (shape varies per engine, hence map[string]any).
type Usage map[string]any

// TakopiEvent is the tagged sum normalized from every engine's output.
// Exactly one of the per-kind payloads below is meaningful, selected by Kind.
type TakopiEvent struct {
	Kind   Kind
	Engine EngineID

	// session.started fields.
	Resume ResumeToken
	Title  string
	Meta   map[string]any

	// action.* fields.
	Phase  Phase
	Action Action

	// completed fields (Resume above is reused for completed.resume).
	OK     bool
	Answer string
	Error  string
	Usage  Usage

	// action.updated/completed optional annotations.
	Message string
	Level   string

	// Raw carries the undecoded payload for Kind == KindUnknown, so the
	// renderer can skip it without losing forward compatibility.
	Raw any
}

// Unknown builds a KindUnknown event wrapping an unrecognized raw payload.
func Unknown(engine EngineID, raw any) TakopiEvent {
	return TakopiEvent{Kind: KindUnknown, Engine: engine, Raw: raw}
}

// Factory is a stateful per-run object bound to one EngineID. It memoizes
// the resume token from the first session.started event and enforces that
// every subsequent event (including the terminal completed) carries the
// same engine and resume token (invariant I1 in the spec).
type Factory struct {
	engine EngineID
	resume *ResumeToken
}

// NewFactory binds a Factory to one engine for the duration of one run.
func NewFactory(engine EngineID) *Factory {
	return &Factory{engine: engine}
}

// Engine returns the engine this factory is bound to.
func (f *Factory) Engine() EngineID { return f.engine }

// Resume returns the memoized resume token, or the zero value and false if
// Started has not yet been called.
func (f *Factory) Resume() (ResumeToken, bool) {
	if f.resume == nil {
		return ResumeToken{}, false
	}
	return *f.resume, true
}

// Started emits session.started, memoizing resume. It returns a
// descriptive error (it never panics) if called with a token for a
// different engine, or a second time with a token that mismatches the one
// already stored.
func (f *Factory) Started(resume ResumeToken, title string, meta map[string]any) (TakopiEvent, error) {
	if resume.Engine != f.engine {
		return TakopiEvent{}, fmt.Errorf("event: resume token is for engine %q, factory is bound to %q", resume.Engine, f.engine)
	}
	if f.resume != nil && *f.resume != resume {
		return TakopiEvent{}, fmt.Errorf("event: resume token mismatch: factory already started with %q, got %q", f.resume.Value, resume.Value)
	}
	tok := resume
	f.resume = &tok
	return TakopiEvent{
		Kind:   KindSessionStarted,
		Engine: f.engine,
		Resume: resume,
		Title:  title,
		Meta:   meta,
	}, nil
}

// ActionStarted emits action.started.
func (f *Factory) ActionStarted(id string, kind ActionKind, title string, detail map[string]any) TakopiEvent {
	return TakopiEvent{
		Kind:   KindAction,
		Engine: f.engine,
		Phase:  PhaseStarted,
		Action: Action{ID: id, Kind: kind, Title: title, Detail: detail},
	}
}

// ActionUpdated emits action.updated.
func (f *Factory) ActionUpdated(id string, kind ActionKind, title string, detail map[string]any) TakopiEvent {
	return TakopiEvent{
		Kind:   KindAction,
		Engine: f.engine,
		Phase:  PhaseUpdated,
		Action: Action{ID: id, Kind: kind, Title: title, Detail: detail},
	}
}

// ActionCompleted emits action.completed.
func (f *Factory) ActionCompleted(id string, kind ActionKind, title string, ok bool, message, level string, detail map[string]any) TakopiEvent {
	return TakopiEvent{
		Kind:    KindAction,
		Engine:  f.engine,
		Phase:   PhaseCompleted,
		Action:  Action{ID: id, Kind: kind, Title: title, Detail: detail},
		OK:      ok,
		Message: message,
		Level:   level,
	}
}

// Completed emits the terminal event. If Started was called, the event
// carries the stored token (I1); if Started was never called, the event
// carries a zero ResumeToken (a session that never reported a resume
// handle, e.g. a crash before the engine's first framing event).
func (f *Factory) Completed(ok bool, answer, errMsg string, usage Usage) (TakopiEvent, error) {
	var resume ResumeToken
	if f.resume != nil {
		resume = *f.resume
	}
	return TakopiEvent{
		Kind:   KindCompleted,
		Engine: f.engine,
		Resume: resume,
		OK:     ok,
		Answer: answer,
		Error:  errMsg,
		Usage:  usage,
	}, nil
}

// CompletedOK is a convenience wrapper around Completed for the success path.
func (f *Factory) CompletedOK(answer string, usage Usage) (TakopiEvent, error) {
	return f.Completed(true, answer, "", usage)
}

// CompletedError is a convenience wrapper around Completed for the failure
// path; resume is preserved if one was observed (per the spec's failure
// semantics for EngineRunFailure).
func (f *Factory) CompletedError(errMsg string) (TakopiEvent, error) {
	return f.Completed(false, "", errMsg, nil)
}
