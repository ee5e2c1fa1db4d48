// Package router selects which engine Runner handles an incoming message:
// explicitly via a resume token recovered from reply/quote text, or by
// falling back to a configured default engine for a brand new thread.
package router

import (
	"fmt"

	"github.com/takopi/takopi/bridge/event"
	"github.com/takopi/takopi/bridge/runner"
)

// RunnerEntry binds one engine to its Runner and current availability.
// Availability is re-checked by the caller (typically at startup, via
// Runner.Validate) and fed back in; the router itself never shells out.
type RunnerEntry struct {
	Engine    event.EngineID
	Runner    runner.Runner
	Available bool
	Issue     string // human-readable reason, populated when Available is false
}

// RunnerUnavailableError reports that a requested engine is either
// unconfigured or configured-but-unavailable (binary missing, etc.).
type RunnerUnavailableError struct {
	Engine string
	Issue  string // empty if the engine is simply not configured
}

func (e *RunnerUnavailableError) Error() string {
	if e.Issue != "" {
		return fmt.Sprintf("router: engine %q unavailable: %s", e.Engine, e.Issue)
	}
	return fmt.Sprintf("router: engine %q not configured", e.Engine)
}

// AutoRouter dispatches to the configured RunnerEntry for a given resume
// token or engine ID, falling back to a configured default engine when
// neither is specified.
type AutoRouter struct {
	entries       []RunnerEntry
	byEngine      map[event.EngineID]*RunnerEntry
	defaultEngine event.EngineID
}

// NewAutoRouter validates and builds an AutoRouter. entries must be
// non-empty with unique engine IDs, and defaultEngine must name one of
// them.
func NewAutoRouter(entries []RunnerEntry, defaultEngine event.EngineID) (*AutoRouter, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("router: at least one runner is required")
	}
	byEngine := make(map[event.EngineID]*RunnerEntry, len(entries))
	for i := range entries {
		e := &entries[i]
		if _, dup := byEngine[e.Engine]; dup {
			return nil, fmt.Errorf("router: duplicate runner for engine %q", e.Engine)
		}
		byEngine[e.Engine] = e
	}
	if _, ok := byEngine[defaultEngine]; !ok {
		return nil, fmt.Errorf("router: default engine %q is not among the configured entries", defaultEngine)
	}
	return &AutoRouter{entries: entries, byEngine: byEngine, defaultEngine: defaultEngine}, nil
}

// Entries returns all configured entries, in configuration order.
func (r *AutoRouter) Entries() []RunnerEntry {
	return r.entries
}

// AvailableEntries returns the subset of Entries with Available == true.
func (r *AutoRouter) AvailableEntries() []RunnerEntry {
	out := make([]RunnerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Available {
			out = append(out, e)
		}
	}
	return out
}

// EngineIDs returns the configured engine IDs, in configuration order.
func (r *AutoRouter) EngineIDs() []event.EngineID {
	out := make([]event.EngineID, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Engine)
	}
	return out
}

// DefaultEntry returns the entry for the configured default engine.
func (r *AutoRouter) DefaultEntry() RunnerEntry {
	return *r.byEngine[r.defaultEngine]
}

// EntryForEngine returns the entry for engine, or the default entry if
// engine is nil. Returns a RunnerUnavailableError if engine is non-nil
// and not configured.
func (r *AutoRouter) EntryForEngine(engine *event.EngineID) (RunnerEntry, error) {
	if engine == nil {
		return r.DefaultEntry(), nil
	}
	e, ok := r.byEngine[*engine]
	if !ok {
		return RunnerEntry{}, &RunnerUnavailableError{Engine: string(*engine)}
	}
	return *e, nil
}

// EntryFor returns the entry for token's engine, or the default entry if
// token is nil.
func (r *AutoRouter) EntryFor(token *event.ResumeToken) (RunnerEntry, error) {
	if token == nil {
		return r.DefaultEntry(), nil
	}
	return r.EntryForEngine(&token.Engine)
}

// RunnerFor returns the Runner for token (or the default engine if token
// is nil), failing with RunnerUnavailableError if the entry exists but is
// marked unavailable.
func (r *AutoRouter) RunnerFor(token *event.ResumeToken) (runner.Runner, error) {
	entry, err := r.EntryFor(token)
	if err != nil {
		return nil, err
	}
	if !entry.Available {
		return nil, &RunnerUnavailableError{Engine: string(entry.Engine), Issue: entry.Issue}
	}
	return entry.Runner, nil
}

// FormatResume renders token via its engine's Runner.
func (r *AutoRouter) FormatResume(token event.ResumeToken) string {
	if e, ok := r.byEngine[token.Engine]; ok {
		return e.Runner.FormatResume(token)
	}
	return token.String()
}

// ExtractResume scans text for a resume token, trying each configured
// engine in configuration order and returning the first match — matching
// entry order takes priority over where in the text a pattern occurs.
func (r *AutoRouter) ExtractResume(text string) (event.ResumeToken, bool) {
	for _, e := range r.entries {
		if tok, ok := e.Runner.ExtractResume(text); ok {
			return tok, true
		}
	}
	return event.ResumeToken{}, false
}

// IsResumeLine reports whether text contains any configured engine's
// resume wire form.
func (r *AutoRouter) IsResumeLine(text string) bool {
	_, ok := r.ExtractResume(text)
	return ok
}

// ResolveResume extracts a resume token from text, falling back to
// replyText if text yields no match (e.g. a reply with no text of its
// own, resuming via the quoted message instead).
func (r *AutoRouter) ResolveResume(text, replyText *string) (*event.ResumeToken, bool) {
	if text != nil && *text != "" {
		if tok, ok := r.ExtractResume(*text); ok {
			return &tok, true
		}
	}
	if replyText != nil && *replyText != "" {
		if tok, ok := r.ExtractResume(*replyText); ok {
			return &tok, true
		}
	}
	return nil, false
}
