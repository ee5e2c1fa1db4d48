package runner

import (
	"regexp"

	"github.com/takopi/takopi/bridge/event"
)

// wireForm renders and recognizes one engine's resume handle as inline
// code in a Telegram message, e.g. "`codex resume abc123`". Users resume a
// thread by replying to (or quoting) a message carrying this text; the
// router extracts the token back out of arbitrary message text.
type wireForm struct {
	format func(value string) string
	match  *regexp.Regexp // exactly one capture group: the resume value
}

// wireForms is keyed by engine ID. Patterns are grounded on each backend's
// actual resume flag (see engine/cli/<engine>): codex's "exec resume
// <id>" subcommand, claude/cursor's "--resume <id>" flag, opencode's
// "--session <id>" flag, pi's "--continue <file>" flag.
var wireForms = map[event.EngineID]wireForm{
	"codex": {
		format: func(v string) string { return "`codex resume " + v + "`" },
		match:  regexp.MustCompile("`codex resume ([^`\\s]+)`"),
	},
	"claude": {
		format: func(v string) string { return "`claude --resume " + v + "`" },
		match:  regexp.MustCompile("`claude --resume ([^`\\s]+)`"),
	},
	"opencode": {
		format: func(v string) string { return "`opencode --session " + v + "`" },
		match:  regexp.MustCompile("`opencode --session ([^`\\s]+)`"),
	},
	"cursor": {
		format: func(v string) string { return "`agent --resume " + v + "`" },
		match:  regexp.MustCompile("`agent --resume ([^`\\s]+)`"),
	},
	"pi": {
		format: func(v string) string { return "`pi --continue " + v + "`" },
		match:  regexp.MustCompile("`pi --continue ([^`\\s]+)`"),
	},
}

// formatResume renders token using its engine's wire form. Engines with no
// registered form (should not happen for the five built-in engines) fall
// back to a generic "`<engine>:<value>`" form.
func formatResume(token event.ResumeToken) string {
	if wf, ok := wireForms[token.Engine]; ok {
		return wf.format(token.Value)
	}
	return "`" + token.String() + "`"
}

// extractResume scans text for any registered engine's wire form and
// returns the first match found. Engines are tried in Go's map iteration
// order, so when text carries more than one engine's form the result is
// not deterministic; a specific poll order (e.g. the router's configured
// entry order) comes from calling extractResumeFor per engine instead.
func extractResume(text string) (event.ResumeToken, bool) {
	for engine, wf := range wireForms {
		if m := wf.match.FindStringSubmatch(text); m != nil {
			return event.ResumeToken{Engine: engine, Value: m[1]}, true
		}
	}
	return event.ResumeToken{}, false
}

// extractResumeFor scans text for engine's wire form specifically.
func extractResumeFor(engine event.EngineID, text string) (event.ResumeToken, bool) {
	wf, ok := wireForms[engine]
	if !ok {
		return event.ResumeToken{}, false
	}
	if m := wf.match.FindStringSubmatch(text); m != nil {
		return event.ResumeToken{Engine: engine, Value: m[1]}, true
	}
	return event.ResumeToken{}, false
}
