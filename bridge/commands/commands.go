// Package commands recognizes the bridge's own slash commands — /new,
// /workspace, /workspaces, /sessions, /drop — so the ingress adapter can
// strip them out of a message's text before it ever reaches an engine.
package commands

import (
	"regexp"
	"strings"
)

// Kind identifies which daemon command was recognized.
type Kind string

const (
	KindNew        Kind = "new"
	KindWorkspace  Kind = "workspace"
	KindWorkspaces Kind = "workspaces"
	KindSessions   Kind = "sessions"
	KindDrop       Kind = "drop"
)

// Command is a recognized daemon command. Name is set only for
// KindWorkspace; Engine only for KindDrop.
type Command struct {
	Kind   Kind
	Name   string
	Engine string
}

// wsChar and nonWsChar widen Go's ASCII-only \s/\S to the whitespace
// separators Telegram clients actually send (NBSP, em space, and the
// rest of Unicode category Z), without pulling in the full
// str.isspace() set the original leaned on.
const (
	wsChar    = `[\t\n\v\f\r \x{00A0}\p{Z}\x{2028}\x{2029}]`
	nonWsChar = `[^\t\n\v\f\r \x{00A0}\p{Z}\x{2028}\x{2029}]`
)

var (
	newRE        = regexp.MustCompile(`(?i)^/new(?:@\w+)?(?:` + wsChar + `|$)`)
	workspacesRE = regexp.MustCompile(`(?i)^/workspaces(?:@\w+)?(?:` + wsChar + `|$)`)
	sessionsRE   = regexp.MustCompile(`(?i)^/sessions(?:@\w+)?(?:` + wsChar + `|$)`)
	workspaceRE  = regexp.MustCompile(`(?i)^/workspace(?:@\w+)?` + wsChar + `+(` + nonWsChar + `+)`)
	dropRE       = regexp.MustCompile(`(?i)^/drop(?:@\w+)?` + wsChar + `+(` + nonWsChar + `+)`)
)

// match tries the patterns in order; order doesn't matter for correctness here
// (each pattern's literal prefix only collides with one that requires a
// trailing whitespace the other's next literal character can't satisfy)
// but is kept in the command's natural reading order.
func match(stripped string) (Command, int, bool) {
	if m := newRE.FindStringIndex(stripped); m != nil {
		return Command{Kind: KindNew}, m[1], true
	}
	if m := workspacesRE.FindStringIndex(stripped); m != nil {
		return Command{Kind: KindWorkspaces}, m[1], true
	}
	if m := sessionsRE.FindStringIndex(stripped); m != nil {
		return Command{Kind: KindSessions}, m[1], true
	}
	if m := workspaceRE.FindStringSubmatchIndex(stripped); m != nil {
		return Command{Kind: KindWorkspace, Name: stripped[m[2]:m[3]]}, m[1], true
	}
	if m := dropRE.FindStringSubmatchIndex(stripped); m != nil {
		return Command{Kind: KindDrop, Engine: stripped[m[2]:m[3]]}, m[1], true
	}
	return Command{}, 0, false
}

// Parse recognizes a daemon command at the start of text (after trimming
// surrounding whitespace), or reports ok=false if text isn't one.
func Parse(text string) (Command, bool) {
	cmd, _, ok := match(strings.TrimSpace(text))
	return cmd, ok
}

// Is reports whether text is a recognized daemon command.
func Is(text string) bool {
	_, ok := Parse(text)
	return ok
}

// Strip recognizes a leading daemon command and returns the remaining
// text (trimmed) alongside it. If text isn't a daemon command, it is
// returned unchanged with ok=false.
func Strip(text string) (string, Command, bool) {
	stripped := strings.TrimSpace(text)
	cmd, end, ok := match(stripped)
	if !ok {
		return text, Command{}, false
	}
	return strings.TrimSpace(stripped[end:]), cmd, true
}
