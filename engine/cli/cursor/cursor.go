package cursor

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/takopi/takopi"
	"github.com/takopi/takopi/engine/cli"
	"github.com/takopi/takopi/engine/cli/internal/jsonutil"
)

const defaultBinary = "agent"

// Backend is a Cursor CLI ("agent") backend for agentrun.
// It implements cli.Spawner, cli.Parser, and cli.Resumer. Cursor does not
// support streaming stdin — multi-turn conversation is resume-per-turn.
//
// One Backend instance per session. The session ID is auto-captured from
// the first event carrying a non-empty "session_id" field.
type Backend struct {
	binary    string
	model     string
	workspace string
	sessionID atomic.Pointer[string]
}

// Compile-time interface satisfaction checks.
var (
	_ cli.Backend = (*Backend)(nil)
	_ cli.Spawner = (*Backend)(nil)
	_ cli.Parser  = (*Backend)(nil)
	_ cli.Resumer = (*Backend)(nil)
)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithBinary overrides the Cursor agent binary path. Empty values are
// ignored; the default is "agent".
func WithBinary(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.binary = path
		}
	}
}

// WithModel sets a default --model value applied to every invocation.
func WithModel(model string) Option {
	return func(b *Backend) {
		b.model = model
	}
}

// WithWorkspace sets a default --workspace value applied to every
// invocation when Session.CWD does not already imply one.
func WithWorkspace(path string) Option {
	return func(b *Backend) {
		b.workspace = path
	}
}

// New creates a Cursor CLI backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{binary: defaultBinary}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SpawnArgs builds exec.Cmd arguments for a new Cursor session:
// agent -p <prompt> [--model <m>] [--workspace <dir>]. When
// OptionResumeID is set and valid, resumes directly instead of starting
// fresh — this is the only way to resume a conversation across process
// restarts, since Cursor has no streaming path (see ResumeArgs, used for
// same-process spawn-per-turn resumption once a session is running).
func (b *Backend) SpawnArgs(session agentrun.Session) (string, []string) {
	args := []string{"-p"}
	if session.Prompt != "" && !jsonutil.ContainsNull(session.Prompt) {
		args = append(args, session.Prompt)
	} else {
		args = append(args, "")
	}
	if id := session.Options[agentrun.OptionResumeID]; id != "" && !jsonutil.ContainsNull(id) {
		args = append(args, "--resume", id)
	}
	args = b.appendCommonArgs(args, session)
	return b.binary, args
}

// ResumeArgs builds exec.Cmd arguments to resume an existing Cursor
// session: agent -p <prompt> --resume <session_id> [--model <m>].
func (b *Backend) ResumeArgs(session agentrun.Session, initialPrompt string) (string, []string, error) {
	sid := b.resolveSessionID(session)
	if sid == "" {
		return "", nil, errors.New("cursor: no session ID available (not captured from stream and not set via OptionResumeID)")
	}
	if jsonutil.ContainsNull(sid) || jsonutil.ContainsNull(initialPrompt) {
		return "", nil, errors.New("cursor: session ID or prompt contains null bytes")
	}
	args := []string{"-p", initialPrompt, "--resume", sid}
	args = b.appendCommonArgs(args, session)
	return b.binary, args, nil
}

func (b *Backend) appendCommonArgs(args []string, session agentrun.Session) []string {
	model := session.Model
	if model == "" {
		model = b.model
	}
	if model != "" && !jsonutil.ContainsNull(model) && !strings.HasPrefix(model, "-") {
		args = append(args, "--model", model)
	}
	if b.workspace != "" {
		args = append(args, "--workspace", b.workspace)
	}
	return args
}

// resolveSessionID returns the session ID from the atomic store
// (auto-capture) or from OptionResumeID. Stored ID takes precedence.
func (b *Backend) resolveSessionID(session agentrun.Session) string {
	if p := b.sessionID.Load(); p != nil {
		return *p
	}
	return session.Options[agentrun.OptionResumeID]
}
