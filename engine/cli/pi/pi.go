package pi

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/takopi/takopi"
	"github.com/takopi/takopi/engine/cli"
	"github.com/takopi/takopi/engine/cli/internal/jsonutil"
)

const defaultBinary = "pi"

// Backend is a "pi" CLI backend for agentrun. It implements cli.Spawner,
// cli.Parser, and cli.Resumer. One Backend instance per session.
type Backend struct {
	binary      string
	model       string
	provider    string
	extraArgs   []string
	sessionFile atomic.Pointer[string]
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

// WithBinary overrides the pi CLI binary path. Empty values are ignored.
func WithBinary(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.binary = path
		}
	}
}

// WithModel sets a default --model value.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithProvider sets a default --provider value.
func WithProvider(provider string) Option {
	return func(b *Backend) { b.provider = provider }
}

// WithExtraArgs appends fixed extra args to every invocation.
func WithExtraArgs(args ...string) Option {
	return func(b *Backend) { b.extraArgs = args }
}

// New creates a pi CLI backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{binary: defaultBinary}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SpawnArgs builds exec.Cmd arguments for a new pi session: pi [--model m]
// [--provider p] [extra...] -- <prompt>. When OptionResumeID is set, builds
// the --continue form directly instead of starting fresh — the only way to
// resume a conversation across process restarts, since pi has no streaming
// path (see ResumeArgs, used for same-process spawn-per-turn resumption
// once a session is running).
func (b *Backend) SpawnArgs(session agentrun.Session) (string, []string) {
	if sf := session.Options[agentrun.OptionResumeID]; sf != "" && !jsonutil.ContainsNull(sf) {
		args := []string{"--continue", sf}
		args = b.appendCommonArgs(args, session)
		args = append(args, "--")
		if session.Prompt != "" && !jsonutil.ContainsNull(session.Prompt) {
			args = append(args, session.Prompt)
		}
		return b.binary, args
	}
	args := b.appendCommonArgs(nil, session)
	args = append(args, "--")
	if session.Prompt != "" && !jsonutil.ContainsNull(session.Prompt) {
		args = append(args, session.Prompt)
	}
	return b.binary, args
}

// ResumeArgs builds exec.Cmd arguments to resume an existing pi session:
// pi --continue <session_file> [common...] -- <prompt>.
func (b *Backend) ResumeArgs(session agentrun.Session, initialPrompt string) (string, []string, error) {
	sf := b.resolveSessionFile(session)
	if sf == "" {
		return "", nil, errors.New("pi: no session file available (not captured from stream and not set via OptionResumeID)")
	}
	if jsonutil.ContainsNull(sf) || jsonutil.ContainsNull(initialPrompt) {
		return "", nil, errors.New("pi: session file or prompt contains null bytes")
	}
	args := []string{"--continue", sf}
	args = b.appendCommonArgs(args, session)
	args = append(args, "--")
	if initialPrompt != "" {
		args = append(args, initialPrompt)
	}
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
	if b.provider != "" {
		args = append(args, "--provider", b.provider)
	}
	args = append(args, b.extraArgs...)
	return args
}

// resolveSessionFile returns the session file from the atomic store
// (auto-capture) or from OptionResumeID. Stored value takes precedence.
func (b *Backend) resolveSessionFile(session agentrun.Session) string {
	if p := b.sessionFile.Load(); p != nil {
		return *p
	}
	return session.Options[agentrun.OptionResumeID]
}
