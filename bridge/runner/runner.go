// Package runner adapts the teacher's generic agentrun.Engine/Backend
// machinery into the bridge's engine-agnostic Runner contract: one
// Run call per incoming message, resume handled by constructing a fresh
// Backend with an explicit resume option rather than holding a live
// Process across messages, and every backend's heterogeneous JSONL output
// normalized into one event.TakopiEvent stream by a single shared
// translator (see translate.go).
package runner

import (
	"context"
	"fmt"

	"github.com/takopi/takopi"
	"github.com/takopi/takopi/bridge/event"
	"github.com/takopi/takopi/engine/cli"
)

// Runner is the bridge's engine-agnostic entry point: one call per
// incoming message, producing a stream of TakopiEvents for the renderer
// and ending with exactly one completed event.
type Runner interface {
	// Engine identifies which engine this Runner drives.
	Engine() event.EngineID

	// Validate checks that the underlying CLI binary is available,
	// returning an error wrapping agentrun.ErrUnavailable if not.
	Validate() error

	// FormatResume renders a resume token as inline-code wire text a user
	// can reply to or quote to resume this engine's session.
	FormatResume(token event.ResumeToken) string

	// ExtractResume scans text for this engine's resume wire form.
	ExtractResume(text string) (event.ResumeToken, bool)

	// Run starts one turn: a fresh session if resume is nil, otherwise a
	// resumed one. The returned channel is closed after exactly one
	// completed event has been sent. If the run cannot start (a resume
	// token for another engine, or the subprocess failing to start), no
	// channel is returned (nil) and the failure is returned directly.
	Run(ctx context.Context, cwd, prompt string, resume *event.ResumeToken) (<-chan event.TakopiEvent, error)
}

// DropWarning reports that a non-essential progress frame was dropped
// because the consumer fell behind the bounded event channel. Never
// called for session.started, action.completed, or completed — only for
// in-flight action.started/action.updated frames, per §4.B's backpressure
// contract.
type DropWarning func(engine event.EngineID, kind event.ActionKind, title string)

// eventChanCapacity bounds the per-run event channel. Past this, a slow
// consumer sheds the oldest non-essential frame rather than stalling the
// translator mid-run.
const eventChanCapacity = 16

// cliRunner adapts one engine/cli Backend factory into a Runner.
type cliRunner struct {
	engine     event.EngineID
	newBackend func() cli.Backend
	locks      *sessionLocks
	model      string
	onDrop     DropWarning
}

// RunnerOption configures a Runner at construction time.
type RunnerOption func(*cliRunner)

// WithDropWarning registers a callback invoked whenever the bounded event
// channel sheds a non-essential frame. nil (the default) drops silently.
func WithDropWarning(fn DropWarning) RunnerOption {
	return func(r *cliRunner) { r.onDrop = fn }
}

// New builds a Runner around a CLI backend factory. newBackend must
// return a fresh Backend instance on every call — CLI backends carry
// per-session state (the atomic resume-handle capture) and must not be
// reused across runs.
func New(engine event.EngineID, model string, newBackend func() cli.Backend, opts ...RunnerOption) Runner {
	r := &cliRunner{
		engine:     engine,
		newBackend: newBackend,
		locks:      newSessionLocks(),
		model:      model,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *cliRunner) Engine() event.EngineID { return r.engine }

func (r *cliRunner) Validate() error {
	eng := cli.NewEngine(r.newBackend())
	return eng.Validate()
}

func (r *cliRunner) FormatResume(token event.ResumeToken) string {
	return formatResume(token)
}

func (r *cliRunner) ExtractResume(text string) (event.ResumeToken, bool) {
	return extractResumeFor(r.engine, text)
}

func (r *cliRunner) Run(ctx context.Context, cwd, prompt string, resume *event.ResumeToken) (<-chan event.TakopiEvent, error) {
	var unlock func()
	if resume != nil {
		unlock = r.locks.Lock(resume.String())
	}

	session := agentrun.Session{
		CWD:    cwd,
		Model:  r.model,
		Prompt: prompt,
	}
	if resume != nil {
		if resume.Engine != r.engine {
			if unlock != nil {
				unlock()
			}
			return nil, fmt.Errorf("runner: resume token is for engine %q, runner is %q", resume.Engine, r.engine)
		}
		session.Options = map[string]string{agentrun.OptionResumeID: resume.Value}
	}

	eng := cli.NewEngine(r.newBackend())
	proc, err := eng.Start(ctx, session)
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return nil, fmt.Errorf("runner: start %s: %w", r.engine, err)
	}

	out := make(chan event.TakopiEvent, eventChanCapacity)
	go r.pump(ctx, proc, prompt, out, unlock)
	return out, nil
}

// essential reports whether evt must never be dropped under backpressure:
// session.started, action.completed, and completed all carry state the
// renderer/resume-persistence path cannot reconstruct later.
func essential(evt event.TakopiEvent) bool {
	if evt.Kind != event.KindAction {
		return true
	}
	return evt.Phase == event.PhaseCompleted
}

// send delivers evt to out, applying §4.B's backpressure contract: a
// full channel blocks for an essential event (session.started,
// action.completed, completed) but sheds the oldest buffered frame to
// make room for a non-essential one (action.started/action.updated)
// instead of stalling the translator on a slow consumer.
func (r *cliRunner) send(ctx context.Context, out chan event.TakopiEvent, evt event.TakopiEvent) error {
	if essential(evt) {
		select {
		case out <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case out <- evt:
		return nil
	default:
	}

	// out is full: shed the oldest buffered frame and retry once. Single
	// writer (this goroutine) and single reader (the renderer loop), so
	// racing a non-blocking receive against the real consumer only ever
	// costs an extra dropped or delivered frame, never a deadlock.
	select {
	case dropped := <-out:
		if r.onDrop != nil && !essential(dropped) {
			r.onDrop(dropped.Engine, dropped.Action.Kind, dropped.Action.Title)
		}
	default:
	}

	select {
	case out <- evt:
		return nil
	default:
		// The real consumer raced us and drained first; drop evt itself
		// rather than block, since it is non-essential by construction.
		if r.onDrop != nil {
			r.onDrop(evt.Engine, evt.Action.Kind, evt.Action.Title)
		}
		return nil
	}
}

// pump drains proc.Output(), translating each Message and forwarding the
// resulting events, then sends exactly one terminal event before closing
// out. unlock (possibly nil) is called once pumping finishes, after the
// terminal event is queued but before the channel closes, so a blocked
// consumer cannot hold the per-session lock indefinitely.
func (r *cliRunner) pump(ctx context.Context, proc agentrun.Process, prompt string, out chan event.TakopiEvent, unlock func()) {
	defer close(out)
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	t := newTranslator(r.engine)
	terminal := false

	err := agentrun.RunTurn(ctx, proc, prompt, func(msg agentrun.Message) error {
		events, err := t.Translate(msg)
		if err != nil {
			return err
		}
		for _, evt := range events {
			if evt.Kind == event.KindCompleted {
				terminal = true
			}
			if err := r.send(ctx, out, evt); err != nil {
				return err
			}
		}
		return nil
	})

	if terminal {
		return
	}

	// The engine never emitted its own terminal event (crash, abnormal
	// exit, context cancellation) — synthesize one so every run ends with
	// exactly one completed event, per the renderer's contract.
	evt, _ := t.Finish(err)
	_ = r.send(ctx, out, evt)
}
