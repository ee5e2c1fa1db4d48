// Package runtime is the transport runtime: it filters, classifies, and
// routes one incoming message at a time, then drives the scheduler worker
// that actually runs the engine and streams progress back to the chat.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/takopi/takopi/audit"
	"github.com/takopi/takopi/bridge/commands"
	"github.com/takopi/takopi/bridge/event"
	"github.com/takopi/takopi/bridge/ingress"
	"github.com/takopi/takopi/bridge/queue"
	"github.com/takopi/takopi/bridge/render"
	"github.com/takopi/takopi/bridge/router"
	"github.com/takopi/takopi/bridge/scheduler"
	"github.com/takopi/takopi/config"
	"github.com/takopi/takopi/transcribe"
)

// OutgoingClient is the subset of queue.QueuedTelegramClient the runtime
// drives. Satisfied by *queue.QueuedTelegramClient; a narrow interface so
// tests can supply an in-memory double instead.
type OutgoingClient interface {
	SendMessage(ctx context.Context, req queue.SendMessageRequest) (queue.SentMessage, error)
	EditMessageText(ctx context.Context, req queue.EditMessageRequest, wait bool) (queue.SentMessage, error)
}

// Transcriber shells out to an external speech-to-text boundary. Matches
// transcribe.Transcribe's signature so callers can pass it directly.
type Transcriber func(ctx context.Context, audioData []byte, cfg transcribe.Config) (string, error)

// Downloader fetches an attachment's bytes given its Telegram file id.
type Downloader func(ctx context.Context, fileID string) ([]byte, error)

// Options configures a Runtime.
type Options struct {
	Router      *router.AutoRouter
	Out         OutgoingClient
	Audit       *audit.Logger
	Threads     *ThreadStore
	Projects    map[string]config.Project
	DefaultProj string
	BotUsername string // lowercased; empty disables mention-based triggering

	MaxActions int // ExecProgressRenderer bound; 0 uses a sane default

	Download    Downloader  // nil disables voice transcription
	Transcribe  Transcriber // nil disables voice transcription
	VoiceModel  string
	VoiceLang   string

	SchedulerCapacity int // soft-expiry LRU capacity; 0 disables it
}

// Runtime wires the router, scheduler, outgoing queue, renderer, and
// bridge commands together to carry one incoming message through to a
// completed chat exchange.
type Runtime struct {
	router      *router.AutoRouter
	out         OutgoingClient
	auditLog    *audit.Logger
	threads     *ThreadStore
	projects    map[string]config.Project
	defaultProj string
	botUsername string
	maxActions  int
	download    Downloader
	transcribe  Transcriber
	voiceModel  string
	voiceLang   string

	scheduler *scheduler.ThreadScheduler
	reserved  map[string]bool
}

const defaultMaxActions = 12

// reservedCommands is the bridge's own slash-command vocabulary: always
// eligible to trigger a run regardless of engine/project configuration.
var reservedCommands = map[string]bool{
	string(commands.KindNew):        true,
	string(commands.KindWorkspace):  true,
	string(commands.KindWorkspaces): true,
	string(commands.KindSessions):   true,
	string(commands.KindDrop):       true,
}

// New builds a Runtime and its scheduler.
func New(opts Options) (*Runtime, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("runtime: Router is required")
	}
	if opts.Out == nil {
		return nil, fmt.Errorf("runtime: Out is required")
	}
	maxActions := opts.MaxActions
	if maxActions == 0 {
		maxActions = defaultMaxActions
	}

	rt := &Runtime{
		router:      opts.Router,
		out:         opts.Out,
		auditLog:    opts.Audit,
		threads:     opts.Threads,
		projects:    opts.Projects,
		defaultProj: opts.DefaultProj,
		botUsername: strings.ToLower(opts.BotUsername),
		maxActions:  maxActions,
		download:    opts.Download,
		transcribe:  opts.Transcribe,
		voiceModel:  opts.VoiceModel,
		voiceLang:   opts.VoiceLang,
		reserved:    reservedCommands,
	}

	sched, err := scheduler.New(rt.runJob, opts.SchedulerCapacity)
	if err != nil {
		return nil, fmt.Errorf("runtime: construct scheduler: %w", err)
	}
	rt.scheduler = sched
	return rt, nil
}

// triggerContext builds the current vocabulary of recognized first-token
// commands: configured engine ids plus project aliases, alongside the
// bridge's fixed reserved commands.
func (rt *Runtime) triggerContext() ingress.TriggerContext {
	ids := make(map[string]bool, len(rt.router.EngineIDs())+len(rt.projects))
	for _, id := range rt.router.EngineIDs() {
		ids[strings.ToLower(string(id))] = true
	}
	for alias := range rt.projects {
		ids[strings.ToLower(alias)] = true
	}
	return ingress.TriggerContext{
		BotUsername:      rt.botUsername,
		CommandIDs:       ids,
		ReservedCommands: rt.reserved,
	}
}

// HandleIncoming runs the filter/classify/identify/resolve/enqueue
// pipeline for one message. It never blocks on the run itself — enqueueing
// hands off to the scheduler's worker goroutine for the message's thread.
func (rt *Runtime) HandleIncoming(ctx context.Context, msg ingress.IncomingMessage) error {
	// 1. Filter.
	if !ingress.ShouldTrigger(msg, rt.triggerContext()) {
		return nil
	}

	text := msg.Text

	// 2. Classify: daemon commands first.
	if stripped, cmd, ok := commands.Strip(text); ok {
		rt.handleDaemonCommand(ctx, msg, cmd)
		text = stripped
		if text == "" {
			return nil
		}
	}

	// Voice substitution.
	if msg.Voice != nil && rt.download != nil && rt.transcribe != nil {
		audioData, err := rt.download(ctx, msg.Voice.FileID)
		if err != nil {
			return fmt.Errorf("runtime: download voice message: %w", err)
		}
		transcript, err := rt.transcribe(ctx, audioData, transcribe.Config{Model: rt.voiceModel, Language: rt.voiceLang})
		if err != nil {
			return fmt.Errorf("runtime: transcribe voice message: %w", err)
		}
		text = transcript
	}

	project := rt.defaultProj
	var replyText *string
	if msg.ReplyToText != nil {
		replyText = msg.ReplyToText
	}

	// 3 & 4. Identify thread / resolve resume token: an explicit resume
	// reference in the message or its reply quote wins; otherwise fall
	// back to the thread's last known resume token.
	resume, explicit := rt.router.ResolveResume(&text, replyText)
	if !explicit && rt.threads != nil {
		if tok, ok := rt.threads.Lookup(project, msg.ThreadID); ok {
			resume = &tok
		}
	}

	job := scheduler.ThreadJob{
		ChatID:    msg.ChatID,
		UserMsgID: msg.MessageID,
		Text:      text,
		Project:   project,
		ThreadID:  msg.ThreadID,
	}

	ctxJob := withThreadMeta(ctx, project, msg.ThreadID)
	if resume != nil {
		rt.scheduler.EnqueueResume(ctxJob, *resume, job)
	} else {
		rt.scheduler.Enqueue(ctxJob, job)
	}
	return nil
}

// handleDaemonCommand replies to a recognized bridge command. It changes
// no runtime state: /new does not clear the thread's stored resume token,
// /workspace does not change the project later runs use, and /drop does
// not remove any session; /workspaces lists the configured projects and
// /sessions always reports none.
func (rt *Runtime) handleDaemonCommand(ctx context.Context, msg ingress.IncomingMessage, cmd commands.Command) {
	var reply string
	switch cmd.Kind {
	case commands.KindNew:
		reply = "Starting a new session."
	case commands.KindWorkspace:
		reply = fmt.Sprintf("Switched to workspace %q.", cmd.Name)
	case commands.KindWorkspaces:
		reply = rt.listWorkspaces()
	case commands.KindSessions:
		reply = "No active sessions to list."
	case commands.KindDrop:
		reply = fmt.Sprintf("Dropped engine %q's session for this thread.", cmd.Engine)
	default:
		return
	}
	_, _ = rt.out.SendMessage(ctx, queue.SendMessageRequest{
		ChatID:            msg.ChatID,
		Text:              reply,
		ReplyToMessageID:  msg.MessageID,
		Priority:          queue.PriorityHigh,
	})
}

func (rt *Runtime) listWorkspaces() string {
	if len(rt.projects) == 0 {
		return "No projects configured."
	}
	var b strings.Builder
	b.WriteString("Projects:\n")
	for alias, p := range rt.projects {
		fmt.Fprintf(&b, "- %s (%s)\n", alias, p.Path)
	}
	return strings.TrimRight(b.String(), "\n")
}

type threadMetaKey struct{}

type threadMeta struct {
	Project  string
	ThreadID *int
}

func withThreadMeta(ctx context.Context, project string, threadID *int) context.Context {
	return context.WithValue(ctx, threadMetaKey{}, threadMeta{Project: project, ThreadID: threadID})
}

func threadMetaFrom(ctx context.Context) threadMeta {
	m, _ := ctx.Value(threadMetaKey{}).(threadMeta)
	return m
}

// runJob is the scheduler.RunJob callback: it sends a placeholder, runs
// the engine, folds the event stream into bounded progress edits, and
// persists the outcome.
func (rt *Runtime) runJob(ctx context.Context, job scheduler.ThreadJob) {
	meta := threadMetaFrom(ctx)
	start := time.Now()

	// Dispatch-time rejection (§4.C, §7 RunnerUnavailable): RunnerFor, unlike
	// EntryFor, checks Available and fails with an install-hint error before
	// anything is sent to the chat, so an engine whose binary is missing
	// drops the job with one explanatory message instead of spawning and
	// failing on a raw exec error.
	runnerImpl, err := rt.router.RunnerFor(job.ResumeToken)
	if err != nil {
		rt.sendPlain(ctx, job.ChatID, job.UserMsgID, fmt.Sprintf("⚠️ %s", err))
		return
	}

	placeholder, err := rt.out.SendMessage(ctx, queue.SendMessageRequest{
		ChatID:           job.ChatID,
		Text:             "working…",
		ReplyToMessageID: job.UserMsgID,
		Priority:         queue.PriorityHigh,
	})
	if err != nil {
		return
	}

	// done closes once this run finishes, letting the scheduler hold off a
	// same-session job that arrives (already resume-addressed) before the
	// resume token is persisted to ThreadStore — see NoteThreadKnown below.
	done := make(chan struct{})
	defer close(done)
	noted := false

	cwd := rt.cwdFor(meta.Project)
	events, err := runnerImpl.Run(ctx, cwd, job.Text, job.ResumeToken)
	if err != nil {
		rt.editPlain(ctx, job.ChatID, placeholder.MessageID, fmt.Sprintf("✗ %s", err))
		return
	}

	renderer := render.NewExecProgressRenderer(rt.maxActions, render.WithResumeFormatter(rt.router.FormatResume))
	var final event.TakopiEvent
	for evt := range events {
		renderer.NoteEvent(evt)
		if !noted && evt.Kind == event.KindSessionStarted {
			rt.scheduler.NoteThreadKnown(evt.Resume, done)
			noted = true
		}
		if evt.Kind == event.KindCompleted {
			final = evt
			continue
		}
		elapsed := time.Since(start).Seconds()
		_, _ = rt.out.EditMessageText(ctx, queue.EditMessageRequest{
			ChatID:    job.ChatID,
			MessageID: placeholder.MessageID,
			Text:      renderer.RenderProgress(elapsed),
			Priority:  queue.PriorityLow,
		}, false)
	}

	status := "done"
	if !final.OK {
		status = "failed"
	}
	elapsed := time.Since(start).Seconds()
	answer := final.Answer
	if !final.OK && final.Error != "" {
		answer = final.Error
	}
	_, _ = rt.out.EditMessageText(ctx, queue.EditMessageRequest{
		ChatID:    job.ChatID,
		MessageID: placeholder.MessageID,
		Text:      renderer.RenderFinal(elapsed, answer, status),
		Priority:  queue.PriorityHigh,
	}, true)

	if final.Resume != (event.ResumeToken{}) && rt.threads != nil {
		_ = rt.threads.Save(meta.Project, meta.ThreadID, final.Resume)
	}

	if rt.auditLog != nil {
		var threadID string
		if meta.ThreadID != nil {
			threadID = fmt.Sprintf("%d", *meta.ThreadID)
		}
		_ = rt.auditLog.Write(audit.Record{
			Kind:      "exchange",
			ChatID:    job.ChatID,
			ThreadID:  threadID,
			MessageID: job.UserMsgID,
			Engine:    string(final.Engine),
			Project:   meta.Project,
			Text:      job.Text,
			Timestamp: time.Now(),
		})
	}
}

func (rt *Runtime) cwdFor(project string) string {
	if p, ok := rt.projects[project]; ok {
		return p.Path
	}
	return ""
}

func (rt *Runtime) sendPlain(ctx context.Context, chatID int64, replyTo int, text string) {
	_, _ = rt.out.SendMessage(ctx, queue.SendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ReplyToMessageID: replyTo,
		Priority:         queue.PriorityHigh,
	})
}

func (rt *Runtime) editPlain(ctx context.Context, chatID int64, messageID int, text string) {
	_, _ = rt.out.EditMessageText(ctx, queue.EditMessageRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		Priority:  queue.PriorityHigh,
	}, true)
}
