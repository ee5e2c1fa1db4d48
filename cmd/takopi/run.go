package main

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/takopi/takopi/audit"
	"github.com/takopi/takopi/bridge/event"
	"github.com/takopi/takopi/bridge/ingress"
	"github.com/takopi/takopi/bridge/queue"
	"github.com/takopi/takopi/bridge/router"
	"github.com/takopi/takopi/bridge/runner"
	"github.com/takopi/takopi/bridge/runtime"
	"github.com/takopi/takopi/config"
	"github.com/takopi/takopi/lockfile"
	"github.com/takopi/takopi/transcribe"
)

const (
	privateChatRPS   = 1.0
	groupChatRPS     = 0.5
	auditMaxTextLen  = 4000
	pollTimeoutSecs  = 30
	schedulerLRUSize = 512
)

func newRunCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the bridge and poll Telegram for updates",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runBridge(ctx, log, cmd.String("config"))
		},
	}
}

func runBridge(ctx context.Context, log *zerolog.Logger, configPath string) error {
	raw, err := config.LoadTelegramConfig(configPath)
	if err != nil {
		return fatalf("load config: %w", err)
	}
	telegramCfg, err := config.ParseTelegramTransport(raw, configPath)
	if err != nil {
		return fatalf("parse transport: %w", err)
	}
	workspaces, err := config.ParseWorkspaces(raw, configPath, true)
	if err != nil {
		return fatalf("parse workspaces: %w", err)
	}
	projects, err := config.ParseProjects(raw, configPath)
	if err != nil {
		return fatalf("parse projects: %w", err)
	}
	defaultEngine := event.EngineID(config.DefaultEngine(raw))
	if defaultEngine == "" {
		defaultEngine = "codex"
	}
	log.Info().Int("workspaces", len(workspaces)).Int("projects", len(projects)).Msg("config loaded")

	lock, err := lockfile.Acquire(configPath)
	if err != nil {
		return fatalf("acquire lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	auditPath := configPath + ".audit.jsonl"
	auditLog, err := audit.Open(auditPath, auditMaxTextLen)
	if err != nil {
		return fatalf("open audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	entries, err := buildRunnerEntries(defaultEngine, log)
	if err != nil {
		return err
	}
	autoRouter, err := router.NewAutoRouter(entries, defaultEngine)
	if err != nil {
		return fatalf("build router: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(telegramCfg.BotToken)
	if err != nil {
		return fatalf("connect to telegram: %w", err)
	}
	me := bot.Self
	log.Info().Str("username", me.UserName).Msg("connected to telegram")

	client := queue.NewQueuedTelegramClient(queue.NewBotClient(bot), privateChatRPS, groupChatRPS)
	defer func() { _ = client.Close() }()

	threadStorePath := configPath + ".threads.json"
	threadStore, err := runtime.OpenThreadStore(threadStorePath)
	if err != nil {
		return fatalf("open thread store: %w", err)
	}

	projectMap := make(map[string]config.Project, len(projects))
	for _, p := range projects {
		projectMap[p.Alias] = p
	}
	defaultProj := ""
	if len(projects) > 0 {
		defaultProj = projects[0].Alias
	}

	rt, err := runtime.New(runtime.Options{
		Router:            autoRouter,
		Out:               client,
		Audit:             auditLog,
		Threads:           threadStore,
		Projects:          projectMap,
		DefaultProj:       defaultProj,
		BotUsername:       me.UserName,
		Download:          downloaderFor(bot),
		Transcribe:        transcribe.Transcribe,
		SchedulerCapacity: schedulerLRUSize,
	})
	if err != nil {
		return fatalf("build runtime: %w", err)
	}

	return pollLoop(ctx, log, client, rt, telegramCfg.ChatID)
}

// buildRunnerEntries constructs a router.RunnerEntry for every built-in
// engine, validating each so an unavailable CLI binary degrades to a
// reported issue rather than a startup failure.
func buildRunnerEntries(defaultEngine event.EngineID, log *zerolog.Logger) ([]router.RunnerEntry, error) {
	onDrop := func(engine event.EngineID, kind event.ActionKind, title string) {
		log.Warn().Str("engine", string(engine)).Str("kind", string(kind)).Str("title", title).Msg("dropped progress frame under backpressure")
	}
	runners := runner.BuildDefault(nil, onDrop)
	entries := make([]router.RunnerEntry, 0, len(runners))
	haveDefault := false
	for id, r := range runners {
		entry := router.RunnerEntry{Engine: id, Runner: r, Available: true}
		if err := r.Validate(); err != nil {
			entry.Available = false
			entry.Issue = err.Error()
			log.Warn().Str("engine", string(id)).Err(err).Msg("engine unavailable")
		}
		if id == defaultEngine {
			haveDefault = true
		}
		entries = append(entries, entry)
	}
	if !haveDefault {
		return nil, fatalf("default_engine %q is not a known engine", defaultEngine)
	}
	return entries, nil
}

func downloaderFor(bot *tgbotapi.BotAPI) runtime.Downloader {
	return func(ctx context.Context, fileID string) ([]byte, error) {
		url, err := bot.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("resolve file url: %w", err)
		}
		req, err := httpGet(ctx, url)
		if err != nil {
			return nil, err
		}
		return req, nil
	}
}

// pollLoop long-polls getUpdates and dispatches matching updates to the
// runtime, one HandleIncoming call per update; the runtime itself
// enqueues the actual engine run asynchronously.
func pollLoop(ctx context.Context, log *zerolog.Logger, client *queue.QueuedTelegramClient, rt *runtime.Runtime, chatID int64) error {
	offset := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		default:
		}

		updates, err := client.GetUpdates(ctx, offset, pollTimeoutSecs)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("getUpdates failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		for _, upd := range updates {
			offset = upd.UpdateID + 1
			msg, ok := ingress.ParseIncomingUpdate(upd, chatID)
			if !ok {
				continue
			}
			if err := rt.HandleIncoming(ctx, msg); err != nil {
				log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("handle incoming failed")
			}
		}
	}
}
