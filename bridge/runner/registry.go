package runner

import (
	"github.com/takopi/takopi/bridge/event"
	"github.com/takopi/takopi/engine/cli"
	"github.com/takopi/takopi/engine/cli/claude"
	"github.com/takopi/takopi/engine/cli/codex"
	"github.com/takopi/takopi/engine/cli/cursor"
	"github.com/takopi/takopi/engine/cli/opencode"
	"github.com/takopi/takopi/engine/cli/pi"
)

// EngineConfig holds per-engine overrides read from the bridge's config
// file (component I): the CLI binary path and a default model.
type EngineConfig struct {
	Binary string
	Model  string
}

// BuildDefault constructs all five built-in engine Runners, applying any
// per-engine overrides from cfg (a nil or missing entry uses the
// backend's own default binary name and no default model). onDrop, if
// non-nil, is wired into every Runner's backpressure policy (see
// WithDropWarning).
func BuildDefault(cfg map[event.EngineID]EngineConfig, onDrop DropWarning) map[event.EngineID]Runner {
	var runnerOpts []RunnerOption
	if onDrop != nil {
		runnerOpts = []RunnerOption{WithDropWarning(onDrop)}
	}

	runners := make(map[event.EngineID]Runner, 5)

	runners["codex"] = New("codex", cfg["codex"].Model, func() cli.Backend {
		opts := []codex.Option{}
		if b := cfg["codex"].Binary; b != "" {
			opts = append(opts, codex.WithBinary(b))
		}
		return codex.New(opts...)
	}, runnerOpts...)

	runners["claude"] = New("claude", cfg["claude"].Model, func() cli.Backend {
		opts := []claude.Option{}
		if b := cfg["claude"].Binary; b != "" {
			opts = append(opts, claude.WithBinary(b))
		}
		return claude.New(opts...)
	}, runnerOpts...)

	runners["opencode"] = New("opencode", cfg["opencode"].Model, func() cli.Backend {
		opts := []opencode.Option{}
		if b := cfg["opencode"].Binary; b != "" {
			opts = append(opts, opencode.WithBinary(b))
		}
		return opencode.New(opts...)
	}, runnerOpts...)

	runners["cursor"] = New("cursor", cfg["cursor"].Model, func() cli.Backend {
		opts := []cursor.Option{}
		if b := cfg["cursor"].Binary; b != "" {
			opts = append(opts, cursor.WithBinary(b))
		}
		return cursor.New(opts...)
	}, runnerOpts...)

	runners["pi"] = New("pi", cfg["pi"].Model, func() cli.Backend {
		opts := []pi.Option{}
		if b := cfg["pi"].Binary; b != "" {
			opts = append(opts, pi.WithBinary(b))
		}
		return pi.New(opts...)
	}, runnerOpts...)

	return runners
}
