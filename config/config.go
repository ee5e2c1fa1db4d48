// Package config loads and validates the bridge's TOML configuration
// file: transport credentials, workspaces, projects, and per-engine
// passthrough options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Sentinel errors identifying each distinct config failure. Wrapped with
// the offending path via fmt.Errorf("%w: ...", sentinel, ...) so callers
// can both errors.Is against the class and read a human path in the text.
var (
	ErrMissingConfigFile       = errors.New("config: missing config file")
	ErrReadConfigFile          = errors.New("config: failed to read config file")
	ErrMalformedTOML           = errors.New("config: malformed TOML")
	ErrExpectedTable           = errors.New("config: expected a table")
	ErrExpectedNonEmptyString  = errors.New("config: expected a non-empty string")
	ErrUnknownDefaultWorkspace = errors.New("config: unknown default workspace")
	ErrMissingBotToken         = errors.New("config: missing transports.telegram.bot_token")
	ErrMissingChatID           = errors.New("config: missing transports.telegram.chat_id")
)

// Telegram holds the `transports.telegram` table: the bridge's one
// transport binding in this release.
type Telegram struct {
	BotToken              string
	ChatID                int64
	ModeDiscoveryTimeoutS float64 // 0 when unset
}

// ParseTelegramTransport extracts and validates the `transports.telegram`
// table. Both bot_token and chat_id are required.
func ParseTelegramTransport(raw map[string]any, configPath string) (Telegram, error) {
	section, ok := raw["transports"]
	if !ok {
		return Telegram{}, fmt.Errorf("%w in %s", ErrMissingBotToken, configPath)
	}
	transports, ok := section.(map[string]any)
	if !ok {
		return Telegram{}, fmt.Errorf("%w for transports in %s", ErrExpectedTable, configPath)
	}
	section, ok = transports["telegram"]
	if !ok {
		return Telegram{}, fmt.Errorf("%w in %s", ErrMissingBotToken, configPath)
	}
	table, ok := section.(map[string]any)
	if !ok {
		return Telegram{}, fmt.Errorf("%w for transports.telegram in %s", ErrExpectedTable, configPath)
	}

	token, ok := table["bot_token"].(string)
	if !ok || token == "" {
		return Telegram{}, fmt.Errorf("%w in %s", ErrMissingBotToken, configPath)
	}

	chatIDRaw, ok := table["chat_id"]
	if !ok {
		return Telegram{}, fmt.Errorf("%w in %s", ErrMissingChatID, configPath)
	}
	chatID, err := toInt64(chatIDRaw)
	if err != nil {
		return Telegram{}, fmt.Errorf("%w in %s", ErrMissingChatID, configPath)
	}

	t := Telegram{BotToken: token, ChatID: chatID}
	if raw, ok := table["mode_discovery_timeout_s"]; ok {
		switch v := raw.(type) {
		case float64:
			t.ModeDiscoveryTimeoutS = v
		case int64:
			t.ModeDiscoveryTimeoutS = float64(v)
		}
	}
	return t, nil
}

// DefaultEngine extracts the top-level `default_engine` key.
func DefaultEngine(raw map[string]any) string {
	if v, ok := raw["default_engine"].(string); ok {
		return v
	}
	return ""
}

// Workspace is one named, absolute working-directory root an engine may
// be pointed at.
type Workspace struct {
	Name string
	Path string
}

// Project is one named alias binding a git checkout (and optional
// worktrees directory) to default engine/chat settings.
type Project struct {
	Alias        string
	Path         string
	WorktreesDir string
	DefaultEngine string // empty when unset
	ChatID        int64  // zero when unset
	HasChatID     bool
}

// LoadTelegramConfig reads and parses the TOML file at path, returning
// the raw document as a generic map for the Parse* helpers to pick apart.
func LoadTelegramConfig(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfigFile, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrReadConfigFile, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrReadConfigFile, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReadConfigFile, path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTOML, path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// ParseWorkspaces extracts the `workspaces.<name> = "<path>"` table.
// Paths starting with "~" are expanded against the user's home directory
// unconditionally; existence is checked only when validatePaths is true.
func ParseWorkspaces(raw map[string]any, configPath string, validatePaths bool) ([]Workspace, error) {
	section, ok := raw["workspaces"]
	if !ok {
		return nil, nil
	}
	table, ok := section.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w for workspaces in %s", ErrExpectedTable, configPath)
	}

	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	// The result follows Go's map iteration order, which is not stable;
	// GetDefaultWorkspace lists "Available: a, b" in the order it is given.

	workspaces := make([]Workspace, 0, len(table))
	for _, name := range names {
		value := table[name]
		path, ok := value.(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("%w for workspace %q path in %s", ErrExpectedNonEmptyString, name, configPath)
		}

		expanded, err := expandHome(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to expand workspace %q path in %s: %w", name, configPath, err)
		}

		if validatePaths {
			if _, err := os.Stat(expanded); err != nil {
				return nil, fmt.Errorf("config: workspace %q path %s does not exist", name, expanded)
			}
		}

		workspaces = append(workspaces, Workspace{Name: name, Path: expanded})
	}
	return workspaces, nil
}

// GetDefaultWorkspace resolves the optional `default_workspace` key
// against an already-parsed workspace list. Returns ("", false, nil)
// when the key is absent.
func GetDefaultWorkspace(raw map[string]any, configPath string, workspaces []Workspace) (string, bool, error) {
	value, ok := raw["default_workspace"]
	if !ok {
		return "", false, nil
	}
	name, ok := value.(string)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", false, fmt.Errorf("%w for default_workspace in %s", ErrExpectedNonEmptyString, configPath)
	}

	for _, ws := range workspaces {
		if ws.Name == name {
			return name, true, nil
		}
	}

	available := make([]string, len(workspaces))
	for i, ws := range workspaces {
		available[i] = ws.Name
	}
	return "", false, fmt.Errorf("%w %q in %s. Available: %s", ErrUnknownDefaultWorkspace, name, configPath, strings.Join(available, ", "))
}

// ParseProjects extracts the `projects.<alias>` tables.
func ParseProjects(raw map[string]any, configPath string) ([]Project, error) {
	section, ok := raw["projects"]
	if !ok {
		return nil, nil
	}
	table, ok := section.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w for projects in %s", ErrExpectedTable, configPath)
	}

	aliases := make([]string, 0, len(table))
	for alias := range table {
		aliases = append(aliases, alias)
	}

	projects := make([]Project, 0, len(table))
	for _, alias := range aliases {
		entry, ok := table[alias].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w for project %q in %s", ErrExpectedTable, alias, configPath)
		}

		path, ok := entry["path"].(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("%w for project %q path in %s", ErrExpectedNonEmptyString, alias, configPath)
		}
		expandedPath, err := expandHome(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to expand project %q path in %s: %w", alias, configPath, err)
		}

		project := Project{Alias: alias, Path: expandedPath}

		if raw, ok := entry["worktrees_dir"]; ok {
			dir, ok := raw.(string)
			if !ok || dir == "" {
				return nil, fmt.Errorf("%w for project %q worktrees_dir in %s", ErrExpectedNonEmptyString, alias, configPath)
			}
			expandedDir, err := expandHome(dir)
			if err != nil {
				return nil, fmt.Errorf("config: failed to expand project %q worktrees_dir in %s: %w", alias, configPath, err)
			}
			project.WorktreesDir = expandedDir
		}

		if raw, ok := entry["default_engine"]; ok {
			engine, ok := raw.(string)
			if !ok || engine == "" {
				return nil, fmt.Errorf("%w for project %q default_engine in %s", ErrExpectedNonEmptyString, alias, configPath)
			}
			project.DefaultEngine = engine
		}

		if raw, ok := entry["chat_id"]; ok {
			chatID, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("config: expected an integer for project %q chat_id in %s", alias, configPath)
			}
			project.ChatID = chatID
			project.HasChatID = true
		}

		projects = append(projects, project)
	}
	return projects, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("config: not an integer: %v", v)
	}
}
