package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/takopi/takopi/config"
)

func newConfigCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the bridge's config file",
		Commands: []*cli.Command{
			newConfigCheckCommand(log),
		},
	}
}

func newConfigCheckCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the config file without starting the bridge",
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			raw, err := config.LoadTelegramConfig(path)
			if err != nil {
				return fatalf("load config: %w", err)
			}
			if _, err := config.ParseTelegramTransport(raw, path); err != nil {
				return fatalf("transport: %w", err)
			}
			workspaces, err := config.ParseWorkspaces(raw, path, true)
			if err != nil {
				return fatalf("workspaces: %w", err)
			}
			projects, err := config.ParseProjects(raw, path)
			if err != nil {
				return fatalf("projects: %w", err)
			}
			if _, _, err := config.GetDefaultWorkspace(raw, path, workspaces); err != nil {
				return fatalf("default_workspace: %w", err)
			}
			log.Info().
				Int("workspaces", len(workspaces)).
				Int("projects", len(projects)).
				Msg("config ok")
			fmt.Printf("%s: ok (%d workspaces, %d projects)\n", path, len(workspaces), len(projects))
			return nil
		},
	}
}
