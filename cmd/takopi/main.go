// Command takopi is the Telegram bridge: it forwards chat messages to a
// local coding-agent CLI (codex, claude, opencode, cursor, pi) and
// streams progress back into the same chat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := newRootCommand(&log)
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

func newRootCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "takopi",
		Usage: "Bridge a Telegram chat to a local coding-agent CLI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the bridge's TOML config file",
				Value:   defaultConfigPath(),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runBridge(ctx, log, cmd.String("config"))
		},
		Commands: []*cli.Command{
			newRunCommand(log),
			newDaemonCommand(log),
			newConfigCommand(log),
			newWorkspaceCommand(log),
		},
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "takopi.toml"
	}
	return home + "/.config/takopi/config.toml"
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
