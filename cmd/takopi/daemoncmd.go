package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/takopi/takopi/daemon"
)

func newDaemonCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Manage the bridge as a systemd --user service",
		Commands: []*cli.Command{
			newDaemonInstallCommand(log),
			newDaemonUninstallCommand(log),
			newDaemonStatusCommand(),
			newDaemonLogsCommand(),
		},
	}
}

func newDaemonInstallCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Generate and install the takopi.service unit",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "enable", Usage: "Enable the service to start on login"},
			&cli.BoolFlag{Name: "start", Usage: "Start the service immediately"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing unit file"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			warnings, err := daemon.Install(daemon.InstallOptions{
				Enable: cmd.Bool("enable"),
				Start:  cmd.Bool("start"),
				Force:  cmd.Bool("force"),
			})
			for _, w := range warnings {
				log.Warn().Msg(w)
			}
			if err != nil {
				return fatalf("install daemon: %w", err)
			}
			fmt.Println("takopi.service installed")
			return nil
		},
	}
}

func newDaemonUninstallCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "uninstall",
		Usage: "Stop and remove the takopi.service unit",
		Action: func(_ context.Context, _ *cli.Command) error {
			if err := daemon.Uninstall(true); err != nil {
				return fatalf("uninstall daemon: %w", err)
			}
			fmt.Println("takopi.service removed")
			return nil
		},
	}
}

func newDaemonStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show systemctl --user status for takopi.service",
		Action: func(_ context.Context, _ *cli.Command) error {
			code, err := daemon.Status()
			if err != nil {
				return fatalf("daemon status: %w", err)
			}
			os.Exit(code)
			return nil
		},
	}
}

func newDaemonLogsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show journalctl --user output for takopi.service",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Follow log output"},
			&cli.IntFlag{Name: "lines", Aliases: []string{"n"}, Usage: "Number of lines to show", Value: 50},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			code, err := daemon.Logs(cmd.Bool("follow"), int(cmd.Int("lines")))
			if err != nil {
				return fatalf("daemon logs: %w", err)
			}
			os.Exit(code)
			return nil
		},
	}
}
