package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/takopi/takopi/workspaces"
)

// workspaceDirFlags are shared by every workspace subcommand: the bare
// mirror repos live under reposDir, the git worktree checkouts a user
// actually edits live under workspacesDir.
func workspaceDirFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "repos-dir", Usage: "Directory holding bare mirror repos", Value: defaultWorkspacePath("repos")},
		&cli.StringFlag{Name: "workspaces-dir", Usage: "Directory holding worktree checkouts", Value: defaultWorkspacePath("workspaces")},
	}
}

func defaultWorkspacePath(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return sub
	}
	return home + "/.config/takopi/" + sub
}

func newWorkspaceCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "workspace",
		Usage: "Manage the bridge's git worktree checkouts",
		Commands: []*cli.Command{
			newWorkspaceListCommand(),
			newWorkspaceInfoCommand(),
			newWorkspaceStatusCommand(),
			newWorkspaceLinkCommand(),
			newWorkspacePullCommand(),
			newWorkspacePushCommand(),
			newWorkspaceRemoveCommand(log),
			newWorkspaceResetCommand(),
			newWorkspaceLogCommand(),
			newWorkspaceDiffCommand(),
		},
	}
}

func newWorkspaceListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List every linked workspace",
		Flags: workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			list, err := workspaces.List(cmd.String("workspaces-dir"))
			if err != nil {
				return fatalf("list workspaces: %w", err)
			}
			if len(list) == 0 {
				fmt.Println("no workspaces")
				return nil
			}
			for _, ws := range list {
				fmt.Printf("%s\t%s\t%s\n", ws.Name, ws.Branch, ws.Path)
			}
			return nil
		},
	}
}

func newWorkspaceInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show one workspace's path and branch",
		ArgsUsage: "<name>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			info, err := workspaces.GetInfo(cmd.String("workspaces-dir"), name)
			if err != nil {
				return fatalf("workspace info: %w", err)
			}
			if info == nil {
				return fatalf("workspace %q not found", name)
			}
			fmt.Printf("name:   %s\npath:   %s\nbranch: %s\n", info.Name, info.Path, info.Branch)
			return nil
		},
	}
}

func newWorkspaceStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show one workspace's working-tree status",
		ArgsUsage: "<name>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			status, err := workspaces.GetStatus(cmd.String("workspaces-dir"), cmd.Args().First())
			if err != nil {
				return fatalf("workspace status: %w", err)
			}
			dirty := "clean"
			if status.Dirty {
				dirty = "dirty"
			}
			fmt.Printf("%s\t%s\t%s\t%d untracked\n", status.Name, status.Branch, dirty, status.Untracked)
			return nil
		},
	}
}

func newWorkspaceLinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Add a takopi remote to an external clone pointing at a workspace's bare repo",
		ArgsUsage: "<name> <source-path>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 2 {
				return fatalf("link: expected <name> <source-path>")
			}
			msg, err := workspaces.Link(cmd.String("repos-dir"), cmd.String("workspaces-dir"), args.Get(0), args.Get(1))
			if err != nil {
				return fatalf("link workspace: %w", err)
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func newWorkspacePullCommand() *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "Fast-forward a workspace from its upstream",
		ArgsUsage: "<name>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			out, err := workspaces.Pull(cmd.String("workspaces-dir"), cmd.Args().First())
			if err != nil {
				return fatalf("pull workspace: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newWorkspacePushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Push a workspace's current branch to its upstream",
		ArgsUsage: "<name>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			out, err := workspaces.Push(cmd.String("workspaces-dir"), cmd.Args().First())
			if err != nil {
				return fatalf("push workspace: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newWorkspaceRemoveCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a workspace and prune its git worktree registration",
		ArgsUsage: "<name>",
		Flags: append(workspaceDirFlags(),
			&cli.BoolFlag{Name: "force", Usage: "Remove even if the working tree has uncommitted changes"},
		),
		Action: func(_ context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if err := workspaces.Remove(cmd.String("repos-dir"), cmd.String("workspaces-dir"), name, cmd.Bool("force")); err != nil {
				return fatalf("remove workspace: %w", err)
			}
			log.Info().Str("workspace", name).Msg("workspace removed")
			fmt.Printf("removed workspace %q\n", name)
			return nil
		},
	}
}

func newWorkspaceResetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Reset a workspace's working tree",
		ArgsUsage: "<name>",
		Flags: append(workspaceDirFlags(),
			&cli.BoolFlag{Name: "hard", Usage: "Also remove untracked files"},
		),
		Action: func(_ context.Context, cmd *cli.Command) error {
			out, err := workspaces.Reset(cmd.String("workspaces-dir"), cmd.Args().First(), cmd.Bool("hard"))
			if err != nil {
				return fatalf("reset workspace: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newWorkspaceLogCommand() *cli.Command {
	return &cli.Command{
		Name:      "log",
		Usage:     "Show commits a workspace's branch has ahead of its default branch",
		ArgsUsage: "<name>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			out, err := workspaces.GetLog(cmd.String("workspaces-dir"), cmd.Args().First())
			if err != nil {
				return fatalf("workspace log: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newWorkspaceDiffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Show a workspace's diff against its default branch",
		ArgsUsage: "<name>",
		Flags:     workspaceDirFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			out, err := workspaces.GetDiff(cmd.String("workspaces-dir"), cmd.Args().First())
			if err != nil {
				return fatalf("workspace diff: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}
}
