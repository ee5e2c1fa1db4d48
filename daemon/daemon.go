// Package daemon generates and manages a systemd user-mode unit for
// running the bridge unattended. It is purely an operator-facing
// convenience: the generated unit is never read by the running bridge,
// only by systemd itself.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const serviceName = "takopi.service"

// UnitOptions controls the generated service unit's content.
type UnitOptions struct {
	ExecPath    string // defaults to "takopi" so systemd resolves it via PATH
	Description string // defaults to "Takopi Telegram Bridge"
	WorkingDir  string // omitted from the unit when empty
}

// GenerateServiceUnit renders a systemd user-mode unit file. PATH and HOME
// are captured from the current environment so nvm/cargo/asdf shims that
// put the engine CLIs on PATH are visible to the service too.
func GenerateServiceUnit(opts UnitOptions) string {
	execPath := opts.ExecPath
	if execPath == "" {
		execPath = "takopi"
	}
	description := opts.Description
	if description == "" {
		description = "Takopi Telegram Bridge"
	}

	home, _ := os.UserHomeDir()
	pathValue := os.Getenv("PATH")
	if pathValue == "" {
		pathValue = strings.Join([]string{
			filepath.Join(home, ".local", "bin"),
			"/usr/local/bin",
			"/usr/bin",
			"/bin",
		}, ":")
	}

	lines := []string{
		"[Unit]",
		"Description=" + description,
		"After=network-online.target",
		"Wants=network-online.target",
		"",
		"[Service]",
		"Type=simple",
		"Environment=HOME=" + home,
		"Environment=PATH=" + pathValue,
		"Environment=TAKOPI_NO_INTERACTIVE=1",
		fmt.Sprintf("ExecStart=/bin/sh -c 'exec %s'", execPath),
		"Restart=on-failure",
		"RestartSec=10",
	}
	if opts.WorkingDir != "" {
		lines = append(lines, "WorkingDirectory="+opts.WorkingDir)
	}
	lines = append(lines, "", "[Install]", "WantedBy=default.target", "")

	return strings.Join(lines, "\n")
}

// UserDir returns the systemd user unit directory: $XDG_CONFIG_HOME/systemd/user,
// falling back to ~/.config/systemd/user.
func UserDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "systemd", "user"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("daemon: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

// ServicePath returns the full path to the generated unit file.
func ServicePath() (string, error) {
	dir, err := UserDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, serviceName), nil
}

func runSystemctl(args ...string) bool {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	return cmd.Run() == nil
}

// InstallOptions controls Install's behavior.
type InstallOptions struct {
	Enable bool // enable the service to start on login
	Start  bool // start the service immediately
	Force  bool // overwrite an existing unit file
}

// ErrAlreadyInstalled is returned by Install when a unit file already
// exists and Force wasn't set.
var ErrAlreadyInstalled = fmt.Errorf("daemon: service file already exists, use --force to overwrite")

// Install writes the unit file and reloads systemd, optionally enabling
// and starting the service. Warnings (failed daemon-reload/enable/start)
// are returned in the warnings slice rather than as errors, matching the
// original's best-effort behavior: the unit file itself is the thing
// that matters.
func Install(opts InstallOptions) (warnings []string, err error) {
	path, err := ServicePath()
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr == nil && !opts.Force {
		return nil, ErrAlreadyInstalled
	}

	content := GenerateServiceUnit(UnitOptions{})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create systemd user directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("daemon: write service file: %w", err)
	}

	if !runSystemctl("daemon-reload") {
		warnings = append(warnings, "failed to reload systemd daemon")
	}
	if opts.Enable && !runSystemctl("enable", serviceName) {
		warnings = append(warnings, "failed to enable service")
	}
	if opts.Start && !runSystemctl("start", serviceName) {
		warnings = append(warnings, "failed to start service")
	}
	return warnings, nil
}

// ErrNotInstalled is returned by Uninstall when no unit file exists.
var ErrNotInstalled = fmt.Errorf("daemon: service file not found")

// Uninstall stops and disables the service (only when stop is true), then
// removes the unit file and reloads systemd.
func Uninstall(stop bool) error {
	path, err := ServicePath()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return ErrNotInstalled
	}

	if stop {
		runSystemctl("stop", serviceName)
		runSystemctl("disable", serviceName)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("daemon: remove service file: %w", err)
	}
	runSystemctl("daemon-reload")
	return nil
}

// Status runs `systemctl --user status` for the service and passes its
// exit code through; the process's own stdout/stderr are inherited so
// systemctl's formatting reaches the terminal unchanged.
func Status() (exitCode int, err error) {
	cmd := exec.Command("systemctl", "--user", "status", serviceName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return runAndExitCode(cmd)
}

// Logs runs `journalctl --user -u takopi.service`, optionally following
// output and limiting to the last n lines.
func Logs(follow bool, lines int) (exitCode int, err error) {
	args := []string{"--user", "-u", serviceName, fmt.Sprintf("-n%d", lines)}
	if follow {
		args = append(args, "-f")
	}
	cmd := exec.Command("journalctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return runAndExitCode(cmd)
}

func runAndExitCode(cmd *exec.Cmd) (int, error) {
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
