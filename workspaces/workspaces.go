// Package workspaces manages Git worktree checkouts for the bridge's
// configured projects: linking a project's source repo into a bare
// mirror, listing and inspecting the resulting worktrees, and running
// pull/push/reset/diff/log against them. It is purely an operator-facing
// boundary over the git binary — nothing here is consumed by the running
// bridge's message-handling path (bridge/runtime only reads the already
// resolved Project.Path/WorktreesDir from config).
package workspaces

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// WorkspaceError reports a workspace operation that failed for a reason
// a caller should present to the user as-is (not found, dirty tree,
// invalid path, ...), as opposed to an unexpected git/filesystem error.
type WorkspaceError struct {
	Reason string
}

func (e *WorkspaceError) Error() string { return e.Reason }

func errNotFound(name string) error {
	return &WorkspaceError{Reason: fmt.Sprintf("workspace %q not found", name)}
}

// Info describes one linked workspace.
type Info struct {
	Name   string
	Path   string
	Branch string
}

// Status reports a workspace's working-tree state.
type Status struct {
	Name      string
	Branch    string
	Dirty     bool
	Untracked int
}

// EnsureDirectories creates reposDir and workspacesDir (and any missing
// parents) if they do not already exist.
func EnsureDirectories(reposDir, workspacesDir string) error {
	if err := os.MkdirAll(reposDir, 0o755); err != nil {
		return fmt.Errorf("workspaces: create repos dir: %w", err)
	}
	if err := os.MkdirAll(workspacesDir, 0o755); err != nil {
		return fmt.Errorf("workspaces: create workspaces dir: %w", err)
	}
	return nil
}

// Exists reports whether a workspace directory named name exists under
// workspacesDir.
func Exists(workspacesDir, name string) bool {
	info, err := os.Stat(filepath.Join(workspacesDir, name))
	return err == nil && info.IsDir()
}

// GetInfo returns name's workspace info, or nil if the workspace
// directory doesn't exist or isn't a git checkout.
func GetInfo(workspacesDir, name string) (*Info, error) {
	path := filepath.Join(workspacesDir, name)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, nil
	}
	branch, err := currentBranch(path)
	if err != nil {
		return nil, nil
	}
	return &Info{Name: name, Path: path, Branch: branch}, nil
}

// List returns every workspace found directly under workspacesDir, in
// directory order. A missing workspacesDir is treated as empty rather
// than an error.
func List(workspacesDir string) ([]Info, error) {
	entries, err := os.ReadDir(workspacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspaces: list %s: %w", workspacesDir, err)
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := GetInfo(workspacesDir, e.Name())
		if err != nil {
			return nil, err
		}
		if info != nil {
			out = append(out, *info)
		}
	}
	return out, nil
}

// GetStatus reports name's dirty/untracked working-tree state.
func GetStatus(workspacesDir, name string) (Status, error) {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return Status{}, errNotFound(name)
	}
	branch, err := currentBranch(path)
	if err != nil {
		return Status{}, fmt.Errorf("workspaces: read branch for %q: %w", name, err)
	}
	out, err := runGit(path, "status", "--porcelain")
	if err != nil {
		return Status{}, fmt.Errorf("workspaces: status for %q: %w", name, err)
	}
	var dirty bool
	var untracked int
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		dirty = true
		if strings.HasPrefix(line, "??") {
			untracked++
		}
	}
	return Status{Name: name, Branch: branch, Dirty: dirty, Untracked: untracked}, nil
}

// Remove deletes name's workspace directory and prunes the matching git
// worktree registration in its bare repo. Refuses a dirty tree unless
// force is set.
func Remove(reposDir, workspacesDir, name string, force bool) error {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return errNotFound(name)
	}
	if _, err := currentBranch(path); err != nil {
		return &WorkspaceError{Reason: fmt.Sprintf("Invalid workspace %q: not a git checkout", name)}
	}
	if !force {
		status, err := GetStatus(workspacesDir, name)
		if err != nil {
			return err
		}
		if status.Dirty {
			return &WorkspaceError{Reason: fmt.Sprintf("workspace %q has uncommitted changes; use force to remove anyway", name)}
		}
	}

	bareRepo := filepath.Join(reposDir, name+".git")
	if _, err := os.Stat(bareRepo); err == nil {
		args := []string{"worktree", "remove", path}
		if force {
			args = append(args, "--force")
		}
		_, _ = runGit(bareRepo, args...)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("workspaces: remove %q: %w", name, err)
	}
	return nil
}

// Link adds (or confirms) a "takopi" remote in sourcePath pointing at
// name's bare mirror repo under reposDir, so a developer's own clone can
// push/pull against the workspace the bridge operates on.
func Link(reposDir, workspacesDir, name, sourcePath string) (string, error) {
	if !Exists(workspacesDir, name) {
		return "", errNotFound(name)
	}
	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		return "", &WorkspaceError{Reason: fmt.Sprintf("path %q does not exist", sourcePath)}
	}
	if _, err := runGit(sourcePath, "rev-parse", "--git-dir"); err != nil {
		return "", &WorkspaceError{Reason: fmt.Sprintf("%q: Not a git repository", sourcePath)}
	}

	bareRepo := filepath.Join(reposDir, name+".git")
	remotes, _ := runGit(sourcePath, "remote")
	for _, r := range strings.Fields(remotes) {
		if r == "takopi" {
			return fmt.Sprintf("Already linked: %q has a %q remote", sourcePath, "takopi"), nil
		}
	}
	if _, err := runGit(sourcePath, "remote", "add", "takopi", bareRepo); err != nil {
		return "", fmt.Errorf("workspaces: link %q: %w", name, err)
	}
	return fmt.Sprintf("Linked %q to workspace %q", sourcePath, name), nil
}

// GetLog renders `git log` for commits on name's branch not yet present
// on its default branch (i.e. the work this workspace has produced).
func GetLog(workspacesDir, name string) (string, error) {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return "", errNotFound(name)
	}
	base, err := defaultBranch(path)
	if err != nil {
		return "", fmt.Errorf("workspaces: resolve default branch for %q: %w", name, err)
	}
	out, err := runGit(path, "log", "--oneline", base+"..HEAD")
	if err != nil {
		return "", fmt.Errorf("workspaces: log for %q: %w", name, err)
	}
	if strings.TrimSpace(out) == "" {
		return "No commits ahead of " + base, nil
	}
	return out, nil
}

// GetDiff renders `git diff` between name's branch and its default
// branch.
func GetDiff(workspacesDir, name string) (string, error) {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return "", errNotFound(name)
	}
	base, err := defaultBranch(path)
	if err != nil {
		return "", fmt.Errorf("workspaces: resolve default branch for %q: %w", name, err)
	}
	out, err := runGit(path, "diff", base+"..HEAD")
	if err != nil {
		return "", fmt.Errorf("workspaces: diff for %q: %w", name, err)
	}
	if strings.TrimSpace(out) == "" {
		return "No diff from " + base, nil
	}
	return out, nil
}

// Pull fast-forwards name's checkout from its upstream.
func Pull(workspacesDir, name string) (string, error) {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return "", errNotFound(name)
	}
	out, err := runGit(path, "pull", "--ff-only")
	if err != nil {
		return "", fmt.Errorf("workspaces: pull %q: %w", name, err)
	}
	return out, nil
}

// Push pushes name's current branch to its upstream.
func Push(workspacesDir, name string) (string, error) {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return "", errNotFound(name)
	}
	branch, err := currentBranch(path)
	if err != nil {
		return "", fmt.Errorf("workspaces: read branch for %q: %w", name, err)
	}
	out, err := runGit(path, "push", "origin", branch)
	if err != nil {
		return "", fmt.Errorf("workspaces: push %q: %w", name, err)
	}
	return out, nil
}

// Reset discards name's working-tree changes against its own HEAD (soft)
// or also removes untracked files (hard).
func Reset(workspacesDir, name string, hard bool) (string, error) {
	path := filepath.Join(workspacesDir, name)
	if !Exists(workspacesDir, name) {
		return "", errNotFound(name)
	}
	mode := "--mixed"
	if hard {
		mode = "--hard"
	}
	if _, err := runGit(path, "reset", mode, "HEAD"); err != nil {
		return "", fmt.Errorf("workspaces: reset %q: %w", name, err)
	}
	if hard {
		if _, err := runGit(path, "clean", "-fd"); err != nil {
			return "", fmt.Errorf("workspaces: clean %q: %w", name, err)
		}
		return fmt.Sprintf("Performed a hard reset of %q", name), nil
	}
	return fmt.Sprintf("Performed a reset of %q", name), nil
}

func currentBranch(path string) (string, error) {
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return "", err
	}
	return runGit(path, "rev-parse", "--abbrev-ref", "HEAD")
}

// defaultBranch resolves path's upstream default branch (the branch
// origin/HEAD points at), falling back to "main" if the remote's HEAD
// symref was never set (common for a freshly-created bare mirror).
func defaultBranch(path string) (string, error) {
	out, err := runGit(path, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		return strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/origin/"), nil
	}
	if branch, err := runGit(path, "remote", "show", "origin"); err == nil {
		for _, line := range strings.Split(branch, "\n") {
			line = strings.TrimSpace(line)
			if rest, ok := strings.CutPrefix(line, "HEAD branch: "); ok {
				return rest, nil
			}
		}
	}
	return "main", nil
}

var gitURLPattern = regexp.MustCompile(`^(https?://|git@|ssh://)`)

// isGitURL reports whether source looks like a remote git URL rather
// than a local filesystem path.
func isGitURL(source string) bool {
	return gitURLPattern.MatchString(source) || strings.HasSuffix(source, ".git")
}

// extractRepoName derives a bare-repo/workspace name from a clone URL or
// local path: the last path segment with a trailing ".git" stripped.
func extractRepoName(source string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(source, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}

var invalidBranchChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeBranchName replaces characters git disallows (or that are
// awkward in a branch name, like "/") with "-", trimming leading and
// trailing dashes.
func sanitizeBranchName(name string) string {
	sanitized := invalidBranchChars.ReplaceAllString(name, "-")
	return strings.Trim(sanitized, "-")
}

// runGit runs git with args in dir, returning trimmed stdout. A non-zero
// exit wraps stderr (trimmed) into the returned error.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "exit code " + strconv.Itoa(exitErr.ExitCode())
			}
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
