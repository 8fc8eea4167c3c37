// Package gitrepo manages the local clone of the repository under repair:
// cloning into the workspace, creating the fix branch, and committing and
// pushing applied fixes.
package gitrepo

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner executes git with the given args in dir, returning combined
// output. Swappable for tests.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit runs the real git binary.
type ExecGit struct{}

func (ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Client performs the repository operations of a run. Every run uses a single
// fixed checkout path under the workspace; Clone wipes whatever a previous
// run left there.
type Client struct {
	git       GitRunner
	workspace string
}

// NewClient creates a Client that clones into workspace.
func NewClient(git GitRunner, workspace string) *Client {
	if git == nil {
		git = ExecGit{}
	}
	return &Client{git: git, workspace: workspace}
}

// Clone fetches url into <workspace>/repo, removing any previous checkout
// first, and returns the checkout path.
func (c *Client) Clone(url string) (string, error) {
	path := filepath.Join(c.workspace, "repo")

	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("clean checkout dir: %w", err)
	}
	if err := os.MkdirAll(c.workspace, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if _, err := c.git.Run(c.workspace, "clone", "--depth", "1", "--no-single-branch", url, path); err != nil {
		return "", fmt.Errorf("clone %s: %w", url, err)
	}
	return path, nil
}

// BranchName derives the fix branch from team and leader names:
// uppercased, spaces collapsed to underscores, suffixed with _AI_FIX.
func BranchName(team, leader string) string {
	clean := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		return strings.Join(strings.Fields(s), "_")
	}
	return clean(team) + "_" + clean(leader) + "_AI_FIX"
}

// CreateBranch checks out the fix branch derived from team and leader,
// creating it from the default branch when it does not exist yet, and
// returns the branch name.
func (c *Client) CreateBranch(path, team, leader string) (string, error) {
	// Workspace dirs are often owned by a different uid inside containers.
	_, _ = c.git.Run(path, "config", "--global", "--add", "safe.directory", path)

	if _, err := c.git.Run(path, "checkout", "main"); err != nil {
		if _, err := c.git.Run(path, "checkout", "master"); err != nil {
			return "", fmt.Errorf("checkout default branch: %w", err)
		}
	}

	branch := BranchName(team, leader)
	if _, err := c.git.Run(path, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		if _, err := c.git.Run(path, "checkout", branch); err != nil {
			return "", fmt.Errorf("checkout %s: %w", branch, err)
		}
		return branch, nil
	}

	if _, err := c.git.Run(path, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	return branch, nil
}

// CommitPush stages everything, commits when there are staged changes, and
// pushes the current branch. It reports whether a commit was made. Push
// failures are logged and swallowed: the local commit still counts and the
// remote may simply reject unauthenticated pushes.
func (c *Client) CommitPush(path string) (bool, error) {
	if _, err := c.git.Run(path, "add", "-A"); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}

	status, err := c.git.Run(path, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}

	if _, err := c.git.Run(path, "commit", "-m", "[AI-AGENT] Applied automated fixes"); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	branch, err := c.git.Run(path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		slog.Warn("cannot resolve branch for push", "error", err)
		return true, nil
	}
	branch = strings.TrimSpace(branch)

	if _, err := c.git.Run(path, "push", "--set-upstream", "origin", branch); err != nil {
		slog.Warn("push failed, keeping local commit", "branch", branch, "error", err)
	}
	return true, nil
}

// Cleanup removes the checkout. Failures are logged, not returned; the next
// Clone wipes the path anyway.
func (c *Client) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		slog.Warn("checkout cleanup failed", "path", path, "error", err)
	}
}
