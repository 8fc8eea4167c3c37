// Package testenv prepares an isolated Python environment inside a checkout
// and runs its quality gates: lint, type check, and the test suite.
package testenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// CommandRunner executes a command in dir and returns its combined output and
// exit code. err is non-nil only when the command could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (output string, exitCode int, err error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil
		}
		return string(out), 1, err
	}
	return string(out), 0, nil
}

// Runner provisions a virtualenv per checkout and runs the gates. Environment
// setup is cached by checkout path, so repeated iterations over the same
// clone skip the pip work.
type Runner struct {
	cmd CommandRunner

	mu       sync.Mutex
	prepared map[string]bool

	setupTimeout time.Duration
	checkTimeout time.Duration
	testTimeout  time.Duration
}

// Options bounds the three phases of a run. Zero values pick the defaults.
type Options struct {
	SetupTimeout time.Duration
	CheckTimeout time.Duration
	TestTimeout  time.Duration
}

// NewRunner creates a Runner using cmd, or real processes when cmd is nil.
func NewRunner(cmd CommandRunner, opts Options) *Runner {
	if cmd == nil {
		cmd = ExecRunner{}
	}
	r := &Runner{
		cmd:          cmd,
		prepared:     map[string]bool{},
		setupTimeout: opts.SetupTimeout,
		checkTimeout: opts.CheckTimeout,
		testTimeout:  opts.TestTimeout,
	}
	if r.setupTimeout <= 0 {
		r.setupTimeout = 180 * time.Second
	}
	if r.checkTimeout <= 0 {
		r.checkTimeout = 60 * time.Second
	}
	if r.testTimeout <= 0 {
		r.testTimeout = 300 * time.Second
	}
	return r
}

func pythonBin(repoPath string) string {
	return filepath.Join(repoPath, ".venv", "bin", "python")
}

// RunTests provisions the environment if needed, then runs lint, type check,
// and pytest. ok is true only when both the type check and the test suite
// exit clean; otherwise the returned output carries whatever the gates
// printed, or a sentinel line when the environment itself failed.
func (r *Runner) RunTests(ctx context.Context, repoPath string) (string, bool) {
	if out, ok := r.prepare(ctx, repoPath); !ok {
		return out, false
	}

	py := pythonBin(repoPath)

	// Autofixable lint first: ruff repairs what it can and reports the rest.
	ruffOut, _ := r.run(ctx, repoPath, r.checkTimeout, py, "-m", "ruff", "check", "--fix", ".")

	pyrightOut, pyrightRC := r.run(ctx, repoPath, r.checkTimeout, py, "-m", "basedpyright", ".")
	testOut, testRC := r.run(ctx, repoPath, r.testTimeout, py, "-m", "pytest")

	if pyrightRC == 0 && testRC == 0 {
		return testOut, true
	}

	var b strings.Builder
	b.WriteString(ruffOut)
	b.WriteString("\n")
	b.WriteString(pyrightOut)
	b.WriteString("\n")
	b.WriteString(testOut)
	return b.String(), false
}

// prepare creates the venv and installs requirements plus tooling, once per
// checkout path. A vanished python binary invalidates the cache entry.
func (r *Runner) prepare(ctx context.Context, repoPath string) (string, bool) {
	py := pythonBin(repoPath)

	r.mu.Lock()
	if r.prepared[repoPath] {
		if _, err := os.Stat(py); err == nil {
			r.mu.Unlock()
			return "", true
		}
		delete(r.prepared, repoPath)
	}
	r.mu.Unlock()

	if _, err := os.Stat(py); err != nil {
		out, rc := r.run(ctx, repoPath, r.checkTimeout, "python3", "-m", "venv", ".venv")
		if rc != 0 {
			return "VENV_CREATION_FAILED\n" + out, false
		}
		if _, err := os.Stat(py); err != nil {
			return "VENV_CREATION_FAILED\n" + out, false
		}
	}

	if _, err := os.Stat(filepath.Join(repoPath, "requirements.txt")); err == nil {
		out, rc := r.run(ctx, repoPath, r.setupTimeout, py, "-m", "pip", "install", "-r", "requirements.txt")
		if rc != 0 {
			return "ENV_SETUP_FAILED\n" + out, false
		}
	}

	out, rc := r.run(ctx, repoPath, r.setupTimeout, py, "-m", "pip", "install", "pytest", "ruff", "basedpyright")
	if rc != 0 {
		return "ENV_SETUP_FAILED\n" + out, false
	}

	r.mu.Lock()
	r.prepared[repoPath] = true
	r.mu.Unlock()
	return "", true
}

// run executes one bounded command. Timeouts and start failures are folded
// into the output so classification sees them like any other failure text.
func (r *Runner) run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, int) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, rc, err := r.cmd.Run(ctx, dir, name, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("command timed out", "cmd", name, "dir", dir)
			return fmt.Sprintf("COMMAND_TIMEOUT: %s %s", name, strings.Join(args, " ")), 124
		}
		return fmt.Sprintf("COMMAND_FAILED: %s: %v", name, err), 1
	}
	return out, rc
}
