package fixer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/repomedic/internal/bugs"
)

// Oracle is the whole-file repair fallback. Implementations must validate
// their own output before reporting success.
type Oracle interface {
	RepairFile(ctx context.Context, path string, bugType bugs.Type, line int) (bool, error)
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) error
}

// ExecRunner runs real processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Attempt is a classified bug queued for repair, carrying its escalation
// state from the orchestrator.
type Attempt struct {
	bugs.Record
	FailedAttempts int
	ForceOracle    bool
}

// Outcome is the result of one repair attempt.
type Outcome struct {
	bugs.Record
	CommitMessage string `json:"commit_message"`
}

// Logger receives human-readable progress lines.
type Logger func(message string)

// Engine applies bug-type-specific deterministic repairs and escalates to
// the oracle when they decline.
type Engine struct {
	cmd    CommandRunner
	oracle Oracle
	log    Logger
}

// NewEngine creates an Engine. oracle may be nil (escalation always fails)
// and log may be nil (progress lines are dropped).
func NewEngine(cmd CommandRunner, oracle Oracle, log Logger) *Engine {
	if log == nil {
		log = func(string) {}
	}
	return &Engine{cmd: cmd, oracle: oracle, log: log}
}

// Apply attempts a repair for every bug, in input order, and never fails the
// batch: any error inside a single repair degrades that bug to Failed.
func (e *Engine) Apply(ctx context.Context, repoRoot string, attempts []Attempt) []Outcome {
	outcomes := make([]Outcome, 0, len(attempts))

	for _, a := range attempts {
		fixed := false

		// Bugs that exhausted their deterministic budget go straight to the
		// oracle: repeated text patches against already-patched lines compound
		// malformed state instead of converging.
		if !a.ForceOracle {
			fixed = e.deterministic(ctx, repoRoot, a)
		}

		if !fixed && a.Type != bugs.Unknown && a.File != bugs.UnknownFile {
			fixed = e.escalate(ctx, repoRoot, a)
		} else if a.Type == bugs.Unknown || a.File == bugs.UnknownFile {
			e.log("Skipping oracle for UNKNOWN failure; no concrete file/line target")
		}

		out := Outcome{Record: a.Record}
		if fixed {
			out.Record.Status = bugs.StatusFixed
			out.CommitMessage = fmt.Sprintf("[AI-AGENT] Fix %s error", a.Type)
		} else {
			out.Record.Status = bugs.StatusFailed
			out.CommitMessage = fmt.Sprintf("[AI-AGENT] Could not auto-fix %s", a.Type)
		}
		outcomes = append(outcomes, out)
	}

	return outcomes
}

// deterministic dispatches the strategy for the bug type. The switch is
// exhaustive over the closed bug-type set.
func (e *Engine) deterministic(ctx context.Context, repoRoot string, a Attempt) bool {
	target := filepath.Join(repoRoot, a.File)

	var fixed bool
	var err error
	switch a.Type {
	case bugs.Syntax:
		if fileExists(target) {
			fixed, err = fixSyntax(target, a.Line)
		}
	case bugs.Indentation:
		if fileExists(target) {
			fixed, err = fixIndentation(target, a.Line)
		}
	case bugs.Linting:
		if fileExists(target) {
			fixed, err = e.fixWithRuff(ctx, repoRoot, a.File)
		}
	case bugs.TypeError:
		if fileExists(target) {
			fixed, err = fixTypeError(target, a.Line)
		}
	case bugs.Logic:
		if fileExists(target) {
			fixed, err = fixLogic(target, a.Line)
		}
	case bugs.Import:
		fixed, err = fixMissingInit(repoRoot, a.File)
	case bugs.Unknown:
		// No deterministic strategy exists.
	}

	if err != nil {
		e.log(fmt.Sprintf("Deterministic %s fix errored for %s:%d: %v", a.Type, a.File, a.Line, err))
		return false
	}
	return fixed
}

func (e *Engine) escalate(ctx context.Context, repoRoot string, a Attempt) bool {
	if e.oracle == nil {
		return false
	}
	e.log(fmt.Sprintf("Escalating %s at %s:%d to repair oracle", a.Type, a.File, a.Line))
	fixed, err := e.oracle.RepairFile(ctx, filepath.Join(repoRoot, a.File), a.Type, a.Line)
	if err != nil {
		e.log(fmt.Sprintf("Oracle declined %s at %s:%d: %v", a.Type, a.File, a.Line, err))
		return false
	}
	if fixed {
		e.log("Oracle fix applied")
	} else {
		e.log("Oracle fix failed, no changes, or timed out")
	}
	return fixed
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
