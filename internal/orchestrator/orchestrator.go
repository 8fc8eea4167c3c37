// Package orchestrator drives the full remediation run: clone, test,
// classify, fix, commit, repeat until the suite passes or the retry budget
// runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/repomedic/internal/bugs"
	"github.com/lucasnoah/repomedic/internal/events"
	"github.com/lucasnoah/repomedic/internal/fixer"
	"github.com/lucasnoah/repomedic/internal/results"
	"github.com/lucasnoah/repomedic/internal/status"
)

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// TestRunner executes the quality gates of a checkout. ok means clean.
type TestRunner interface {
	RunTests(ctx context.Context, repoPath string) (output string, ok bool)
}

// RepoClient manages the local checkout.
type RepoClient interface {
	Clone(url string) (string, error)
	CreateBranch(path, team, leader string) (string, error)
	CommitPush(path string) (bool, error)
	Cleanup(path string)
}

// Fixer applies fix attempts to a checkout.
type Fixer interface {
	Apply(ctx context.Context, repoRoot string, attempts []fixer.Attempt) []fixer.Outcome
}

// RunParams describe one remediation run.
type RunParams struct {
	RepoURL    string
	Team       string
	Leader     string
	RetryLimit int
}

// Orchestrator owns the single active run. At most one run executes at a
// time; a second request is rejected with ErrAlreadyRunning.
type Orchestrator struct {
	classifier *bugs.Classifier
	runner     TestRunner
	repo       RepoClient
	fixer      Fixer
	status     *status.Manager
	bus        *events.Bus
	store      *results.Store
	db         *results.DB // optional run history

	escalationThreshold int

	running atomic.Bool

	mu         sync.Mutex
	timeline   []results.TimelineEntry
	fixes      []fixer.Outcome
	fixIndex   map[bugs.Key]int
	failCounts map[bugs.Key]int
}

// Options wires the orchestrator's collaborators. DB may be nil to disable
// run history.
type Options struct {
	Classifier          *bugs.Classifier
	Runner              TestRunner
	Repo                RepoClient
	Fixer               Fixer
	Status              *status.Manager
	Bus                 *events.Bus
	Store               *results.Store
	DB                  *results.DB
	EscalationThreshold int
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	threshold := opts.EscalationThreshold
	if threshold <= 0 {
		threshold = 2
	}
	return &Orchestrator{
		classifier:          opts.Classifier,
		runner:              opts.Runner,
		repo:                opts.Repo,
		fixer:               opts.Fixer,
		status:              opts.Status,
		bus:                 opts.Bus,
		store:               opts.Store,
		db:                  opts.DB,
		escalationThreshold: threshold,
	}
}

// Start launches a run in the background. It returns ErrAlreadyRunning when
// one is active.
func (o *Orchestrator) Start(p RunParams) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go func() {
		defer o.running.Store(false)
		o.execute(context.Background(), p)
	}()
	return nil
}

// Run executes a run synchronously. It returns ErrAlreadyRunning when one is
// active.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)
	o.execute(ctx, p)
	return nil
}

// Fixes returns a copy of the latest run's fix outcomes.
func (o *Orchestrator) Fixes() []fixer.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]fixer.Outcome, len(o.fixes))
	copy(out, o.fixes)
	return out
}

// Timeline returns a copy of the latest run's iteration verdicts.
func (o *Orchestrator) Timeline() []results.TimelineEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]results.TimelineEntry, len(o.timeline))
	copy(out, o.timeline)
	return out
}

func (o *Orchestrator) execute(ctx context.Context, p RunParams) {
	started := time.Now().UTC()
	runID := uuid.NewString()

	o.mu.Lock()
	o.timeline = nil
	o.fixes = nil
	o.fixIndex = map[bugs.Key]int{}
	o.failCounts = map[bugs.Key]int{}
	o.mu.Unlock()

	o.status.Reset(p.RetryLimit, "")
	o.publish("log", fmt.Sprintf("Run %s started for %s", runID, p.RepoURL))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("run panicked", "run_id", runID, "panic", r)
			o.fail(fmt.Sprintf("internal error: %v", r))
		}
		// A run that neither completed nor failed explicitly is broken.
		if o.status.Snapshot().State == status.Running {
			o.fail("Unknown termination")
		}
	}()

	repoPath, branch, err := o.setup(p)
	if repoPath != "" {
		defer o.repo.Cleanup(repoPath)
	}
	if err != nil {
		o.fail(err.Error())
		return
	}

	totalFailures, totalFixes, totalCommits := 0, 0, 0

	for i := 1; i <= p.RetryLimit; i++ {
		o.status.SetStep("Testing", i)
		o.publish("log", fmt.Sprintf("Iteration %d/%d: running tests", i, p.RetryLimit))

		output, ok := o.runner.RunTests(ctx, repoPath)
		if ok {
			o.appendTimeline(i, "PASSED")
			o.status.MarkStep("Testing", status.StepDone)
			o.publish("log", fmt.Sprintf("Iteration %d: all tests passed", i))
			break
		}
		o.appendTimeline(i, "FAILED")
		o.status.MarkStep("Testing", status.StepDone)

		o.status.SetStep("Bug Detection", -1)
		found := o.classifier.Classify(output)
		o.status.UpdateCounts(len(found), -1)
		o.status.MarkStep("Bug Detection", status.StepDone)
		o.publish("log", fmt.Sprintf("Iteration %d: detected %d bug(s)", i, len(found)))
		if len(found) == 1 && found[0].Type == bugs.Unknown {
			o.publish("log", "Unparseable test output: "+snippet(output))
		}

		attempts := o.buildAttempts(found)

		o.status.SetStep("Fixing", -1)
		outcomes := o.fixer.Apply(ctx, repoPath, attempts)
		fixedNow := o.recordOutcomes(outcomes)
		totalFailures += len(found)
		totalFixes += fixedNow
		o.status.UpdateCounts(-1, totalFixes)
		o.status.MarkStep("Fixing", status.StepDone)
		o.publish("log", fmt.Sprintf("Iteration %d: applied %d fix(es)", i, fixedNow))

		o.status.SetStep("Commit", -1)
		committed, err := o.repo.CommitPush(repoPath)
		if err != nil {
			o.fail(fmt.Sprintf("commit failed: %v", err))
			return
		}
		if committed {
			totalCommits++
		}
		o.status.MarkStep("Commit", status.StepDone)
	}

	sum := o.buildSummary(runID, p, branch, started, totalFailures, totalFixes, totalCommits)
	if err := o.store.Generate(sum); err != nil {
		o.fail(fmt.Sprintf("write results: %v", err))
		return
	}
	if err := archiveRepo(repoPath, o.store.ArchivePath()); err != nil {
		slog.Warn("archive failed", "error", err)
	}

	o.recordHistory(sum)

	o.status.SetState(status.Completed, "")
	o.status.SetStep("Completed", len(sum.Timeline))
	o.publish("log", fmt.Sprintf("Run %s finished: %s", runID, sum.FinalStatus))
}

// setup clones the repository and checks out the fix branch.
func (o *Orchestrator) setup(p RunParams) (string, string, error) {
	o.status.SetStep("Cloning", 0)
	o.publish("log", "Cloning "+p.RepoURL)

	repoPath, err := o.repo.Clone(p.RepoURL)
	if err != nil {
		return "", "", fmt.Errorf("clone failed: %w", err)
	}

	branch, err := o.repo.CreateBranch(repoPath, p.Team, p.Leader)
	if err != nil {
		return repoPath, "", fmt.Errorf("branch setup failed: %w", err)
	}
	o.status.SetBranch(branch)
	o.status.MarkStep("Cloning", status.StepDone)
	o.publish("log", "Working on branch "+branch)
	return repoPath, branch, nil
}

// buildAttempts pairs each detected bug with its failure history. A bug that
// has already burned the deterministic budget goes straight to the oracle.
func (o *Orchestrator) buildAttempts(found []bugs.Record) []fixer.Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()

	attempts := make([]fixer.Attempt, 0, len(found))
	for _, b := range found {
		failed := o.failCounts[b.Key()]
		attempts = append(attempts, fixer.Attempt{
			Record:         b,
			FailedAttempts: failed,
			ForceOracle:    failed >= o.escalationThreshold,
		})
	}
	return attempts
}

// recordOutcomes merges fix outcomes into the run's fix list and failure
// counters, returning how many fixes succeeded this round. A bug once
// reported Fixed keeps that status even if a later attempt fails.
func (o *Orchestrator) recordOutcomes(outcomes []fixer.Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	fixed := 0
	for _, out := range outcomes {
		key := out.Key()
		if out.Status == bugs.StatusFixed {
			fixed++
			delete(o.failCounts, key)
		} else {
			o.failCounts[key]++
		}

		if idx, ok := o.fixIndex[key]; ok {
			if o.fixes[idx].Status == bugs.StatusFixed && out.Status != bugs.StatusFixed {
				continue
			}
			o.fixes[idx] = out
			continue
		}
		o.fixIndex[key] = len(o.fixes)
		o.fixes = append(o.fixes, out)
	}
	return fixed
}

func (o *Orchestrator) appendTimeline(run int, verdict string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeline = append(o.timeline, results.TimelineEntry{
		Run:       run,
		Status:    verdict,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *Orchestrator) buildSummary(runID string, p RunParams, branch string, started time.Time, failures, fixes, commits int) results.Summary {
	timeline := o.Timeline()

	finalStatus := "NO_RUNS"
	if len(timeline) > 0 {
		finalStatus = timeline[len(timeline)-1].Status
	}

	ended := time.Now().UTC()
	return results.Summary{
		RunID:            runID,
		RepoURL:          p.RepoURL,
		TeamName:         p.Team,
		LeaderName:       p.Leader,
		BranchCreated:    branch,
		TotalFailures:    failures,
		TotalFixes:       fixes,
		TotalCommits:     commits,
		FinalStatus:      finalStatus,
		Iterations:       len(timeline),
		RetryLimit:       p.RetryLimit,
		TotalTimeSeconds: ended.Sub(started).Seconds(),
		StartedAt:        started.Format(time.RFC3339),
		EndedAt:          ended.Format(time.RFC3339),
		Timeline:         timeline,
	}
}

// recordHistory persists the run to sqlite. History is best effort: a broken
// database never fails a finished run.
func (o *Orchestrator) recordHistory(sum results.Summary) {
	if o.db == nil {
		return
	}
	if err := o.db.RecordRun(sum, string(status.Completed), ""); err != nil {
		slog.Warn("record run history", "error", err)
		return
	}

	fixes := o.Fixes()
	rows := make([]results.FixRow, 0, len(fixes))
	for _, f := range fixes {
		rows = append(rows, results.FixRow{
			File:          f.File,
			BugType:       string(f.Type),
			Line:          f.Line,
			Status:        string(f.Status),
			CommitMessage: f.CommitMessage,
		})
	}
	if err := o.db.RecordFixes(sum.RunID, rows); err != nil {
		slog.Warn("record fix history", "error", err)
	}
}

func (o *Orchestrator) fail(msg string) {
	o.status.SetState(status.Failed, msg)
	o.publish("error", msg)
}

func (o *Orchestrator) publish(eventType, msg string) {
	if o.bus != nil {
		o.bus.Publish(eventType, msg)
	}
	slog.Info(msg)
}

// snippet trims raw tool output to a loggable size.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
