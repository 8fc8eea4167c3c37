package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/repomedic/internal/bugs"
	"github.com/lucasnoah/repomedic/internal/events"
	"github.com/lucasnoah/repomedic/internal/fixer"
	"github.com/lucasnoah/repomedic/internal/results"
	"github.com/lucasnoah/repomedic/internal/status"
)

const syntaxFailure = `Traceback (most recent call last):
  File "workspace/repo/app.py", line 10
    def broken(
SyntaxError: invalid syntax
`

// mockRunner returns scripted verdicts, one per iteration, repeating the
// last when the script runs out.
type mockRunner struct {
	mu      sync.Mutex
	results []struct {
		output string
		ok     bool
	}
	calls int
}

func (m *mockRunner) script(output string, ok bool) *mockRunner {
	m.results = append(m.results, struct {
		output string
		ok     bool
	}{output, ok})
	return m
}

func (m *mockRunner) RunTests(_ context.Context, _ string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	m.calls++
	r := m.results[i]
	return r.output, r.ok
}

type mockRepo struct {
	cloneErr   error
	branchErr  error
	commitErr  error
	path       string
	commits    int
	cleanedUp  bool
	hasChanges bool
}

func (m *mockRepo) Clone(_ string) (string, error) {
	if m.cloneErr != nil {
		return "", m.cloneErr
	}
	return m.path, nil
}

func (m *mockRepo) CreateBranch(_, team, leader string) (string, error) {
	if m.branchErr != nil {
		return "", m.branchErr
	}
	return "TEAM_LEAD_AI_FIX", nil
}

func (m *mockRepo) CommitPush(_ string) (bool, error) {
	if m.commitErr != nil {
		return false, m.commitErr
	}
	if m.hasChanges {
		m.commits++
		return true, nil
	}
	return false, nil
}

func (m *mockRepo) Cleanup(_ string) { m.cleanedUp = true }

// mockFixer records the attempts of every round and answers with a fixed
// status.
type mockFixer struct {
	mu     sync.Mutex
	rounds [][]fixer.Attempt
	status bugs.Status
}

func (m *mockFixer) Apply(_ context.Context, _ string, attempts []fixer.Attempt) []fixer.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, attempts)

	outcomes := make([]fixer.Outcome, 0, len(attempts))
	for _, a := range attempts {
		rec := a.Record
		rec.Status = m.status
		outcomes = append(outcomes, fixer.Outcome{Record: rec, CommitMessage: "m"})
	}
	return outcomes
}

type fixture struct {
	orch   *Orchestrator
	status *status.Manager
	repo   *mockRepo
	fixer  *mockFixer
	store  *results.Store
}

func newFixture(t *testing.T, runner TestRunner, fixStatus bugs.Status) *fixture {
	t.Helper()
	sm := status.NewManager()
	repo := &mockRepo{path: t.TempDir(), hasChanges: true}
	fx := &mockFixer{status: fixStatus}
	store := results.NewStore(t.TempDir())

	orch := New(Options{
		Classifier: bugs.NewClassifier(),
		Runner:     runner,
		Repo:       repo,
		Fixer:      fx,
		Status:     sm,
		Bus:        events.NewBus(100),
		Store:      store,
	})
	return &fixture{orch: orch, status: sm, repo: repo, fixer: fx, store: store}
}

func run(t *testing.T, f *fixture, retries int) {
	t.Helper()
	err := f.orch.Run(context.Background(), RunParams{
		RepoURL:    "https://example.com/r.git",
		Team:       "team",
		Leader:     "lead",
		RetryLimit: retries,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_PassesFirstIteration(t *testing.T) {
	runner := (&mockRunner{}).script("all good", true)
	f := newFixture(t, runner, bugs.StatusFixed)

	run(t, f, 5)

	snap := f.status.Snapshot()
	if snap.State != status.Completed {
		t.Fatalf("expected COMPLETED, got %s (%s)", snap.State, snap.Error)
	}

	timeline := f.orch.Timeline()
	if len(timeline) != 1 || timeline[0].Status != "PASSED" {
		t.Errorf("unexpected timeline: %v", timeline)
	}
	if len(f.fixer.rounds) != 0 {
		t.Error("no fixes expected on a clean repo")
	}

	sum, ok, err := f.store.Load()
	if err != nil || !ok {
		t.Fatalf("summary not written: %v", err)
	}
	if sum.FinalStatus != "PASSED" || sum.Iterations != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if !f.repo.cleanedUp {
		t.Error("checkout not cleaned up")
	}
}

func TestRun_ExhaustsRetryBudget(t *testing.T) {
	runner := (&mockRunner{}).script(syntaxFailure, false)
	f := newFixture(t, runner, bugs.StatusFailed)

	run(t, f, 3)

	// Exhausting the budget is still an orderly completion.
	snap := f.status.Snapshot()
	if snap.State != status.Completed {
		t.Fatalf("expected COMPLETED, got %s (%s)", snap.State, snap.Error)
	}

	timeline := f.orch.Timeline()
	if len(timeline) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(timeline))
	}
	for _, e := range timeline {
		if e.Status != "FAILED" {
			t.Errorf("iteration %d: expected FAILED, got %s", e.Run, e.Status)
		}
	}

	sum, _, err := f.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if sum.FinalStatus != "FAILED" || sum.Iterations != 3 || sum.RetryLimit != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_FixThenPass(t *testing.T) {
	runner := (&mockRunner{}).script(syntaxFailure, false).script("ok", true)
	f := newFixture(t, runner, bugs.StatusFixed)

	run(t, f, 5)

	timeline := f.orch.Timeline()
	if len(timeline) != 2 || timeline[0].Status != "FAILED" || timeline[1].Status != "PASSED" {
		t.Fatalf("unexpected timeline: %v", timeline)
	}

	fixes := f.orch.Fixes()
	if len(fixes) != 1 || fixes[0].Status != bugs.StatusFixed {
		t.Errorf("unexpected fixes: %v", fixes)
	}
	if f.repo.commits != 1 {
		t.Errorf("expected 1 commit, got %d", f.repo.commits)
	}

	sum, _, _ := f.store.Load()
	if sum.FinalStatus != "PASSED" || sum.TotalFixes != 1 || sum.TotalCommits != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_EscalatesAfterRepeatedFailures(t *testing.T) {
	runner := (&mockRunner{}).script(syntaxFailure, false)
	f := newFixture(t, runner, bugs.StatusFailed)

	run(t, f, 4)

	if len(f.fixer.rounds) != 4 {
		t.Fatalf("expected 4 fix rounds, got %d", len(f.fixer.rounds))
	}

	// Rounds 1 and 2 fail deterministically; the third sighting carries two
	// failed attempts and must force the oracle.
	for i, wantForced := range []bool{false, false, true, true} {
		round := f.fixer.rounds[i]
		if len(round) != 1 {
			t.Fatalf("round %d: expected 1 attempt, got %d", i+1, len(round))
		}
		if round[0].ForceOracle != wantForced {
			t.Errorf("round %d: ForceOracle = %v, want %v", i+1, round[0].ForceOracle, wantForced)
		}
		if round[0].FailedAttempts != i {
			t.Errorf("round %d: FailedAttempts = %d, want %d", i+1, round[0].FailedAttempts, i)
		}
	}
}

func TestRun_FixedCounterResetsOnSuccess(t *testing.T) {
	runner := (&mockRunner{}).script(syntaxFailure, false).script(syntaxFailure, false)
	f := newFixture(t, runner, bugs.StatusFixed)

	run(t, f, 2)

	// The bug was reported Fixed each round, so no escalation pressure builds.
	for i, round := range f.fixer.rounds {
		if round[0].FailedAttempts != 0 || round[0].ForceOracle {
			t.Errorf("round %d: unexpected escalation %+v", i+1, round[0])
		}
	}
}

func TestRun_FixedStatusIsSticky(t *testing.T) {
	f := newFixture(t, (&mockRunner{}).script("x", false), bugs.StatusFixed)

	rec := bugs.Record{File: "a.py", Type: bugs.Syntax, Line: 1, Status: bugs.StatusFixed}
	f.orch.fixIndex = map[bugs.Key]int{}
	f.orch.failCounts = map[bugs.Key]int{}
	f.orch.recordOutcomes([]fixer.Outcome{{Record: rec, CommitMessage: "first"}})

	rec.Status = bugs.StatusFailed
	f.orch.recordOutcomes([]fixer.Outcome{{Record: rec, CommitMessage: "second"}})

	fixes := f.orch.Fixes()
	if len(fixes) != 1 {
		t.Fatalf("expected 1 deduped fix, got %d", len(fixes))
	}
	if fixes[0].Status != bugs.StatusFixed || fixes[0].CommitMessage != "first" {
		t.Errorf("Fixed status must win: %+v", fixes[0])
	}
}

func TestRun_LatestNonFixedReplaces(t *testing.T) {
	f := newFixture(t, (&mockRunner{}).script("x", false), bugs.StatusFailed)

	rec := bugs.Record{File: "a.py", Type: bugs.Syntax, Line: 1, Status: bugs.StatusFailed}
	f.orch.fixIndex = map[bugs.Key]int{}
	f.orch.failCounts = map[bugs.Key]int{}
	f.orch.recordOutcomes([]fixer.Outcome{{Record: rec, CommitMessage: "first"}})

	rec.Status = bugs.StatusFixed
	f.orch.recordOutcomes([]fixer.Outcome{{Record: rec, CommitMessage: "second"}})

	fixes := f.orch.Fixes()
	if len(fixes) != 1 || fixes[0].Status != bugs.StatusFixed || fixes[0].CommitMessage != "second" {
		t.Errorf("later fix must replace earlier failure: %+v", fixes)
	}
}

func TestRun_CloneFailureFailsRun(t *testing.T) {
	runner := (&mockRunner{}).script("ok", true)
	f := newFixture(t, runner, bugs.StatusFixed)
	f.repo.cloneErr = fmt.Errorf("repository not found")

	run(t, f, 5)

	snap := f.status.Snapshot()
	if snap.State != status.Failed {
		t.Fatalf("expected FAILED, got %s", snap.State)
	}
	if snap.Error == "" {
		t.Error("expected an error message")
	}
}

func TestRun_CommitFailureFailsRun(t *testing.T) {
	runner := (&mockRunner{}).script(syntaxFailure, false)
	f := newFixture(t, runner, bugs.StatusFixed)
	f.repo.commitErr = fmt.Errorf("index locked")

	run(t, f, 5)

	if snap := f.status.Snapshot(); snap.State != status.Failed {
		t.Fatalf("expected FAILED, got %s", snap.State)
	}
	if !f.repo.cleanedUp {
		t.Error("checkout must be cleaned up on failure")
	}
}

func TestStart_RejectsConcurrentRuns(t *testing.T) {
	runner := newBlockingRunner()
	f := newFixture(t, runner, bugs.StatusFixed)

	if err := f.orch.Start(RunParams{RepoURL: "u", RetryLimit: 1}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	// Wait for the background run to reach the test phase.
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	if err := f.orch.Start(RunParams{RepoURL: "u", RetryLimit: 1}); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := f.orch.Run(context.Background(), RunParams{RepoURL: "u", RetryLimit: 1}); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning from Run, got %v", err)
	}

	close(runner.release)

	// Let the background run drain before the temp dirs are torn down.
	for i := 0; i < 200 && f.orch.running.Load(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
}

type blockingRunner struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingRunner) RunTests(_ context.Context, _ string) (string, bool) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return "ok", true
}
