package cli

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lucasnoah/repomedic/internal/bugs"
	"github.com/lucasnoah/repomedic/internal/config"
	"github.com/lucasnoah/repomedic/internal/events"
	"github.com/lucasnoah/repomedic/internal/fixer"
	"github.com/lucasnoah/repomedic/internal/gitrepo"
	"github.com/lucasnoah/repomedic/internal/oracle"
	"github.com/lucasnoah/repomedic/internal/orchestrator"
	"github.com/lucasnoah/repomedic/internal/results"
	"github.com/lucasnoah/repomedic/internal/status"
	"github.com/lucasnoah/repomedic/internal/testenv"
)

// stack bundles everything a run needs.
type stack struct {
	orch   *orchestrator.Orchestrator
	status *status.Manager
	bus    *events.Bus
	store  *results.Store
	db     *results.DB
}

// buildStack assembles the run machinery from configuration. History is best
// effort: a database that cannot be opened disables it instead of aborting.
func buildStack(cfg *config.Config) *stack {
	sm := status.NewManager()
	bus := events.NewBus(cfg.Events.Capacity)
	store := results.NewStore(cfg.Workspace.ResultsDir)

	db := openHistory(filepath.Join(cfg.Workspace.ResultsDir, "history.db"))

	oracleClient := oracle.New(oracle.Options{
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		Timeout: time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
	})

	engine := fixer.NewEngine(fixer.ExecRunner{}, oracleClient, func(msg string) {
		bus.Publish("log", msg)
	})

	runner := testenv.NewRunner(nil, testenv.Options{
		SetupTimeout: time.Duration(cfg.Test.SetupTimeoutSeconds) * time.Second,
		CheckTimeout: time.Duration(cfg.Test.CheckTimeoutSeconds) * time.Second,
		TestTimeout:  time.Duration(cfg.Test.TestTimeoutSeconds) * time.Second,
	})

	orch := orchestrator.New(orchestrator.Options{
		Classifier:          bugs.NewClassifier(),
		Runner:              runner,
		Repo:                gitrepo.NewClient(nil, cfg.Workspace.Dir),
		Fixer:               engine,
		Status:              sm,
		Bus:                 bus,
		Store:               store,
		DB:                  db,
		EscalationThreshold: cfg.Run.EscalationThreshold,
	})

	return &stack{orch: orch, status: sm, bus: bus, store: store, db: db}
}

func openHistory(path string) *results.DB {
	db, err := results.Open(path)
	if err != nil {
		slog.Warn("run history disabled", "path", path, "error", err)
		return nil
	}
	if err := db.Migrate(); err != nil {
		slog.Warn("run history disabled", "path", path, "error", err)
		db.Close()
		return nil
	}
	return db
}

func (s *stack) close() {
	if s.db != nil {
		s.db.Close()
	}
}
