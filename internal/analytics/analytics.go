// Package analytics computes aggregate statistics over the run history.
package analytics

import (
	"database/sql"
	"fmt"
)

// DB is the minimal surface needed from the history database.
type DB interface {
	Conn() *sql.DB
}

// RunTotals aggregates across all recorded runs.
type RunTotals struct {
	Runs          int     `json:"runs"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Passed        int     `json:"passed"`
	AvgIterations float64 `json:"avg_iterations"`
	AvgFixes      float64 `json:"avg_fixes"`
}

// BugTypeStat is the fix performance of one bug type.
type BugTypeStat struct {
	BugType  string  `json:"bug_type"`
	Attempts int     `json:"attempts"`
	Fixed    int     `json:"fixed"`
	FixRate  float64 `json:"fix_rate"`
}

// RunRow is one recent run, newest first.
type RunRow struct {
	RunID       string  `json:"run_id"`
	RepoURL     string  `json:"repo_url"`
	FinalStatus string  `json:"final_status"`
	State       string  `json:"state"`
	Iterations  int     `json:"iterations"`
	TotalFixes  int     `json:"total_fixes"`
	TimeSeconds float64 `json:"time_seconds"`
	StartedAt   string  `json:"started_at"`
}

// QueryRunTotals returns overall run counts and averages.
func QueryRunTotals(db DB) (RunTotals, error) {
	var t RunTotals
	err := db.Conn().QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN state = 'COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'FAILED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN final_status = 'PASSED' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(iterations), 0),
			COALESCE(AVG(total_fixes), 0)
		FROM runs`,
	).Scan(&t.Runs, &t.Completed, &t.Failed, &t.Passed, &t.AvgIterations, &t.AvgFixes)
	if err != nil {
		return RunTotals{}, fmt.Errorf("query run totals: %w", err)
	}
	return t, nil
}

// QueryBugTypeStats returns per-bug-type attempt and fix counts, most
// attempted first.
func QueryBugTypeStats(db DB) ([]BugTypeStat, error) {
	rows, err := db.Conn().Query(`
		SELECT
			bug_type,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'Fixed' THEN 1 ELSE 0 END), 0)
		FROM run_fixes
		GROUP BY bug_type
		ORDER BY COUNT(*) DESC, bug_type`)
	if err != nil {
		return nil, fmt.Errorf("query bug type stats: %w", err)
	}
	defer rows.Close()

	var stats []BugTypeStat
	for rows.Next() {
		var s BugTypeStat
		if err := rows.Scan(&s.BugType, &s.Attempts, &s.Fixed); err != nil {
			return nil, fmt.Errorf("scan bug type row: %w", err)
		}
		s.FixRate = pct(s.Fixed, s.Attempts)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// QueryRecentRuns returns the latest runs, newest first.
func QueryRecentRuns(db DB, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Conn().Query(`
		SELECT run_id, repo_url, final_status, state,
			iterations, total_fixes, total_time_seconds, started_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.RepoURL, &r.FinalStatus, &r.State,
			&r.Iterations, &r.TotalFixes, &r.TimeSeconds, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
