package results

import "fmt"

// FixRow is one persisted fix attempt.
type FixRow struct {
	File          string
	BugType       string
	Line          int
	Status        string
	CommitMessage string
}

// RecordRun inserts the run's final record into the history.
func (d *DB) RecordRun(sum Summary, state, errMsg string) error {
	_, err := d.conn.Exec(`
		INSERT INTO runs (
			run_id, repo_url, team_name, leader_name, branch,
			final_status, state, error,
			iterations, retry_limit,
			total_failures, total_fixes, total_commits,
			total_time_seconds, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.RepoURL, sum.TeamName, sum.LeaderName, sum.BranchCreated,
		sum.FinalStatus, state, errMsg,
		sum.Iterations, sum.RetryLimit,
		sum.TotalFailures, sum.TotalFixes, sum.TotalCommits,
		sum.TotalTimeSeconds, sum.StartedAt, sum.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", sum.RunID, err)
	}
	return nil
}

// RecordFixes inserts the run's fix attempts in one transaction.
func (d *DB) RecordFixes(runID string, fixes []FixRow) error {
	if len(fixes) == 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO run_fixes (run_id, file, bug_type, line, status, commit_message)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range fixes {
		if _, err := stmt.Exec(runID, f.File, f.BugType, f.Line, f.Status, f.CommitMessage); err != nil {
			return fmt.Errorf("insert fix for %s: %w", f.File, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
