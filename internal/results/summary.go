// Package results persists run outcomes: the results.json summary, the
// downloadable archive path, and the sqlite run history.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TimelineEntry is one test iteration's verdict.
type TimelineEntry struct {
	Run       int    `json:"run"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Summary is the final report of a run, written as results.json.
type Summary struct {
	RunID            string          `json:"run_id"`
	RepoURL          string          `json:"repo_url"`
	TeamName         string          `json:"team_name"`
	LeaderName       string          `json:"leader_name"`
	BranchCreated    string          `json:"branch_created"`
	TotalFailures    int             `json:"total_failures"`
	TotalFixes       int             `json:"total_fixes"`
	TotalCommits     int             `json:"total_commits"`
	FinalStatus      string          `json:"final_status"`
	Iterations       int             `json:"iterations"`
	RetryLimit       int             `json:"retry_limit"`
	TotalTimeSeconds float64         `json:"total_time_seconds"`
	StartedAt        string          `json:"started_at"`
	EndedAt          string          `json:"ended_at"`
	Timeline         []TimelineEntry `json:"timeline"`
}

// Store writes and reads run artifacts under a single results directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the results directory.
func (s *Store) Dir() string { return s.dir }

// SummaryPath returns the location of results.json.
func (s *Store) SummaryPath() string {
	return filepath.Join(s.dir, "results.json")
}

// ArchivePath returns the location of the downloadable repository archive.
func (s *Store) ArchivePath() string {
	return filepath.Join(s.dir, "fixed_repo.zip")
}

// Generate writes the summary atomically as results.json.
func (s *Store) Generate(sum Summary) error {
	if sum.Timeline == nil {
		sum.Timeline = []TimelineEntry{}
	}
	return writeJSON(s.SummaryPath(), sum)
}

// Load reads the last written summary. The second return is false when no
// summary exists yet.
func (s *Store) Load() (Summary, bool, error) {
	data, err := os.ReadFile(s.SummaryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, false, nil
		}
		return Summary{}, false, fmt.Errorf("read summary: %w", err)
	}

	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return Summary{}, false, fmt.Errorf("parse summary: %w", err)
	}
	return sum, true, nil
}
