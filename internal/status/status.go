package status

import "sync"

// State is the run lifecycle state.
type State string

const (
	Idle      State = "IDLE"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
)

// Step-timeline statuses.
const (
	StepInProgress = "In-Progress"
	StepDone       = "Done"
)

// StepEntry records one step transition in the current run.
type StepEntry struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// Snapshot is an immutable copy of the current run progress.
type Snapshot struct {
	State           State       `json:"state"`
	CurrentStep     string      `json:"current_step"`
	Iteration       int         `json:"iteration"`
	TotalIterations int         `json:"total_iterations"`
	Failures        int         `json:"failures"`
	FixesApplied    int         `json:"fixes_applied"`
	BranchName      string      `json:"branch_name"`
	Error           string      `json:"error,omitempty"`
	Timeline        []StepEntry `json:"timeline"`
}

// Manager is the thread-safe status tracker for the single active run. All
// reads go through Snapshot; no method blocks longer than an in-memory copy.
type Manager struct {
	mu       sync.Mutex
	snap     Snapshot
	timeline []StepEntry
}

// NewManager creates a Manager in the IDLE state.
func NewManager() *Manager {
	return &Manager{snap: Snapshot{State: Idle}}
}

// Reset clears all run-scoped progress and marks the run as started.
func (m *Manager) Reset(totalIterations int, branch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{
		State:           Running,
		CurrentStep:     "Starting",
		TotalIterations: totalIterations,
		BranchName:      branch,
	}
	m.timeline = nil
}

// SetStep records the current step and appends an in-progress timeline
// entry. A negative iteration leaves the iteration counter unchanged.
func (m *Manager) SetStep(step string, iteration int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if iteration >= 0 {
		m.snap.Iteration = iteration
	}
	m.snap.CurrentStep = step
	m.timeline = append(m.timeline, StepEntry{Step: step, Status: StepInProgress})
}

// MarkStep appends a timeline entry with the step's final status.
func (m *Manager) MarkStep(step, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = append(m.timeline, StepEntry{Step: step, Status: status})
}

// UpdateCounts sets the failure and applied-fix counters. A negative value
// leaves the corresponding counter unchanged.
func (m *Manager) UpdateCounts(failures, fixesApplied int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failures >= 0 {
		m.snap.Failures = failures
	}
	if fixesApplied >= 0 {
		m.snap.FixesApplied = fixesApplied
	}
}

// SetState transitions the lifecycle state. A non-empty errMsg is recorded;
// an empty one clears any previous error.
func (m *Manager) SetState(state State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.State = state
	m.snap.Error = errMsg
}

// SetBranch records the working branch name.
func (m *Manager) SetBranch(branch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.BranchName = branch
}

// Snapshot returns an immutable copy including the step timeline.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snap
	snap.Timeline = make([]StepEntry, len(m.timeline))
	copy(snap.Timeline, m.timeline)
	return snap
}
