package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/repomedic/internal/bugs"
	"github.com/lucasnoah/repomedic/internal/events"
	"github.com/lucasnoah/repomedic/internal/fixer"
	"github.com/lucasnoah/repomedic/internal/orchestrator"
	"github.com/lucasnoah/repomedic/internal/results"
	"github.com/lucasnoah/repomedic/internal/status"
)

type mockController struct {
	startErr error
	params   []orchestrator.RunParams
	fixes    []fixer.Outcome
	timeline []results.TimelineEntry
}

func (m *mockController) Start(p orchestrator.RunParams) error {
	m.params = append(m.params, p)
	return m.startErr
}

func (m *mockController) Fixes() []fixer.Outcome            { return m.fixes }
func (m *mockController) Timeline() []results.TimelineEntry { return m.timeline }

type serverFixture struct {
	srv    *httptest.Server
	ctrl   *mockController
	status *status.Manager
	bus    *events.Bus
	store  *results.Store
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctrl := &mockController{}
	sm := status.NewManager()
	bus := events.NewBus(100)
	store := results.NewStore(t.TempDir())

	srv := httptest.NewServer(NewServer(ctrl, sm, bus, store).Router())
	t.Cleanup(srv.Close)
	return &serverFixture{srv: srv, ctrl: ctrl, status: sm, bus: bus, store: store}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRunAgent_Starts(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.srv.URL+"/run-agent", "application/json",
		strings.NewReader(`{"repo_url":"https://example.com/r.git","team_name":"alpha","leader_name":"jordan"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "started" {
		t.Errorf("unexpected body: %v", body)
	}

	if len(f.ctrl.params) != 1 {
		t.Fatalf("expected 1 start, got %d", len(f.ctrl.params))
	}
	p := f.ctrl.params[0]
	if p.RepoURL != "https://example.com/r.git" || p.Team != "alpha" || p.Leader != "jordan" {
		t.Errorf("unexpected params: %+v", p)
	}
	if p.RetryLimit != 5 {
		t.Errorf("expected default retry limit 5, got %d", p.RetryLimit)
	}
}

func TestRunAgent_MissingRepoURL(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.srv.URL+"/run-agent", "application/json",
		strings.NewReader(`{"team_name":"alpha"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(f.ctrl.params) != 0 {
		t.Error("must not start a run without repo_url")
	}
}

func TestRunAgent_InvalidBody(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(f.srv.URL+"/run-agent", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRunAgent_Conflict(t *testing.T) {
	f := newServerFixture(t)
	f.ctrl.startErr = orchestrator.ErrAlreadyRunning

	resp, err := http.Post(f.srv.URL+"/run-agent", "application/json",
		strings.NewReader(`{"repo_url":"u"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["error"] != "Agent is already running" {
		t.Errorf("unexpected error body: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.status.Reset(5, "ALPHA_JORDAN_AI_FIX")
	f.status.SetStep("Testing", 2)

	resp, err := http.Get(f.srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	snap := decodeBody[status.Snapshot](t, resp)
	if snap.State != status.Running || snap.CurrentStep != "Testing" || snap.Iteration != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Timeline) != 1 {
		t.Errorf("unexpected timeline: %v", snap.Timeline)
	}
}

func TestFixesEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.ctrl.fixes = []fixer.Outcome{{
		Record:        bugs.Record{File: "app.py", Type: bugs.Syntax, Line: 10, Status: bugs.StatusFixed},
		CommitMessage: "[AI-AGENT] Fix SYNTAX error",
	}}

	resp, err := http.Get(f.srv.URL + "/fixes")
	if err != nil {
		t.Fatal(err)
	}
	fixes := decodeBody[[]map[string]any](t, resp)
	if len(fixes) != 1 {
		t.Fatalf("expected 1 fix, got %d", len(fixes))
	}
	if fixes[0]["file"] != "app.py" || fixes[0]["bug_type"] != "SYNTAX" || fixes[0]["status"] != "Fixed" {
		t.Errorf("unexpected fix payload: %v", fixes[0])
	}
}

func TestFixesEndpoint_EmptyIsArray(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/fixes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "[") {
		t.Errorf("expected JSON array, got %s", raw)
	}
}

func TestTimelineEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.ctrl.timeline = []results.TimelineEntry{{Run: 1, Status: "FAILED", Timestamp: "ts"}}
	f.status.SetStep("Testing", 1)

	resp, err := http.Get(f.srv.URL + "/timeline")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[map[string]json.RawMessage](t, resp)

	var runs []results.TimelineEntry
	if err := json.Unmarshal(body["runs"], &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != "FAILED" {
		t.Errorf("unexpected runs: %v", runs)
	}

	var steps []status.StepEntry
	if err := json.Unmarshal(body["steps"], &steps); err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Step != "Testing" {
		t.Errorf("unexpected steps: %v", steps)
	}
}

func TestResultsEndpoint_EmptyBeforeFirstRun(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/results")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[map[string]any](t, resp)
	if len(body) != 0 {
		t.Errorf("expected empty object, got %v", body)
	}
}

func TestResultsEndpoint_ReturnsSummary(t *testing.T) {
	f := newServerFixture(t)
	if err := f.store.Generate(results.Summary{RunID: "r1", FinalStatus: "PASSED"}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.srv.URL + "/results")
	if err != nil {
		t.Fatal(err)
	}
	sum := decodeBody[results.Summary](t, resp)
	if sum.RunID != "r1" || sum.FinalStatus != "PASSED" {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestDownload_MissingArchive(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/download-fixed-repo")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDownload_ServesArchive(t *testing.T) {
	f := newServerFixture(t)
	if err := os.WriteFile(f.store.ArchivePath(), []byte("PK\x03\x04zipdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.srv.URL + "/download-fixed-repo")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "fixed_repo.zip") {
		t.Errorf("unexpected disposition: %q", cd)
	}
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "healthy" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestEvents_StreamsAndResumes(t *testing.T) {
	f := newServerFixture(t)
	f.bus.Publish("log", "one")
	f.bus.Publish("log", "two")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/events?last_id=1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	var got []string
	for len(got) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read: %v (got %v)", err, got)
		}
		line = strings.TrimRight(line, "\n")
		if line != "" {
			got = append(got, line)
		}
	}

	if got[0] != "id: 2" {
		t.Errorf("expected to resume after event 1, got %q", got[0])
	}
	if got[1] != "event: log" {
		t.Errorf("unexpected event line: %q", got[1])
	}
	if !strings.Contains(got[2], `"message":"two"`) {
		t.Errorf("unexpected data line: %q", got[2])
	}
}
