package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".openclaw", "sokosumi-state.json")
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewStore(path, opts...)
}

// jsonEqual reports whether got and want hold the same JSON value. Saved
// documents are indented, so byte comparison is too strict.
func jsonEqual(t *testing.T, got json.RawMessage, want string) bool {
	t.Helper()
	var g, w bytes.Buffer
	if err := json.Compact(&g, got); err != nil {
		t.Fatalf("invalid JSON %q: %v", got, err)
	}
	if err := json.Compact(&w, []byte(want)); err != nil {
		t.Fatalf("invalid JSON %q: %v", want, err)
	}
	return bytes.Equal(g.Bytes(), w.Bytes())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	st := store.Load()
	if st.ActiveJobs == nil || len(st.ActiveJobs) != 0 {
		t.Errorf("expected empty active map, got %v", st.ActiveJobs)
	}
	if st.CompletedJobs == nil || len(st.CompletedJobs) != 0 {
		t.Errorf("expected empty completed list, got %v", st.CompletedJobs)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"array", "[1,2,3]"},
		{"wrong types", `{"active_jobs": [], "completed_jobs": {}}`},
		{"empty file", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newTestStore(t)
			if err := os.MkdirAll(filepath.Dir(store.Path()), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(store.Path(), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			st := store.Load()
			if len(st.ActiveJobs) != 0 || len(st.CompletedJobs) != 0 {
				t.Errorf("expected empty default state, got %+v", st)
			}
			if store.Check() == nil {
				t.Error("expected Check to report the corruption")
			}
		})
	}
}

func TestLoad_NullDocument(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	os.MkdirAll(filepath.Dir(store.Path()), 0o755)
	os.WriteFile(store.Path(), []byte("null"), 0o600)

	st := store.Load()
	if st.ActiveJobs == nil || st.CompletedJobs == nil {
		t.Errorf("expected normalized collections, got %+v", st)
	}
}

func TestLoad_ExistingDocumentFormat(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	doc := `{
  "active_jobs": {
    "job-abc": {
      "agentId": "agent-1",
      "agentName": "Research",
      "hiredAt": "2026-02-28T09:15:00.123456+00:00",
      "cronJobId": null,
      "checkCount": 4,
      "maxChecks": 20
    }
  },
  "completed_jobs": [
    {"jobId": "job-old", "completedAt": "2026-02-27T10:00:00+00:00", "results": {"summary": "done"}}
  ]
}`
	os.MkdirAll(filepath.Dir(store.Path()), 0o755)
	if err := os.WriteFile(store.Path(), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	st := store.Load()
	rec, ok := st.ActiveJobs["job-abc"]
	if !ok {
		t.Fatalf("expected job-abc to be active, got %v", st.ActiveJobs)
	}
	if rec.JobID != "job-abc" {
		t.Errorf("expected JobID filled from key, got %q", rec.JobID)
	}
	if rec.CheckCount != 4 || rec.CronJobID != "" || rec.AgentName != "Research" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.HiredAt.IsZero() {
		t.Error("expected hiredAt to parse")
	}
	if len(st.CompletedJobs) != 1 || st.CompletedJobs[0].DisplayStatus() != "completed" {
		t.Errorf("unexpected completed jobs %+v", st.CompletedJobs)
	}
}

// Scenario A
func TestTrackActiveJob(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if err := store.TrackActiveJob("j1", AgentInfo{AgentID: "agent-1", AgentName: "Writer"}, "cron-1"); err != nil {
		t.Fatalf("TrackActiveJob failed: %v", err)
	}

	st := store.Load()
	if len(st.ActiveJobs) != 1 {
		t.Fatalf("expected one active job, got %d", len(st.ActiveJobs))
	}
	rec := st.ActiveJobs["j1"]
	if rec.CheckCount != 0 {
		t.Errorf("expected checkCount 0, got %d", rec.CheckCount)
	}
	if rec.MaxChecks != DefaultMaxChecks {
		t.Errorf("expected maxChecks %d, got %d", DefaultMaxChecks, rec.MaxChecks)
	}
	if !rec.HiredAt.Equal(fixedNow) {
		t.Errorf("expected hiredAt %v, got %v", fixedNow, rec.HiredAt)
	}
	if rec.CronJobID != "cron-1" || rec.AgentID != "agent-1" || rec.AgentName != "Writer" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestTrackActiveJob_CustomBudgetAndNoCron(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, WithMaxChecks(5))

	if err := store.TrackActiveJob("j1", AgentInfo{AgentID: "a"}, ""); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("expected state file with parent dirs created: %v", err)
	}
	var raw struct {
		ActiveJobs map[string]map[string]any `json:"active_jobs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not the expected shape: %v", err)
	}
	job := raw.ActiveJobs["j1"]
	if _, ok := job["cronJobId"]; ok {
		t.Errorf("expected cronJobId to be omitted, got %v", job["cronJobId"])
	}
	if job["maxChecks"] != float64(5) {
		t.Errorf("expected maxChecks 5, got %v", job["maxChecks"])
	}
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	store.TrackActiveJob("j1", AgentInfo{AgentID: "a1", AgentName: "n1"}, "")

	if err := store.CompleteJob("j1", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	st := store.Load()
	if len(st.ActiveJobs) != 0 {
		t.Errorf("expected no active jobs, got %v", st.ActiveJobs)
	}
	if len(st.CompletedJobs) != 1 {
		t.Fatalf("expected one completed job, got %d", len(st.CompletedJobs))
	}
	c := st.CompletedJobs[0]
	if c.JobID != "j1" || c.AgentID != "a1" {
		t.Errorf("unexpected snapshot %+v", c)
	}
	if c.Status != "" {
		t.Errorf("expected no status on completion, got %q", c.Status)
	}
	if c.CompletedAt == nil || !c.CompletedAt.Equal(fixedNow) || c.TimedOutAt != nil {
		t.Errorf("unexpected timestamps completed=%v timedOut=%v", c.CompletedAt, c.TimedOutAt)
	}
	if !jsonEqual(t, c.Results, `{"x":1}`) {
		t.Errorf("unexpected results %s", c.Results)
	}
}

func TestCompleteJob_UnknownJob(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if err := store.CompleteJob("ghost", nil); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	st := store.Load()
	if len(st.CompletedJobs) != 1 || st.CompletedJobs[0].JobID != "ghost" {
		t.Fatalf("expected ghost entry, got %+v", st.CompletedJobs)
	}
	if !jsonEqual(t, st.CompletedJobs[0].Results, "{}") {
		t.Errorf("expected empty object results, got %s", st.CompletedJobs[0].Results)
	}
}

func TestTimeoutJob(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	store.TrackActiveJob("j2", AgentInfo{AgentID: "a2"}, "cron-2")

	snapshot := store.Load().ActiveJobs["j2"]
	snapshot.CheckCount = 20

	if err := store.TimeoutJob("j2", snapshot); err != nil {
		t.Fatalf("TimeoutJob failed: %v", err)
	}

	st := store.Load()
	if _, ok := st.ActiveJobs["j2"]; ok {
		t.Error("expected j2 to leave the active set")
	}
	c := st.CompletedJobs[0]
	if c.Status != StatusTimedOut || c.JobID != "j2" {
		t.Errorf("unexpected entry %+v", c)
	}
	if c.CheckCount != 20 {
		t.Errorf("expected snapshot check count 20, got %d", c.CheckCount)
	}
	if c.TimedOutAt == nil || c.CompletedAt != nil || c.Results != nil {
		t.Errorf("unexpected terminal fields %+v", c)
	}
}

func TestTimeoutJob_NilSnapshotUsesStoredRecord(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	store.TrackActiveJob("j3", AgentInfo{AgentID: "a3", AgentName: "Named"}, "")

	if err := store.TimeoutJob("j3", nil); err != nil {
		t.Fatal(err)
	}
	c := store.Load().CompletedJobs[0]
	if c.AgentName != "Named" {
		t.Errorf("expected stored record to be used, got %+v", c)
	}
}

func TestCompletedJobs_CapFIFO(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("job-%02d", i)
		var err error
		if i%2 == 0 {
			err = store.CompleteJob(id, json.RawMessage(`{}`))
		} else {
			err = store.TimeoutJob(id, nil)
		}
		if err != nil {
			t.Fatalf("recording %s failed: %v", id, err)
		}
	}

	st := store.Load()
	if len(st.CompletedJobs) != MaxCompletedJobs {
		t.Fatalf("expected %d completed jobs, got %d", MaxCompletedJobs, len(st.CompletedJobs))
	}
	for i, c := range st.CompletedJobs {
		want := fmt.Sprintf("job-%02d", i+10)
		if c.JobID != want {
			t.Errorf("completed[%d] = %s, want %s", i, c.JobID, want)
		}
	}
}

func TestSave_TruncatesOversizedHistory(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	st := New()
	for i := 0; i < 70; i++ {
		st.CompletedJobs = append(st.CompletedJobs, CompletedJobRecord{JobRecord: JobRecord{JobID: fmt.Sprint(i)}})
	}

	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	loaded := store.Load()
	if len(loaded.CompletedJobs) != MaxCompletedJobs || loaded.CompletedJobs[0].JobID != "20" {
		t.Errorf("expected last %d entries starting at 20, got %d starting at %s",
			MaxCompletedJobs, len(loaded.CompletedJobs), loaded.CompletedJobs[0].JobID)
	}
}

func TestPartition_RetrackDropsHistory(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	store.TrackActiveJob("j1", AgentInfo{}, "")
	store.TimeoutJob("j1", nil)
	store.TrackActiveJob("j1", AgentInfo{}, "")

	st := store.Load()
	if _, ok := st.ActiveJobs["j1"]; !ok {
		t.Fatal("expected j1 to be active again")
	}
	for _, c := range st.CompletedJobs {
		if c.JobID == "j1" {
			t.Error("j1 must not be both active and completed")
		}
	}
}

func TestUpdate_ErrorSkipsSave(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	err := store.Update(func(st *MonitorState) error {
		st.Track(JobRecord{JobID: "j1"})
		return fmt.Errorf("abort")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if _, statErr := os.Stat(store.Path()); !os.IsNotExist(statErr) {
		t.Errorf("expected no state file to be written, stat err = %v", statErr)
	}
}

func TestRecentCompleted(t *testing.T) {
	t.Parallel()
	st := New()
	for i := 0; i < 15; i++ {
		st.Complete(fmt.Sprint(i), nil, fixedNow)
	}

	recent := st.RecentCompleted(10)
	if len(recent) != 10 || recent[0].JobID != "5" || recent[9].JobID != "14" {
		t.Errorf("unexpected recent window %v..%v (%d)", recent[0].JobID, recent[len(recent)-1].JobID, len(recent))
	}
	if got := st.RecentCompleted(100); len(got) != 15 {
		t.Errorf("expected all 15 entries, got %d", len(got))
	}
}

func TestJobRecord_Budget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rec       JobRecord
		budget    int
		exhausted bool
	}{
		{JobRecord{CheckCount: 0, MaxChecks: 20}, 20, false},
		{JobRecord{CheckCount: 19, MaxChecks: 20}, 20, false},
		{JobRecord{CheckCount: 20, MaxChecks: 20}, 20, true},
		{JobRecord{CheckCount: 25, MaxChecks: 20}, 20, true},
		{JobRecord{CheckCount: 20, MaxChecks: 0}, DefaultMaxChecks, true},
		{JobRecord{CheckCount: 3, MaxChecks: -1}, DefaultMaxChecks, false},
	}
	for _, tt := range tests {
		tt := tt
		if got := tt.rec.Budget(); got != tt.budget {
			t.Errorf("Budget(%+v) = %d, want %d", tt.rec, got, tt.budget)
		}
		if got := tt.rec.Exhausted(); got != tt.exhausted {
			t.Errorf("Exhausted(%+v) = %v, want %v", tt.rec, got, tt.exhausted)
		}
	}
}
