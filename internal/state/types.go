// Package state persists the monitor state: jobs still being watched and a
// bounded history of jobs that reached a terminal state.
package state

import (
	"encoding/json"
	"time"
)

// Limits
const (
	DefaultMaxChecks = 20
	MaxCompletedJobs = 50
)

// StatusTimedOut marks completed entries that did not finish successfully.
// True completions carry no status.
const StatusTimedOut = "timed_out"

// JobRecord is an active job.
type JobRecord struct {
	JobID      string    `json:"jobId,omitempty"`
	AgentID    string    `json:"agentId"`
	AgentName  string    `json:"agentName"`
	HiredAt    time.Time `json:"hiredAt,omitzero"`
	CronJobID  string    `json:"cronJobId,omitempty"`
	CheckCount int       `json:"checkCount"`
	MaxChecks  int       `json:"maxChecks"`
}

// Budget returns MaxChecks, or the default when the stored value is unset.
func (r *JobRecord) Budget() int {
	if r.MaxChecks <= 0 {
		return DefaultMaxChecks
	}
	return r.MaxChecks
}

// Exhausted reports whether the job has used its whole check budget.
func (r *JobRecord) Exhausted() bool {
	return r.CheckCount >= r.Budget()
}

// CompletedJobRecord is a snapshot of a job taken when it left the active set.
// Exactly one of CompletedAt and TimedOutAt is set.
type CompletedJobRecord struct {
	JobRecord
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	TimedOutAt  *time.Time      `json:"timedOutAt,omitempty"`
	Status      string          `json:"status,omitempty"`
	Results     json.RawMessage `json:"results,omitempty"`
}

// DisplayStatus returns Status, defaulting to "completed".
func (r *CompletedJobRecord) DisplayStatus() string {
	if r.Status == "" {
		return "completed"
	}
	return r.Status
}

// FinishedAt returns whichever terminal timestamp is set.
func (r *CompletedJobRecord) FinishedAt() *time.Time {
	if r.CompletedAt != nil {
		return r.CompletedAt
	}
	return r.TimedOutAt
}

// MonitorState is the persisted root document.
type MonitorState struct {
	ActiveJobs    map[string]*JobRecord `json:"active_jobs"`
	CompletedJobs []CompletedJobRecord  `json:"completed_jobs"`
}

// New returns an empty state.
func New() *MonitorState {
	return &MonitorState{
		ActiveJobs:    make(map[string]*JobRecord),
		CompletedJobs: []CompletedJobRecord{},
	}
}

// normalize replaces nil collections and fills in missing keys.
func (s *MonitorState) normalize() {
	if s.ActiveJobs == nil {
		s.ActiveJobs = make(map[string]*JobRecord)
	}
	if s.CompletedJobs == nil {
		s.CompletedJobs = []CompletedJobRecord{}
	}
	for id, rec := range s.ActiveJobs {
		if rec == nil {
			delete(s.ActiveJobs, id)
			continue
		}
		rec.JobID = id
	}
}

// Track inserts a fresh active record, replacing any existing one. Older
// history entries for the same ID are dropped so the ID lives in one place.
func (s *MonitorState) Track(rec JobRecord) {
	rec.CheckCount = 0
	if rec.MaxChecks <= 0 {
		rec.MaxChecks = DefaultMaxChecks
	}
	s.ActiveJobs[rec.JobID] = &rec

	kept := s.CompletedJobs[:0]
	for _, c := range s.CompletedJobs {
		if c.JobID != rec.JobID {
			kept = append(kept, c)
		}
	}
	s.CompletedJobs = kept
}

// Complete moves jobID out of the active set with its results. A job that is
// not active is still recorded, keyed only by its ID.
func (s *MonitorState) Complete(jobID string, results json.RawMessage, now time.Time) CompletedJobRecord {
	snapshot := s.take(jobID)
	if len(results) == 0 {
		results = json.RawMessage("{}")
	}
	at := now.UTC()
	entry := CompletedJobRecord{
		JobRecord:   snapshot,
		CompletedAt: &at,
		Results:     results,
	}
	s.appendCompleted(entry)
	return entry
}

// TimeOut moves jobID out of the active set with status timed_out. snapshot
// is the caller's view of the job; the stored record is used when nil.
func (s *MonitorState) TimeOut(jobID string, snapshot *JobRecord, now time.Time) CompletedJobRecord {
	stored := s.take(jobID)
	if snapshot != nil {
		stored = *snapshot
		stored.JobID = jobID
	}
	at := now.UTC()
	entry := CompletedJobRecord{
		JobRecord:  stored,
		TimedOutAt: &at,
		Status:     StatusTimedOut,
	}
	s.appendCompleted(entry)
	return entry
}

// take removes jobID from the active set and returns its record.
func (s *MonitorState) take(jobID string) JobRecord {
	rec, ok := s.ActiveJobs[jobID]
	delete(s.ActiveJobs, jobID)
	if !ok {
		return JobRecord{JobID: jobID}
	}
	snapshot := *rec
	snapshot.JobID = jobID
	return snapshot
}

// appendCompleted appends and evicts the oldest entries beyond the cap.
func (s *MonitorState) appendCompleted(entry CompletedJobRecord) {
	s.CompletedJobs = append(s.CompletedJobs, entry)
	if over := len(s.CompletedJobs) - MaxCompletedJobs; over > 0 {
		s.CompletedJobs = append([]CompletedJobRecord(nil), s.CompletedJobs[over:]...)
	}
}

// RecentCompleted returns up to n of the most recent completed entries,
// oldest first.
func (s *MonitorState) RecentCompleted(n int) []CompletedJobRecord {
	if n <= 0 || len(s.CompletedJobs) <= n {
		return s.CompletedJobs
	}
	return s.CompletedJobs[len(s.CompletedJobs)-n:]
}
