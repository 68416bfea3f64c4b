package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
)

// Store reads and writes the state document at a single path.
//
// Every mutating operation is a full load-mutate-save cycle. There is no
// cross-process lock: two invocations racing on the same file resolve as
// last writer wins.
type Store struct {
	path      string
	now       func() time.Time
	maxChecks int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxChecks sets the check budget given to newly tracked jobs.
func WithMaxChecks(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxChecks = n
		}
	}
}

// NewStore creates a store for the document at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:      path,
		now:       time.Now,
		maxChecks: DefaultMaxChecks,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Now returns the current time in UTC from the store's clock.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// MaxChecks returns the budget given to newly tracked jobs.
func (s *Store) MaxChecks() int {
	return s.maxChecks
}

// Load reads the state document. A missing or unparseable document yields an
// empty state; corruption is never reported to the caller.
func (s *Store) Load() *MonitorState {
	st, err := s.read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Ignoring unreadable state file", "path", s.path, "error", err)
		}
		return New()
	}
	return st
}

// Check reads the state document and reports why it could not be used.
// A missing document is not an error.
func (s *Store) Check() error {
	_, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) read() (*MonitorState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	st := &MonitorState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("invalid state document: %w", err)
	}
	st.normalize()
	return st, nil
}

// Save writes the whole document, creating parent directories first.
func (s *Store) Save(st *MonitorState) error {
	st.normalize()
	if over := len(st.CompletedJobs) - MaxCompletedJobs; over > 0 {
		st.CompletedJobs = st.CompletedJobs[over:]
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := atomicwriter.WriteFile(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Update runs fn inside one load-mutate-save cycle. Nothing is saved when fn
// returns an error.
func (s *Store) Update(fn func(*MonitorState) error) error {
	st := s.Load()
	if err := fn(st); err != nil {
		return err
	}
	return s.Save(st)
}

// AgentInfo identifies the agent a tracked job was hired from.
type AgentInfo struct {
	AgentID   string
	AgentName string
}

// TrackActiveJob starts monitoring jobID with a zero check count and the
// store's check budget. cronJobID may be empty.
func (s *Store) TrackActiveJob(jobID string, agent AgentInfo, cronJobID string) error {
	return s.Update(func(st *MonitorState) error {
		st.Track(JobRecord{
			JobID:     jobID,
			AgentID:   agent.AgentID,
			AgentName: agent.AgentName,
			HiredAt:   s.Now(),
			CronJobID: cronJobID,
			MaxChecks: s.maxChecks,
		})
		return nil
	})
}

// CompleteJob records jobID as completed with results. The job need not be
// active.
func (s *Store) CompleteJob(jobID string, results json.RawMessage) error {
	return s.Update(func(st *MonitorState) error {
		st.Complete(jobID, results, s.Now())
		return nil
	})
}

// TimeoutJob records jobID as timed out using snapshot as the job's record.
// The job need not be active.
func (s *Store) TimeoutJob(jobID string, snapshot *JobRecord) error {
	return s.Update(func(st *MonitorState) error {
		st.TimeOut(jobID, snapshot, s.Now())
		return nil
	})
}
