// Package job drives the lifecycle of hired marketplace jobs: hiring,
// periodic monitoring until a terminal state, and forced cleanup.
package job

import (
	"context"
	"encoding/json"
	"sokosumi/internal/marketplace"
)

// Marketplace is the subset of the marketplace API the controller needs.
type Marketplace interface {
	CreateJob(ctx context.Context, agentID string, req *marketplace.CreateJobRequest) (*marketplace.Job, error)
	GetJob(ctx context.Context, jobID string) (*marketplace.Job, error)
}

// Scheduler registers and removes periodic monitor triggers.
//
// The scheduler is optional. CreateTrigger reports ok=false when no trigger
// could be created, and RemoveTrigger never fails.
type Scheduler interface {
	CreateTrigger(ctx context.Context, jobID string) (id string, ok bool)
	RemoveTrigger(ctx context.Context, triggerID string)
}

// HireRequest describes a job to create.
type HireRequest struct {
	AgentID    string
	Input      string // JSON document sent as inputData
	MaxCredits int
	Name       string
}

// HireResult is the outcome of a hire.
type HireResult struct {
	JobID  string // empty when the response carried no identifier
	Status string
	Job    *marketplace.Job

	// Monitoring is set by HireAuto once the job is tracked.
	Monitoring *MonitoringInfo
}

// MonitoringInfo is printed after an auto-monitored hire.
type MonitoringInfo struct {
	JobID      string     `json:"jobId"`
	Monitoring Monitoring `json:"monitoring"`
}

// Monitoring describes how a tracked job is watched. CronJobID is null when
// no trigger was created.
type Monitoring struct {
	CronJobID     *string `json:"cronJobId"`
	CheckInterval string  `json:"checkInterval"`
	AutoCleanup   bool    `json:"autoCleanup"`
	MaxChecks     int     `json:"maxChecks"`
}

// Scheduled reports whether a trigger was created.
func (m *MonitoringInfo) Scheduled() bool {
	return m.Monitoring.CronJobID != nil
}

// Outcome is what a monitor check did with a job.
type Outcome string

const (
	OutcomePending   Outcome = "pending"   // still running, stays active
	OutcomeCompleted Outcome = "completed" // finished, results recorded
	OutcomeFailed    Outcome = "failed"    // remote failure, recorded as timed out
	OutcomeTimedOut  Outcome = "timed_out" // check budget exhausted
	OutcomeError     Outcome = "error"     // query failed, retried next sweep
)

// CheckReport is the result of checking one active job.
type CheckReport struct {
	JobID     string
	Check     int
	MaxChecks int
	Status    string // remote status; empty when the query failed
	Outcome   Outcome
	Result    json.RawMessage // set for OutcomeCompleted
	Err       error           // query error, if any
}

// MonitorSummary is the result of one monitor sweep.
type MonitorSummary struct {
	Checked     int
	Completed   int
	TimedOut    int
	StillActive int
	Errors      int
	Reports     []CheckReport
}

// CleanupSummary is the result of CleanupAll.
type CleanupSummary struct {
	Triggers int // trigger removals attempted
	Jobs     int // jobs moved out of the active set
}

// ResultReport is the outcome of a result lookup.
type ResultReport struct {
	Status    string
	Completed bool
	Payload   json.RawMessage // set when Completed
	HasResult bool            // whether the job carried result or output
}
