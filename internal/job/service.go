package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sokosumi/internal/apperrors"
	"sokosumi/internal/marketplace"
	"sokosumi/internal/observability"
	"sokosumi/internal/state"
	"strings"
)

// CheckInterval is how often a scheduler trigger re-runs the monitor.
const CheckInterval = "5 minutes"

// Service manages job lifecycle on top of the marketplace, the state store
// and the optional scheduler.
//
// The Service holds no job state itself; everything lives in the state
// document, so each CLI invocation starts from what the last one saved.
type Service struct {
	market    Marketplace
	scheduler Scheduler
	store     *state.Store
	metrics   *observability.Metrics

	breakerThreshold int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBreakerThreshold sets how many consecutive query failures stop a
// monitor sweep from querying the remaining jobs.
func WithBreakerThreshold(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.breakerThreshold = n
		}
	}
}

// NewService creates a new job service. metrics may be nil.
func NewService(market Marketplace, scheduler Scheduler, store *state.Store, metrics *observability.Metrics, opts ...ServiceOption) *Service {
	s := &Service{
		market:           market,
		scheduler:        scheduler,
		store:            store,
		metrics:          metrics,
		breakerThreshold: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hire validates req and creates the job.
func (s *Service) Hire(ctx context.Context, req *HireRequest) (*HireResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := slog.With("agentId", req.AgentID)

	job, err := s.market.CreateJob(ctx, req.AgentID, &marketplace.CreateJobRequest{
		InputData:          json.RawMessage(strings.TrimSpace(req.Input)),
		MaxAcceptedCredits: req.MaxCredits,
		Name:               req.Name,
	})
	if err != nil {
		logger.Debug("Job creation failed", "error", err)
		return nil, err
	}

	result := &HireResult{
		JobID:  job.Identifier(),
		Status: job.Status,
		Job:    job,
	}
	logger.Info("Job created", "jobId", result.JobID, "status", result.Status)
	return result, nil
}

// HireAuto hires like Hire, then registers a monitor trigger and tracks the
// job. A job without an identifier is returned untracked.
func (s *Service) HireAuto(ctx context.Context, req *HireRequest) (*HireResult, error) {
	result, err := s.Hire(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.JobID == "" {
		slog.Warn("Could not extract job ID for monitoring", "agentId", req.AgentID)
		s.recordHired(ctx, false)
		return result, nil
	}

	cronID, ok := "", false
	if s.scheduler != nil {
		cronID, ok = s.scheduler.CreateTrigger(ctx, result.JobID)
	}

	agentName := req.Name
	if agentName == "" {
		agentName = req.AgentID
	}
	if err := s.store.TrackActiveJob(result.JobID, state.AgentInfo{
		AgentID:   req.AgentID,
		AgentName: agentName,
	}, cronID); err != nil {
		if ok {
			s.scheduler.RemoveTrigger(ctx, cronID)
		}
		return nil, fmt.Errorf("failed to track job %s: %w", result.JobID, err)
	}

	info := &MonitoringInfo{
		JobID: result.JobID,
		Monitoring: Monitoring{
			CheckInterval: CheckInterval,
			AutoCleanup:   true,
			MaxChecks:     s.store.MaxChecks(),
		},
	}
	if ok {
		info.Monitoring.CronJobID = &cronID
	}
	result.Monitoring = info

	s.recordHired(ctx, true)
	slog.Debug("Job tracked", "jobId", result.JobID, "cronJobId", cronID)
	return result, nil
}

// Result fetches a job and extracts its result payload once completed.
func (s *Service) Result(ctx context.Context, jobID string) (*ResultReport, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, apperrors.Input("jobId", "job ID is required")
	}
	job, err := s.market.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &ResultReport{Status: job.Status}
	if job.Status != marketplace.JobStatusCompleted {
		return report, nil
	}
	report.Completed = true
	report.HasResult = job.HasResult()
	report.Payload = job.ResultPayload()
	return report, nil
}

func (s *Service) recordHired(ctx context.Context, monitored bool) {
	if s.metrics != nil {
		s.metrics.RecordJobHired(ctx, monitored)
	}
}

// Validate checks a hire request before any network call.
func (r *HireRequest) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return apperrors.Input("agentId", "agent ID is required")
	}
	if !json.Valid([]byte(r.Input)) {
		return apperrors.Input("input", "input must be valid JSON.")
	}
	if r.MaxCredits < 0 {
		return apperrors.Input("maxCredits", "max credits must not be negative")
	}
	return nil
}
