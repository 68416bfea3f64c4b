package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sokosumi/internal/apperrors"
	"sokosumi/internal/marketplace"
	"sokosumi/internal/observability"
	"sokosumi/internal/state"
	"sokosumi/pkg/circuitbreaker"
)

// MonitorOnce checks every active job once and moves finished jobs out of the
// active set.
//
// Each job is checked in ID order:
//   - its check count is incremented before the query
//   - completed: results are recorded and the trigger removed
//   - failed: recorded as timed out and the trigger removed
//   - budget exhausted: recorded as timed out and the trigger removed
//   - otherwise it stays active
//
// A failed query leaves the job active for the next sweep, unless its budget
// is exhausted. After enough consecutive failures the remaining jobs are not
// queried at all. State is saved after every job, so an interrupted sweep
// keeps the progress it made.
func (s *Service) MonitorOnce(ctx context.Context) (*MonitorSummary, error) {
	st := s.store.Load()
	summary := &MonitorSummary{}
	if len(st.ActiveJobs) == 0 {
		s.recordActive(ctx, 0)
		return summary, nil
	}

	ids := make([]string, 0, len(st.ActiveJobs))
	for id := range st.ActiveJobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Threshold: s.breakerThreshold,
		OnStateChange: func(from, to circuitbreaker.State) {
			if to == circuitbreaker.Open {
				slog.Warn("Marketplace unreachable, skipping remaining queries this sweep")
			}
		},
	})

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		report := s.checkJob(ctx, st, id, breaker)
		summary.Checked++
		summary.Reports = append(summary.Reports, report)
		switch report.Outcome {
		case OutcomeCompleted:
			summary.Completed++
		case OutcomeFailed, OutcomeTimedOut:
			summary.TimedOut++
		}
		if report.Err != nil {
			summary.Errors++
		}

		if err := s.store.Save(st); err != nil {
			return summary, err
		}
	}

	summary.StillActive = len(st.ActiveJobs)
	if err := s.store.Save(st); err != nil {
		return summary, err
	}
	s.recordActive(ctx, summary.StillActive)

	slog.Info("Monitor sweep finished",
		"completed", summary.Completed,
		"timedOut", summary.TimedOut,
		"stillActive", summary.StillActive,
		"errors", summary.Errors)
	return summary, nil
}

// checkJob runs one check of an active job against st.
func (s *Service) checkJob(ctx context.Context, st *state.MonitorState, jobID string, breaker *circuitbreaker.Breaker) CheckReport {
	rec := st.ActiveJobs[jobID]
	rec.CheckCount++
	logger := slog.With("jobId", jobID, "check", rec.CheckCount)

	report := CheckReport{
		JobID:     jobID,
		Check:     rec.CheckCount,
		MaxChecks: rec.Budget(),
	}

	job, err := s.query(ctx, jobID, breaker)
	s.recordCheck(ctx, err == nil)
	if err != nil {
		report.Err = err
		if rec.Exhausted() {
			logger.Warn("Check budget exhausted while marketplace unreachable", "error", err)
			s.retire(ctx, st, rec, observability.OutcomeTimedOut)
			report.Outcome = OutcomeTimedOut
			return report
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.Warn("Job not found on marketplace, will retry next cycle")
		} else {
			logger.Warn("Error checking job, will retry next cycle", "error", err)
		}
		report.Outcome = OutcomeError
		return report
	}

	report.Status = job.Status
	if report.Status == "" {
		report.Status = "unknown"
	}

	switch {
	case job.Status == marketplace.JobStatusCompleted:
		report.Result = job.ResultPayload()
		s.removeTrigger(ctx, rec)
		entry := st.Complete(jobID, report.Result, s.store.Now())
		s.recordTransition(ctx, observability.OutcomeCompleted, entry.JobRecord)
		report.Outcome = OutcomeCompleted
		logger.Info("Job completed")

	case job.Status == marketplace.JobStatusFailed:
		s.retire(ctx, st, rec, observability.OutcomeFailed)
		report.Outcome = OutcomeFailed
		logger.Info("Job failed")

	case rec.Exhausted():
		s.retire(ctx, st, rec, observability.OutcomeTimedOut)
		report.Outcome = OutcomeTimedOut
		logger.Info("Job timed out", "maxChecks", rec.Budget())

	default:
		report.Outcome = OutcomePending
		logger.Debug("Job still running", "status", report.Status)
	}
	return report
}

// query fetches a job through the breaker. Only failures that say something
// about the marketplace as a whole count against it. An error for one job,
// such as ErrNotFound, does not.
func (s *Service) query(ctx context.Context, jobID string, breaker *circuitbreaker.Breaker) (*marketplace.Job, error) {
	if !breaker.Allow() {
		return nil, circuitbreaker.ErrOpen
	}
	job, err := s.market.GetJob(ctx, jobID)
	switch {
	case err == nil:
		breaker.RecordSuccess()
	case apperrors.IsRetryable(err):
		breaker.RecordFailure()
	}
	return job, err
}

// retire removes the trigger and records the job as timed out. outcome only
// distinguishes remote failures from exhausted budgets in metrics.
func (s *Service) retire(ctx context.Context, st *state.MonitorState, rec *state.JobRecord, outcome string) {
	snapshot := *rec
	s.removeTrigger(ctx, rec)
	entry := st.TimeOut(snapshot.JobID, &snapshot, s.store.Now())
	s.recordTransition(ctx, outcome, entry.JobRecord)
}

// CleanupAll removes every active job's trigger and records every active job
// as timed out. Running it again finds nothing to do.
func (s *Service) CleanupAll(ctx context.Context) (*CleanupSummary, error) {
	summary := &CleanupSummary{}
	err := s.store.Update(func(st *state.MonitorState) error {
		ids := make([]string, 0, len(st.ActiveJobs))
		for id := range st.ActiveJobs {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		for _, id := range ids {
			rec := st.ActiveJobs[id]
			if rec.CronJobID != "" {
				s.removeTrigger(ctx, rec)
				summary.Triggers++
			}
			snapshot := *rec
			entry := st.TimeOut(id, &snapshot, s.store.Now())
			s.recordTransition(ctx, observability.OutcomeCleanedUp, entry.JobRecord)
			summary.Jobs++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clean up jobs: %w", err)
	}

	s.recordActive(ctx, 0)
	slog.Info("Cleanup finished", "triggers", summary.Triggers, "jobs", summary.Jobs)
	return summary, nil
}

func (s *Service) removeTrigger(ctx context.Context, rec *state.JobRecord) {
	if s.scheduler == nil || rec.CronJobID == "" {
		return
	}
	s.scheduler.RemoveTrigger(ctx, rec.CronJobID)
}

func (s *Service) recordCheck(ctx context.Context, success bool) {
	if s.metrics != nil {
		s.metrics.RecordJobCheck(ctx, success)
	}
}

func (s *Service) recordTransition(ctx context.Context, outcome string, rec state.JobRecord) {
	if s.metrics == nil {
		return
	}
	var seconds float64
	if !rec.HiredAt.IsZero() {
		seconds = s.store.Now().Sub(rec.HiredAt).Seconds()
	}
	s.metrics.RecordJobTransition(ctx, outcome, seconds)
}

func (s *Service) recordActive(ctx context.Context, n int) {
	if s.metrics != nil {
		s.metrics.RecordJobsActive(ctx, n)
	}
}
