// Package scheduler bridges to the external openclaw cron scheduler, which
// re-invokes the monitor command on a fixed interval.
//
// The scheduler is optional. Every failure degrades to "no trigger" and
// monitoring falls back to manual runs.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sokosumi/internal/observability"
	"strconv"
	"strings"
	"time"
)

// Defaults
const (
	DefaultBinary   = "openclaw"
	DefaultTimeout  = 10 * time.Second
	DefaultSchedule = "*/5 * * * *"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit is an error that carries the
// command's stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Config holds scheduler bridge settings.
type Config struct {
	Binary         string        // scheduler executable (default: openclaw)
	Timeout        time.Duration // per-invocation timeout (default: 10s)
	Schedule       string        // cron expression (default: every 5 minutes)
	MonitorCommand string        // shell command that runs one monitor sweep
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.MonitorCommand == "" {
		c.MonitorCommand = "sokosumi monitor"
	}
	return c
}

// Bridge creates and removes monitor triggers.
type Bridge struct {
	cfg     Config
	runner  Runner
	metrics *observability.Metrics
}

// NewBridge creates a bridge. A nil runner uses ExecRunner.
func NewBridge(cfg Config, runner Runner, metrics *observability.Metrics) *Bridge {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Bridge{
		cfg:     cfg.withDefaults(),
		runner:  runner,
		metrics: metrics,
	}
}

// CronJob is the payload accepted by `openclaw cron add --json`.
type CronJob struct {
	Name          string       `json:"name"`
	Schedule      CronSchedule `json:"schedule"`
	Payload       CronEvent    `json:"payload"`
	SessionTarget string       `json:"sessionTarget"`
	Enabled       bool         `json:"enabled"`
}

// CronSchedule describes when a cron job fires.
type CronSchedule struct {
	Kind string `json:"kind"`
	Expr string `json:"expr"`
}

// CronEvent is the instruction delivered when a cron job fires.
type CronEvent struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// TriggerName returns the display name of a job's trigger.
func TriggerName(jobID string) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Sokosumi Monitor - " + short
}

// NewCronJob builds the trigger payload for jobID.
func (b *Bridge) NewCronJob(jobID string) CronJob {
	return CronJob{
		Name:     TriggerName(jobID),
		Schedule: CronSchedule{Kind: "cron", Expr: b.cfg.Schedule},
		Payload: CronEvent{
			Kind: "systemEvent",
			Text: fmt.Sprintf("Check Sokosumi job %s: %s", jobID, b.cfg.MonitorCommand),
		},
		SessionTarget: "main",
		Enabled:       true,
	}
}

// CreateTrigger registers a periodic monitor trigger for jobID and returns its
// ID. ok is false when the scheduler is missing, times out, fails, or returns
// no ID.
func (b *Bridge) CreateTrigger(ctx context.Context, jobID string) (id string, ok bool) {
	logger := slog.With("jobId", jobID)

	payload, err := json.Marshal(b.NewCronJob(jobID))
	if err != nil {
		logger.Warn("Failed to encode cron payload", "error", err)
		return "", false
	}

	out, err := b.run(ctx, "cron", "add", "--json", string(payload))
	if err != nil {
		b.record(ctx, "add", false)
		logger.Info("Scheduler unavailable, monitoring is manual", "error", err)
		return "", false
	}

	id = parseTriggerID(out)
	b.record(ctx, "add", id != "")
	if id == "" {
		logger.Info("Scheduler returned no trigger id", "output", strings.TrimSpace(string(out)))
		return "", false
	}

	logger.Debug("Monitor trigger created", "cronJobId", id)
	return id, true
}

// RemoveTrigger deletes a trigger. Failures are logged and otherwise ignored,
// so removing a missing trigger is harmless. An empty id is a no-op.
func (b *Bridge) RemoveTrigger(ctx context.Context, triggerID string) {
	if triggerID == "" {
		return
	}
	_, err := b.run(ctx, "cron", "remove", triggerID)
	b.record(ctx, "remove", err == nil)
	if err != nil {
		slog.Debug("Failed to remove monitor trigger", "cronJobId", triggerID, "error", err)
	}
}

// LookPath reports whether the scheduler executable can be found.
func (b *Bridge) LookPath() (string, error) {
	return exec.LookPath(b.cfg.Binary)
}

func (b *Bridge) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.runner.Run(ctx, b.cfg.Binary, args...)
}

func (b *Bridge) record(ctx context.Context, op string, success bool) {
	if b.metrics != nil {
		b.metrics.RecordSchedulerCall(ctx, op, success)
	}
}

// parseTriggerID extracts "id" from the scheduler's JSON output. String and
// numeric IDs are accepted.
func parseTriggerID(out []byte) string {
	var resp map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return ""
	}
	switch id := resp["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
