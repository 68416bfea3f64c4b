package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sokosumi/internal/apperrors"
	"sokosumi/internal/config"
	"sokosumi/internal/health"
	"sokosumi/internal/job"
	"sokosumi/internal/marketplace"
	"sokosumi/internal/observability"
	"sokosumi/internal/scheduler"
	"sokosumi/internal/state"
	"strconv"
	"strings"
)

const usage = `Sokosumi marketplace CLI with auto-monitoring.

Usage:
    sokosumi list
    sokosumi agent <agent_id>
    sokosumi hire <agent_id> '<json_input>' <max_credits> [job_name]
    sokosumi hire-auto <agent_id> '<json_input>' <max_credits> [job_name]
    sokosumi status <job_id>
    sokosumi result <job_id>
    sokosumi orgs
    sokosumi monitor
    sokosumi cleanup
    sokosumi status-all
    sokosumi doctor
    sokosumi help

Environment:
    SOKOSUMI_API_KEY       Required. Your Sokosumi API key.
    SOKOSUMI_API_KEY_FILE  File holding the API key.
    SOKOSUMI_API_URL       API base URL (default: https://api.sokosumi.com/v1)
    SOKOSUMI_STATE_FILE    Monitor state (default: ~/.openclaw/sokosumi-state.json)
    SOKOSUMI_CONFIG_FILE   YAML config (default: ~/.openclaw/sokosumi.yaml)
    SOKOSUMI_LOG_LEVEL     debug, info, warn or error (default: warn)
`

// appOptions configures an app beyond its configuration.
type appOptions struct {
	Program        string           // name shown in hints
	MonitorCommand string           // command line run by scheduler triggers
	Runner         scheduler.Runner // nil runs the scheduler binary
	Metrics        *observability.Metrics
}

// app holds the components of one invocation.
type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
	opts   appOptions

	store  *state.Store
	bridge *scheduler.Bridge
}

func newApp(cfg *config.Config, stdout, stderr io.Writer, opts appOptions) *app {
	if opts.Program == "" {
		opts.Program = "sokosumi"
	}
	return &app{
		cfg:    cfg,
		stdout: stdout,
		stderr: stderr,
		opts:   opts,
		store:  state.NewStore(cfg.StateFile, state.WithMaxChecks(cfg.MaxChecks)),
		bridge: scheduler.NewBridge(scheduler.Config{
			Binary:         cfg.SchedulerBinary,
			Timeout:        cfg.SchedulerTimeout,
			MonitorCommand: opts.MonitorCommand,
		}, opts.Runner, opts.Metrics),
	}
}

// command is one CLI subcommand.
type command struct {
	args int // required positional arguments
	run  func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"list":       {0, (*app).list},
	"agent":      {1, (*app).agent},
	"hire":       {3, (*app).hire},
	"hire-auto":  {3, (*app).hireAuto},
	"status":     {1, (*app).status},
	"result":     {1, (*app).result},
	"orgs":       {0, (*app).orgs},
	"monitor":    {0, (*app).monitor},
	"cleanup":    {0, (*app).cleanup},
	"status-all": {0, (*app).statusAll},
	"doctor":     {0, (*app).doctor},
}

// errUnhealthy signals a failed doctor run whose details were already
// printed.
var errUnhealthy = errors.New("unhealthy")

// dispatch runs the command named by args[0] and returns the exit code.
func (a *app) dispatch(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, usage)
		return 1
	}

	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok || len(args)-1 < cmd.args {
		fmt.Fprint(a.stderr, usage)
		return 1
	}

	if err := cmd.run(a, ctx, args[1:]); err != nil {
		if !errors.Is(err, errUnhealthy) {
			printError(a.stderr, err)
		}
		return 1
	}
	return 0
}

// client returns an authenticated marketplace client.
func (a *app) client() (*marketplace.Client, error) {
	return marketplace.NewClient(a.cfg.APIURL, a.cfg.APIKey, marketplace.Options{
		Timeout: a.cfg.HTTPTimeout,
		Metrics: a.opts.Metrics,
	})
}

// service returns a job service. The marketplace client is only built when
// withMarket is set, so local-only commands work without an API key.
func (a *app) service(withMarket bool) (*job.Service, error) {
	var market job.Marketplace
	if withMarket {
		client, err := a.client()
		if err != nil {
			return nil, err
		}
		market = client
	}
	return job.NewService(market, a.bridge, a.store, a.opts.Metrics), nil
}

func (a *app) list(ctx context.Context, _ []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}
	writeAgents(a.stdout, agents)
	return nil
}

func (a *app) agent(ctx context.Context, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	raw, err := client.GetAgent(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, raw)
}

func (a *app) hire(ctx context.Context, args []string) error {
	req, err := parseHire(args)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	svc, err := a.service(true)
	if err != nil {
		return err
	}
	result, err := svc.Hire(ctx, req)
	if err != nil {
		return err
	}
	a.writeHired(result)
	return nil
}

func (a *app) hireAuto(ctx context.Context, args []string) error {
	req, err := parseHire(args)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	svc, err := a.service(true)
	if err != nil {
		return err
	}
	result, err := svc.HireAuto(ctx, req)
	if err != nil {
		return err
	}
	a.writeHired(result)

	if result.Monitoring == nil {
		fmt.Fprintln(a.stderr, "Warning: Could not extract job ID for monitoring.")
		return nil
	}
	if result.Monitoring.Scheduled() {
		fmt.Fprintf(a.stdout, "Auto-monitoring enabled (cron: %s, every 5 min)\n", *result.Monitoring.Monitoring.CronJobID)
	} else {
		fmt.Fprintln(a.stdout, "Note: Cron not available. Use 'monitor' command to check manually.")
	}
	return writeIndented(a.stdout, result.Monitoring)
}

func (a *app) status(ctx context.Context, args []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	j, err := client.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, j.Raw)
}

func (a *app) result(ctx context.Context, args []string) error {
	svc, err := a.service(true)
	if err != nil {
		return err
	}
	report, err := svc.Result(ctx, args[0])
	if err != nil {
		return err
	}
	if !report.Completed {
		fmt.Fprintf(a.stdout, "Job not completed yet. Status: %s\n", report.Status)
		return nil
	}
	if !report.HasResult {
		fmt.Fprintln(a.stderr, "Note: Job completed without a result.")
	}
	return writeJSON(a.stdout, report.Payload)
}

func (a *app) orgs(ctx context.Context, _ []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	raw, err := client.ListOrgs(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, raw)
}

func (a *app) monitor(ctx context.Context, _ []string) error {
	active := len(a.store.Load().ActiveJobs)
	if active == 0 {
		fmt.Fprintln(a.stdout, "No active monitored jobs.")
		return nil
	}

	svc, err := a.service(true)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Checking %d active job(s)...\n", active)
	summary, err := svc.MonitorOnce(ctx)
	if summary != nil {
		writeReports(a.stdout, summary.Reports)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nSummary: %d completed, %d timed out, %d still active.\n",
		summary.Completed, summary.TimedOut, summary.StillActive)
	return nil
}

func (a *app) cleanup(ctx context.Context, _ []string) error {
	svc, err := a.service(false)
	if err != nil {
		return err
	}
	summary, err := svc.CleanupAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Cleaned up %d cron job(s) and %d tracked job(s).\n", summary.Triggers, summary.Jobs)
	return nil
}

func (a *app) statusAll(_ context.Context, _ []string) error {
	writeStatusAll(a.stdout, a.store.Load())
	return nil
}

func (a *app) doctor(ctx context.Context, _ []string) error {
	checker := health.NewChecker(a.cfg.HTTPTimeout)
	checker.Require("credential", health.Credential(a.cfg.APIKey))
	if client, err := a.client(); err == nil {
		checker.Require("marketplace", client.Ping)
	} else {
		checker.Require("marketplace", func(context.Context) error { return err })
	}
	checker.Optional("scheduler", health.Executable(a.bridge.LookPath))
	checker.Optional("state", func(context.Context) error { return a.store.Check() })

	response := checker.Run(ctx)
	for _, c := range response.Checks {
		if c.Message != "" {
			fmt.Fprintf(a.stdout, "%-12s %s (%s)\n", c.Name+":", c.Status, c.Message)
		} else {
			fmt.Fprintf(a.stdout, "%-12s %s\n", c.Name+":", c.Status)
		}
	}
	fmt.Fprintf(a.stdout, "Overall: %s\n", response.Status)

	if response.Status == health.StatusUnhealthy {
		return errUnhealthy
	}
	return nil
}

// parseHire builds a hire request from <agent_id> <json_input> <max_credits>
// [job_name].
func parseHire(args []string) (*job.HireRequest, error) {
	credits, err := strconv.Atoi(strings.TrimSpace(args[2]))
	if err != nil {
		return nil, apperrors.Input("maxCredits", "max credits must be an integer.")
	}
	req := &job.HireRequest{
		AgentID:    args[0],
		Input:      args[1],
		MaxCredits: credits,
	}
	if len(args) > 3 {
		req.Name = args[3]
	}
	return req, nil
}

// printError writes err the way the CLI reports failures: configuration and
// input problems get an "Error:" prefix, API and network errors are printed
// as is.
func printError(w io.Writer, err error) {
	switch {
	case errors.Is(err, apperrors.ErrAPI), errors.Is(err, apperrors.ErrTransport):
		fmt.Fprintln(w, err.Error())
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}
