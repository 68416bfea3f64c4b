// Package health checks the CLI's dependencies for the doctor command.
package health

import (
	"context"
	"sokosumi/internal/apperrors"
	"strings"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response. Checks keep registration order.
type Response struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// CheckFunc inspects one dependency. A nil error is healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	required bool
	fn       CheckFunc
}

// Checker runs registered checks.
//
// A failing required check makes the whole response unhealthy. A failing
// optional check only degrades it.
type Checker struct {
	checks  []check
	timeout time.Duration
}

// NewChecker creates a checker that bounds each check by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Require registers a check whose failure is fatal.
func (c *Checker) Require(name string, fn CheckFunc) {
	c.checks = append(c.checks, check{name: name, required: true, fn: fn})
}

// Optional registers a check whose failure degrades the response.
func (c *Checker) Optional(name string, fn CheckFunc) {
	c.checks = append(c.checks, check{name: name, fn: fn})
}

// Run executes every check in registration order.
func (c *Checker) Run(ctx context.Context) *Response {
	response := &Response{Status: StatusHealthy}
	for _, chk := range c.checks {
		result := c.run(ctx, chk)
		response.Checks = append(response.Checks, result)

		switch {
		case result.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case result.Status == StatusDegraded && response.Status == StatusHealthy:
			response.Status = StatusDegraded
		}
	}
	return response
}

func (c *Checker) run(ctx context.Context, chk check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := chk.fn(ctx); err != nil {
		status := StatusDegraded
		if chk.required {
			status = StatusUnhealthy
		}
		return CheckResult{Name: chk.name, Status: status, Message: err.Error()}
	}
	return CheckResult{Name: chk.name, Status: StatusHealthy}
}

// Credential checks that an API key is configured.
func Credential(apiKey string) CheckFunc {
	return func(ctx context.Context) error {
		if strings.TrimSpace(apiKey) == "" {
			return apperrors.Configuration("SOKOSUMI_API_KEY", "SOKOSUMI_API_KEY environment variable not set.")
		}
		return nil
	}
}

// Executable checks that a program can be found, as exec.LookPath does.
func Executable(lookPath func() (string, error)) CheckFunc {
	return func(ctx context.Context) error {
		_, err := lookPath()
		return err
	}
}
