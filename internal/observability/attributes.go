// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrOutcome = "outcome"
	attrOp      = "op"
	attrSuccess = "success"
	attrMonitor = "monitored"
)

// Transition outcomes recorded by RecordJobTransition.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeCleanedUp = "cleaned_up"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx; 0 means no response at all
	if code == 0 {
		return attribute.String(attrStatus, "none")
	}
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func monitoredAttr(monitored bool) attribute.KeyValue {
	return attribute.Bool(attrMonitor, monitored)
}

// normalizePath replaces agent and job IDs with placeholders.
//
//	/agents/abc        -> /agents/{agentId}
//	/agents/abc/jobs   -> /agents/{agentId}/jobs
//	/jobs/xyz          -> /jobs/{jobId}
func normalizePath(path string) string {
	path, _, _ = strings.Cut(path, "?")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return path
	}
	switch parts[0] {
	case "agents":
		parts[1] = "{agentId}"
	case "jobs":
		parts[1] = "{jobId}"
	default:
		return path
	}
	return "/" + strings.Join(parts, "/")
}

// WithOutcome returns a metric option with the outcome attribute.
func WithOutcome(outcome string) metric.MeasurementOption {
	return metric.WithAttributes(outcomeAttr(outcome))
}
