package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sokosumi/internal/job"
	"sokosumi/internal/marketplace"
	"sokosumi/internal/state"
	"strconv"
	"time"
)

// Output limits
const (
	descriptionLimit = 100
	resultLimit      = 500
	recentLimit      = 10
	shortIDLength    = 12
)

// writeJSON pretty-prints a raw JSON document with two-space indentation.
func writeJSON(w io.Writer, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// writeIndented encodes v as indented JSON.
func writeIndented(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func writeAgents(w io.Writer, agents []marketplace.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents available.")
		return
	}
	for _, a := range agents {
		name := a.Name
		if name == "" {
			name = "unnamed"
		}
		fmt.Fprintf(w, "  %s  %s%s\n", a.ID, name, priceLabel(a.Pricing))
		if a.Description != "" {
			fmt.Fprintf(w, "    %s\n", truncateRunes(a.Description, descriptionLimit))
		}
	}
}

// priceLabel renders " (N credits)" or " (amount unit)" from the first
// priced amount, or nothing when the agent has no price.
func priceLabel(p *marketplace.Pricing) string {
	switch {
	case p == nil:
		return ""
	case p.Credits != 0:
		return fmt.Sprintf(" (%s credits)", strconv.FormatFloat(p.Credits, 'f', -1, 64))
	case len(p.Amounts) > 0:
		amount := "?"
		if p.Amounts[0].Amount != nil {
			amount = fmt.Sprint(p.Amounts[0].Amount)
		}
		return fmt.Sprintf(" (%s %s)", amount, p.Amounts[0].Unit)
	default:
		return ""
	}
}

func (a *app) writeHired(result *job.HireResult) {
	id := result.JobID
	if id == "" {
		id = "unknown"
	}
	status := result.Status
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(a.stdout, "Job created: %s\n", id)
	fmt.Fprintf(a.stdout, "Status: %s\n", status)
	fmt.Fprintf(a.stdout, "Jobs typically take 2-10 minutes. Check with: %s status %s\n", a.opts.Program, id)
}

func writeReports(w io.Writer, reports []job.CheckReport) {
	for _, r := range reports {
		fmt.Fprintf(w, "\n  Job %s... (check #%d)\n", shortID(r.JobID), r.Check)
		if r.Status != "" {
			fmt.Fprintf(w, "    Status: %s\n", r.Status)
		}

		switch r.Outcome {
		case job.OutcomeCompleted:
			fmt.Fprintln(w, "    Completed! Results saved. Cron cleaned up.")
			fmt.Fprintf(w, "    Result: %s\n", truncateRunes(indentResult(r.Result), resultLimit))
		case job.OutcomeFailed:
			fmt.Fprintln(w, "    Failed. Cron cleaned up.")
		case job.OutcomeTimedOut:
			if r.Err != nil {
				fmt.Fprintln(w, "    Error checking job.")
			}
			fmt.Fprintf(w, "    Timed out after %d checks. Cron cleaned up.\n", r.MaxChecks)
		case job.OutcomeError:
			fmt.Fprintln(w, "    Error checking job (will retry next cycle).")
		}
	}
}

func indentResult(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func writeStatusAll(w io.Writer, st *state.MonitorState) {
	if len(st.ActiveJobs) > 0 {
		fmt.Fprintf(w, "Active jobs (%d):\n", len(st.ActiveJobs))
		ids := make([]string, 0, len(st.ActiveJobs))
		for id := range st.ActiveJobs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			rec := st.ActiveJobs[id]
			agent := rec.AgentName
			if agent == "" {
				agent = "?"
			}
			fmt.Fprintf(w, "  %s...  agent=%s  checks=%d/%d  hired=%s\n",
				shortID(id), agent, rec.CheckCount, rec.Budget(), formatTime(&rec.HiredAt))
		}
	} else {
		fmt.Fprintln(w, "No active jobs.")
	}

	if len(st.CompletedJobs) == 0 {
		fmt.Fprintln(w, "\nNo completed jobs.")
		return
	}
	fmt.Fprintf(w, "\nRecent completed (%d):\n", len(st.CompletedJobs))
	for _, entry := range st.RecentCompleted(recentLimit) {
		id := entry.JobID
		if id == "" {
			id = "?"
		}
		fmt.Fprintf(w, "  %s...  status=%s  completed=%s\n",
			shortID(id), entry.DisplayStatus(), formatTime(entry.FinishedAt()))
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "?"
	}
	return t.UTC().Format(time.RFC3339)
}

func shortID(id string) string {
	return truncateBytes(id, shortIDLength)
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
