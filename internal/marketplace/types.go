package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Remote job states reported by GET /jobs/{id}.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Agent is a hireable agent listed on the marketplace.
type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Pricing     *Pricing `json:"pricing,omitempty"`
}

// Pricing describes what an agent charges. Either Credits or Amounts is set.
type Pricing struct {
	Type    string   `json:"type,omitempty"`
	Credits float64  `json:"credits,omitempty"`
	Amounts []Amount `json:"amounts,omitempty"`
}

// Amount is one priced unit. The API sends amounts as numbers or strings.
type Amount struct {
	Amount any    `json:"amount,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// Job is a marketplace job. Raw keeps the unwrapped document as received.
type Job struct {
	ID              string          `json:"id,omitempty"`
	JobID           string          `json:"jobId,omitempty"`
	AgentID         string          `json:"agentId,omitempty"`
	Name            string          `json:"name,omitempty"`
	Status          string          `json:"status,omitempty"`
	MasumiJobStatus string          `json:"masumiJobStatus,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Identifier returns the job's ID, falling back to jobId.
func (j *Job) Identifier() string {
	if j.ID != "" {
		return j.ID
	}
	return j.JobID
}

// ResultPayload returns the job's result, falling back to output, then to an
// empty object. JSON null counts as absent.
func (j *Job) ResultPayload() json.RawMessage {
	if present(j.Result) {
		return j.Result
	}
	if present(j.Output) {
		return j.Output
	}
	return json.RawMessage("{}")
}

// HasResult reports whether the job carries a non-null result or output.
func (j *Job) HasResult() bool {
	return present(j.Result) || present(j.Output)
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// CreateJobRequest is the body of POST /agents/{id}/jobs.
type CreateJobRequest struct {
	InputData          json.RawMessage `json:"inputData"`
	MaxAcceptedCredits int             `json:"maxAcceptedCredits"`
	Name               string          `json:"name,omitempty"`
}

// ListAgents returns all agents. The list may arrive under "data", under
// "agents", or as a bare array.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/agents", nil)
	if err != nil {
		return nil, err
	}

	var agents []Agent
	if err := json.Unmarshal(raw, &agents); err == nil {
		return agents, nil
	}

	var envelope struct {
		Data   []Agent `json:"data"`
		Agents []Agent `json:"agents"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode agents: %w", err)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return envelope.Agents, nil
}

// GetAgent returns the raw agent document.
func (c *Client) GetAgent(ctx context.Context, agentID string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil)
}

// CreateJob hires an agent.
func (c *Client) CreateJob(ctx context.Context, agentID string, req *CreateJobRequest) (*Job, error) {
	raw, err := c.Do(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/jobs", req)
	if err != nil {
		return nil, err
	}
	return decodeJob(raw)
}

// GetJob returns a job's current state.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	return decodeJob(raw)
}

// Ping checks that the API is reachable and accepts the key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, http.MethodGet, "/agents", nil)
	return err
}

// ListOrgs returns the raw organizations document.
func (c *Client) ListOrgs(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/orgs", nil)
}

func decodeJob(raw json.RawMessage) (*Job, error) {
	data := UnwrapData(raw)
	job := &Job{Raw: data}
	if !present(data) {
		return job, nil
	}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}
