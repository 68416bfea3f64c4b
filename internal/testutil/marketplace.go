// Package testutil provides fakes for the marketplace API and the external
// scheduler.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Request is a request received by a Marketplace.
type Request struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

// Marketplace is an in-memory marketplace API served over HTTP.
//
// Job documents are returned wrapped in {"data": ...}. A job with a failure
// status set answers with that status code instead.
type Marketplace struct {
	Server *httptest.Server

	mu       sync.Mutex
	jobs     map[string]string
	failures map[string]int
	agents   string
	created  string
	down     bool
	requests []Request
}

// NewMarketplace starts a fake marketplace and closes it when the test ends.
// The API base URL is m.URL().
func NewMarketplace(tb testing.TB) *Marketplace {
	tb.Helper()
	m := &Marketplace{
		jobs:     make(map[string]string),
		failures: make(map[string]int),
		agents:   `{"data":[]}`,
		created:  `{"data":{"id":"job-new","status":"started"}}`,
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	tb.Cleanup(m.Server.Close)
	return m
}

// URL returns the API base URL, including the /v1 prefix.
func (m *Marketplace) URL() string {
	return m.Server.URL + "/v1"
}

// SetJob sets the document returned for GET /jobs/{id}.
func (m *Marketplace) SetJob(id, doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = doc
	delete(m.failures, id)
}

// SetJobStatus sets a job document with only an id and status.
func (m *Marketplace) SetJobStatus(id, status string) {
	m.SetJob(id, fmt.Sprintf(`{"id":%q,"status":%q}`, id, status))
}

// FailJob makes GET /jobs/{id} answer with code.
func (m *Marketplace) FailJob(id string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = code
}

// SetAgents sets the raw body returned for GET /agents.
func (m *Marketplace) SetAgents(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = body
}

// SetCreated sets the raw body returned for POST /agents/{id}/jobs.
func (m *Marketplace) SetCreated(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = body
}

// SetDown makes every request answer 503.
func (m *Marketplace) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Requests returns the requests received so far.
func (m *Marketplace) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// CountPath returns how many requests hit path (without the /v1 prefix).
func (m *Marketplace) CountPath(path string) int {
	n := 0
	for _, r := range m.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (m *Marketplace) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/v1")

	m.mu.Lock()
	m.requests = append(m.requests, Request{
		Method: r.Method,
		Path:   path,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	down := m.down
	m.mu.Unlock()

	if down {
		writeRaw(w, http.StatusServiceUnavailable, `{"error":"unavailable"}`)
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && path == "/agents":
		m.mu.Lock()
		agents := m.agents
		m.mu.Unlock()
		writeRaw(w, http.StatusOK, agents)

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "agents":
		writeRaw(w, http.StatusOK, fmt.Sprintf(`{"data":{"id":%q,"name":"Agent %s"}}`, parts[1], parts[1]))

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "agents" && parts[2] == "jobs":
		if !json.Valid(body) {
			writeRaw(w, http.StatusBadRequest, `{"error":"invalid body"}`)
			return
		}
		m.mu.Lock()
		created := m.created
		m.mu.Unlock()
		writeRaw(w, http.StatusCreated, created)

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "jobs":
		m.mu.Lock()
		doc, ok := m.jobs[parts[1]]
		code, failing := m.failures[parts[1]]
		m.mu.Unlock()
		switch {
		case failing:
			writeRaw(w, code, `{"error":"failure"}`)
		case !ok:
			writeRaw(w, http.StatusNotFound, `{"error":"job not found"}`)
		default:
			writeRaw(w, http.StatusOK, `{"data":`+doc+`}`)
		}

	case r.Method == http.MethodGet && path == "/orgs":
		writeRaw(w, http.StatusOK, `{"data":[{"id":"org-1","name":"Acme"}]}`)

	default:
		writeRaw(w, http.StatusNotFound, `{"error":"no route"}`)
	}
}

func writeRaw(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
