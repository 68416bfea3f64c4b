package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Scheduler is a fake `openclaw` executable. It implements the scheduler
// bridge's Runner and keeps the set of registered triggers.
type Scheduler struct {
	mu       sync.Mutex
	next     int
	triggers map[string]string // id -> add payload
	removed  []string
	calls    int
	fail     bool
}

// NewScheduler returns a fake scheduler with no triggers.
func NewScheduler() *Scheduler {
	return &Scheduler{triggers: make(map[string]string)}
}

// SetUnavailable makes every invocation fail as if the executable were
// missing.
func (s *Scheduler) SetUnavailable(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Run handles `cron add --json <payload>` and `cron remove <id>`.
func (s *Scheduler) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.fail {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}

	switch {
	case len(args) == 4 && args[0] == "cron" && args[1] == "add" && args[2] == "--json":
		s.next++
		id := fmt.Sprintf("cron-%d", s.next)
		s.triggers[id] = args[3]
		return fmt.Appendf(nil, `{"id":%q}`, id), nil

	case len(args) == 3 && args[0] == "cron" && args[1] == "remove":
		if _, ok := s.triggers[args[2]]; !ok {
			return nil, fmt.Errorf("cron job %s not found", args[2])
		}
		delete(s.triggers, args[2])
		s.removed = append(s.removed, args[2])
		return []byte(`{"ok":true}`), nil

	default:
		return nil, fmt.Errorf("unexpected arguments %v", args)
	}
}

// Triggers returns the IDs of registered triggers, sorted.
func (s *Scheduler) Triggers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.triggers))
	for id := range s.triggers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Payload returns the add payload of a registered trigger.
func (s *Scheduler) Payload(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.triggers[id]
	return p, ok
}

// Removed returns the IDs removed so far, in order.
func (s *Scheduler) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

// Calls returns the number of invocations.
func (s *Scheduler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
