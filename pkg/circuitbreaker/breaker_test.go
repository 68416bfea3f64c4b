package circuitbreaker

import (
	"sync"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero", Config{}},
		{"negative", Config{Threshold: -1}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := New(tt.cfg)
			for i := 0; i < DefaultThreshold-1; i++ {
				b.RecordFailure()
			}
			if b.State() != Closed {
				t.Fatalf("expected closed after %d failures", DefaultThreshold-1)
			}
			b.RecordFailure()
			if b.State() != Open {
				t.Fatalf("expected open after %d failures", DefaultThreshold)
			}
		})
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("expected open after three consecutive failures, got %s", b.State())
	}
}

func TestBreaker_StaysOpen(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 1})

	if !b.Allow() {
		t.Fatal("expected new breaker to allow calls")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Error("expected open breaker to reject")
	}

	b.RecordSuccess()
	if b.Allow() || b.State() != Open {
		t.Errorf("expected success not to close an open breaker, got %s", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	var transitions []string
	b := New(Config{
		Threshold: 2,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure() // already open

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 50})

	var wg sync.WaitGroup
	for i := 0; i < 49; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow()
			b.RecordFailure()
		}()
	}
	wg.Wait()

	if b.State() != Closed {
		t.Fatalf("expected closed after 49 failures, got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("expected open after 50 failures, got %s", b.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		Closed:    "closed",
		Open:      "open",
		State(42): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
