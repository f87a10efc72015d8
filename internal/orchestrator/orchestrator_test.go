package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
	"github.com/halvorsen/termpilot/internal/gateway"
	"github.com/halvorsen/termpilot/internal/trigger"
)

func slowServer(delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Write([]byte(`{"response":"SUGGESTION: try again","done":true,"done_reason":"stop"}` + "\n"))
	}))
}

func TestOrchestrator_CompletesRequestAndParsesResponse(t *testing.T) {
	srv := slowServer(0)
	defer srv.Close()

	gw := gateway.New(srv.URL, "llama3", 5*time.Second, false)
	o := New(DefaultConfig(), gw, nil)
	defer o.Stop()

	events := make(chan Event, 10)
	o.RegisterCallback(trigger.Error, func(e Event) { events <- e })

	rec := command.NewRecord("ls /nonexistent", "/tmp", time.Now(), time.Millisecond, 2, "", "no such file or directory")
	f := trigger.Firing{Rule: trigger.Rule{Name: "command_error", TriggerType: trigger.Error, Priority: 10}}

	if err := o.Submit(f, rec, nil, command.SessionContext{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completed := waitForState(t, events, Completed, 3*time.Second)
	if len(completed.Request.Result.Suggestions) != 1 {
		t.Errorf("expected 1 suggestion parsed, got %+v", completed.Request.Result)
	}
}

func waitForState(t *testing.T, ch chan Event, state RequestState, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if e.Request.State == state {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", state)
		}
	}
}

func TestOrchestrator_QueueFullReturnsErrAndIncrementsMetric(t *testing.T) {
	srv := slowServer(500 * time.Millisecond)
	defer srv.Close()

	gw := gateway.New(srv.URL, "llama3", 5*time.Second, false)
	cfg := DefaultConfig()
	cfg.QueueCapacity = 1
	cfg.MaxConcurrent = 1
	o := New(cfg, gw, nil)
	defer o.Stop()

	rec := command.NewRecord("ls /nonexistent", "/tmp", time.Now(), time.Millisecond, 2, "", "no such file or directory")

	var lastErr error
	for i := 0; i < 10; i++ {
		f := trigger.Firing{Rule: trigger.Rule{Name: "command_error", TriggerType: trigger.Error, Priority: 10}}
		// vary the record so the cache doesn't short-circuit generation
		r := rec
		r.Stderr = r.Stderr + string(rune('a'+i))
		if err := o.Submit(f, r, nil, command.SessionContext{}); err != nil {
			lastErr = err
			break
		}
	}

	if lastErr != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull eventually, got %v", lastErr)
	}
	if o.Metrics().QueueFull == 0 {
		t.Errorf("expected QueueFull metric to increment")
	}
}

func TestOrchestrator_CacheHitAvoidsSecondGeneration(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"response":"SUGGESTION: retry","done":true}` + "\n"))
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "llama3", 5*time.Second, false)
	o := New(DefaultConfig(), gw, nil)
	defer o.Stop()

	events := make(chan Event, 10)
	o.RegisterCallback(trigger.Error, func(e Event) { events <- e })

	rec := command.NewRecord("ls /nonexistent", "/tmp", time.Now(), time.Millisecond, 2, "", "no such file or directory")
	f := trigger.Firing{Rule: trigger.Rule{Name: "command_error", TriggerType: trigger.Error, Priority: 10}}

	o.Submit(f, rec, nil, command.SessionContext{})
	waitForCompletion(t, events)

	o.Submit(f, rec, nil, command.SessionContext{})
	waitForCompletion(t, events)

	if calls != 1 {
		t.Errorf("expected 1 underlying HTTP call, got %d", calls)
	}
	if o.Metrics().CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", o.Metrics().CacheHits)
	}
}

func waitForCompletion(t *testing.T, ch chan Event) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Request.State == Completed || e.Request.State == Failed {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for completion")
		}
	}
}
