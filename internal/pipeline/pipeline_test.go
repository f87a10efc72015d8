package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
	"github.com/halvorsen/termpilot/internal/config"
	"github.com/halvorsen/termpilot/internal/shellinfo"
)

func testShell() shellinfo.Info {
	return shellinfo.Info{Name: "sh", Path: "/bin/sh", Arg: "-c"}
}

func fakeGatewayServer(response string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(response + "\n"))
	}))
}

func newTestSession(t *testing.T, ollamaURL string, onAnalysis func(Analysis)) *Session {
	t.Helper()
	cfg := config.Default()
	cfg.OllamaHost = ollamaURL
	cfg.TerminalCols, cfg.TerminalRows = 80, 24

	sess, err := New(Options{
		Config:     cfg,
		Shell:      testShell(),
		OnOutput:   func([]byte) {},
		OnAnalysis: onAnalysis,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sess
}

func waitFor(t *testing.T, timeout time.Duration, ready func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if ready() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// publishRecord exercises the sanitize -> window -> trigger ->
// orchestrator chain directly, bypassing the PTY/prompt-boundary
// heuristic that internal/command already tests on its own.
func TestSession_PublishRecordFiresAnalysisOnCommandError(t *testing.T) {
	srv := fakeGatewayServer(`{"response":"SUGGESTION: check the path","done":true}`)
	defer srv.Close()

	var mu sync.Mutex
	var got []Analysis
	sess := newTestSession(t, srv.URL, func(a Analysis) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})
	defer sess.Shutdown()

	rec := command.NewRecord("ls /nonexistent", "/tmp", time.Now(), time.Millisecond, 2, "",
		"ls: cannot access '/nonexistent': No such file or directory")
	sess.publishRecord(rec)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, a := range got {
		if strings.Contains(a.Command, "nonexistent") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an analysis referencing the failing command, got %+v", got)
	}
}

func TestSession_PublishRecordSanitizesBeforeWindowing(t *testing.T) {
	sess := newTestSession(t, "http://127.0.0.1:0", func(Analysis) {})
	defer sess.Shutdown()

	rec := command.NewRecord("export API_TOKEN=ghp_"+strings.Repeat("a1", 18), "/tmp", time.Now(), 0, 0, "", "")
	sess.publishRecord(rec)

	stats := sess.Stats()
	if stats.Window.Total != 1 {
		t.Fatalf("expected 1 record in window, got %d", stats.Window.Total)
	}
}

func TestSession_ApplyOverridesDisablesTrigger(t *testing.T) {
	srv := fakeGatewayServer(`{"response":"SUGGESTION: x","done":true}`)
	defer srv.Close()

	sess := newTestSession(t, srv.URL, func(Analysis) {})
	defer sess.Shutdown()

	disabled := false
	sess.ApplyOverrides(config.Config{Overrides: config.Overrides{
		Triggers: map[string]config.TriggerOverride{
			"command_error": {Enabled: &disabled},
		},
	}})

	rec := command.NewRecord("false", "/tmp", time.Now(), time.Millisecond, 1, "", "")
	sess.publishRecord(rec)

	stats := sess.Stats()
	if stats.Orchestrator.Submitted != 0 {
		t.Errorf("expected no submissions after disabling command_error, got %+v", stats.Orchestrator)
	}
}

func TestSession_SubmitManualAlwaysFires(t *testing.T) {
	srv := fakeGatewayServer(`{"response":"SUGGESTION: try running it again","done":true}`)
	defer srv.Close()

	var mu sync.Mutex
	var got []Analysis
	sess := newTestSession(t, srv.URL, func(a Analysis) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})
	defer sess.Shutdown()

	if err := sess.SubmitManual("what does this mean"); err != nil {
		t.Fatalf("SubmitManual: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})
}
