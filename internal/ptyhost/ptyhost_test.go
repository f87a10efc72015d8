package ptyhost

import (
	"strings"
	"testing"
	"time"
)

func TestHost_StreamsOutput(t *testing.T) {
	h, err := Start("/bin/sh", "-c", 80, 24)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	if err := h.Write([]byte("echo hello-pty\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var collected strings.Builder
	deadline := time.After(3 * time.Second)
	for {
		select {
		case chunk, ok := <-h.Output():
			if !ok {
				t.Fatal("output channel closed before seeing expected text")
			}
			collected.Write(chunk)
			if strings.Contains(collected.String(), "hello-pty") {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for output, got: %q", collected.String())
		}
	}
}

func TestHost_StopTerminatesChild(t *testing.T) {
	h, err := Start("/bin/sh", "-c", 80, 24)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Stop()

	select {
	case <-h.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("Closed event never fired after Stop")
	}
}
