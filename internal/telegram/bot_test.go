package telegram

import (
	"strings"
	"testing"

	"github.com/mtzanidakis/sminos/internal/store"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	msg := make([]byte, 4096)
	for i := range msg {
		msg[i] = 'a'
	}
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	msg = make([]byte, 8192)
	for i := range msg {
		msg[i] = 'a'
	}
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg = make([]byte, 5000)
	for i := range msg {
		msg[i] = 'a'
	}
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestToTelegramMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold**", "*bold*"},
		{"hello **world**!", "hello *world*!"},
		{"**a** and **b**", "*a* and *b*"},
		{"no bold here", "no bold here"},
		{"*already single*", "*already single*"},
	}
	for _, tt := range tests {
		got := toTelegramMarkdown(tt.in)
		if got != tt.want {
			t.Errorf("toTelegramMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, cmd, args string
	}{
		{"/status", "/status", ""},
		{"/status@sminos_bot", "/status", ""},
		{"/run fix the flaky tests", "/run", "fix the flaky tests"},
		{"/run@sminos_bot @perf tune the caches", "/run", "@perf tune the caches"},
		{"  /pause abc  ", "/pause", "abc"},
		{"hello there", "hello", "there"},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.cmd || args != tt.args {
			t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)", tt.in, cmd, args, tt.cmd, tt.args)
		}
	}
}

func TestFormatRunLine(t *testing.T) {
	r := store.SwarmRun{
		ID:              "0b7a9d3e-50c1-4a8f-9a51-4dfb3c2a9910",
		Status:          "completed",
		StopReason:      "plan_complete",
		CyclesCompleted: 3,
		Request:         "clear the remediation backlog",
	}
	got := formatRunLine(r)
	want := "0b7a9d3e completed (plan_complete), 3 cycle(s): clear the remediation backlog"
	if got != want {
		t.Errorf("formatRunLine = %q, want %q", got, want)
	}

	running := store.SwarmRun{ID: "short", Status: "running"}
	if got := formatRunLine(running); got != "short running" {
		t.Errorf("formatRunLine running = %q", got)
	}
}

func TestFormatRunLineTruncatesRequest(t *testing.T) {
	r := store.SwarmRun{
		ID:      "0b7a9d3e-50c1-4a8f-9a51-4dfb3c2a9910",
		Status:  "running",
		Request: strings.Repeat("x", 100),
	}
	got := formatRunLine(r)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated request, got %q", got)
	}
	if len(got) > len("0b7a9d3e running: ")+64+3 {
		t.Errorf("line too long: %d chars", len(got))
	}
}

func TestFormatEvent(t *testing.T) {
	runID := "0b7a9d3e-50c1-4a8f-9a51-4dfb3c2a9910"

	got := formatEvent("cycle_completed", runID, map[string]any{
		"cycle": float64(2), "ok": true, "executed": float64(4),
		"resolved": float64(3), "next_agents": float64(5),
	})
	want := "Run 0b7a9d3e cycle 2 completed: 4 agent(s) executed, 3 item(s) resolved, next 5."
	if got != want {
		t.Errorf("cycle event = %q, want %q", got, want)
	}

	got = formatEvent("run_completed", runID, map[string]any{
		"stop_reason": "cycle_failed", "cycles": float64(1), "ok": false,
	})
	want = "Run 0b7a9d3e failed: cycle_failed after 1 cycle(s)."
	if got != want {
		t.Errorf("run event = %q, want %q", got, want)
	}

	if got := formatEvent("cycle_started", runID, nil); got != "" {
		t.Errorf("expected empty string for unnotified event type, got %q", got)
	}
}
