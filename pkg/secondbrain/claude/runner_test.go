package claude

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeCLI writes an executable shell script standing in for the claude
// binary and returns its path.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_ParsesSuccessfulInvocation(t *testing.T) {
	t.Parallel()

	bin := fakeCLI(t, `echo '{"result":"hi there","session_id":"s1","total_cost_usd":0.05,"duration_ms":1000,"is_error":false}'`)
	r := NewRunner(Options{Bin: bin, Model: "sonnet", MaxBudgetUSD: 1.0}, nil)

	resp := r.Run(context.Background(), Request{Prompt: "hello", ChannelKey: "42"})

	if resp.IsError {
		t.Fatalf("unexpected error response: %q", resp.Text)
	}
	if resp.Text != "hi there" || resp.SessionID != "s1" {
		t.Errorf("got %+v", resp)
	}
	if resp.DurationSecs != 1.0 {
		t.Errorf("DurationSecs = %v, want 1.0", resp.DurationSecs)
	}
	if r.IsRunning("42") {
		t.Error("process still registered after Run returned")
	}
}

func TestRun_FallsBackToStderrWhenStdoutEmpty(t *testing.T) {
	t.Parallel()

	bin := fakeCLI(t, `echo '{"result":"from stderr"}' >&2`)
	r := NewRunner(Options{Bin: bin, Model: "sonnet", MaxBudgetUSD: 1.0}, nil)

	resp := r.Run(context.Background(), Request{Prompt: "x", ChannelKey: "1"})
	if resp.Text != "from stderr" {
		t.Errorf("Text = %q, want stderr payload", resp.Text)
	}
}

func TestRun_BinaryNotFound(t *testing.T) {
	t.Parallel()

	r := NewRunner(Options{Bin: filepath.Join(t.TempDir(), "no-such-cli"), Model: "sonnet"}, nil)
	resp := r.Run(context.Background(), Request{Prompt: "x", ChannelKey: "1", SessionID: "prev"})

	if !resp.IsError {
		t.Fatal("missing binary must yield an error response")
	}
	if resp.SessionID != "prev" {
		t.Errorf("SessionID = %q, want the request's", resp.SessionID)
	}
	if resp.CostUSD != 0 || resp.DurationSecs != 0 {
		t.Errorf("cost/duration = %v/%v, want zero", resp.CostUSD, resp.DurationSecs)
	}
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	bin := fakeCLI(t, `sleep 5`)
	r := NewRunner(Options{Bin: bin, Model: "sonnet", Timeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	resp := r.Run(context.Background(), Request{Prompt: "x", ChannelKey: "42", SessionID: "prev"})

	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout did not take effect")
	}
	if !resp.IsError {
		t.Fatal("timeout must yield an error response")
	}
	if resp.SessionID != "prev" {
		t.Errorf("SessionID = %q, want the request's", resp.SessionID)
	}
	if resp.DurationSecs != 0.1 {
		t.Errorf("DurationSecs = %v, want the timeout value", resp.DurationSecs)
	}
	if r.IsRunning("42") {
		t.Error("timed-out process still registered")
	}
}

func TestRun_TimeoutKillsProcessTree(t *testing.T) {
	t.Parallel()

	// The backgrounded child inherits stdout. The run must still return at
	// the deadline instead of waiting for the grandchild to exit.
	bin := fakeCLI(t, "sleep 5 &\nsleep 5")
	r := NewRunner(Options{Bin: bin, Model: "sonnet", Timeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	resp := r.Run(context.Background(), Request{Prompt: "x", ChannelKey: "7"})

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("run returned after %v, the process tree outlived the deadline", elapsed)
	}
	if !resp.IsError {
		t.Fatal("timeout must yield an error response")
	}
	if r.IsRunning("7") {
		t.Error("timed-out process still registered")
	}
}

func TestRun_NonZeroExitOutputStillParsed(t *testing.T) {
	t.Parallel()

	bin := fakeCLI(t, `echo '{"result":"over budget","is_error":true}'; exit 1`)
	r := NewRunner(Options{Bin: bin, Model: "sonnet"}, nil)

	resp := r.Run(context.Background(), Request{Prompt: "x", ChannelKey: "1"})
	if resp.Text != "over budget" || !resp.IsError {
		t.Errorf("got %+v, want the CLI's own error payload", resp)
	}
}

func TestRun_RejectsSecondRunForBusyChannel(t *testing.T) {
	t.Parallel()

	bin := fakeCLI(t, `sleep 2; echo '{"result":"late"}'`)
	r := NewRunner(Options{Bin: bin, Model: "sonnet", Timeout: 10 * time.Second}, nil)

	done := make(chan Response, 1)
	go func() {
		done <- r.Run(context.Background(), Request{Prompt: "first", ChannelKey: "42"})
	}()

	// Wait until the first run has registered.
	deadline := time.Now().Add(2 * time.Second)
	for !r.IsRunning("42") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !r.IsRunning("42") {
		t.Fatal("first run never registered")
	}

	resp := r.Run(context.Background(), Request{Prompt: "second", ChannelKey: "42"})
	if !resp.IsError {
		t.Error("second run for a busy channel should be rejected")
	}
	if !strings.Contains(resp.Text, "already in progress") {
		t.Errorf("Text = %q, want a busy-channel message", resp.Text)
	}

	r.Kill("42")
	<-done
}

func TestKill_NoProcesses(t *testing.T) {
	t.Parallel()

	r := NewRunner(Options{Model: "sonnet"}, nil)
	if got := r.Kill("42"); got != 0 {
		t.Errorf("Kill = %d, want 0", got)
	}
	if got := r.KillAll(); got != 0 {
		t.Errorf("KillAll = %d, want 0", got)
	}
}

func TestKillAll_TerminatesEverything(t *testing.T) {
	t.Parallel()

	bin := fakeCLI(t, `sleep 10`)
	r := NewRunner(Options{Bin: bin, Model: "sonnet", Timeout: 30 * time.Second}, nil)

	done := make(chan struct{})
	for _, key := range []string{"a", "b", "c"} {
		go func(k string) {
			r.Run(context.Background(), Request{Prompt: "x", ChannelKey: k})
			done <- struct{}{}
		}(key)
	}

	deadline := time.Now().Add(3 * time.Second)
	for r.RunningCount() != 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := r.RunningCount(); got != 3 {
		t.Fatalf("RunningCount = %d, want 3", got)
	}
	if !r.IsAnyRunning() {
		t.Error("IsAnyRunning = false with three live processes")
	}

	if got := r.KillAll(); got != 3 {
		t.Errorf("KillAll = %d, want 3", got)
	}

	for i := 0; i < 3; i++ {
		<-done
	}
	if got := r.RunningCount(); got != 0 {
		t.Errorf("RunningCount after KillAll = %d, want 0", got)
	}
}

func TestSetMaxBudget(t *testing.T) {
	t.Parallel()

	r := NewRunner(Options{Model: "sonnet", MaxBudgetUSD: 1.0}, nil)
	if got := r.MaxBudget(); got != 1.0 {
		t.Errorf("MaxBudget = %v, want 1.0", got)
	}
	r.SetMaxBudget(2.5)
	if got := r.MaxBudget(); got != 2.5 {
		t.Errorf("MaxBudget = %v, want 2.5", got)
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	r := NewRunner(Options{
		Model:        "sonnet",
		MaxBudgetUSD: 1.5,
		AllowedTools: []string{"Read", "Write"},
	}, nil)

	args := r.buildArgs(Request{
		Prompt:       "hello",
		SessionID:    "sid-1",
		SystemPrompt: "be brief",
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-p hello",
		"--output-format json",
		"--dangerously-skip-permissions",
		"--model sonnet",
		"--max-budget-usd 1.5",
		"--resume sid-1",
		"--system-prompt be brief",
		"--allowedTools Read,Write",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
}

func TestBuildArgs_OmitsOptionalFlags(t *testing.T) {
	t.Parallel()

	r := NewRunner(Options{Model: "sonnet", MaxBudgetUSD: 1.0}, nil)
	joined := strings.Join(r.buildArgs(Request{Prompt: "x"}), " ")

	for _, banned := range []string{"--resume", "--system-prompt", "--allowedTools"} {
		if strings.Contains(joined, banned) {
			t.Errorf("args should not contain %s when unset: %s", banned, joined)
		}
	}
}
