// Package claude runs the Claude Code CLI as a subprocess and normalizes its
// JSON output. One process may be in flight per channel key; the runner
// tracks them so they can be listed and killed.
package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single CLI invocation.
const DefaultTimeout = 300 * time.Second

// waitGrace caps how long Wait may block on inherited pipes after the
// process is cancelled. The CLI's descendants keep stdout open, so without
// it a timed-out run would not return until the last grandchild exits.
const waitGrace = 5 * time.Second

// Client is the contract the orchestrator programs against. It exists so
// tests can substitute a stub for the real CLI.
type Client interface {
	// Run invokes the CLI once and returns a normalized response.
	// Failures never surface as errors; they are encoded in the
	// response's IsError flag.
	Run(ctx context.Context, req Request) Response

	// Kill terminates the in-flight process for one channel key.
	// Returns the number of processes killed (0 or 1).
	Kill(channelKey string) int

	// KillAll terminates every in-flight process and returns the count.
	KillAll() int

	// IsRunning reports whether the channel key has a live process.
	IsRunning(channelKey string) bool

	// IsAnyRunning reports whether any channel has a live process.
	IsAnyRunning() bool

	// RunningCount returns the number of live processes.
	RunningCount() int

	// MaxBudget returns the current per-turn spend ceiling in USD.
	MaxBudget() float64

	// SetMaxBudget changes the spend ceiling for subsequent runs.
	SetMaxBudget(usd float64)
}

// Request describes one CLI invocation. Zero-valued optional fields fall
// back to the runner's configured defaults.
type Request struct {
	Prompt       string
	ChannelKey   string
	Model        string  // override; empty uses the configured default
	SessionID    string  // resume token from a prior turn
	SystemPrompt string  // optional --system-prompt
	MaxBudgetUSD float64 // override; zero uses the configured ceiling
	WorkDir      string  // override; empty uses the configured directory
}

// Response is the normalized result of one invocation. Consumed once by the
// orchestrator; never persisted.
type Response struct {
	Text         string
	SessionID    string
	CostUSD      float64
	DurationSecs float64
	IsError      bool
}

// procHandle tracks one in-flight process. done is closed by the waiter
// just before the registry entry is removed, so Kill racing with natural
// completion is harmless.
type procHandle struct {
	proc *os.Process
	done chan struct{}
}

func (h *procHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Options configures a Runner.
type Options struct {
	// Bin is the CLI executable name or path. Defaults to "claude",
	// resolved from PATH at run time.
	Bin string

	// Model is the default model for runs without an override.
	Model string

	// MaxBudgetUSD is the default per-turn spend ceiling.
	MaxBudgetUSD float64

	// AllowedTools, when non-empty, is passed as --allowedTools.
	AllowedTools []string

	// WorkDir is the default working directory for the CLI.
	WorkDir string

	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Runner shells out to the Claude Code CLI. Safe for concurrent use across
// channel keys; at most one process is tracked per key.
type Runner struct {
	bin          string
	model        string
	allowedTools []string
	workDir      string
	timeout      time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	maxBudget float64
	running   map[string]*procHandle
}

// NewRunner creates a Runner from opts.
func NewRunner(opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	bin := opts.Bin
	if bin == "" {
		bin = "claude"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		bin:          bin,
		model:        opts.Model,
		maxBudget:    opts.MaxBudgetUSD,
		allowedTools: opts.AllowedTools,
		workDir:      opts.WorkDir,
		timeout:      timeout,
		logger:       logger.With("component", "claude"),
	}
}

// Run invokes the CLI once for the request's channel key. The process is
// registered before waiting and unregistered before returning, on every
// path. A channel key with a process already in flight is rejected rather
// than silently overwritten.
func (r *Runner) Run(ctx context.Context, req Request) Response {
	args := r.buildArgs(req)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.bin, args...)
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProcTree(cmd.Process) }
	cmd.WaitDelay = waitGrace
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	} else {
		cmd.Dir = r.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info("running claude",
		"channel", req.ChannelKey,
		"model", r.resolveModel(req),
		"resume", req.SessionID != "",
	)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Response{
				Text:      fmt.Sprintf("Claude CLI not found on PATH (%q). Is it installed?", r.bin),
				SessionID: req.SessionID,
				IsError:   true,
			}
		}
		return Response{
			Text:      fmt.Sprintf("Failed to run Claude CLI: %v", err),
			SessionID: req.SessionID,
			IsError:   true,
		}
	}

	handle := &procHandle{proc: cmd.Process, done: make(chan struct{})}
	if err := r.register(req.ChannelKey, handle); err != nil {
		_ = killProcTree(cmd.Process)
		_ = cmd.Wait()
		return Response{
			Text:      err.Error(),
			SessionID: req.SessionID,
			IsError:   true,
		}
	}

	waitErr := cmd.Wait()
	close(handle.done)
	r.unregister(req.ChannelKey, handle)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("claude run timed out", "channel", req.ChannelKey, "timeout", r.timeout)
		return Response{
			Text:         fmt.Sprintf("Claude timed out after %.0fs.", r.timeout.Seconds()),
			SessionID:    req.SessionID,
			DurationSecs: r.timeout.Seconds(),
			IsError:      true,
		}
	}

	raw := stdout.String()
	if strings.TrimSpace(raw) == "" {
		raw = stderr.String()
	}

	// A non-zero exit with output is still parsed: the CLI reports its own
	// failures through the is_error field of the JSON payload.
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return Response{
			Text:      fmt.Sprintf("Failed to run Claude CLI: %v", waitErr),
			SessionID: req.SessionID,
			IsError:   true,
		}
	}

	return parseOutput(raw, req.SessionID)
}

// Kill terminates the process for one channel key. No-op when none runs.
func (r *Runner) Kill(channelKey string) int {
	r.mu.Lock()
	handle, ok := r.running[channelKey]
	if ok {
		delete(r.running, channelKey)
	}
	r.mu.Unlock()

	if !ok || handle.exited() {
		return 0
	}
	_ = killProcTree(handle.proc)
	r.logger.Info("killed claude process", "channel", channelKey)
	return 1
}

// KillAll terminates every tracked process and returns how many were killed.
func (r *Runner) KillAll() int {
	r.mu.Lock()
	handles := r.running
	r.running = nil
	r.mu.Unlock()

	killed := 0
	for key, handle := range handles {
		if handle.exited() {
			continue
		}
		_ = killProcTree(handle.proc)
		killed++
		r.logger.Info("killed claude process", "channel", key)
	}
	return killed
}

// IsRunning reports whether the channel key has a not-yet-exited process.
func (r *Runner) IsRunning(channelKey string) bool {
	r.mu.Lock()
	handle, ok := r.running[channelKey]
	r.mu.Unlock()
	return ok && !handle.exited()
}

// IsAnyRunning reports whether any channel has a not-yet-exited process.
func (r *Runner) IsAnyRunning() bool {
	return r.RunningCount() > 0
}

// RunningCount returns the number of not-yet-exited tracked processes.
func (r *Runner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, handle := range r.running {
		if !handle.exited() {
			count++
		}
	}
	return count
}

// MaxBudget returns the current per-turn spend ceiling.
func (r *Runner) MaxBudget() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxBudget
}

// SetMaxBudget changes the spend ceiling. Affects subsequent runs only.
func (r *Runner) SetMaxBudget(usd float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxBudget = usd
}

// register claims the channel key's process slot. A busy slot is an error:
// two completion handlers for the same channel must never race, and a
// silently overwritten entry would orphan a killable handle.
func (r *Runner) register(channelKey string, handle *procHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running == nil {
		r.running = make(map[string]*procHandle)
	}
	if existing, ok := r.running[channelKey]; ok && !existing.exited() {
		return fmt.Errorf("a Claude run is already in progress for this channel")
	}
	r.running[channelKey] = handle
	return nil
}

func (r *Runner) unregister(channelKey string, handle *procHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Kill may already have removed (or replaced) the entry.
	if current, ok := r.running[channelKey]; ok && current == handle {
		delete(r.running, channelKey)
	}
}

func (r *Runner) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return r.model
}

// buildArgs assembles the CLI argument list for a request.
func (r *Runner) buildArgs(req Request) []string {
	budget := req.MaxBudgetUSD
	if budget <= 0 {
		budget = r.MaxBudget()
	}

	args := []string{
		"-p", req.Prompt,
		"--output-format", "json",
		"--dangerously-skip-permissions",
		"--model", r.resolveModel(req),
		"--max-budget-usd", strconv.FormatFloat(budget, 'f', -1, 64),
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if len(r.allowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(r.allowedTools, ","))
	}
	return args
}

// Compile-time interface verification.
var _ Client = (*Runner)(nil)
