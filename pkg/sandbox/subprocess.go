package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// maxLineSize bounds a single stdout line. Workers emit one JSON
	// object per line; anything larger is a worker bug.
	maxLineSize = 1024 * 1024
	// maxStderrBytes bounds how much stderr is retained for error
	// reporting. The rest is still drained so the worker never blocks.
	maxStderrBytes = 64 * 1024
)

// SubprocessRunner executes the worker directly on the host, inside the
// agent's own directory. The container image and timeouts in the agent
// descriptor are ignored; this backend exists for local development.
type SubprocessRunner struct {
	AgentsDir string
	// LocalCommand overrides the worker launch command. Empty means the
	// default uv invocation.
	LocalCommand []string
}

// NewSubprocessRunner returns a runner launching workers from agentsDir.
func NewSubprocessRunner(agentsDir string) *SubprocessRunner {
	return &SubprocessRunner{AgentsDir: agentsDir}
}

func (r *SubprocessRunner) command() []string {
	if len(r.LocalCommand) > 0 {
		return r.LocalCommand
	}
	return []string{"uv", "run", "python", "run_agent.py"}
}

// Run implements Runner.
func (r *SubprocessRunner) Run(ctx context.Context, req RunRequest) <-chan AgentEvent {
	events := make(chan AgentEvent, 16)
	go func() {
		defer close(events)
		r.run(ctx, req, events)
	}()
	return events
}

func (r *SubprocessRunner) run(ctx context.Context, req RunRequest, events chan<- AgentEvent) {
	agentPath := filepath.Join(r.AgentsDir, req.Agent.ID)
	if _, err := os.Stat(agentPath); err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Agent path not found: %s", agentPath), ""))
		return
	}

	workspace := filepath.Join(agentPath, "workspace", req.SessionID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Could not create workspace: %v", err), ""))
		return
	}
	if err := os.WriteFile(filepath.Join(workspace, "prompt.txt"), []byte(req.Prompt), 0o644); err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Could not write prompt: %v", err), ""))
		return
	}
	if req.History != "" {
		if err := os.WriteFile(filepath.Join(workspace, "history.txt"), []byte(req.History), 0o644); err != nil {
			emit(ctx, events, errorEvent(fmt.Sprintf("Could not write history: %v", err), ""))
			return
		}
	}

	emit(ctx, events, statusEvent("Starting agent locally..."))

	args := r.command()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = agentPath
	cmd.Env = append(os.Environ(), "AGENT_WORKSPACE="+workspace)
	for name, value := range req.Env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Could not open agent stdout: %v", err), ""))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Could not open agent stderr: %v", err), ""))
		return
	}

	slog.Info("Executing agent command",
		"agent_id", req.Agent.ID,
		"session_id", req.SessionID,
		"command", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Could not execute agent command: %v", args), ""))
		return
	}

	// Drain stderr concurrently so the worker never blocks on a full
	// pipe. The first maxStderrBytes are kept for the error message.
	stderrDone := make(chan string, 1)
	go func() {
		stderrDone <- drainStderr(stderr)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !emit(ctx, events, decodeLine(line)) {
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		slog.Error("Error reading agent stdout", "error", err)
		emit(ctx, events, errorEvent(err.Error(), ""))
	}

	stderrText := <-stderrDone
	err = cmd.Wait()
	if ctx.Err() != nil {
		return
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		msg := fmt.Sprintf("Agent exited with code %d", exitErr.ExitCode())
		if stderrText != "" {
			msg += ": " + stderrText
		}
		slog.Error("Agent subprocess failed", "error", msg)
		emit(ctx, events, errorEvent(msg, stderrText))
	} else if err != nil {
		emit(ctx, events, errorEvent(fmt.Sprintf("Agent execution failed: %v", err), ""))
	}
}

// drainStderr reads stderr to EOF, retaining a bounded prefix.
func drainStderr(r io.Reader) string {
	var kept strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), " \t")
		if text == "" {
			continue
		}
		slog.Debug("Agent stderr", "line", text)
		if kept.Len() < maxStderrBytes {
			if kept.Len() > 0 {
				kept.WriteByte('\n')
			}
			kept.WriteString(text)
		}
	}
	return strings.TrimSpace(kept.String())
}

// emit sends one event unless ctx is already canceled. Returns false when
// the caller should stop producing.
func emit(ctx context.Context, events chan<- AgentEvent, ev AgentEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
