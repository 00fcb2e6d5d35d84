package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// Container labels identifying agent sandboxes and their lifecycle limits.
const (
	LabelType        = "mobox.type"
	LabelAgentID     = "mobox.agent_id"
	LabelSessionID   = "mobox.session_id"
	LabelTimeout     = "mobox.timeout"
	LabelIdleTimeout = "mobox.idle_timeout"

	labelTypeAgent = "agent"

	containerNamePrefix = "mobox-agent-"
	workspacePath       = "/workspace"
)

// DockerRunner executes workers inside per-session containers.
//
// The container outlives a single turn so follow-up messages in the same
// session reuse it. It idles running a sleep command; each turn is a
// docker exec of the agent command. The Janitor reclaims containers past
// their lifetime or idle limits.
type DockerRunner struct {
	cli *client.Client

	mu       sync.Mutex
	lastUsed map[string]time.Time
}

// NewDockerRunner connects to the Docker daemon using the standard
// environment variables (DOCKER_HOST and friends).
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRunner{cli: cli, lastUsed: make(map[string]time.Time)}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, req RunRequest) <-chan AgentEvent {
	events := make(chan AgentEvent, 16)
	go func() {
		defer close(events)
		r.run(ctx, req, events)
	}()
	return events
}

func (r *DockerRunner) run(ctx context.Context, req RunRequest, events chan<- AgentEvent) {
	emit(ctx, events, statusEvent("Creating sandbox..."))

	containerID, err := r.ensureContainer(ctx, req)
	if err != nil {
		slog.Error("Sandbox creation failed",
			"session_id", req.SessionID,
			"agent_id", req.Agent.ID,
			"error", err)
		emit(ctx, events, errorEvent(ClassifyError(err), err.Error()))
		return
	}
	r.touch(containerID)
	defer r.touch(containerID)

	if err := r.writeWorkspaceFiles(ctx, containerID, req); err != nil {
		emit(ctx, events, errorEvent(ClassifyError(err), err.Error()))
		return
	}
	emit(ctx, events, statusEvent("Wrote prompt.txt and history.txt to sandbox"))

	emit(ctx, events, statusEvent("Starting agent..."))

	if err := r.execAgent(ctx, containerID, req, events); err != nil && ctx.Err() == nil {
		slog.Error("Agent exec failed",
			"session_id", req.SessionID,
			"agent_id", req.Agent.ID,
			"error", err)
		emit(ctx, events, errorEvent(ClassifyError(err), err.Error()))
	}
}

// ensureContainer finds the session's container, restarting or recreating
// it as needed, and returns its id.
func (r *DockerRunner) ensureContainer(ctx context.Context, req RunRequest) (string, error) {
	name := containerNamePrefix + req.SessionID

	inspect, err := r.cli.ContainerInspect(ctx, name)
	switch {
	case err == nil && inspect.State != nil && inspect.State.Running:
		slog.Info("Reusing sandbox container",
			"session_id", req.SessionID,
			"container_id", inspect.ID)
		return inspect.ID, nil
	case err == nil:
		slog.Info("Sandbox container has stopped, recreating",
			"session_id", req.SessionID,
			"container_id", inspect.ID)
		if err := r.cli.ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !errdefs.IsNotFound(err) {
			return "", fmt.Errorf("removing stopped container %s: %w", name, err)
		}
	case !errdefs.IsNotFound(err):
		return "", fmt.Errorf("inspecting container %s: %w", name, err)
	}

	return r.createContainer(ctx, name, req)
}

func (r *DockerRunner) createContainer(ctx context.Context, name string, req RunRequest) (string, error) {
	if req.Agent.Image == "" {
		return "", fmt.Errorf("agent %q has no image configured", req.Agent.ID)
	}

	env := []string{
		"PYTHONUNBUFFERED=1",
		"AGENT_ID=" + req.Agent.ID,
	}
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image: req.Agent.Image,
		// The container idles between turns; each turn is an exec.
		Cmd:        []string{"sleep", "infinity"},
		Env:        env,
		WorkingDir: workspacePath,
		Labels: map[string]string{
			LabelType:        labelTypeAgent,
			LabelAgentID:     req.Agent.ID,
			LabelSessionID:   req.SessionID,
			LabelTimeout:     strconv.Itoa(req.Agent.Timeout),
			LabelIdleTimeout: strconv.Itoa(req.Agent.IdleTimeout),
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, name)
	if errdefs.IsNotFound(err) {
		slog.Info("Agent image not present, pulling",
			"agent_id", req.Agent.ID,
			"image", req.Agent.Image)
		if err := r.pullImage(ctx, req.Agent.Image); err != nil {
			return "", err
		}
		resp, err = r.cli.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, name)
	}
	if errdefs.IsConflict(err) {
		// Concurrent request for the same session won the race.
		inspect, inspectErr := r.cli.ContainerInspect(ctx, name)
		if inspectErr != nil {
			return "", fmt.Errorf("creating container %s: %w", name, err)
		}
		return inspect.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", name, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", name, err)
	}

	slog.Info("Created sandbox container",
		"session_id", req.SessionID,
		"agent_id", req.Agent.ID,
		"container_id", resp.ID)
	return resp.ID, nil
}

func (r *DockerRunner) pullImage(ctx context.Context, imageRef string) error {
	reader, err := r.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageRef, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading image pull output for %s: %w", imageRef, err)
	}
	return nil
}

// writeWorkspaceFiles copies prompt.txt and history.txt into /workspace.
// Always rewritten, even on container reuse, so each turn sees its own
// prompt.
func (r *DockerRunner) writeWorkspaceFiles(ctx context.Context, containerID string, req RunRequest) error {
	files := map[string][]byte{"prompt.txt": []byte(req.Prompt)}
	if req.History != "" {
		files["history.txt"] = []byte(req.History)
	}
	archive, err := tarArchive(files)
	if err != nil {
		return fmt.Errorf("building workspace archive: %w", err)
	}
	if err := r.cli.CopyToContainer(ctx, containerID, workspacePath, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("writing workspace files: %w", err)
	}
	return nil
}

// execAgent runs one turn of the agent command and streams stdout lines.
func (r *DockerRunner) execAgent(ctx context.Context, containerID string, req RunRequest, events chan<- AgentEvent) error {
	execResp, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          req.Agent.Command,
		WorkingDir:   workspacePath,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("creating exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attaching to exec: %w", err)
	}
	defer attach.Close()

	// The attached stream multiplexes stdout and stderr; demux so only
	// stdout lines become events.
	stdoutR, stdoutW := io.Pipe()
	var stderrBuf bytes.Buffer
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, limitWriter(&stderrBuf, maxStderrBytes), attach.Reader)
		stdoutW.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(stdoutR)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !emit(ctx, events, decodeLine(line)) {
			return ctx.Err()
		}
		r.touch(containerID)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading agent output: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return fmt.Errorf("inspecting exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		msg := fmt.Sprintf("Agent exited with code %d", inspect.ExitCode)
		if stderrText := strings.TrimSpace(stderrBuf.String()); stderrText != "" {
			msg += ": " + stderrText
		}
		emit(ctx, events, AgentEvent{Type: "exit", Data: map[string]any{
			"returncode": inspect.ExitCode,
			"message":    msg,
		}})
	}
	return nil
}

// touch records container activity for idle-timeout accounting.
func (r *DockerRunner) touch(containerID string) {
	r.mu.Lock()
	r.lastUsed[containerID] = time.Now()
	r.mu.Unlock()
}

// idleSince returns the last recorded activity for a container. The zero
// time means this process has never used it.
func (r *DockerRunner) idleSince(containerID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsed[containerID]
}

func (r *DockerRunner) forget(containerID string) {
	r.mu.Lock()
	delete(r.lastUsed, containerID)
	r.mu.Unlock()
}

// ReapExpired stops and removes agent containers past their lifetime or
// idle limits. Returns how many were reclaimed.
func (r *DockerRunner) ReapExpired(ctx context.Context) (int, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", LabelType+"="+labelTypeAgent)
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return 0, fmt.Errorf("listing agent containers: %w", err)
	}

	reaped := 0
	now := time.Now()
	for _, ctr := range containers {
		expired, reason := r.isExpired(ctx, ctr.ID, ctr.Labels, ctr.State, now)
		if !expired {
			continue
		}
		slog.Info("Reaping sandbox container",
			"container_id", ctr.ID,
			"session_id", ctr.Labels[LabelSessionID],
			"reason", reason)
		if err := r.cli.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !errdefs.IsNotFound(err) {
			slog.Error("Failed to remove expired container",
				"container_id", ctr.ID,
				"error", err)
			continue
		}
		r.forget(ctr.ID)
		reaped++
	}
	return reaped, nil
}

func (r *DockerRunner) isExpired(ctx context.Context, id string, labels map[string]string, state string, now time.Time) (bool, string) {
	if state != "running" {
		return true, "stopped"
	}

	timeout := labelSeconds(labels, LabelTimeout, 600)
	idleTimeout := labelSeconds(labels, LabelIdleTimeout, 120)

	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err == nil && inspect.State != nil && inspect.State.StartedAt != "" {
		if startedAt, perr := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); perr == nil {
			if now.Sub(startedAt) > timeout {
				return true, "lifetime exceeded"
			}
		}
	}

	lastUsed := r.idleSince(id)
	if lastUsed.IsZero() {
		// Unknown to this process, likely a leftover from a previous
		// run. Judge idleness from the container start time.
		if inspect.State != nil && inspect.State.StartedAt != "" {
			if startedAt, perr := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); perr == nil {
				lastUsed = startedAt
			}
		}
	}
	if !lastUsed.IsZero() && now.Sub(lastUsed) > idleTimeout {
		return true, "idle timeout"
	}
	return false, ""
}

func labelSeconds(labels map[string]string, key string, fallback int) time.Duration {
	if v, err := strconv.Atoi(labels[key]); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(fallback) * time.Second
}

func tarArchive(files map[string][]byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// limitWriter discards writes past n bytes.
type boundedWriter struct {
	w io.Writer
	n int
}

func limitWriter(w io.Writer, n int) io.Writer {
	return &boundedWriter{w: w, n: n}
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	if b.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > b.n {
		keep = keep[:b.n]
	}
	if _, err := b.w.Write(keep); err != nil {
		return 0, err
	}
	b.n -= len(keep)
	return len(p), nil
}
