package sandbox

import (
	"context"
	"log/slog"
	"time"
)

// DefaultJanitorInterval is how often expired containers are reclaimed.
const DefaultJanitorInterval = 30 * time.Second

// Janitor periodically reaps sandbox containers whose lifetime or idle
// limits have passed. Safe to run alongside active streams: the runner
// refreshes activity timestamps as events flow.
type Janitor struct {
	runner   *DockerRunner
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor for the given runner. A non-positive
// interval falls back to the default.
func NewJanitor(runner *DockerRunner, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{runner: runner, interval: interval}
}

// Start launches the background reaping loop.
func (j *Janitor) Start(ctx context.Context) {
	if j.cancel != nil {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})

	go j.run(ctx)

	slog.Info("Sandbox janitor started", "interval", j.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	slog.Info("Sandbox janitor stopped")
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.reap(ctx)
		}
	}
}

func (j *Janitor) reap(ctx context.Context) {
	reaped, err := j.runner.ReapExpired(ctx)
	if err != nil {
		slog.Error("Sandbox reaping failed", "error", err)
		return
	}
	if reaped > 0 {
		slog.Info("Reaped expired sandbox containers", "count", reaped)
	}
}
