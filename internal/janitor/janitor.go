// Package janitor runs the background sweeps that keep the job table and
// artifact store bounded: retention of terminal jobs, reclamation of jobs
// whose worker died, and re-dispatch of queued jobs that lost their
// wake-up.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"

	"golang.org/x/sync/errgroup"
)

type JobStore interface {
	StaleWorking(ctx context.Context, cutoff time.Time) ([]domain.Job, error)
	TerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error)
	QueuedBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error)
	Fail(ctx context.Context, id string, code domain.ErrorCode, message string) error
	Delete(ctx context.Context, id string) error
}

type ArtifactStore interface {
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type Config struct {
	Interval        time.Duration
	Retention       time.Duration // terminal job + artifact lifetime
	WorkerLostGrace time.Duration // working job silence before reclamation
	RequeueAfter    time.Duration // queued job age before re-dispatch
}

type Janitor struct {
	cfg       Config
	store     JobStore
	artifacts ArtifactStore
	queue     JobQueue
	now       func() time.Time
}

func New(cfg Config, store JobStore, artifacts ArtifactStore, queue JobQueue) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.WorkerLostGrace <= 0 {
		cfg.WorkerLostGrace = 4 * time.Hour
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = time.Minute
	}
	return &Janitor{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		queue:     queue,
		now:       time.Now,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				slog.Warn("janitor sweep", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep performs one full pass. Also invoked by the admin forced-cleanup
// endpoint.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()

	if err := j.reapLostWorkers(ctx, now); err != nil {
		return err
	}
	if err := j.redispatchQueued(ctx, now); err != nil {
		return err
	}
	if err := j.expireTerminal(ctx, now); err != nil {
		return err
	}

	// Safety net behind the per-key deletes: orphaned artifacts whose job
	// record vanished.
	if err := j.artifacts.CleanupOlderThan(ctx, 2*j.cfg.Retention); err != nil {
		slog.Warn("cleanup old artifacts", slog.String("error", err.Error()))
	}
	return nil
}

// reapLostWorkers force-fails working jobs whose worker went silent past
// the grace period, so polling clients learn the outcome instead of
// watching a job hang forever.
func (j *Janitor) reapLostWorkers(ctx context.Context, now time.Time) error {
	stale, err := j.store.StaleWorking(ctx, now.Add(-j.cfg.WorkerLostGrace))
	if err != nil {
		return fmt.Errorf("list stale working: %w", err)
	}

	for _, job := range stale {
		err := j.store.Fail(ctx, job.ID, domain.CodeWorkerLost,
			fmt.Sprintf("no worker heartbeat since %s", job.UpdatedAt.Format(time.RFC3339)))
		if err != nil {
			slog.Warn("reap lost worker",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		slog.Info("reclaimed lost job", slog.String("job_id", job.ID))
	}
	return nil
}

// redispatchQueued re-enqueues wake-ups for queued jobs nobody claimed;
// covers dropped dispatch messages.
func (j *Janitor) redispatchQueued(ctx context.Context, now time.Time) error {
	backlog, err := j.store.QueuedBefore(ctx, now.Add(-j.cfg.RequeueAfter))
	if err != nil {
		return fmt.Errorf("list queued backlog: %w", err)
	}

	for _, job := range backlog {
		if err := j.queue.Enqueue(ctx, job.ID); err != nil {
			slog.Warn("redispatch queued job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(backlog) > 0 {
		slog.Info("redispatched queued backlog", slog.Int("count", len(backlog)))
	}
	return nil
}

// expireTerminal deletes terminal jobs past retention together with their
// artifacts.
func (j *Janitor) expireTerminal(ctx context.Context, now time.Time) error {
	expired, err := j.store.TerminalBefore(ctx, now.Add(-j.cfg.Retention))
	if err != nil {
		return fmt.Errorf("list expired jobs: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, job := range expired {
		eg.Go(func() error {
			if job.ArtifactKey != "" {
				if err := j.artifacts.Delete(egCtx, job.ArtifactKey); err != nil {
					slog.Warn("delete expired artifact",
						slog.String("key", job.ArtifactKey),
						slog.String("error", err.Error()),
					)
				}
			}
			return j.store.Delete(egCtx, job.ID)
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("expire terminal jobs: %w", err)
	}

	slog.Info("expired terminal jobs", slog.Int("count", len(expired)))
	return nil
}
