package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
	jobstore "github.com/subszero0/meme-maker/internal/infra/store/job"
)

type recordingArtifacts struct {
	mu        sync.Mutex
	deleted   []string
	sweptPast []time.Duration
}

func (a *recordingArtifacts) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, key)
	return nil
}

func (a *recordingArtifacts) CleanupOlderThan(_ context.Context, maxAge time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweptPast = append(a.sweptPast, maxAge)
	return nil
}

type recordingQueue struct {
	enqueued []string
}

func (q *recordingQueue) Enqueue(_ context.Context, jobID string) error {
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

var params = domain.CreateJobParams{
	SourceURL: "https://example.com/v/1",
	TrimStart: 0,
	TrimEnd:   30,
}

func TestSweepReapsLostWorkers(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory(10)

	job, _ := store.Create(ctx, params)
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	j := New(Config{
		Retention:       24 * time.Hour,
		WorkerLostGrace: time.Hour,
		RequeueAfter:    time.Minute,
	}, store, &recordingArtifacts{}, &recordingQueue{})
	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.StatusError || got.ErrorCode != domain.CodeWorkerLost {
		t.Fatalf("job = %+v, want error/WORKER_LOST", got)
	}
}

func TestSweepLeavesHealthyWorkingJobs(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory(10)

	job, _ := store.Create(ctx, params)
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	j := New(Config{WorkerLostGrace: time.Hour}, store, &recordingArtifacts{}, &recordingQueue{})

	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.StatusWorking {
		t.Fatalf("status = %s, want working untouched", got.Status)
	}
}

func TestSweepRedispatchesQueuedBacklog(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory(10)
	queue := &recordingQueue{}

	job, _ := store.Create(ctx, params)

	j := New(Config{
		Retention:       24 * time.Hour,
		WorkerLostGrace: 4 * time.Hour,
		RequeueAfter:    time.Minute,
	}, store, &recordingArtifacts{}, queue)
	j.now = func() time.Time { return time.Now().Add(5 * time.Minute) }

	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(queue.enqueued) != 1 || queue.enqueued[0] != job.ID {
		t.Fatalf("enqueued = %v, want [%s]", queue.enqueued, job.ID)
	}

	// Still queued: redispatch only resends the wake-up.
	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func TestSweepExpiresTerminalJobs(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory(10)
	artifacts := &recordingArtifacts{}

	job, _ := store.Create(ctx, params)
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, job.ID, job.ID+".mp4"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	j := New(Config{
		Retention:       24 * time.Hour,
		WorkerLostGrace: 96 * time.Hour,
		RequeueAfter:    time.Minute,
	}, store, artifacts, &recordingQueue{})
	j.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, err := store.Get(ctx, job.ID); err != domain.ErrJobNotFound {
		t.Fatalf("job still present after retention sweep: %v", err)
	}
	if len(artifacts.deleted) != 1 || artifacts.deleted[0] != job.ID+".mp4" {
		t.Fatalf("deleted artifacts = %v", artifacts.deleted)
	}
	if len(artifacts.sweptPast) != 1 || artifacts.sweptPast[0] != 48*time.Hour {
		t.Fatalf("orphan sweep ages = %v, want [48h]", artifacts.sweptPast)
	}
}

func TestSweepKeepsRecentTerminalJobs(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory(10)

	job, _ := store.Create(ctx, params)
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, job.ID, job.ID+".mp4"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	j := New(Config{Retention: 24 * time.Hour}, store, &recordingArtifacts{}, &recordingQueue{})

	if err := j.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, err := store.Get(ctx, job.ID); err != nil {
		t.Fatalf("fresh terminal job removed: %v", err)
	}
}
