// Package queue dispatches job IDs to the worker pool. Messages are
// wake-up hints only: the job store's claim operation is the authority on
// who owns a job, so a dropped or duplicated message is harmless.
package queue

import (
	"context"
	"log/slog"
)

// Memory is a buffered-channel queue for single-process runs.
type Memory struct {
	ch chan string
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{ch: make(chan string, size)}
}

// Enqueue never blocks; on a full buffer the wake-up is dropped and the
// pool's poll ticker picks the job up instead.
func (q *Memory) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
	default:
		slog.Warn("dispatch queue full, relying on poll backstop",
			slog.String("job_id", jobID),
		)
	}
	return nil
}

// Dequeue blocks until a wake-up arrives or ctx is done.
func (q *Memory) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
