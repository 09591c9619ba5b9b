package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

// Claimer is the store's atomic dequeue: at most one worker wins any job.
type Claimer interface {
	Claim(ctx context.Context) (*domain.Job, error)
}

// Dequeuer delivers wake-up hints; the poll ticker covers anything it
// drops.
type Dequeuer interface {
	Dequeue(ctx context.Context) (string, error)
}

type Runner interface {
	Run(ctx context.Context, job domain.Job)
}

// Pool runs a fixed number of workers competing for queued jobs through
// the store's claim operation. There is no assignment: claim-based
// competition is the coordination mechanism, so the dispatch queue can
// duplicate or drop messages without correctness impact.
type Pool struct {
	store        Claimer
	queue        Dequeuer
	pipeline     Runner
	size         int
	pollInterval time.Duration
	notify       chan struct{}
}

func NewPool(store Claimer, queue Dequeuer, pipeline Runner, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		store:        store,
		queue:        queue,
		pipeline:     pipeline,
		size:         size,
		pollInterval: 5 * time.Second,
		notify:       make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	go p.forwardWakeups(ctx)

	var wg sync.WaitGroup
	for i := range p.size {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	slog.Info("worker pool stopped")
}

// forwardWakeups funnels queue messages into a single non-blocking notify
// signal shared by all workers.
func (p *Pool) forwardWakeups(ctx context.Context) {
	for {
		_, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			slog.Warn("dequeue wake-up", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		case <-ticker.C:
		}
	}
}

// drain claims and processes until the queue is empty.
func (p *Pool) drain(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("worker: claim", slog.Int("worker", id), slog.String("error", err.Error()))
			return
		}
		if job == nil {
			return
		}

		slog.Info("worker: processing job",
			slog.Int("worker", id),
			slog.String("job_id", job.ID),
			slog.String("source_url", job.SourceURL),
		)
		p.pipeline.Run(ctx, *job)
	}
}
