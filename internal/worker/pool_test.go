package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

type mockClaimer struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (m *mockClaimer) add(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, domain.Job{ID: id, Status: domain.StatusQueued})
}

func (m *mockClaimer) Claim(context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil, nil
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	job.Status = domain.StatusWorking
	return &job, nil
}

type mockDequeuer struct {
	ch chan string
}

func (m *mockDequeuer) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-m.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type mockRunner struct {
	ran atomic.Int64
}

func (m *mockRunner) Run(context.Context, domain.Job) {
	m.ran.Add(1)
}

func TestPoolProcessesQueuedJobs(t *testing.T) {
	claimer := &mockClaimer{}
	for _, id := range []string{"a", "b", "c"} {
		claimer.add(id)
	}
	dequeuer := &mockDequeuer{ch: make(chan string, 1)}
	runner := &mockRunner{}

	pool := NewPool(claimer, dequeuer, runner, 2)
	pool.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runner.ran.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for jobs, ran %d", runner.ran.Load())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestPoolWakeupBeatsTicker(t *testing.T) {
	claimer := &mockClaimer{}
	dequeuer := &mockDequeuer{ch: make(chan string, 1)}
	runner := &mockRunner{}

	pool := NewPool(claimer, dequeuer, runner, 1)
	pool.pollInterval = 10 * time.Second // only the wake-up can trigger work

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// Job arrives after the initial drain; the queue message wakes the
	// worker long before the ticker would.
	time.Sleep(50 * time.Millisecond)
	claimer.add("late")
	dequeuer.ch <- "late"

	deadline := time.After(2 * time.Second)
	for runner.ran.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out: wake-up did not rouse worker")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestPoolGracefulShutdown(t *testing.T) {
	pool := NewPool(&mockClaimer{}, &mockDequeuer{ch: make(chan string)}, &mockRunner{}, 3)
	pool.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
