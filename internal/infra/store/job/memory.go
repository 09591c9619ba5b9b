package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"

	"github.com/google/uuid"
)

// Memory is the in-process job store. It is the default backend and the one
// used by tests; the redis backend mirrors its semantics exactly.
type Memory struct {
	mu      sync.Mutex
	ceiling int
	jobs    map[string]*domain.Job
	order   []string // ids in creation order
	now     func() time.Time
}

func NewMemory(ceiling int) *Memory {
	return &Memory{
		ceiling: ceiling,
		jobs:    make(map[string]*domain.Job),
		now:     time.Now,
	}
}

// Create validates nothing beyond capacity: parameter validation happens
// before the store is touched. The capacity check and the insert are a
// single critical section, so two concurrent submissions cannot both take
// the last slot.
func (s *Memory) Create(ctx context.Context, p domain.CreateJobParams) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked() >= s.ceiling {
		return domain.Job{}, domain.ErrQueueFull
	}

	now := s.now()
	j := &domain.Job{
		ID:              uuid.NewString(),
		Status:          domain.StatusQueued,
		SourceURL:       p.SourceURL,
		TrimStart:       p.TrimStart,
		TrimEnd:         p.TrimEnd,
		RequestedFormat: p.RequestedFormat,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	return *j, nil
}

// Claim atomically selects the oldest queued job and marks it working.
// Returns nil when nothing is queued.
func (s *Memory) Claim(ctx context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		j, ok := s.jobs[id]
		if !ok || j.Status != domain.StatusQueued {
			continue
		}
		j.Status = domain.StatusWorking
		j.UpdatedAt = s.now()
		out := *j
		return &out, nil
	}
	return nil, nil
}

// UpdateProgress is legal only while working. Progress never decreases; a
// lower value only bumps updated_at and the stage label.
func (s *Memory) UpdateProgress(ctx context.Context, id string, progress int, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.StatusWorking {
		return fmt.Errorf("progress on %s job: %w", j.Status, domain.ErrInvalidTransition)
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.Stage = stage
	j.UpdatedAt = s.now()
	return nil
}

func (s *Memory) Complete(ctx context.Context, id, artifactKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.StatusWorking {
		return fmt.Errorf("complete from %s: %w", j.Status, domain.ErrInvalidTransition)
	}
	j.Status = domain.StatusDone
	j.Progress = 100
	j.Stage = ""
	j.ArtifactKey = artifactKey
	j.UpdatedAt = s.now()
	return nil
}

// Fail transitions working -> error, or queued -> error for pre-claim
// validation failures. Terminal jobs are never re-failed.
func (s *Memory) Fail(ctx context.Context, id string, code domain.ErrorCode, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return fmt.Errorf("fail from %s: %w", j.Status, domain.ErrInvalidTransition)
	}
	j.Status = domain.StatusError
	j.Stage = ""
	j.ErrorCode = code
	j.ErrorMessage = message
	j.UpdatedAt = s.now()
	return nil
}

func (s *Memory) Get(ctx context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *j, nil
}

// Delete is idempotent; removing an unknown id is not an error. The
// creation-order index is pruned alongside the record so scan cost tracks
// live jobs, not jobs ever created.
func (s *Memory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	delete(s.jobs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Memory) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(), nil
}

func (s *Memory) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// StaleWorking returns working jobs not touched since cutoff; the janitor
// force-fails them as lost.
func (s *Memory) StaleWorking(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	return s.selectJobs(func(j *domain.Job) bool {
		return j.Status == domain.StatusWorking && j.UpdatedAt.Before(cutoff)
	})
}

// TerminalBefore returns done/error jobs whose last update is older than
// cutoff, for the retention sweep.
func (s *Memory) TerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	return s.selectJobs(func(j *domain.Job) bool {
		return j.Status.Terminal() && j.UpdatedAt.Before(cutoff)
	})
}

// QueuedBefore returns queued jobs created before cutoff; they likely lost
// their dispatch wake-up and get re-enqueued.
func (s *Memory) QueuedBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	return s.selectJobs(func(j *domain.Job) bool {
		return j.Status == domain.StatusQueued && j.CreatedAt.Before(cutoff)
	})
}

func (s *Memory) selectJobs(match func(*domain.Job) bool) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, id := range s.order {
		if j, ok := s.jobs[id]; ok && match(j) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *Memory) activeLocked() int {
	n := 0
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			n++
		}
	}
	return n
}
