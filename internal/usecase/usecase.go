package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/subszero0/meme-maker/internal/admission"
	"github.com/subszero0/meme-maker/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, p domain.CreateJobParams) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	Delete(ctx context.Context, id string) error
	CountActive(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

type ArtifactStore interface {
	RetrievalRef(ctx context.Context, key string, ttl time.Duration) (domain.RetrievalRef, error)
	Delete(ctx context.Context, key string) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type Admitter interface {
	Check(ctx context.Context, identity string, class admission.Class) (admission.Decision, error)
}

// Denied is the admission outcome carried to the transport layer: 429 with
// a disclosed retry window. It is a value-shaped error, not a failure of
// the service.
type Denied struct {
	Code       domain.ErrorCode
	RetryAfter time.Duration
}

func (d *Denied) Error() string {
	return fmt.Sprintf("%s, retry after %s", d.Code, d.RetryAfter)
}

type Options struct {
	MaxClipSeconds  float64
	DownloadTTL     time.Duration
	QueueRetryAfter time.Duration
	FailOpen        bool
}

type usecase struct {
	opts      Options
	jobs      JobStore
	artifacts ArtifactStore
	queue     JobQueue
	limiter   Admitter
}

func New(opts Options, jobs JobStore, artifacts ArtifactStore, queue JobQueue, limiter Admitter) *usecase {
	if opts.MaxClipSeconds <= 0 {
		opts.MaxClipSeconds = 180
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = time.Hour
	}
	if opts.QueueRetryAfter <= 0 {
		opts.QueueRetryAfter = 30 * time.Second
	}
	return &usecase{
		opts:      opts,
		jobs:      jobs,
		artifacts: artifacts,
		queue:     queue,
		limiter:   limiter,
	}
}

// CreateJob gates the request (rate limit, then validation, then the
// store's atomic capacity ceiling) and enqueues the admitted job. Enqueue
// failure is deliberately non-fatal: the job is already visible to the
// pool's poll backstop.
func (uc *usecase) CreateJob(ctx context.Context, identity string, p domain.CreateJobParams) (domain.Job, error) {
	if err := uc.admit(ctx, identity, admission.ClassWrite); err != nil {
		return domain.Job{}, err
	}

	if err := p.Validate(uc.opts.MaxClipSeconds); err != nil {
		return domain.Job{}, err
	}

	job, err := uc.jobs.Create(ctx, p)
	if err != nil {
		if err == domain.ErrQueueFull {
			return domain.Job{}, &Denied{Code: domain.CodeQueueFull, RetryAfter: uc.opts.QueueRetryAfter}
		}
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	if err := uc.queue.Enqueue(ctx, job.ID); err != nil {
		slog.Warn("enqueue job wake-up",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	return job, nil
}

// GetStatus is the polling read. The read-class rate limit applies here
// because polling is the dominant traffic.
func (uc *usecase) GetStatus(ctx context.Context, identity, jobID string) (domain.StatusResponse, error) {
	if err := uc.admit(ctx, identity, admission.ClassRead); err != nil {
		return domain.StatusResponse{}, err
	}

	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.StatusResponse{}, err
	}

	resp := domain.StatusResponse{
		ID:       job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Stage:    job.Stage,
	}
	switch job.Status {
	case domain.StatusDone:
		resp.ArtifactRef = fmt.Sprintf("/jobs/%s/download", job.ID)
	case domain.StatusError:
		resp.ErrorCode = job.ErrorCode
		resp.ErrorMessage = job.ErrorMessage
	}
	return resp, nil
}

// Download resolves the finished job's artifact to a time-bounded
// retrieval reference. The orchestration layer never touches the bytes.
func (uc *usecase) Download(ctx context.Context, jobID string) (domain.RetrievalRef, error) {
	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.RetrievalRef{}, err
	}
	if job.Status != domain.StatusDone {
		return domain.RetrievalRef{}, domain.ErrJobNotReady
	}
	return uc.artifacts.RetrievalRef(ctx, job.ArtifactKey, uc.opts.DownloadTTL)
}

// DeleteJob removes the record and its artifact. Idempotent: deleting an
// unknown id succeeds.
func (uc *usecase) DeleteJob(ctx context.Context, jobID string) error {
	job, err := uc.jobs.Get(ctx, jobID)
	if err == domain.ErrJobNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if job.ArtifactKey != "" {
		if err := uc.artifacts.Delete(ctx, job.ArtifactKey); err != nil {
			slog.Warn("delete artifact",
				slog.String("key", job.ArtifactKey),
				slog.String("error", err.Error()),
			)
		}
	}
	return uc.jobs.Delete(ctx, jobID)
}

type QueueStats struct {
	Active int                      `json:"active"`
	Counts map[domain.JobStatus]int `json:"counts"`
}

func (uc *usecase) Stats(ctx context.Context) (QueueStats, error) {
	active, err := uc.jobs.CountActive(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	counts, err := uc.jobs.CountByStatus(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Active: active, Counts: counts}, nil
}

// admit consults the rate limiter; a backing-store outage fails open or
// closed per operator configuration.
func (uc *usecase) admit(ctx context.Context, identity string, class admission.Class) error {
	decision, err := uc.limiter.Check(ctx, identity, class)
	if err != nil {
		if uc.opts.FailOpen {
			slog.Warn("rate limiter unavailable, failing open",
				slog.String("class", string(class)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !decision.Allowed {
		return &Denied{Code: domain.CodeRateLimited, RetryAfter: decision.RetryAfter}
	}
	return nil
}
