// Package worker turns claimed jobs into artifacts or classified failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
	"github.com/subszero0/meme-maker/internal/media"
)

// JobStore is the mutation surface the pipeline is allowed to touch. All
// other components are read-only with respect to job state.
type JobStore interface {
	UpdateProgress(ctx context.Context, id string, progress int, stage string) error
	Complete(ctx context.Context, id, artifactKey string) error
	Fail(ctx context.Context, id string, code domain.ErrorCode, message string) error
}

type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (media.ResolvedMedia, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, req media.TranscodeRequest) error
}

type ArtifactStore interface {
	Put(ctx context.Context, localPath, key string) error
}

// Stage labels are advisory; clients display them but nothing branches on
// them.
const (
	stageResolve = "extraction"
	stageTrim    = "trimming"
	stageEncode  = "encoding"
	stagePublish = "uploading"
)

// Progress checkpoints. The transcode stage interpolates between its band
// edges from ffmpeg progress output.
const (
	progressResolved   = 25
	progressValidated  = 30
	progressTranscoded = 90
	progressPublishing = 95
)

type Pipeline struct {
	store      JobStore
	resolver   Resolver
	transcoder Transcoder
	artifacts  ArtifactStore
	scratchDir string
	jobTimeout time.Duration
}

func NewPipeline(
	store JobStore,
	resolver Resolver,
	transcoder Transcoder,
	artifacts ArtifactStore,
	scratchDir string,
	jobTimeout time.Duration,
) *Pipeline {
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Hour
	}
	return &Pipeline{
		store:      store,
		resolver:   resolver,
		transcoder: transcoder,
		artifacts:  artifacts,
		scratchDir: scratchDir,
		jobTimeout: jobTimeout,
	}
}

// Run executes the full stage sequence for one claimed job. Every failure
// path records exactly one terminal error on the job; the scratch dir is
// removed on success and on every failure.
func (p *Pipeline) Run(ctx context.Context, job domain.Job) {
	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	logger := slog.With(slog.String("job_id", job.ID))

	scratch, err := os.MkdirTemp(p.scratchDir, "clip-*")
	if err != nil {
		p.fail(ctx, logger, job.ID, domain.CodeTranscodeFailed,
			fmt.Sprintf("create scratch dir: %v", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("remove scratch dir", slog.String("error", err.Error()))
		}
	}()

	// Stage 1: resolve the source URL via the extraction tool.
	p.progress(runCtx, job.ID, 5, stageResolve)
	resolved, err := p.resolver.Resolve(runCtx, job.SourceURL)
	if err != nil {
		code := domain.CodeExtractionFailed
		if errors.Is(err, media.ErrResolveTimeout) {
			code = domain.CodeExtractionTimeout
		}
		p.fail(ctx, logger, job.ID, p.timeoutOr(runCtx, code), err.Error())
		return
	}
	p.progress(runCtx, job.ID, progressResolved, stageResolve)

	// Stage 2: re-check trim bounds against the real duration. Admission
	// validated against client input, which may be wrong.
	if resolved.Duration > 0 && job.TrimEnd > resolved.Duration {
		p.fail(ctx, logger, job.ID, domain.CodeInvalidRange,
			fmt.Sprintf("trim_end %.1fs beyond media duration %.1fs", job.TrimEnd, resolved.Duration))
		return
	}
	p.progress(runCtx, job.ID, progressValidated, stageTrim)

	// Stage 3: transcode into scratch.
	key := artifactKey(job)
	outPath := filepath.Join(scratch, key)
	err = p.transcoder.Transcode(runCtx, media.TranscodeRequest{
		Input:      resolved.MediaURL,
		Start:      job.TrimStart,
		End:        job.TrimEnd,
		Format:     job.RequestedFormat,
		Rotation:   resolved.Rotation,
		OutputPath: outPath,
		OnProgress: func(frac float64) {
			band := progressTranscoded - progressValidated
			p.progress(runCtx, job.ID, progressValidated+int(frac*float64(band)), stageEncode)
		},
	})
	if err != nil {
		p.fail(ctx, logger, job.ID, p.timeoutOr(runCtx, domain.CodeTranscodeFailed), err.Error())
		return
	}
	p.progress(runCtx, job.ID, progressTranscoded, stageEncode)

	// Stage 4: publish. A storage failure here leaves a fully processed
	// but unpersistable job; logged distinctly for triage.
	p.progress(runCtx, job.ID, progressPublishing, stagePublish)
	if err := p.artifacts.Put(runCtx, outPath, key); err != nil {
		logger.Error("artifact publish failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		p.fail(ctx, logger, job.ID, p.timeoutOr(runCtx, domain.CodeTranscodeFailed),
			fmt.Sprintf("store artifact: %v", err))
		return
	}

	if err := p.store.Complete(ctx, job.ID, key); err != nil {
		logger.Error("complete job", slog.String("error", err.Error()))
		return
	}
	logger.Info("job done",
		slog.String("artifact_key", key),
		slog.String("title", resolved.Title),
	)
}

// timeoutOr returns TIMEOUT when the per-job deadline elapsed, otherwise
// the stage's own code.
func (p *Pipeline) timeoutOr(runCtx context.Context, code domain.ErrorCode) domain.ErrorCode {
	if runCtx.Err() == context.DeadlineExceeded {
		return domain.CodeTimeout
	}
	return code
}

func (p *Pipeline) progress(ctx context.Context, id string, progress int, stage string) {
	if err := p.store.UpdateProgress(ctx, id, progress, stage); err != nil {
		slog.Warn("update progress",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// fail records the terminal error with a context that survives the per-job
// deadline, so a timed-out job still learns its outcome.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, id string, code domain.ErrorCode, message string) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.Fail(failCtx, id, code, message); err != nil {
		logger.Error("record job failure",
			slog.String("code", string(code)),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("job failed",
		slog.String("code", string(code)),
		slog.String("message", message),
	)
}

func artifactKey(job domain.Job) string {
	ext := ".mp4"
	if job.RequestedFormat == "mp3" {
		ext = ".mp3"
	}
	return job.ID + ext
}
