package domain

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusWorking JobStatus = "working"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is legal from s.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ErrorCode is the closed set of job and admission failure codes exposed to
// clients. Codes are stable; messages are free-form.
type ErrorCode string

const (
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeQueueFull         ErrorCode = "QUEUE_FULL"
	CodeInvalidRange      ErrorCode = "INVALID_RANGE"
	CodeInvalidURL        ErrorCode = "INVALID_URL"
	CodeExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	CodeExtractionTimeout ErrorCode = "EXTRACTION_TIMEOUT"
	CodeTranscodeFailed   ErrorCode = "TRANSCODE_FAILED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeWorkerLost        ErrorCode = "WORKER_LOST"
	CodeJobNotFound       ErrorCode = "JOB_NOT_FOUND"
)

// Retryable reports whether a client may retry the same request later
// without changing its input.
func (c ErrorCode) Retryable() bool {
	return c == CodeRateLimited || c == CodeQueueFull
}

type Job struct {
	ID string `json:"id"`

	Status JobStatus `json:"status"`

	// Immutable request parameters.
	SourceURL       string  `json:"source_url"`
	TrimStart       float64 `json:"trim_start"`
	TrimEnd         float64 `json:"trim_end"`
	RequestedFormat string  `json:"requested_format,omitempty"`

	// Mutated only by the worker pipeline, only while working.
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`

	ArtifactKey  string    `json:"artifact_key,omitempty"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateJobParams struct {
	SourceURL       string  `json:"source_url"`
	TrimStart       float64 `json:"trim_start"`
	TrimEnd         float64 `json:"trim_end"`
	RequestedFormat string  `json:"format,omitempty"`
}

// Validate checks URL shape and trim bounds against the configured clip
// cap. It returns a ValidationError so the transport can answer 400 with a
// stable code.
func (p CreateJobParams) Validate(maxClipSeconds float64) error {
	u, err := url.Parse(p.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{
			Code:    CodeInvalidURL,
			Message: "source_url must be an absolute http(s) URL",
		}
	}
	if p.TrimStart < 0 || p.TrimEnd <= p.TrimStart {
		return &ValidationError{
			Code:    CodeInvalidRange,
			Message: "trim_end must be greater than trim_start",
		}
	}
	if p.TrimEnd-p.TrimStart > maxClipSeconds {
		return &ValidationError{
			Code:    CodeInvalidRange,
			Message: fmt.Sprintf("clip length exceeds %.0f seconds", maxClipSeconds),
		}
	}
	return nil
}

// ValidationError is surfaced synchronously at submission time; no job is
// created when it occurs.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type CreateResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

type StatusResponse struct {
	ID           string    `json:"id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Stage        string    `json:"stage,omitempty"`
	ArtifactRef  string    `json:"artifact_ref,omitempty"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// RetrievalRef is a time-bounded pointer to artifact bytes. The URL is
// either absolute (presigned object storage) or service-relative
// (token-serving backends).
type RetrievalRef struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ErrorResponse struct {
	Error             string    `json:"error"`
	Message           string    `json:"message"`
	Code              ErrorCode `json:"error_code,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotReady       = errors.New("job not ready")
	ErrQueueFull         = errors.New("job queue full")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrArtifactNotFound  = errors.New("artifact not found")
)
