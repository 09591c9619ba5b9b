package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

// RetryAfterError is a 429 from the polling endpoint itself; the poller
// waits the disclosed duration instead of its own backoff.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// StatusClient fetches one job view. Implementations return
// domain.ErrJobNotFound for a 404 and *RetryAfterError for a 429; any
// other error counts as a transport failure.
type StatusClient interface {
	Status(ctx context.Context, jobID string) (domain.StatusResponse, error)
}

type Poller struct {
	client  StatusClient
	backoff Backoff
}

func New(client StatusClient, backoff Backoff) *Poller {
	if backoff.Base <= 0 {
		backoff = DefaultBackoff()
	}
	return &Poller{client: client, backoff: backoff}
}

// Wait polls until the job reaches a terminal state and returns that final
// view. Terminal errors are returned as a status, not a Go error, so the
// caller can distinguish retryable codes (QUEUE_FULL class) from hard
// ones. A 404 aborts immediately with domain.ErrJobNotFound: the id will
// never become valid by waiting.
func (p *Poller) Wait(ctx context.Context, jobID string) (domain.StatusResponse, error) {
	interval := p.backoff.Base

	for {
		status, err := p.client.Status(ctx, jobID)
		switch {
		case err == nil:
			if status.Status.Terminal() {
				return status, nil
			}
			interval = p.backoff.Next(interval, OutcomeSuccess)

		case errors.Is(err, domain.ErrJobNotFound):
			return domain.StatusResponse{}, err

		default:
			var ra *RetryAfterError
			if errors.As(err, &ra) {
				interval = ra.RetryAfter
				if interval <= 0 {
					interval = p.backoff.Base
				}
			} else {
				interval = p.backoff.Next(interval, OutcomeTransportError)
			}
		}

		select {
		case <-ctx.Done():
			return domain.StatusResponse{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}
