// Package poller implements the client side of the status protocol: poll
// until terminal, back off on transport trouble, respect disclosed
// rate-limit windows, stop dead on 404.
package poller

import "time"

type Outcome int

const (
	// OutcomeSuccess is any well-formed server response, whatever the job
	// state; the interval resets to base.
	OutcomeSuccess Outcome = iota
	// OutcomeTransportError is a network or server failure, not a
	// job-level error; the interval doubles up to the cap.
	OutcomeTransportError
)

// Backoff is the reusable interval policy. Next is a pure function so the
// schedule is testable without timers.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 10 * time.Second}
}

func (b Backoff) Next(current time.Duration, outcome Outcome) time.Duration {
	if b.Base <= 0 {
		b.Base = 2 * time.Second
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}

	switch outcome {
	case OutcomeTransportError:
		if current < b.Base {
			current = b.Base
		}
		next := current * 2
		if next > b.Max {
			next = b.Max
		}
		return next
	default:
		return b.Base
	}
}
