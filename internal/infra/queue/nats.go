package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSConfig struct {
	URL           string
	Stream        string
	Subject       string
	QueueName     string
	MaxReconnects int
	MaxAge        time.Duration
}

// NATS dispatches wake-ups through a JetStream stream with a durable pull
// consumer, so queued work survives a process restart even before the poll
// backstop would find it.
type NATS struct {
	js      nats.JetStreamContext
	subject string
	sub     *nats.Subscription
}

func NewNATS(cfg NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.QueueName),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  nats.FileStorage,
		Replicas: 1,
		MaxAge:   cfg.MaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	consumerName := cfg.QueueName + "-consumer"
	_, err = js.AddConsumer(cfg.Stream, &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: cfg.Subject,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := js.PullSubscribe(cfg.Subject, consumerName)
	if err != nil {
		return nil, fmt.Errorf("JetStream PullSubscribe: %w", err)
	}

	return &NATS{js: js, subject: cfg.Subject, sub: sub}, nil
}

func (q *NATS) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty jobID")
	}

	ack, err := q.js.PublishMsg(&nats.Msg{
		Subject: q.subject,
		Data:    []byte(jobID),
		Header:  nats.Header{},
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s: publish failed: %w", jobID, err)
	}

	slog.Debug("job enqueued",
		slog.String("job_id", jobID),
		slog.String("subject", q.subject),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Dequeue fetches one message and acks it immediately; the claim step, not
// the ack, decides whether the job actually runs.
func (q *NATS) Dequeue(ctx context.Context) (string, error) {
	for {
		msgs, err := q.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return "", fmt.Errorf("nats fetch: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]
		if err := msg.Ack(); err != nil {
			slog.Warn("NATS Ack", slog.String("error", err.Error()))
		}
		return string(msg.Data), nil
	}
}

func (q *NATS) Close() {
	if q.sub != nil {
		if err := q.sub.Drain(); err != nil {
			slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
		}
	}
}
