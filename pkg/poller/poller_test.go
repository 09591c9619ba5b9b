package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

func TestBackoffSchedule(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 10 * time.Second}

	tests := []struct {
		name    string
		current time.Duration
		outcome Outcome
		want    time.Duration
	}{
		{name: "success resets to base", current: 8 * time.Second, outcome: OutcomeSuccess, want: 2 * time.Second},
		{name: "error doubles", current: 2 * time.Second, outcome: OutcomeTransportError, want: 4 * time.Second},
		{name: "error doubles again", current: 4 * time.Second, outcome: OutcomeTransportError, want: 8 * time.Second},
		{name: "error capped", current: 8 * time.Second, outcome: OutcomeTransportError, want: 10 * time.Second},
		{name: "error stays at cap", current: 10 * time.Second, outcome: OutcomeTransportError, want: 10 * time.Second},
		{name: "error from below base", current: 0, outcome: OutcomeTransportError, want: 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Next(tt.current, tt.outcome); got != tt.want {
				t.Fatalf("Next(%s, %d) = %s, want %s", tt.current, tt.outcome, got, tt.want)
			}
		})
	}
}

type scriptedClient struct {
	responses []func() (domain.StatusResponse, error)
	calls     int
}

func (c *scriptedClient) Status(context.Context, string) (domain.StatusResponse, error) {
	i := c.calls
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	c.calls++
	return c.responses[i]()
}

func working() (domain.StatusResponse, error) {
	return domain.StatusResponse{ID: "j", Status: domain.StatusWorking, Progress: 50}, nil
}

func done() (domain.StatusResponse, error) {
	return domain.StatusResponse{ID: "j", Status: domain.StatusDone, Progress: 100}, nil
}

func failed() (domain.StatusResponse, error) {
	return domain.StatusResponse{
		ID:        "j",
		Status:    domain.StatusError,
		ErrorCode: domain.CodeExtractionFailed,
	}, nil
}

func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond}
}

func TestWaitUntilDone(t *testing.T) {
	client := &scriptedClient{responses: []func() (domain.StatusResponse, error){
		working, working, done,
	}}
	p := New(client, fastBackoff())

	status, err := p.Wait(context.Background(), "j")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", status.Status)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d, want 3", client.calls)
	}
}

func TestWaitReturnsTerminalError(t *testing.T) {
	client := &scriptedClient{responses: []func() (domain.StatusResponse, error){
		working, failed,
	}}
	p := New(client, fastBackoff())

	status, err := p.Wait(context.Background(), "j")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.Status != domain.StatusError || status.ErrorCode != domain.CodeExtractionFailed {
		t.Fatalf("status = %+v, want error/EXTRACTION_FAILED", status)
	}
}

func TestWaitStopsOnNotFound(t *testing.T) {
	client := &scriptedClient{responses: []func() (domain.StatusResponse, error){
		func() (domain.StatusResponse, error) { return domain.StatusResponse{}, domain.ErrJobNotFound },
	}}
	p := New(client, fastBackoff())

	_, err := p.Wait(context.Background(), "j")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry on 404)", client.calls)
	}
}

func TestWaitRidesOutTransportErrors(t *testing.T) {
	client := &scriptedClient{responses: []func() (domain.StatusResponse, error){
		func() (domain.StatusResponse, error) { return domain.StatusResponse{}, errors.New("conn refused") },
		func() (domain.StatusResponse, error) { return domain.StatusResponse{}, errors.New("conn refused") },
		done,
	}}
	p := New(client, fastBackoff())

	status, err := p.Wait(context.Background(), "j")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", status.Status)
	}
}

func TestWaitHonorsRetryAfter(t *testing.T) {
	start := time.Now()
	client := &scriptedClient{responses: []func() (domain.StatusResponse, error){
		func() (domain.StatusResponse, error) {
			return domain.StatusResponse{}, &RetryAfterError{RetryAfter: 50 * time.Millisecond}
		},
		done,
	}}
	p := New(client, fastBackoff())

	if _, err := p.Wait(context.Background(), "j"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned after %s, want >= disclosed 50ms", elapsed)
	}
}

func TestWaitContextCancel(t *testing.T) {
	client := &scriptedClient{responses: []func() (domain.StatusResponse, error){working}}
	p := New(client, Backoff{Base: time.Hour, Max: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx, "j")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestHTTPClientStatusMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ok","status":"working","progress":10}`))
	})
	mux.HandleFunc("GET /jobs/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /jobs/limited", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil)
	ctx := context.Background()

	status, err := client.Status(ctx, "ok")
	if err != nil {
		t.Fatalf("status ok: %v", err)
	}
	if status.Status != domain.StatusWorking || status.Progress != 10 {
		t.Fatalf("status = %+v", status)
	}

	if _, err := client.Status(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("missing err = %v, want ErrJobNotFound", err)
	}

	_, err = client.Status(ctx, "limited")
	var ra *RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter != 7*time.Second {
		t.Fatalf("limited err = %v, want RetryAfterError 7s", err)
	}
}
