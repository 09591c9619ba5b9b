package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
	"github.com/subszero0/meme-maker/internal/usecase"
)

type stubUsecase struct {
	createJob  func(identity string, p domain.CreateJobParams) (domain.Job, error)
	getStatus  func(identity, jobID string) (domain.StatusResponse, error)
	download   func(jobID string) (domain.RetrievalRef, error)
	deleteJob  func(jobID string) error
	queueStats usecase.QueueStats
}

func (s *stubUsecase) CreateJob(_ context.Context, identity string, p domain.CreateJobParams) (domain.Job, error) {
	return s.createJob(identity, p)
}

func (s *stubUsecase) GetStatus(_ context.Context, identity, jobID string) (domain.StatusResponse, error) {
	return s.getStatus(identity, jobID)
}

func (s *stubUsecase) Download(_ context.Context, jobID string) (domain.RetrievalRef, error) {
	return s.download(jobID)
}

func (s *stubUsecase) DeleteJob(_ context.Context, jobID string) error {
	return s.deleteJob(jobID)
}

func (s *stubUsecase) Stats(context.Context) (usecase.QueueStats, error) {
	return s.queueStats, nil
}

func newTestServer(uc Usecase) *httptest.Server {
	h := NewHandler(uc, nil, nil, "test-admin")
	mux := NewRouter(h).MountRoutes(http.NewServeMux())
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestCreateJobCreated(t *testing.T) {
	uc := &stubUsecase{
		createJob: func(identity string, p domain.CreateJobParams) (domain.Job, error) {
			if identity == "" {
				t.Error("empty client identity")
			}
			return domain.Job{ID: "job-1", Status: domain.StatusQueued}, nil
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/jobs", domain.CreateJobParams{
		SourceURL: "https://example.com/v/1",
		TrimEnd:   30,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created domain.CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != "job-1" || created.Status != domain.StatusQueued {
		t.Fatalf("created = %+v", created)
	}
}

func TestCreateJobBadJSON(t *testing.T) {
	srv := newTestServer(&stubUsecase{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateJobValidationError(t *testing.T) {
	uc := &stubUsecase{
		createJob: func(string, domain.CreateJobParams) (domain.Job, error) {
			return domain.Job{}, &domain.ValidationError{
				Code:    domain.CodeInvalidRange,
				Message: "trim_end must be greater than trim_start",
			}
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/jobs", domain.CreateJobParams{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body domain.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != domain.CodeInvalidRange {
		t.Fatalf("body = %+v", body)
	}
}

func TestCreateJobRateLimited(t *testing.T) {
	uc := &stubUsecase{
		createJob: func(string, domain.CreateJobParams) (domain.Job, error) {
			return domain.Job{}, &usecase.Denied{
				Code:       domain.CodeRateLimited,
				RetryAfter: 90 * time.Second,
			}
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/jobs", domain.CreateJobParams{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "90" {
		t.Fatalf("Retry-After = %q, want 90", got)
	}
	var body domain.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != domain.CodeRateLimited || body.RetryAfterSeconds != 90 {
		t.Fatalf("body = %+v", body)
	}
}

func TestCreateJobQueueFull(t *testing.T) {
	uc := &stubUsecase{
		createJob: func(string, domain.CreateJobParams) (domain.Job, error) {
			return domain.Job{}, &usecase.Denied{
				Code:       domain.CodeQueueFull,
				RetryAfter: 30 * time.Second,
			}
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/jobs", domain.CreateJobParams{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	var body domain.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != domain.CodeQueueFull {
		t.Fatalf("body = %+v", body)
	}
}

func TestGetJob(t *testing.T) {
	uc := &stubUsecase{
		getStatus: func(_, jobID string) (domain.StatusResponse, error) {
			return domain.StatusResponse{ID: jobID, Status: domain.StatusWorking, Progress: 42, Stage: "encoding"}, nil
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body domain.StatusResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.ID != "job-1" || body.Progress != 42 || body.Stage != "encoding" {
		t.Fatalf("body = %+v", body)
	}
}

func TestGetJobNotFound(t *testing.T) {
	uc := &stubUsecase{
		getStatus: func(string, string) (domain.StatusResponse, error) {
			return domain.StatusResponse{}, domain.ErrJobNotFound
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body domain.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != domain.CodeJobNotFound {
		t.Fatalf("body = %+v", body)
	}
}

func TestDownloadRedirect(t *testing.T) {
	uc := &stubUsecase{
		download: func(string) (domain.RetrievalRef, error) {
			return domain.RetrievalRef{URL: "/artifacts/tok-1"}, nil
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(srv.URL + "/jobs/job-1/download")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/artifacts/tok-1" {
		t.Fatalf("location = %q", loc)
	}
}

func TestDownloadNotReady(t *testing.T) {
	uc := &stubUsecase{
		download: func(string) (domain.RetrievalRef, error) {
			return domain.RetrievalRef{}, domain.ErrJobNotReady
		},
	}
	srv := newTestServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/job-1/download")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteJobNoContent(t *testing.T) {
	uc := &stubUsecase{
		deleteJob: func(string) error { return nil },
	}
	srv := newTestServer(uc)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/jobs/job-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

type stubOpener struct {
	data map[string]string
}

func (s *stubOpener) OpenToken(_ context.Context, token string) (io.ReadCloser, int64, error) {
	content, ok := s.data[token]
	if !ok {
		return nil, 0, domain.ErrArtifactNotFound
	}
	return io.NopCloser(strings.NewReader(content)), int64(len(content)), nil
}

func TestArtifactStreaming(t *testing.T) {
	h := NewHandler(&stubUsecase{}, &stubOpener{data: map[string]string{"tok-1": "clip bytes"}}, nil, "")
	srv := httptest.NewServer(NewRouter(h).MountRoutes(http.NewServeMux()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/artifacts/tok-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "clip bytes" {
		t.Fatalf("body = %q", data)
	}

	resp2, err := http.Get(srv.URL + "/artifacts/expired")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expired token status = %d, want 404", resp2.StatusCode)
	}
}

func TestAdminQueueAuth(t *testing.T) {
	uc := &stubUsecase{queueStats: usecase.QueueStats{Active: 2}}
	srv := newTestServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/queue")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthenticated status = %d, want 403", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/queue", nil)
	req.Header.Set("X-Admin-Token", "test-admin")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
	var stats usecase.QueueStats
	_ = json.NewDecoder(resp.Body).Decode(&stats)
	if stats.Active != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestClientIdentity(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "peer address", remoteAddr: "10.0.0.1:54321", want: "10.0.0.1"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:54321", forwarded: "203.0.113.7", want: "203.0.113.7"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:54321", forwarded: "203.0.113.7, 10.0.0.2", want: "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/jobs/x", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIdentity(r); got != tt.want {
				t.Fatalf("identity = %q, want %q", got, tt.want)
			}
		})
	}
}
