package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
	"github.com/subszero0/meme-maker/internal/usecase"
)

type Usecase interface {
	CreateJob(ctx context.Context, identity string, p domain.CreateJobParams) (domain.Job, error)
	GetStatus(ctx context.Context, identity, jobID string) (domain.StatusResponse, error)
	Download(ctx context.Context, jobID string) (domain.RetrievalRef, error)
	DeleteJob(ctx context.Context, jobID string) error
	Stats(ctx context.Context) (usecase.QueueStats, error)
}

// ArtifactOpener serves token-based retrieval references. Backends that
// presign absolute URLs (object storage) don't implement it and the
// /artifacts route answers 404.
type ArtifactOpener interface {
	OpenToken(ctx context.Context, token string) (io.ReadCloser, int64, error)
}

// Sweeper is the janitor surface exposed to the admin API.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type Handler struct {
	usecase    Usecase
	artifacts  ArtifactOpener
	sweeper    Sweeper
	adminToken string
}

func NewHandler(uc Usecase, artifacts ArtifactOpener, sweeper Sweeper, adminToken string) *Handler {
	return &Handler{
		usecase:    uc,
		artifacts:  artifacts,
		sweeper:    sweeper,
		adminToken: adminToken,
	}
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var params domain.CreateJobParams
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := h.usecase.CreateJob(r.Context(), clientIdentity(r), params)
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, domain.CreateResponse{ID: job.ID, Status: job.Status})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	resp, err := h.usecase.GetStatus(r.Context(), clientIdentity(r), r.PathValue("id"))
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.usecase.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	ref, err := h.usecase.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}
	http.Redirect(w, r, ref.URL, http.StatusFound)
}

func (h *Handler) artifact(w http.ResponseWriter, r *http.Request) {
	if h.artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	rc, size, err := h.artifacts.OpenToken(r.Context(), r.PathValue("token"))
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		slog.Error("open artifact", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="clip"`)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("stream artifact", slog.String("error", err.Error()))
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) adminQueue(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		writeError(w, http.StatusForbidden, "")
		return
	}
	stats, err := h.usecase.Stats(r.Context())
	if err != nil {
		slog.Error("queue stats", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) adminCleanup(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		writeError(w, http.StatusForbidden, "")
		return
	}
	if h.sweeper == nil {
		writeError(w, http.StatusNotFound, "")
		return
	}
	if err := h.sweeper.Sweep(r.Context()); err != nil {
		slog.Error("forced cleanup", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

func (h *Handler) adminAuthorized(r *http.Request) bool {
	return h.adminToken != "" && r.Header.Get("X-Admin-Token") == h.adminToken
}

func (h *Handler) writeUsecaseError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *usecase.Denied
	if errors.As(err, &denied) {
		retryAfter := int(denied.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, domain.ErrorResponse{
			Error:             http.StatusText(http.StatusTooManyRequests),
			Message:           denied.Error(),
			Code:              denied.Code,
			RetryAfterSeconds: retryAfter,
		})
		return
	}

	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Message: vErr.Message,
			Code:    vErr.Code,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, domain.ErrorResponse{
			Error:   http.StatusText(http.StatusNotFound),
			Message: "job not found",
			Code:    domain.CodeJobNotFound,
		})
	case errors.Is(err, domain.ErrJobNotReady), errors.Is(err, domain.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "result not available")
	default:
		slog.Error("handler error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "")
	}
}

// clientIdentity picks the rate-limit identity: first X-Forwarded-For hop
// when present, else the peer address.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
