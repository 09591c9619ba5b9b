package transport

import "net/http"

type router struct {
	handler *Handler
}

func NewRouter(h *Handler) *router {
	return &router{handler: h}
}

func (rt *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	h := rt.handler

	mux.HandleFunc("POST /jobs", h.createJob)
	mux.HandleFunc("GET /jobs/{id}", h.getJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.deleteJob)
	mux.HandleFunc("GET /jobs/{id}/download", h.download)
	mux.HandleFunc("GET /artifacts/{token}", h.artifact)

	mux.HandleFunc("GET /healthz", h.health)

	mux.HandleFunc("GET /admin/queue", h.adminQueue)
	mux.HandleFunc("POST /admin/cleanup", h.adminCleanup)

	return mux
}
