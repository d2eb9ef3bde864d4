package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the upload, download and operational endpoints. A nil
// metrics handler leaves /metrics unrouted.
func NewRouter(h *HTTPHandlers, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestMetadata)
	r.Use(middleware.Recoverer)
	r.Use(h.AccessLog)

	r.Get("/", h.Index)
	r.Post("/", h.Upload)
	r.Get("/download/{id}", h.Download)
	r.Get("/output/{id}", h.Download)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFiles()))))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}
