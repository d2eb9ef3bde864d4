package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"webpconverter/reqmeta"
	"webpconverter/services"
)

// Download streams an artifact as an attachment.
func (h *HTTPHandlers) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := h.Logger.With("request_id", reqmeta.RequestID(r.Context()), "artifact", id)

	rc, artifact, err := h.Store.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			plainText(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Error("failed to open artifact", "error", err)
		plainText(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.ID}))

	logger.Info("artifact downloaded", "remote_addr", r.RemoteAddr)

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, artifact.ID, artifact.ModTime, rs)
		return
	}

	if artifact.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("download interrupted", "error", err)
	}
}
