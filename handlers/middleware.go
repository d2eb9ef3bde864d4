package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"webpconverter/reqmeta"
)

const (
	HeaderXRequestID = "X-Request-ID"
)

// RequestMetadata tags every request with an id, taken from X-Request-ID
// when the client sent one.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderXRequestID, requestID)

		metadata := reqmeta.NewRequestMetadata(requestID, reqmeta.WithHTTPMetadata(reqmeta.HTTPMetadata{
			Method:     r.Method,
			URL:        r.URL.String(),
			RemoteAddr: r.RemoteAddr,
		}))

		r = r.WithContext(reqmeta.NewContext(r.Context(), metadata))
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandlers) AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.Info("request",
			"request_id", reqmeta.RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
