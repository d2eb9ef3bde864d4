package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"webpconverter/models"
	"webpconverter/reqmeta"
	"webpconverter/services"
	"webpconverter/worker"
)

const (
	formFieldFiles   = "files"
	formFieldQuality = "quality"
	maxMemory        = 32 << 20
)

type indexView struct {
	Extensions    []string
	MaxFiles      int
	MaxFileSize   int64
	MaxFileSizeMB int64
}

type successView struct {
	Files []models.Artifact
}

func (h *HTTPHandlers) Index(w http.ResponseWriter, r *http.Request) {
	view := indexView{
		Extensions:    h.Config.AcceptedExtensions,
		MaxFiles:      h.Config.MaxFiles,
		MaxFileSize:   h.Config.MaxFileSize,
		MaxFileSizeMB: h.Config.MaxFileSize >> 20,
	}
	h.render(w, http.StatusOK, "index.html", view)
}

// Upload converts the multipart batch in the "files" field.
func (h *HTTPHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger.With("request_id", reqmeta.RequestID(r.Context()))

	if limit := h.Config.RequestLimit(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			logger.Warn("upload too large", "limit", maxErr.Limit)
			plainText(w, http.StatusBadRequest, "upload too large")
		case errors.Is(err, http.ErrNotMultipart):
			plainText(w, http.StatusBadRequest, "no files selected")
		default:
			logger.Warn("failed to parse upload", "error", err)
			plainText(w, http.StatusBadRequest, "malformed upload")
		}
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	quality, err := parseQuality(r.MultipartForm.Value[formFieldQuality])
	if err != nil {
		plainText(w, http.StatusBadRequest, "invalid quality: "+err.Error())
		return
	}

	items := uploadItems(r.MultipartForm.File[formFieldFiles])
	result, err := h.Batch.Convert(r.Context(), items, quality)
	if err != nil {
		var rejectErr *services.RejectError
		switch {
		case errors.Is(err, services.ErrEmptySelection):
			plainText(w, http.StatusBadRequest, "no files selected")
		case errors.Is(err, services.ErrBatchTooLarge):
			plainText(w, http.StatusBadRequest, fmt.Sprintf("too many files (max %d)", h.Config.MaxFiles))
		case errors.As(err, &rejectErr):
			plainText(w, http.StatusBadRequest, string(rejectErr.Verdict.Reason))
		default:
			logger.Error("batch conversion failed", "error", err)
			plainText(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	switch result.Outcome() {
	case worker.OutcomeClientFailure:
		plainText(w, http.StatusBadRequest, "all files are invalid")
	case worker.OutcomeServerFailure:
		plainText(w, http.StatusInternalServerError, "failed to convert all files")
	default:
		h.render(w, http.StatusOK, "success.html", successView{Files: result.Converted})
	}
}

func uploadItems(headers []*multipart.FileHeader) []models.UploadItem {
	items := make([]models.UploadItem, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		items = append(items, models.UploadItem{
			Filename: fh.Filename,
			Size:     fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return items
}

// parseQuality returns 0 when the field is absent, meaning the default.
func parseQuality(values []string) (int, error) {
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return 0, nil
	}
	quality, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return 0, errors.New("must be a number")
	}
	if err := validation.Validate(quality, validation.Min(1), validation.Max(100)); err != nil {
		return 0, err
	}
	return quality, nil
}

func (h *HTTPHandlers) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error("failed to render template", "template", name, "error", err)
	}
}

func plainText(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}
