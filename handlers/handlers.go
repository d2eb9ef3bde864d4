package handlers

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"

	"webpconverter/config"
	"webpconverter/services"
	"webpconverter/worker"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

type HTTPHandlers struct {
	Batch  *worker.BatchConverter
	Store  services.ArtifactStore
	Config *config.Config
	Logger *slog.Logger

	templates *template.Template
}

func NewHTTPHandlers(cfg *config.Config, batch *worker.BatchConverter, store services.ArtifactStore, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		Batch:     batch,
		Store:     store,
		Config:    cfg,
		Logger:    logger,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

func staticFiles() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
