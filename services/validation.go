package services

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"webpconverter/config"
	"webpconverter/models"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename reduces a client supplied name to a flat, ASCII-only
// filename that cannot address anything outside the directory it is joined to.
// Accented letters lose their marks, other non-ASCII runes are dropped.
// It returns "" when nothing usable is left.
func SanitizeFilename(name string) string {
	if folded, _, err := transform.String(foldMarks(), name); err == nil {
		name = folded
	}
	name = strings.NewReplacer("/", " ", "\\", " ", "\x00", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	return strings.Trim(name, "._")
}

// foldMarks decomposes runes and strips the combining marks. Transformers
// carry state, so each call gets its own chain.
func foldMarks() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
}

// Validator is the gate every upload passes before it reaches the codec.
type Validator struct {
	accepted    map[string]struct{}
	maxFileSize int64
	maxFiles    int
}

func NewValidator(cfg *config.Config) *Validator {
	accepted := make(map[string]struct{}, len(cfg.AcceptedExtensions))
	for _, ext := range cfg.AcceptedExtensions {
		accepted[strings.ToLower(ext)] = struct{}{}
	}
	return &Validator{
		accepted:    accepted,
		maxFileSize: cfg.MaxFileSize,
		maxFiles:    cfg.MaxFiles,
	}
}

// CheckBatch runs the batch-level checks. The count limit is evaluated before
// anything looks at individual items.
func (v *Validator) CheckBatch(items []models.UploadItem) models.Verdict {
	if v.maxFiles > 0 && len(items) > v.maxFiles {
		return models.Reject("", models.ReasonBatchTooLarge)
	}
	for _, item := range items {
		if item.Filename != "" {
			return models.Accept("")
		}
	}
	return models.Reject("", models.ReasonEmptySelection)
}

// CheckItem sanitizes the item's name and checks extension and size.
func (v *Validator) CheckItem(item models.UploadItem) models.Verdict {
	filename := SanitizeFilename(item.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := v.accepted[ext]; !ok || filename == "" {
		return models.Reject(filename, models.ReasonUnsupportedFormat)
	}
	if v.maxFileSize > 0 && item.Size > v.maxFileSize {
		return models.Reject(filename, models.ReasonOversized)
	}
	return models.Accept(filename)
}
