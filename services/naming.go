package services

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	artifactExt      = ".webp"
	maxSuffixLength  = 64
	allocateAttempts = 5
)

// NewIdentifier returns a fresh artifact identifier: a random uuid in hex
// form, optionally followed by the sanitized stem of the original name.
func NewIdentifier(originalName string, withSuffix bool) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if withSuffix {
		stem := SanitizeFilename(strings.TrimSuffix(originalName, filepath.Ext(originalName)))
		if len(stem) > maxSuffixLength {
			// A cut may leave a trailing dot that would run into the extension.
			stem = strings.TrimRight(stem[:maxSuffixLength], "._")
		}
		if stem != "" {
			id += "_" + stem
		}
	}
	return id + artifactExt
}

// ValidIdentifier reports whether id could have been produced by
// NewIdentifier. Anything else is never looked up in storage.
func ValidIdentifier(id string) bool {
	if !strings.HasSuffix(id, artifactExt) || len(id) < 32+len(artifactExt) {
		return false
	}
	if SanitizeFilename(id) != id {
		return false
	}
	for _, r := range id[:32] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	rest := id[32:]
	return rest == artifactExt || strings.HasPrefix(rest, "_")
}
