package models

import "time"

const WebPContentType = "image/webp"

// Artifact is a converted image addressable by its identifier.
type Artifact struct {
	ID          string
	Size        int64
	ContentType string
	ModTime     time.Time
}
