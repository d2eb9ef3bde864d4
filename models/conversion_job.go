package models

import (
	"io"
	"time"
)

// UploadItem is one file of a multipart batch. It lives for a single request.
type UploadItem struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// ConversionJob binds one accepted UploadItem to the parameters it is
// converted with. It is owned by the batch that created it.
type ConversionJob struct {
	Index        int
	ArtifactID   string
	Filename     string
	Item         UploadItem
	Quality      int
	MaxDimension int
	CreatedAt    time.Time
	Timeout      time.Duration
}

type ConversionStatus string

const (
	StatusCompleted ConversionStatus = "completed"
	StatusRejected  ConversionStatus = "rejected"
	StatusFailed    ConversionStatus = "failed"
)

// ConversionRecord is what the status recorders keep about a finished item.
type ConversionRecord struct {
	ArtifactID  string
	Filename    string
	Status      ConversionStatus
	Reason      string
	Width       int
	Height      int
	Quality     int
	Downsampled bool
	InputBytes  int64
	OutputBytes int64
	Duration    time.Duration
	RequestID   string
	CreatedAt   time.Time
}
