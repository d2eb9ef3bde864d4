package models

type RejectReason string

const (
	ReasonUnsupportedFormat RejectReason = "unsupported-format"
	ReasonOversized         RejectReason = "oversized"
	ReasonBatchTooLarge     RejectReason = "batch-too-large"
	ReasonEmptySelection    RejectReason = "empty-selection"
)

// Verdict is the outcome of validating one item or a whole batch.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
	// Filename is the sanitized name the verdict was reached on.
	Filename string
}

func Accept(filename string) Verdict {
	return Verdict{Accepted: true, Filename: filename}
}

func Reject(filename string, reason RejectReason) Verdict {
	return Verdict{Reason: reason, Filename: filename}
}
