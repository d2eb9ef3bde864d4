package services

import (
	"errors"
	"fmt"

	"webpconverter/models"
)

var (
	ErrNotFound       = errors.New("artifact not found")
	ErrExists         = errors.New("artifact already exists")
	ErrNotAnImage     = errors.New("not an image")
	ErrEmptySelection = errors.New("no files selected")
	ErrBatchTooLarge  = errors.New("too many files")
)

type CodecErrorKind string

const (
	KindNotAnImage CodecErrorKind = "not-an-image"
	KindDecode     CodecErrorKind = "decode"
	KindEncode     CodecErrorKind = "encode"
	KindWrite      CodecErrorKind = "write"
	KindTimeout    CodecErrorKind = "timeout"
)

// CodecError is the typed failure the codec reports for every fault.
type CodecError struct {
	Kind CodecErrorKind
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Kind, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// ClientAttributable reports whether resubmitting different input would fix it.
func (e *CodecError) ClientAttributable() bool {
	return e.Kind == KindNotAnImage || e.Kind == KindDecode
}

// RejectError carries a validation verdict through the error path.
type RejectError struct {
	Verdict models.Verdict
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("file %q rejected: %s", e.Verdict.Filename, e.Verdict.Reason)
}

func (e *RejectError) Is(target error) bool {
	switch target {
	case ErrEmptySelection:
		return e.Verdict.Reason == models.ReasonEmptySelection
	case ErrBatchTooLarge:
		return e.Verdict.Reason == models.ReasonBatchTooLarge
	}
	return false
}
