package reqmeta

import "context"

type RequestMetadata struct {
	RequestID string
	HTTPMetadata
}

type HTTPMetadata struct {
	Method     string
	URL        string
	RemoteAddr string
}

type Option func(*RequestMetadata)

func NewRequestMetadata(requestID string, options ...Option) *RequestMetadata {
	rm := &RequestMetadata{
		RequestID: requestID,
	}

	for _, option := range options {
		option(rm)
	}

	return rm
}

func WithHTTPMetadata(hmd HTTPMetadata) Option {
	return func(rm *RequestMetadata) {
		rm.HTTPMetadata = hmd
	}
}

type requestMetadataKey struct{}

func NewContext(ctx context.Context, rm *RequestMetadata) context.Context {
	return context.WithValue(ctx, requestMetadataKey{}, rm)
}

func FromContext(ctx context.Context) (*RequestMetadata, bool) {
	rm, ok := ctx.Value(requestMetadataKey{}).(*RequestMetadata)
	return rm, ok
}

// RequestID returns the id of the request ctx belongs to, or "".
func RequestID(ctx context.Context) string {
	if rm, ok := FromContext(ctx); ok {
		return rm.RequestID
	}
	return ""
}
