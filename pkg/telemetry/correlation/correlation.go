package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// HeaderRequestID is the inbound/outbound header carrying the request id.
const HeaderRequestID = "X-Request-Id"

type requestIDKey struct{}

// RequestIDFromContext fetches the request id from the context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(requestIDKey{}).(string); ok {
		return val
	}
	return ""
}

// WithRequestID stores id on the context. Blank ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// EnsureRequestID guarantees a request id on the context, generating a ULID when missing.
func EnsureRequestID(ctx context.Context, candidate string) (context.Context, string) {
	id := strings.TrimSpace(candidate)
	if id == "" {
		id = RequestIDFromContext(ctx)
	}
	if id == "" {
		id = NewID()
	}
	return WithRequestID(ctx, id), id
}

func NewID() string {
	return ulid.Make().String()
}
