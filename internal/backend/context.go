package backend

import "context"

type contextKey int

const requestIDKey contextKey = iota

// WithRequestID attaches a request ID that is forwarded to backends as
// X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID from context, or empty string.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
