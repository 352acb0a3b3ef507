package protocol

import "context"

// originKey is the context key for the message origin.
type originKey struct{}

// Origin identifies the channel a message arrived on.
type Origin struct {
	SessionID    string
	ConnectionID string
}

// ContextWithOrigin returns a new context with the origin attached.
func ContextWithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFromContext returns the origin from the context.
// The second result is false if no origin is present.
func OriginFromContext(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}
