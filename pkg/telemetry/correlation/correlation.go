// Package correlation tags a context with a stable identifier that survives
// goroutine handoffs and outlives any single span.
package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type ctxKey struct{}

// FromContext returns the correlation id, or empty when the context carries
// none.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// EnsureCorrelationID returns a context carrying a correlation id, minting
// a ulid when the context has none. The id is returned either way.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, ctxKey{}, id), id
}
