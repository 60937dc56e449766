package hub

import (
	"context"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

type scopeKey struct{}

// Scoped returns a context whose ambient event context is the current one with
// partial applied on top. Nested scopes compose, child overriding parent, and the
// parent context is left untouched.
func Scoped(ctx context.Context, partial domain.EventContext) context.Context {
	return context.WithValue(ctx, scopeKey{}, Current(ctx).Merge(partial))
}

// Current returns the ambient event context carried by ctx.
func Current(ctx context.Context) domain.EventContext {
	if ctx == nil {
		return domain.EventContext{}
	}
	ec, _ := ctx.Value(scopeKey{}).(domain.EventContext)
	return ec
}
