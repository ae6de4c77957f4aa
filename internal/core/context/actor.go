// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"strings"
)

type actorKey struct{}

// WithActor binds the acting-as identity for every tracked mutation executed
// with the returned context. Surrounding whitespace is trimmed.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actor))
}

// GetActor returns the bound actor or empty string.
func GetActor(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return ""
}

// ActorFrom returns the bound actor and whether it is non-empty.
//
// Usage in the mutation hook:
//
//	actor, ok := appctx.ActorFrom(ctx)
//	if !ok {
//	    return apperror.NewMissingActor(table)
//	}
func ActorFrom(ctx context.Context) (string, bool) {
	a := GetActor(ctx)
	return a, a != ""
}
