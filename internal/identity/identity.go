// Package identity resolves the acting principal. Resolution must never fail
// past this boundary: every resolver degrades to the anonymous sentinel.
package identity

import "context"

// Anonymous is the sentinel actor recorded when resolution fails.
const Anonymous = "anonymous"

type Resolver interface {
	// Resolve returns the acting principal's opaque identifier. It never
	// returns an empty string and never panics; failures yield Anonymous.
	Resolve(ctx context.Context) string
}

// Static resolves to a fixed actor id, or Anonymous when empty.
type Static string

func (s Static) Resolve(context.Context) string {
	if s == "" {
		return Anonymous
	}
	return string(s)
}

type ctxKey struct{}

// WithActor stores an actor id on the context.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, actorID)
}

// FromContext resolves the actor stored on the context, falling back to
// Anonymous.
type FromContext struct{}

func (FromContext) Resolve(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
		return v
	}
	return Anonymous
}
