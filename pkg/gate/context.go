package gate

import (
	"context"

	"github.com/fourotwo-xyz/web-scraper/pkg/identity"
)

// Tier describes how the gate admitted a request.
type Tier struct {
	Identity  identity.CallerIdentity
	Free      bool
	Remaining int
}

type tierKey struct{}

// WithTier returns a copy of ctx carrying t.
func WithTier(ctx context.Context, t Tier) context.Context {
	return context.WithValue(ctx, tierKey{}, t)
}

// FromContext returns the tier the gate attached to ctx.
func FromContext(ctx context.Context) (Tier, bool) {
	t, ok := ctx.Value(tierKey{}).(Tier)
	return t, ok
}
