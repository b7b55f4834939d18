package domain

import (
	"context"
	"slices"
)

type principalKey struct{}

// ContextPrincipal carries the already-resolved caller identity through the
// request context. Groups are the policy memberships used for resolution.
type ContextPrincipal struct {
	Name   string
	Groups []string
}

// PrincipalName implements SecurityContext.
func (p ContextPrincipal) PrincipalName() string { return p.Name }

// GroupMemberships implements SecurityContext. The returned slice is a copy.
func (p ContextPrincipal) GroupMemberships() []string { return slices.Clone(p.Groups) }

// Anonymous is the principal used when a transport attaches no identity.
var Anonymous = ContextPrincipal{Name: "anonymous"}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}

// SecurityContextFrom returns the principal in ctx, or Anonymous.
func SecurityContextFrom(ctx context.Context) SecurityContext {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p
	}
	return Anonymous
}
