package middleware

import (
	"context"

	"github.com/hivemind/hivemind/internal/auth"
)

type contextKey string

const (
	identityKey      contextKey = "identity"
	identityTraceKey contextKey = "identity_trace"
)

// identityTrace is a mutable slot the request logger installs before the
// auth layer runs. Auth resolves the identity on a derived request deeper in
// the chain, so the logger can only see it through this slot.
type identityTrace struct {
	id *auth.Identity
}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *auth.Identity) context.Context {
	if id == nil {
		return ctx
	}
	if tr, ok := ctx.Value(identityTraceKey).(*identityTrace); ok {
		tr.id = id
	}
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the authenticated identity from the context. Returns
// nil for anonymous requests (public paths only).
func GetIdentity(ctx context.Context) *auth.Identity {
	if v, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return v
	}
	return nil
}

// TenantID returns the caller's tenant, or "" for anonymous requests.
func TenantID(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil {
		return id.TenantID
	}
	return ""
}
