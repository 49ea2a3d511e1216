package context

import (
	"context"

	"stencil/internal/platform/keys"
)

type Key string

const (
	Principal     Key = "principal"
	CorrelationID Key = "correlation_id"
	Params        Key = "params"
)

// PrincipalFrom returns the authenticated principal, or nil on routes that
// did not pass through the auth middleware.
func PrincipalFrom(ctx context.Context) *keys.Principal {
	p, _ := ctx.Value(Principal).(*keys.Principal)
	return p
}

// CorrelationIDFrom returns the request's correlation ID, or "" outside a
// request scope.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationID).(string)
	return id
}
