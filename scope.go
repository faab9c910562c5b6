package tether

import (
	"context"

	"github.com/xraph/forge"
)

// scopeNamespace extracts the tenant namespace from forge.Scope or the
// standalone context binding. The Forge scope wins when both are present.
func scopeNamespace(ctx context.Context) (string, bool) {
	if s, ok := forge.ScopeFrom(ctx); ok && s.OrgID() != "" {
		return s.OrgID(), true
	}
	return namespaceFromContext(ctx)
}
