package tether

import "context"

type contextKey int

const (
	ctxKeyNamespace contextKey = iota
	ctxKeyActor
)

// Actor identifies who performed a mutation, for audit attribution.
// All fields are optional.
type Actor struct {
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// WithNamespace returns a context bound to the given tenant namespace.
// Engine operations that receive no explicit namespace use the bound one;
// operations with neither fail closed.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, ctxKeyNamespace, namespace)
}

// WithActor returns a context carrying actor attribution. Mutations stamp
// the actor onto the audit events they emit.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

func namespaceFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyNamespace).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func actorFromContext(ctx context.Context) Actor {
	v, ok := ctx.Value(ctxKeyActor).(Actor)
	if !ok {
		return Actor{}
	}
	return v
}
