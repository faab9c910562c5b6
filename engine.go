package tether

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tether/store"
	"github.com/xraph/tether/validate"
)

// Engine is the central ReBAC engine. It coordinates the write path, the
// lazy evaluator, expiration, maintenance, and audit emission.
type Engine struct {
	store  store.Store
	cache  Cache
	logger *slog.Logger
	config Config
	now    func() time.Time
}

// NewEngine creates a new Tether engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: slog.Default(),
		config: DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, errors.New("tether: store is required")
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Store returns the underlying composite store.
func (e *Engine) Store() store.Store { return e.store }

// Start performs any startup initialization.
func (e *Engine) Start(_ context.Context) error { return nil }

// Stop performs graceful shutdown.
func (e *Engine) Stop(_ context.Context) error { return nil }

// resolveNamespace determines the effective namespace for an operation.
// A namespace bound to the context wins; an explicit argument that disagrees
// with it is logged, because the caller will observe the bound tenant's data
// and not the one it named.
func (e *Engine) resolveNamespace(ctx context.Context, explicit string) (string, error) {
	bound, haveBound := scopeNamespace(ctx)

	ns := explicit
	switch {
	case haveBound && explicit != "" && explicit != bound:
		e.logger.WarnContext(ctx, "namespace argument disagrees with bound tenant",
			"argument", explicit, "tenant", bound)
		ns = bound
	case haveBound && explicit == "":
		ns = bound
	case !haveBound && explicit == "":
		ns = e.config.DefaultNamespace
	}

	if ns == "" {
		return "", wrapError(CodeNullValue, ErrTenantRequired, "namespace: no tenant bound and no namespace given")
	}
	if err := validate.Namespace("namespace", ns); err != nil {
		return "", err
	}
	return ns, nil
}

// Check reports whether the user holds the permission on the resource.
// This is the hot path.
func (e *Engine) Check(ctx context.Context, req *CheckRequest) (bool, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return false, err
	}
	if err := e.validateCheckArgs(req.UserID, req.Permission, req.ResourceType, req.ResourceID); err != nil {
		return false, err
	}

	if e.cache != nil {
		if allowed, ok := e.cache.Get(ctx, ns, req); ok {
			return allowed, nil
		}
	}

	perms, err := e.effectivePermissions(ctx, ns, req.UserID, req.ResourceType, req.ResourceID)
	if err != nil {
		return false, err
	}
	_, allowed := perms[req.Permission]

	if e.cache != nil {
		e.cache.Set(ctx, ns, req, allowed)
	}
	return allowed, nil
}

// CheckAny reports whether the user holds at least one of the permissions.
// An empty permission set yields false.
func (e *Engine) CheckAny(ctx context.Context, req *CheckAnyRequest) (bool, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return false, err
	}
	if len(req.Permissions) == 0 {
		return false, nil
	}
	if err := validate.Identifiers("permissions", req.Permissions); err != nil {
		return false, err
	}
	if err := e.validateCheckArgs(req.UserID, req.Permissions[0], req.ResourceType, req.ResourceID); err != nil {
		return false, err
	}

	perms, err := e.effectivePermissions(ctx, ns, req.UserID, req.ResourceType, req.ResourceID)
	if err != nil {
		return false, err
	}
	for _, p := range req.Permissions {
		if _, ok := perms[p]; ok {
			return true, nil
		}
	}
	return false, nil
}

// CheckAll reports whether the user holds every one of the permissions.
// An empty permission set yields true.
func (e *Engine) CheckAll(ctx context.Context, req *CheckAllRequest) (bool, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return false, err
	}
	if len(req.Permissions) == 0 {
		return true, nil
	}
	if err := validate.Identifiers("permissions", req.Permissions); err != nil {
		return false, err
	}
	if err := e.validateCheckArgs(req.UserID, req.Permissions[0], req.ResourceType, req.ResourceID); err != nil {
		return false, err
	}

	perms, err := e.effectivePermissions(ctx, ns, req.UserID, req.ResourceType, req.ResourceID)
	if err != nil {
		return false, err
	}
	for _, p := range req.Permissions {
		if _, ok := perms[p]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) validateCheckArgs(userID, permission, resourceType, resourceID string) error {
	if err := validate.FreeformID("user_id", userID); err != nil {
		return err
	}
	if err := validate.Identifier("permission", permission); err != nil {
		return err
	}
	if err := validate.Identifier("resource_type", resourceType); err != nil {
		return err
	}
	return validate.FreeformID("resource_id", resourceID)
}

// effectivePermissions returns the full permission set the user holds on the
// resource: direct and group grants on the resource and its ancestors,
// closed over the hierarchy rules for the resource type.
func (e *Engine) effectivePermissions(ctx context.Context, ns, userID, resourceType, resourceID string) (map[string]struct{}, error) {
	now := e.now()

	memberships, err := e.expandMemberships(ctx, ns, userID, now)
	if err != nil {
		return nil, err
	}
	ancestors, err := e.expandAncestors(ctx, ns, resourceType, resourceID, now)
	if err != nil {
		return nil, err
	}
	grants, err := e.collectGrants(ctx, ns, userID, memberships, ancestors, now)
	if err != nil {
		return nil, err
	}
	closed, err := e.closePermissions(ctx, ns, resourceType, grants)
	if err != nil {
		return nil, fmt.Errorf("tether: close permissions for %s: %w", resourceType, err)
	}
	return closed, nil
}

func (e *Engine) invalidateCache(ctx context.Context, ns string) {
	if e.cache != nil {
		e.cache.InvalidateNamespace(ctx, ns)
	}
}
