// Package middleware provides HTTP authorization middleware for Tether.
package middleware

import (
	"encoding/json"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
)

// Require enforces a permission. It resolves the user from the request
// context (Authsome user > anonymous) and checks whether the user holds the
// permission on the resource type, with the resource id taken from the
// route's "id" parameter.
func Require(eng *tether.Engine, permission, resourceType string) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			allowed, err := eng.Check(ctx.Context(), &tether.CheckRequest{
				UserID:       resolveUser(ctx),
				Permission:   permission,
				ResourceType: resourceType,
				ResourceID:   ctx.Param("id"),
			})
			if err != nil || !allowed {
				return denyResponse(ctx)
			}
			return next(ctx)
		}
	}
}

// RequireAny allows the request if ANY of the checks pass. The user id of
// each check is overwritten with the one resolved from the request context.
func RequireAny(eng *tether.Engine, checks ...tether.CheckRequest) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			user := resolveUser(ctx)
			for i := range checks {
				c := checks[i]
				c.UserID = user
				allowed, err := eng.Check(ctx.Context(), &c)
				if err == nil && allowed {
					return next(ctx)
				}
			}
			return denyResponse(ctx)
		}
	}
}

// RequireAll allows the request only if ALL checks pass.
func RequireAll(eng *tether.Engine, checks ...tether.CheckRequest) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			user := resolveUser(ctx)
			for i := range checks {
				c := checks[i]
				c.UserID = user
				allowed, err := eng.Check(ctx.Context(), &c)
				if err != nil || !allowed {
					return denyResponse(ctx)
				}
			}
			return next(ctx)
		}
	}
}

// resolveUser extracts the user from context.
// Priority: Forge user ID (from Authsome) → anonymous.
func resolveUser(ctx forge.Context) string {
	if userID := forge.UserIDFromContext(ctx.Context()); userID != "" {
		return userID
	}
	return "anonymous"
}

func denyResponse(ctx forge.Context) error {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.Response().WriteHeader(403)
	return json.NewEncoder(ctx.Response()).Encode(map[string]string{"error": "access denied"})
}
