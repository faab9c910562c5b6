package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
)

func (a *API) registerCheckRoutes(router forge.Router) error {
	g := router.Group("/v1/authz", forge.WithGroupTags("authorization"))

	if err := g.POST("/check", a.check,
		forge.WithSummary("Permission check"),
		forge.WithDescription("Evaluates whether the user holds the permission on the resource."),
		forge.WithOperationID("authzCheck"),
		forge.WithRequestSchema(CheckRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Check result", CheckResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/check-any", a.checkAny,
		forge.WithSummary("Any-of permission check"),
		forge.WithDescription("Evaluates whether the user holds at least one of the permissions."),
		forge.WithOperationID("authzCheckAny"),
		forge.WithRequestSchema(CheckAnyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Check result", CheckResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/check-all", a.checkAll,
		forge.WithSummary("All-of permission check"),
		forge.WithDescription("Evaluates whether the user holds every one of the permissions."),
		forge.WithOperationID("authzCheckAll"),
		forge.WithRequestSchema(CheckAllRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Check result", CheckResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/enforce", a.enforce,
		forge.WithSummary("Enforce permission"),
		forge.WithDescription("Returns 200 if allowed, 403 if denied."),
		forge.WithOperationID("authzEnforce"),
		forge.WithRequestSchema(CheckRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Allowed", CheckResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/explain", a.explain,
		forge.WithSummary("Explain access"),
		forge.WithDescription("Returns every path by which the user holds the permission."),
		forge.WithOperationID("authzExplain"),
		forge.WithRequestSchema(ExplainRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Access paths", &tether.ExplainResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/explain-text", a.explainText,
		forge.WithSummary("Explain access as text"),
		forge.WithDescription("Returns one human-readable line per access path."),
		forge.WithOperationID("authzExplainText"),
		forge.WithRequestSchema(ExplainRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Explanation lines", ExplainTextResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) check(ctx forge.Context, req *CheckRequest) (*CheckResponse, error) {
	if req.UserID == "" || req.Permission == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("user_id, permission, resource_type, and resource_id are required")
	}

	allowed, err := a.eng.Check(ctx.Context(), &tether.CheckRequest{
		Namespace:    req.Namespace,
		UserID:       req.UserID,
		Permission:   req.Permission,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &CheckResponse{Allowed: allowed}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) checkAny(ctx forge.Context, req *CheckAnyRequest) (*CheckResponse, error) {
	if req.UserID == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("user_id, resource_type, and resource_id are required")
	}

	allowed, err := a.eng.CheckAny(ctx.Context(), &tether.CheckAnyRequest{
		Namespace:    req.Namespace,
		UserID:       req.UserID,
		Permissions:  req.Permissions,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &CheckResponse{Allowed: allowed}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) checkAll(ctx forge.Context, req *CheckAllRequest) (*CheckResponse, error) {
	if req.UserID == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("user_id, resource_type, and resource_id are required")
	}

	allowed, err := a.eng.CheckAll(ctx.Context(), &tether.CheckAllRequest{
		Namespace:    req.Namespace,
		UserID:       req.UserID,
		Permissions:  req.Permissions,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &CheckResponse{Allowed: allowed}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) enforce(ctx forge.Context, req *CheckRequest) (*CheckResponse, error) {
	if req.UserID == "" || req.Permission == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("user_id, permission, resource_type, and resource_id are required")
	}

	allowed, err := a.eng.Check(ctx.Context(), &tether.CheckRequest{
		Namespace:    req.Namespace,
		UserID:       req.UserID,
		Permission:   req.Permission,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &CheckResponse{Allowed: allowed}
	if !allowed {
		return resp, ctx.JSON(http.StatusForbidden, resp)
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) explain(ctx forge.Context, req *ExplainRequest) (*tether.ExplainResult, error) {
	if req.UserID == "" || req.Permission == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("user_id, permission, resource_type, and resource_id are required")
	}

	result, err := a.eng.Explain(ctx.Context(), toExplainRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	return result, ctx.JSON(http.StatusOK, result)
}

func (a *API) explainText(ctx forge.Context, req *ExplainRequest) (*ExplainTextResponse, error) {
	if req.UserID == "" || req.Permission == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("user_id, permission, resource_type, and resource_id are required")
	}

	lines, err := a.eng.ExplainText(ctx.Context(), toExplainRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := &ExplainTextResponse{Allowed: len(lines) > 0, Lines: lines}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func toExplainRequest(r *ExplainRequest) *tether.ExplainRequest {
	return &tether.ExplainRequest{
		Namespace:    r.Namespace,
		UserID:       r.UserID,
		Permission:   r.Permission,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		MaxDepth:     r.MaxDepth,
	}
}
