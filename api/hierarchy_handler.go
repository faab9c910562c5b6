package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
	"github.com/xraph/tether/hierarchy"
)

func (a *API) registerHierarchyRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("hierarchy"))

	if err := g.POST("/hierarchy", a.addHierarchy,
		forge.WithSummary("Add hierarchy rule"),
		forge.WithDescription("Creates a permission-implication rule for a resource type."),
		forge.WithOperationID("addHierarchy"),
		forge.WithRequestSchema(AddHierarchyRequest{}),
		forge.WithCreatedResponse(&hierarchy.Rule{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/hierarchy/set", a.setHierarchy,
		forge.WithSummary("Set hierarchy chain"),
		forge.WithDescription("Replaces a resource type's rules with an ordered permission chain, strongest first."),
		forge.WithOperationID("setHierarchy"),
		forge.WithRequestSchema(SetHierarchyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Installed rules", []*hierarchy.Rule{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/hierarchy/delete", a.removeHierarchy,
		forge.WithSummary("Remove hierarchy rule"),
		forge.WithDescription("Removes a rule by its logical key."),
		forge.WithOperationID("removeHierarchy"),
		forge.WithRequestSchema(RemoveHierarchyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Delete outcome", DeleteResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/hierarchy/clear", a.clearHierarchy,
		forge.WithSummary("Clear hierarchy"),
		forge.WithDescription("Removes every rule of a resource type."),
		forge.WithOperationID("clearHierarchy"),
		forge.WithRequestSchema(ClearHierarchyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Removed count", ClearedResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/hierarchy", a.listHierarchy,
		forge.WithSummary("List hierarchy rules"),
		forge.WithDescription("Lists the rules of a resource type."),
		forge.WithOperationID("listHierarchy"),
		forge.WithRequestSchema(ListHierarchyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Rule list", []*hierarchy.Rule{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) addHierarchy(ctx forge.Context, req *AddHierarchyRequest) (*hierarchy.Rule, error) {
	if req.ResourceType == "" || req.Permission == "" || req.Implies == "" {
		return nil, forge.BadRequest("resource_type, permission, and implies are required")
	}

	r, err := a.eng.AddHierarchy(ctx.Context(), &tether.AddHierarchyRequest{
		Namespace:    req.Namespace,
		ResourceType: req.ResourceType,
		Permission:   req.Permission,
		Implies:      req.Implies,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return r, ctx.JSON(http.StatusCreated, r)
}

func (a *API) setHierarchy(ctx forge.Context, req *SetHierarchyRequest) ([]*hierarchy.Rule, error) {
	if req.ResourceType == "" {
		return nil, forge.BadRequest("resource_type is required")
	}
	if len(req.Permissions) < 2 {
		return nil, forge.BadRequest("permissions must name at least two entries")
	}

	rules, err := a.eng.SetHierarchy(ctx.Context(), req.Namespace, req.ResourceType, req.Permissions...)
	if err != nil {
		return nil, mapError(err)
	}

	return rules, ctx.JSON(http.StatusOK, rules)
}

func (a *API) removeHierarchy(ctx forge.Context, req *RemoveHierarchyRequest) (*DeleteResponse, error) {
	if req.ResourceType == "" || req.Permission == "" || req.Implies == "" {
		return nil, forge.BadRequest("resource_type, permission, and implies are required")
	}

	deleted, err := a.eng.RemoveHierarchy(ctx.Context(), &tether.RemoveHierarchyRequest{
		Namespace:    req.Namespace,
		ResourceType: req.ResourceType,
		Permission:   req.Permission,
		Implies:      req.Implies,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &DeleteResponse{Deleted: deleted}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) clearHierarchy(ctx forge.Context, req *ClearHierarchyRequest) (*ClearedResponse, error) {
	if req.ResourceType == "" {
		return nil, forge.BadRequest("resource_type is required")
	}

	cleared, err := a.eng.ClearHierarchy(ctx.Context(), req.Namespace, req.ResourceType)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &ClearedResponse{Cleared: cleared}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) listHierarchy(ctx forge.Context, req *ListHierarchyRequest) ([]*hierarchy.Rule, error) {
	if req.ResourceType == "" {
		return nil, forge.BadRequest("resource_type is required")
	}

	rules, err := a.eng.ListHierarchy(ctx.Context(), req.Namespace, req.ResourceType)
	if err != nil {
		return nil, mapError(err)
	}

	return rules, ctx.JSON(http.StatusOK, rules)
}
