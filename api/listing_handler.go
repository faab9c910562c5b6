package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
)

func (a *API) registerListingRoutes(router forge.Router) error {
	g := router.Group("/v1/authz", forge.WithGroupTags("listing"))

	if err := g.GET("/resources", a.listResources,
		forge.WithSummary("List accessible resources"),
		forge.WithDescription("Lists the resources of one type the user can reach with the permission."),
		forge.WithOperationID("authzListResources"),
		forge.WithRequestSchema(ListResourcesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Resource page", &tether.ListResourcesResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/users", a.listUsers,
		forge.WithSummary("List users with access"),
		forge.WithDescription("Lists the users holding the permission on a resource."),
		forge.WithOperationID("authzListUsers"),
		forge.WithRequestSchema(ListUsersRequest{}),
		forge.WithResponseSchema(http.StatusOK, "User page", &tether.ListUsersResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/filter", a.filterAuthorized,
		forge.WithSummary("Filter authorized resources"),
		forge.WithDescription("Narrows candidate resource ids to those the user can reach with the permission."),
		forge.WithOperationID("authzFilter"),
		forge.WithRequestSchema(FilterAuthorizedRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Authorized subset", FilterAuthorizedResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) listResources(ctx forge.Context, req *ListResourcesRequest) (*tether.ListResourcesResult, error) {
	if req.UserID == "" || req.ResourceType == "" || req.Permission == "" {
		return nil, forge.BadRequest("user_id, resource_type, and permission are required")
	}

	result, err := a.eng.ListResources(ctx.Context(), &tether.ListResourcesRequest{
		Namespace:    req.Namespace,
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		Permission:   req.Permission,
		Limit:        defaultLimit(req.Limit),
		Cursor:       req.Cursor,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return result, ctx.JSON(http.StatusOK, result)
}

func (a *API) listUsers(ctx forge.Context, req *ListUsersRequest) (*tether.ListUsersResult, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Permission == "" {
		return nil, forge.BadRequest("resource_type, resource_id, and permission are required")
	}

	result, err := a.eng.ListUsers(ctx.Context(), &tether.ListUsersRequest{
		Namespace:    req.Namespace,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Permission:   req.Permission,
		Limit:        defaultLimit(req.Limit),
		Cursor:       req.Cursor,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return result, ctx.JSON(http.StatusOK, result)
}

func (a *API) filterAuthorized(ctx forge.Context, req *FilterAuthorizedRequest) (*FilterAuthorizedResponse, error) {
	if req.UserID == "" || req.ResourceType == "" || req.Permission == "" {
		return nil, forge.BadRequest("user_id, resource_type, and permission are required")
	}

	ids, err := a.eng.FilterAuthorized(ctx.Context(), &tether.FilterAuthorizedRequest{
		Namespace:    req.Namespace,
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		Permission:   req.Permission,
		ResourceIDs:  req.ResourceIDs,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &FilterAuthorizedResponse{ResourceIDs: ids}
	return resp, ctx.JSON(http.StatusOK, resp)
}
