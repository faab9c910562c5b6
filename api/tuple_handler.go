package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
	"github.com/xraph/tether/tuple"
)

func (a *API) registerTupleRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("tuples"))

	if err := g.POST("/tuples", a.writeTuple,
		forge.WithSummary("Write tuple"),
		forge.WithDescription("Creates a relationship tuple, or refreshes the expiration of an existing one."),
		forge.WithOperationID("writeTuple"),
		forge.WithRequestSchema(WriteTupleRequest{}),
		forge.WithCreatedResponse(&tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/tuples/delete", a.deleteTuple,
		forge.WithSummary("Delete tuple"),
		forge.WithDescription("Deletes a tuple by its exact key."),
		forge.WithOperationID("deleteTuple"),
		forge.WithRequestSchema(DeleteTupleRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Delete outcome", DeleteResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/tuples/bulk", a.writeTuplesBulk,
		forge.WithSummary("Bulk write tuples"),
		forge.WithDescription("Writes one tuple per subject id in a single operation."),
		forge.WithOperationID("writeTuplesBulk"),
		forge.WithRequestSchema(BulkWriteRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Write count", BulkWriteResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/tuples/lookup", a.getTuple,
		forge.WithSummary("Get tuple"),
		forge.WithDescription("Returns a tuple by its exact key."),
		forge.WithOperationID("getTuple"),
		forge.WithRequestSchema(GetTupleRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Tuple", &tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/tuples", a.listTuples,
		forge.WithSummary("List tuples"),
		forge.WithDescription("Lists tuples with optional filters."),
		forge.WithOperationID("listTuples"),
		forge.WithRequestSchema(ListTuplesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Tuple list", []*tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/tuples/count", a.countTuples,
		forge.WithSummary("Count tuples"),
		forge.WithDescription("Counts tuples matching the filters."),
		forge.WithOperationID("countTuples"),
		forge.WithRequestSchema(ListTuplesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Tuple count", CountResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) writeTuple(ctx forge.Context, req *WriteTupleRequest) (*tuple.Tuple, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" || req.SubjectID == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, subject_type, and subject_id are required")
	}

	expiresAt, err := parseTime("expires_at", req.ExpiresAt)
	if err != nil {
		return nil, err
	}

	t, err := a.eng.WriteTuple(ctx.Context(), &tether.WriteTupleRequest{
		Namespace:       req.Namespace,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return t, ctx.JSON(http.StatusCreated, t)
}

func (a *API) deleteTuple(ctx forge.Context, req *DeleteTupleRequest) (*DeleteResponse, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" || req.SubjectID == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, subject_type, and subject_id are required")
	}

	deleted, err := a.eng.DeleteTuple(ctx.Context(), &tether.DeleteTupleRequest{
		Namespace:       req.Namespace,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &DeleteResponse{Deleted: deleted}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) writeTuplesBulk(ctx forge.Context, req *BulkWriteRequest) (*BulkWriteResponse, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, and subject_type are required")
	}
	if len(req.SubjectIDs) == 0 {
		return nil, forge.BadRequest("subject_ids cannot be empty")
	}

	written, err := a.eng.WriteTuplesBulk(ctx.Context(), &tether.BulkWriteRequest{
		Namespace:    req.Namespace,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Relation:     req.Relation,
		SubjectType:  req.SubjectType,
		SubjectIDs:   req.SubjectIDs,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := &BulkWriteResponse{Written: written}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) getTuple(ctx forge.Context, req *GetTupleRequest) (*tuple.Tuple, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" || req.SubjectID == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, subject_type, and subject_id are required")
	}

	t, err := a.eng.GetTuple(ctx.Context(), req.Namespace, tuple.Key{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return t, ctx.JSON(http.StatusOK, t)
}

func (a *API) listTuples(ctx forge.Context, req *ListTuplesRequest) ([]*tuple.Tuple, error) {
	tuples, err := a.eng.ListTuples(ctx.Context(), toListTuplesRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	return tuples, ctx.JSON(http.StatusOK, tuples)
}

func (a *API) countTuples(ctx forge.Context, req *ListTuplesRequest) (*CountResponse, error) {
	count, err := a.eng.CountTuples(ctx.Context(), toListTuplesRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := &CountResponse{Count: count}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func toListTuplesRequest(r *ListTuplesRequest) *tether.ListTuplesRequest {
	req := &tether.ListTuplesRequest{
		Namespace:      r.Namespace,
		ResourceType:   r.ResourceType,
		ResourceID:     r.ResourceID,
		Relation:       r.Relation,
		SubjectType:    r.SubjectType,
		SubjectID:      r.SubjectID,
		IncludeExpired: r.IncludeExpired,
		Limit:          defaultLimit(r.Limit),
		Offset:         r.Offset,
	}
	if r.SubjectRelation != "" {
		req.SubjectRelation = &r.SubjectRelation
	}
	return req
}
