// Package tether provides relationship-based access control for Go.
//
// Tether models permissions as a graph of relationship tuples in the style
// of Google Zanzibar: nested groups, resource containment, per-resource-type
// permission implication rules, time-bound grants, and a month-partitioned
// audit log. All state is scoped by a tenant namespace.
//
//	eng, err := tether.NewEngine(
//	    tether.WithStore(memStore),
//	)
//	_, err = eng.WriteTuple(ctx, &tether.WriteTupleRequest{
//	    Namespace:    "acme",
//	    ResourceType: "repo", ResourceID: "api", Relation: "read",
//	    SubjectType:  "user", SubjectID: "alice",
//	})
//	ok, err := eng.Check(ctx, &tether.CheckRequest{
//	    Namespace:  "acme",
//	    UserID:     "alice",
//	    Permission: "read",
//	    ResourceType: "repo", ResourceID: "api",
//	})
package tether

// CheckRequest asks whether a user holds a permission on a resource.
type CheckRequest struct {
	Namespace    string `json:"namespace,omitempty"`
	UserID       string `json:"user_id"`
	Permission   string `json:"permission"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// CheckAnyRequest asks whether a user holds at least one of the given
// permissions on a resource. An empty permission set is never satisfied.
type CheckAnyRequest struct {
	Namespace    string   `json:"namespace,omitempty"`
	UserID       string   `json:"user_id"`
	Permissions  []string `json:"permissions"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
}

// CheckAllRequest asks whether a user holds every one of the given
// permissions on a resource. An empty permission set is always satisfied.
type CheckAllRequest struct {
	Namespace    string   `json:"namespace,omitempty"`
	UserID       string   `json:"user_id"`
	Permissions  []string `json:"permissions"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
}
