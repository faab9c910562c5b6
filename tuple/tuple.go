// Package tuple defines the relationship Tuple entity (Zanzibar-style edges).
package tuple

import (
	"time"

	"github.com/xraph/tether/id"
)

// SubjectUser is the subject type for human principals. Membership edges
// whose subject is not a user denote group containment.
const SubjectUser = "user"

// Reserved relations carry graph semantics.
const (
	// RelationMember connects a group to a user or a nested group.
	RelationMember = "member"

	// RelationParent connects a resource to its container.
	RelationParent = "parent"
)

// IsReserved reports whether relation has built-in graph semantics.
func IsReserved(relation string) bool {
	return relation == RelationMember || relation == RelationParent
}

// Tuple is a single directed edge of the authorization graph.
//
//	repo:api#read@user:alice
//	team:platform#member@team:infra
//	doc:spec#parent@folder:projects
type Tuple struct {
	ID              id.TupleID `json:"id" db:"id"`
	Namespace       string     `json:"namespace" db:"namespace"`
	ResourceType    string     `json:"resource_type" db:"resource_type"`
	ResourceID      string     `json:"resource_id" db:"resource_id"`
	Relation        string     `json:"relation" db:"relation"`
	SubjectType     string     `json:"subject_type" db:"subject_type"`
	SubjectID       string     `json:"subject_id" db:"subject_id"`
	SubjectRelation string     `json:"subject_relation,omitempty" db:"subject_relation"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Key is the uniqueness key of a tuple within its namespace. An unset
// subject_relation and the empty string are the same key.
type Key struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Relation        string `json:"relation"`
	SubjectType     string `json:"subject_type"`
	SubjectID       string `json:"subject_id"`
	SubjectRelation string `json:"subject_relation,omitempty"`
}

// Key returns the tuple's uniqueness key.
func (t *Tuple) Key() Key {
	return Key{
		ResourceType:    t.ResourceType,
		ResourceID:      t.ResourceID,
		Relation:        t.Relation,
		SubjectType:     t.SubjectType,
		SubjectID:       t.SubjectID,
		SubjectRelation: t.SubjectRelation,
	}
}

// String renders the key in zanzibar notation:
// resource_type:resource_id#relation@subject_type:subject_id[#subject_relation].
func (k Key) String() string {
	s := k.ResourceType + ":" + k.ResourceID + "#" + k.Relation +
		"@" + k.SubjectType + ":" + k.SubjectID
	if k.SubjectRelation != "" {
		s += "#" + k.SubjectRelation
	}
	return s
}

// ExpiredAt reports whether the tuple is expired at the given instant.
// An expiration exactly equal to now counts as expired.
func (t *Tuple) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// ListFilter contains filters for listing tuples.
type ListFilter struct {
	Namespace       string  `json:"namespace,omitempty"`
	ResourceType    string  `json:"resource_type,omitempty"`
	ResourceID      string  `json:"resource_id,omitempty"`
	Relation        string  `json:"relation,omitempty"`
	SubjectType     string  `json:"subject_type,omitempty"`
	SubjectID       string  `json:"subject_id,omitempty"`
	SubjectRelation *string `json:"subject_relation,omitempty"`
	IncludeExpired  bool    `json:"include_expired,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Offset          int     `json:"offset,omitempty"`
}
