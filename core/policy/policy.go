// Package policy decides whether a principal may perform an action on a resource.
//
// Authorize is a pure function: the principal's role must come from the cached identity
// claim or from the privileged role read in package identity, never from a read that is
// itself gated by this package.
package policy

import (
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/role"
)

type (
	Action   string
	Kind     string
	Decision bool
)

const (
	ActionRead          Action = "read"
	ActionAttempt       Action = "attempt" // start, save and submit an own attempt
	ActionGrade         Action = "grade"
	ActionPublish       Action = "publish"
	ActionManageRoles   Action = "manage_roles"
	ActionManageCatalog Action = "manage_catalog"

	KindProfile    Kind = "profile"
	KindSubmission Kind = "submission"
	KindResults    Kind = "results"
	KindExam       Kind = "exam"
	KindRole       Kind = "role"
	KindCatalog    Kind = "catalog"

	Allow Decision = true
	Deny  Decision = false
)

// Principal is the resolved identity performing a request.
type Principal struct {
	UserID string    `json:"user_id"`
	Role   role.Role `json:"role"`
}

// Resource is the target of an action. OwnerID is empty for unowned resources.
type Resource struct {
	Kind    Kind
	OwnerID string
}

func Profile(ownerID string) Resource    { return Resource{Kind: KindProfile, OwnerID: ownerID} }
func Submission(ownerID string) Resource { return Resource{Kind: KindSubmission, OwnerID: ownerID} }
func Results(ownerID string) Resource    { return Resource{Kind: KindResults, OwnerID: ownerID} }
func Exam() Resource                     { return Resource{Kind: KindExam} }
func Roles() Resource                    { return Resource{Kind: KindRole} }
func Catalog() Resource                  { return Resource{Kind: KindCatalog} }

var defaultChecker = NewChecker(nil)

// Authorize evaluates the rules in order; the first match wins.
func Authorize(p Principal, action Action, res Resource) Decision {
	return defaultChecker.Authorize(p, action, res)
}

// Require is Authorize returning a *core.AuthorizationError on deny.
func Require(p Principal, action Action, res Resource) error {
	if Authorize(p, action, res) == Deny {
		return core.NewAuthorizationError(string(action))
	}
	return nil
}

func (c *Checker) Authorize(p Principal, action Action, res Resource) Decision {
	if p.UserID == "" {
		return Deny
	}

	// 1. self-access
	if res.OwnerID != "" && res.OwnerID == p.UserID && selfAccess(action, res.Kind) {
		return Allow
	}

	// 2 & 3. elevated and administrative permissions
	if c.Has(p.Role, permission(res.Kind, action)) {
		return Allow
	}

	// 4. default
	return Deny
}

func selfAccess(action Action, kind Kind) bool {
	switch action {
	case ActionRead:
		return kind == KindProfile || kind == KindSubmission || kind == KindResults
	case ActionAttempt:
		return kind == KindSubmission
	}
	return false
}
