package policy

import (
	"strings"

	"github.com/trezcool/mtihani/core/role"
)

// RolePermissions lists, per role, the permissions granted beyond self-access.
// Permissions are "kind:action" strings; a trailing "*" matches any suffix.
var RolePermissions = map[role.Role][]string{
	role.Student: {
		"exam:read",
	},
	role.Teacher: {
		"exam:read",
		"exam:publish",
		"profile:read",
		"results:read",
		"submission:read",
		"submission:grade",
	},
	role.Admin: {
		"exam:*",
		"profile:read",
		"results:read",
		"submission:read",
		"submission:grade",
		"role:manage_roles",
		"catalog:manage_catalog",
	},
}

type Checker struct {
	RolePermissions map[role.Role][]string
}

func NewChecker(rp map[role.Role][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{RolePermissions: rp}
}

func (c *Checker) Has(r role.Role, perm string) bool {
	perms, ok := c.RolePermissions[r]
	if !ok {
		return false
	}
	for _, p := range perms {
		if matchPerm(p, perm) {
			return true
		}
	}
	return false
}

func permission(kind Kind, action Action) string {
	return string(kind) + ":" + string(action)
}

func matchPerm(pattern, perm string) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(perm, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
