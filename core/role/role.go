// Package role holds the ranked set of roles a user can hold.
//
// Roles form an open set: adding a role only requires registering it in the priority table.
// Every place that needs precedence (effective role, grant checks) goes through Priority.
package role

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

type Role string

const (
	Student Role = "student"
	Teacher Role = "teacher"
	Admin   Role = "admin"
)

var (
	ErrInvalid = errors.New("invalid role")

	rolePriorities = map[Role]int{
		// Admins: 30 - 21
		Admin: 21,

		// Teachers: 20 - 11
		Teacher: 11,

		// Students: 10 - 1
		Student: 1,
	}

	Roles = []Info{
		{Name: "Student", Value: Student},
		{Name: "Teacher", Value: Teacher},
		{Name: "Admin", Value: Admin},
	}
)

// Info describes a role for listing.
type Info struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

func (r Role) String() string { return string(r) }

func (r Role) Valid() bool {
	_, ok := rolePriorities[r]
	return ok
}

// Priority ranks roles; unknown roles rank 0.
func Priority(r Role) int {
	return rolePriorities[r]
}

// AtLeast reports whether r ranks at or above min.
func AtLeast(r, min Role) bool {
	return r.Valid() && Priority(r) >= Priority(min)
}

// Parse cleans s and returns the matching registered Role.
func Parse(s string) (Role, error) {
	r := Role(core.CleanString(s, true /* lower */))
	if !r.Valid() {
		return "", ErrInvalid
	}
	return r, nil
}

// Effective returns the most privileged of roles, or "" when none is registered.
func Effective(roles []Role) Role {
	var (
		best Role
		max  int
	)
	for _, r := range roles {
		if p := Priority(r); p > max {
			best, max = r, p
		}
	}
	return best
}

// All returns the registered roles, most privileged first.
func All() []Role {
	all := make([]Role, 0, len(rolePriorities))
	for r := range rolePriorities {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return Priority(all[i]) > Priority(all[j]) })
	return all
}
