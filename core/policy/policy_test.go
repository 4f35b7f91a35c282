package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/role"
)

func TestAuthorize(t *testing.T) {
	student := Principal{UserID: "stu-1", Role: role.Student}
	other := Principal{UserID: "stu-2", Role: role.Student}
	teacher := Principal{UserID: "tch-1", Role: role.Teacher}
	admin := Principal{UserID: "adm-1", Role: role.Admin}
	anonymous := Principal{Role: role.Admin}

	tests := []struct {
		name   string
		p      Principal
		action Action
		res    Resource
		want   Decision
	}{
		// self-access
		{name: "student reads own profile", p: student, action: ActionRead, res: Profile("stu-1"), want: Allow},
		{name: "student reads own submission", p: student, action: ActionRead, res: Submission("stu-1"), want: Allow},
		{name: "student reads own results", p: student, action: ActionRead, res: Results("stu-1"), want: Allow},
		{name: "student attempts own submission", p: student, action: ActionAttempt, res: Submission("stu-1"), want: Allow},
		{name: "student cannot grade own submission", p: student, action: ActionGrade, res: Submission("stu-1"), want: Deny},
		{name: "student cannot read other's submission", p: other, action: ActionRead, res: Submission("stu-1"), want: Deny},
		{name: "student cannot read other's results", p: other, action: ActionRead, res: Results("stu-1"), want: Deny},
		{name: "student reads exams", p: student, action: ActionRead, res: Exam(), want: Allow},

		// elevated
		{name: "teacher reads any submission", p: teacher, action: ActionRead, res: Submission("stu-1"), want: Allow},
		{name: "teacher grades", p: teacher, action: ActionGrade, res: Submission("stu-1"), want: Allow},
		{name: "teacher reads profiles", p: teacher, action: ActionRead, res: Profile("stu-1"), want: Allow},
		{name: "teacher cannot attempt for a student", p: teacher, action: ActionAttempt, res: Submission("stu-1"), want: Deny},
		{name: "admin grades", p: admin, action: ActionGrade, res: Submission("stu-1"), want: Allow},

		// administrative
		{name: "teacher publishes", p: teacher, action: ActionPublish, res: Exam(), want: Allow},
		{name: "student cannot publish", p: student, action: ActionPublish, res: Exam(), want: Deny},
		{name: "teacher cannot manage roles", p: teacher, action: ActionManageRoles, res: Roles(), want: Deny},
		{name: "admin manages roles", p: admin, action: ActionManageRoles, res: Roles(), want: Allow},
		{name: "teacher cannot manage catalog", p: teacher, action: ActionManageCatalog, res: Catalog(), want: Deny},
		{name: "admin manages catalog", p: admin, action: ActionManageCatalog, res: Catalog(), want: Allow},

		// default
		{name: "unknown role", p: Principal{UserID: "x", Role: "janitor"}, action: ActionRead, res: Exam(), want: Deny},
		{name: "no subject", p: anonymous, action: ActionManageRoles, res: Roles(), want: Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.p, tt.action, tt.res))
		})
	}
}

func TestRequire(t *testing.T) {
	err := Require(Principal{UserID: "stu-1", Role: role.Student}, ActionGrade, Submission("stu-2"))
	assert.True(t, core.IsAuthorization(err))
	assert.Equal(t, "permission denied", err.Error())

	assert.NoError(t, Require(Principal{UserID: "tch-1", Role: role.Teacher}, ActionGrade, Submission("stu-2")))
}

func Test_matchPerm(t *testing.T) {
	assert.True(t, matchPerm("*", "anything:goes"))
	assert.True(t, matchPerm("exam:*", "exam:publish"))
	assert.True(t, matchPerm("exam:read", "exam:read"))
	assert.False(t, matchPerm("exam:*", "submission:read"))
	assert.False(t, matchPerm("exam:read", "exam:publish"))
}
