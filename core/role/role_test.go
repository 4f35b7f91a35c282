package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffective(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		want  Role
	}{
		{name: "none", roles: nil, want: ""},
		{name: "unknown only", roles: []Role{"janitor"}, want: ""},
		{name: "student", roles: []Role{Student}, want: Student},
		{name: "teacher beats student", roles: []Role{Student, Teacher}, want: Teacher},
		{name: "admin beats all", roles: []Role{Teacher, Admin, Student}, want: Admin},
		{name: "unknown ignored", roles: []Role{"janitor", Student}, want: Student},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Effective(tt.roles))
		})
	}
}

func TestParse(t *testing.T) {
	r, err := Parse("  Teacher ")
	assert.NoError(t, err)
	assert.Equal(t, Teacher, r)

	_, err = Parse("superuser")
	assert.Equal(t, ErrInvalid, err)

	_, err = Parse("")
	assert.Equal(t, ErrInvalid, err)
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast(Admin, Teacher))
	assert.True(t, AtLeast(Teacher, Teacher))
	assert.False(t, AtLeast(Student, Teacher))
	assert.False(t, AtLeast("janitor", Student))
}

func TestAll(t *testing.T) {
	assert.Equal(t, []Role{Admin, Teacher, Student}, All())
}
