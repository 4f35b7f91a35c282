package identity

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/policy"
	"github.com/trezcool/mtihani/core/role"
)

// Profile is the authoritative, role-less part of an identity. One row per user.
type Profile struct {
	UserID      string    `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Email       string    `json:"email" db:"email"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Identity is a profile together with its effective role.
type Identity struct {
	Profile
	Role role.Role `json:"role"`
}

func (id Identity) Principal() policy.Principal {
	return policy.Principal{UserID: id.UserID, Role: id.Role}
}

// Claim is the denormalised copy of a user's effective role that session tokens are minted from.
// It may lag the role table by at most one token lifetime.
type Claim struct {
	UserID   string    `json:"user_id" db:"user_id"`
	Role     role.Role `json:"role" db:"role"`
	SyncedAt time.Time `json:"synced_at" db:"synced_at"`
}

// AccountCreated is emitted by the account provider on first account activity.
type AccountCreated struct {
	UserID        string `json:"user_id" validate:"required,max=64,alphanum_"`
	RequestedRole string `json:"requested_role"`
	FullName      string `json:"full_name" validate:"max=200"`
	Email         string `json:"email" validate:"required,email"`
}

func (evt *AccountCreated) Validate(validate *validator.Validate) error {
	evt.UserID = core.CleanString(evt.UserID)
	evt.RequestedRole = core.CleanString(evt.RequestedRole, true /* lower */)
	evt.FullName = core.CleanString(evt.FullName)
	evt.Email = core.CleanString(evt.Email, true /* lower */)
	return validate.Struct(evt)
}

// GrantRoleRequest is the payload of a role grant.
type GrantRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

func (gr *GrantRoleRequest) Validate(validate *validator.Validate) error {
	gr.Role = core.CleanString(gr.Role, true /* lower */)
	return validate.Struct(gr)
}
