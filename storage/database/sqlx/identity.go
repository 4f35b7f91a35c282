package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

const profileColumns = "user_id, display_name, email, created_at, updated_at"

type identityRepository struct {
	db *sqlx.DB
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(db *sqlx.DB) *identityRepository {
	return &identityRepository{db: db}
}

func (repo identityRepository) UpsertProfile(ctx context.Context, p identity.Profile) (identity.Profile, error) {
	q := repo.db.Rebind(`
		INSERT INTO profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE profiles.display_name END,
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE profiles.email END,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + profileColumns)

	var out identity.Profile
	err := repo.db.GetContext(ctx, &out, q, p.UserID, p.DisplayName, p.Email, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return identity.Profile{}, errors.Wrap(err, "upserting profile")
	}
	return out, nil
}

func (repo identityRepository) GetProfile(ctx context.Context, userID string) (identity.Profile, error) {
	q := repo.db.Rebind(`SELECT ` + profileColumns + ` FROM profiles WHERE user_id = ?`)

	var p identity.Profile
	if err := repo.db.GetContext(ctx, &p, q, userID); err != nil {
		return identity.Profile{}, trapNoRowsErr(err, identity.ErrNotFound, "selecting profile")
	}
	return p, nil
}

func (repo identityRepository) AddRole(ctx context.Context, userID string, r role.Role, grantedAt time.Time) error {
	q := repo.db.Rebind(`
		INSERT INTO user_roles (user_id, role, granted_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, role) DO NOTHING`)

	if _, err := repo.db.ExecContext(ctx, q, userID, string(r), grantedAt.UTC()); err != nil {
		return errors.Wrap(err, "inserting role")
	}
	return nil
}

// ListRoles reads the role table directly. It is the privileged read the policy engine relies
// on and must never itself be gated by a policy check.
func (repo identityRepository) ListRoles(ctx context.Context, userID string) ([]role.Role, error) {
	q := repo.db.Rebind(`SELECT role FROM user_roles WHERE user_id = ? ORDER BY granted_at`)

	var roles []role.Role
	if err := repo.db.SelectContext(ctx, &roles, q, userID); err != nil {
		return nil, errors.Wrap(err, "selecting roles")
	}
	return roles, nil
}
