package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

type claimStore struct {
	db *sqlx.DB
}

var _ identity.ClaimStore = (*claimStore)(nil) // interface compliance check

func NewClaimStore(db *sqlx.DB) *claimStore {
	return &claimStore{db: db}
}

func (cs claimStore) GetClaim(ctx context.Context, userID string) (identity.Claim, error) {
	q := cs.db.Rebind(`SELECT user_id, role, synced_at FROM identity_claims WHERE user_id = ?`)

	var c identity.Claim
	if err := cs.db.GetContext(ctx, &c, q, userID); err != nil {
		return identity.Claim{}, trapNoRowsErr(err, identity.ErrClaimNotFound, "selecting claim")
	}
	return c, nil
}

// PutClaim never lowers a stored claim: the conflict update only applies when the incoming role
// ranks at least as high, so concurrent syncs of the same user converge on the highest role.
func (cs claimStore) PutClaim(ctx context.Context, c identity.Claim) (identity.Claim, error) {
	q := cs.db.Rebind(`
		INSERT INTO identity_claims (user_id, role, role_rank, synced_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			role = EXCLUDED.role,
			role_rank = EXCLUDED.role_rank,
			synced_at = EXCLUDED.synced_at
		WHERE identity_claims.role_rank <= EXCLUDED.role_rank`)

	if _, err := cs.db.ExecContext(ctx, q, c.UserID, string(c.Role), role.Priority(c.Role), c.SyncedAt.UTC()); err != nil {
		return identity.Claim{}, errors.Wrap(err, "upserting claim")
	}
	return cs.GetClaim(ctx, c.UserID)
}
