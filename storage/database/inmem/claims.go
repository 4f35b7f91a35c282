package inmemdb

import (
	"context"

	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

type claimStore struct {
	db *claimTable
}

var _ identity.ClaimStore = (*claimStore)(nil) // interface compliance check

func NewClaimStore(db *DB) *claimStore {
	return &claimStore{db: db.claims}
}

func (cs *claimStore) GetClaim(_ context.Context, userID string) (identity.Claim, error) {
	cs.db.mutex.RLock()
	defer cs.db.mutex.RUnlock()

	if cs.db.fail != nil {
		return identity.Claim{}, cs.db.fail
	}
	if c, ok := cs.db.t[userID]; ok {
		return c, nil
	}
	return identity.Claim{}, identity.ErrClaimNotFound
}

func (cs *claimStore) PutClaim(_ context.Context, c identity.Claim) (identity.Claim, error) {
	cs.db.mutex.Lock()
	defer cs.db.mutex.Unlock()

	if cs.db.fail != nil {
		return identity.Claim{}, cs.db.fail
	}
	if stored, ok := cs.db.t[c.UserID]; ok && role.Priority(stored.Role) > role.Priority(c.Role) {
		return stored, nil
	}
	cs.db.t[c.UserID] = c
	return c, nil
}
