package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

type identityRepository struct {
	db *identityTable
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(db *DB) *identityRepository {
	return &identityRepository{db: db.identity}
}

func (repo *identityRepository) UpsertProfile(_ context.Context, p identity.Profile) (identity.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.profiles[p.UserID]
	if !ok {
		repo.db.profiles[p.UserID] = &p
		return p, nil
	}
	if p.DisplayName != "" {
		orig.DisplayName = p.DisplayName
	}
	if p.Email != "" {
		orig.Email = p.Email
	}
	orig.UpdatedAt = p.UpdatedAt
	return *orig, nil
}

func (repo *identityRepository) GetProfile(_ context.Context, userID string) (identity.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p, ok := repo.db.profiles[userID]; ok {
		return *p, nil
	}
	return identity.Profile{}, identity.ErrNotFound
}

func (repo *identityRepository) AddRole(_ context.Context, userID string, r role.Role, grantedAt time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.profiles[userID]; !ok {
		return identity.ErrNotFound
	}
	roles, ok := repo.db.roles[userID]
	if !ok {
		roles = make(map[role.Role]roleRow)
		repo.db.roles[userID] = roles
	}
	if _, exists := roles[r]; !exists {
		roles[r] = roleRow{role: r, grantedAt: grantedAt.UnixNano()}
	}
	return nil
}

func (repo *identityRepository) ListRoles(_ context.Context, userID string) ([]role.Role, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]roleRow, 0, len(repo.db.roles[userID]))
	for _, row := range repo.db.roles[userID] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].grantedAt < rows[j].grantedAt })

	roles := make([]role.Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, row.role)
	}
	return roles, nil
}

// RoleCount returns the number of role rows held by userID.
func (repo *identityRepository) RoleCount(userID string) int {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return len(repo.db.roles[userID])
}

// ProfileCount returns the number of stored profiles.
func (repo *identityRepository) ProfileCount() int {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return len(repo.db.profiles)
}
