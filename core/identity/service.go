package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/policy"
	"github.com/trezcool/mtihani/core/role"
)

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("profile")
	ErrClaimNotFound = errors.New("claim not found")
)

type (
	// Repository is the authoritative identity store.
	// Its reads bypass the policy engine; callers authorize before exposing results.
	Repository interface {
		// UpsertProfile inserts the profile or, when the user exists, overwrites its email and
		// (if non-empty) its display name. CreatedAt of an existing row is kept.
		UpsertProfile(ctx context.Context, p Profile) (Profile, error)
		GetProfile(ctx context.Context, userID string) (Profile, error)
		// AddRole inserts a (user, role) row; an existing pair is left untouched.
		AddRole(ctx context.Context, userID string, r role.Role, grantedAt time.Time) error
		ListRoles(ctx context.Context, userID string) ([]role.Role, error)
	}

	// ClaimStore holds the cached claims session tokens are minted from.
	ClaimStore interface {
		// GetClaim returns ErrClaimNotFound when no claim is cached for the user.
		GetClaim(ctx context.Context, userID string) (Claim, error)
		// PutClaim inserts the claim or, when one exists, replaces it only if the new role
		// ranks at least as high. It returns the claim as stored.
		PutClaim(ctx context.Context, c Claim) (Claim, error)
	}

	Resolver struct {
		repo        Repository
		claims      ClaimStore
		logger      core.Logger
		signupRoles map[role.Role]bool
		now         func() time.Time

		mu       sync.Mutex
		unsynced map[string]struct{} // users whose claim failed to sync
	}

	resolveOptions struct {
		strong bool
	}

	ResolveOption func(*resolveOptions)
)

// Strong forces an authoritative read of the role table.
func Strong() ResolveOption {
	return func(o *resolveOptions) { o.strong = true }
}

func NewResolver(repo Repository, claims ClaimStore, logger core.Logger, conf *core.Config) *Resolver {
	signup := make(map[role.Role]bool)
	for _, s := range conf.Identity.SignupRoles {
		if r, err := role.Parse(s); err == nil {
			signup[r] = true
		}
	}
	return &Resolver{
		repo:        repo,
		claims:      claims,
		logger:      logger,
		signupRoles: signup,
		now:         func() time.Time { return time.Now().UTC() },
		unsynced:    make(map[string]struct{}),
	}
}

// OnAccountCreated creates or updates the profile, assigns the requested role (student when
// absent or invalid) and syncs the claim. Replaying the same event is a no-op.
func (res *Resolver) OnAccountCreated(ctx context.Context, evt AccountCreated) (Identity, error) {
	userID := core.CleanString(evt.UserID)
	if userID == "" {
		return Identity{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "this field is required"})
	}

	r := role.Student
	if evt.RequestedRole != "" {
		if req, err := role.Parse(evt.RequestedRole); err == nil && res.signupRoles[req] {
			r = req
		} else {
			vErr := core.NewValidationError(role.ErrInvalid, core.FieldError{Field: "requested_role", Error: "invalid role"})
			res.logger.Warn(
				fmt.Sprintf("account %s requested role %q; defaulting to %s", userID, evt.RequestedRole, role.Student),
				vErr,
			)
		}
	}

	now := res.now()
	prof, err := res.repo.UpsertProfile(ctx, Profile{
		UserID:      userID,
		DisplayName: core.CleanString(evt.FullName),
		Email:       core.CleanString(evt.Email, true /* lower */),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Identity{}, errors.Wrap(err, "upserting profile")
	}
	if err = res.repo.AddRole(ctx, userID, r, now); err != nil {
		return Identity{}, errors.Wrap(err, "adding role")
	}

	eff, err := res.sync(ctx, userID)
	if err != nil {
		return Identity{}, errors.Wrap(err, "syncing claim")
	}
	return Identity{Profile: prof, Role: eff}, nil
}

// ResolveEffectiveRole returns the user's most privileged role. The cached claim is used unless
// it is missing, a previous sync failed or Strong is given; those cases read the role table.
func (res *Resolver) ResolveEffectiveRole(ctx context.Context, userID string, opts ...ResolveOption) (role.Role, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.strong && !res.isUnsynced(userID) {
		c, err := res.claims.GetClaim(ctx, userID)
		switch {
		case err == nil && c.Role.Valid():
			return c.Role, nil
		case err != nil && errors.Cause(err) != ErrClaimNotFound:
			res.logger.Warn(fmt.Sprintf("reading claim of %s; using role table", userID), err)
		}
	}
	return res.sync(ctx, userID)
}

// GrantRole adds role r to the target user. The granter must resolve to admin.
func (res *Resolver) GrantRole(ctx context.Context, granter policy.Principal, targetUserID string, r role.Role) (Identity, error) {
	granterRole, err := res.ResolveEffectiveRole(ctx, granter.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return Identity{}, core.NewAuthorizationError(string(policy.ActionManageRoles))
		}
		return Identity{}, errors.Wrap(err, "resolving granter role")
	}
	p := policy.Principal{UserID: granter.UserID, Role: granterRole}
	if err = policy.Require(p, policy.ActionManageRoles, policy.Roles()); err != nil {
		return Identity{}, err
	}
	if !r.Valid() {
		return Identity{}, core.NewValidationError(role.ErrInvalid, core.FieldError{Field: "role", Error: "invalid role"})
	}

	id, err := res.AssignRole(ctx, targetUserID, r)
	if err != nil {
		return Identity{}, err
	}
	res.logger.Info(fmt.Sprintf("%s granted %s to %s", granter.UserID, r, targetUserID), map[string]interface{}{
		"granter": granter.UserID,
		"target":  targetUserID,
		"role":    r,
	})
	return id, nil
}

// AssignRole adds role r to an existing user without an authorization check.
// It backs GrantRole and the operator CLI.
func (res *Resolver) AssignRole(ctx context.Context, userID string, r role.Role) (Identity, error) {
	prof, err := res.repo.GetProfile(ctx, userID)
	if err != nil {
		return Identity{}, errors.Wrap(err, "finding profile")
	}
	if err = res.repo.AddRole(ctx, userID, r, res.now()); err != nil {
		return Identity{}, errors.Wrap(err, "adding role")
	}
	eff, err := res.sync(ctx, userID)
	if err != nil {
		return Identity{}, errors.Wrap(err, "syncing claim")
	}
	return Identity{Profile: prof, Role: eff}, nil
}

// Identity returns the profile and effective role of userID, if p may read it.
func (res *Resolver) Identity(ctx context.Context, p policy.Principal, userID string) (Identity, error) {
	if err := policy.Require(p, policy.ActionRead, policy.Profile(userID)); err != nil {
		return Identity{}, err
	}
	prof, err := res.repo.GetProfile(ctx, userID)
	if err != nil {
		return Identity{}, errors.Wrap(err, "finding profile")
	}
	r, err := res.ResolveEffectiveRole(ctx, userID)
	if err != nil {
		return Identity{}, errors.Wrap(err, "resolving role")
	}
	return Identity{Profile: prof, Role: r}, nil
}

// sync recomputes the effective role from the role table and writes it to the claim store.
// A claim store failure is logged and absorbed: the role write has already committed and
// the user is served from the role table until a later sync succeeds.
func (res *Resolver) sync(ctx context.Context, userID string) (role.Role, error) {
	roles, err := res.repo.ListRoles(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "listing roles")
	}
	eff := role.Effective(roles)
	if eff == "" {
		return "", ErrNotFound
	}

	if _, err = res.claims.PutClaim(ctx, Claim{UserID: userID, Role: eff, SyncedAt: res.now()}); err != nil {
		cErr := &core.ConsistencyError{UserID: userID, Err: err}
		res.logger.Error(cErr.Error(), cErr)
		res.setUnsynced(userID, true)
		return eff, nil
	}
	res.setUnsynced(userID, false)
	return eff, nil
}

func (res *Resolver) isUnsynced(userID string) bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	_, ok := res.unsynced[userID]
	return ok
}

func (res *Resolver) setUnsynced(userID string, unsynced bool) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if unsynced {
		res.unsynced[userID] = struct{}{}
	} else {
		delete(res.unsynced, userID)
	}
}
