package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
)

// grantRole assigns a role as the operator, bypassing the policy engine. It is how the first
// admin gets bootstrapped.
func (cli *commandLine) grantRole(userID, roleName, email string) error {
	ctx := context.Background()
	userID = core.CleanString(userID)

	r, err := role.Parse(roleName)
	if err != nil {
		return err
	}

	id, err := cli.resolver.AssignRole(ctx, userID, r)
	if err != nil {
		if !core.IsNotFound(err) || email == "" {
			return err
		}
		if _, err = cli.resolver.OnAccountCreated(ctx, identity.AccountCreated{UserID: userID, Email: email}); err != nil {
			return errors.Wrap(err, "registering user")
		}
		if id, err = cli.resolver.AssignRole(ctx, userID, r); err != nil {
			return err
		}
	}

	fmt.Fprintf(cli.out, "%s: %s\n", id.UserID, id.Role)
	return nil
}

func (cli *commandLine) resolve(userID string) error {
	r, err := cli.resolver.ResolveEffectiveRole(context.Background(), core.CleanString(userID), identity.Strong())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s\n", userID, r)
	return nil
}
