package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mtihani/core/identity"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db       *sqlx.DB
	resolver *identity.Resolver
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...]                    - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  grantrole -user ID -role ROLE [-email EMAIL] - grant a role; -email registers unknown users")
	fmt.Fprintln(cli.out, "  resolve -user ID                             - print the user's effective role")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	grantRoleCmd := flag.NewFlagSet("grantrole", flag.ExitOnError)
	grantRoleUser := grantRoleCmd.String("user", "", "The user's ID.")
	grantRoleRole := grantRoleCmd.String("role", "", "The role to grant: student, teacher or admin.")
	grantRoleEmail := grantRoleCmd.String("email", "", "The user's email, used to register the user if unknown.")

	resolveCmd := flag.NewFlagSet("resolve", flag.ExitOnError)
	resolveUser := resolveCmd.String("user", "", "The user's ID.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "grantrole":
		if err := grantRoleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *grantRoleUser == "" || *grantRoleRole == "" {
			grantRoleCmd.Usage()
			return errHelp
		}
		return cli.grantRole(*grantRoleUser, *grantRoleRole, *grantRoleEmail)
	case "resolve":
		if err := resolveCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resolveUser == "" {
			resolveCmd.Usage()
			return errHelp
		}
		return cli.resolve(*resolveUser)
	default:
		cli.printUsage()
		return errHelp
	}
}
