package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/role"
	sqlxrepos "github.com/trezcool/mtihani/storage/database/sqlx"
	testutil "github.com/trezcool/mtihani/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()

	// set up DB & repos
	db := testutil.PrepareDB(t)
	conf := testutil.NewConfig()
	resolver := identity.NewResolver(sqlxrepos.NewIdentityRepository(db), sqlxrepos.NewClaimStore(db), new(testutil.Logger), conf)

	// start CLI
	out := new(bytes.Buffer)
	return &commandLine{db: db, resolver: resolver, out: out}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	runMigrationFunc = func(db *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "grading_audit", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_grantRole(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	testutil.CreateIdentity(t, cli.resolver, "stu", role.Student)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"grantrole"}, wantErr: errHelp},
		{name: "user but no role", args: []string{"grantrole", "-user", "stu"}, wantErr: errHelp},
		{name: "invalid role", args: []string{"grantrole", "-user", "stu", "-role", "janitor"}, wantErr: role.ErrInvalid},
		{name: "unknown user", args: []string{"grantrole", "-user", "ghost", "-role", "admin"}, wantErrStr: "finding profile: profile not found"},
		{name: "grant teacher", args: []string{"grantrole", "-user", "stu", "-role", "teacher"}, extra: role.Teacher},
		{name: "bootstrap admin", args: []string{"grantrole", "-user", "root", "-role", "Admin", "-email", "root@test.cd"}, extra: role.Admin},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			checkErr(t, tt, err)

			if want, ok := tt.extra.(role.Role); ok && err == nil {
				userID := args[3]
				assert.Equal(t, fmt.Sprintf("%s: %s\n", userID, want), out.String())

				r, err := cli.resolver.ResolveEffectiveRole(ctx, userID, identity.Strong())
				require.NoError(t, err)
				assert.Equal(t, want, r)
			}
		})
	}
}

func Test_commandLine_resolve(t *testing.T) {
	cli, out := setup(t)
	testutil.CreateIdentity(t, cli.resolver, "tch", role.Teacher)

	tests := []cliTest{
		{name: "no args", args: []string{"resolve"}, wantErr: errHelp},
		{name: "unknown user", args: []string{"resolve", "-user", "ghost"}, wantErrStr: "profile not found"},
		{name: "teacher", args: []string{"resolve", "-user", "tch"}, extra: "tch: teacher\n"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			checkErr(t, tt, err)
			if want, ok := tt.extra.(string); ok {
				assert.Equal(t, want, out.String())
			}
		})
	}
}
