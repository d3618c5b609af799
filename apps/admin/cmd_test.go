package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/apps/shared"
	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/core/user"
	"github.com/trezcool/masomo/storage/database/inmem"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	conf := &core.Config{
		Env:      "TEST",
		TestMode: true,
		Storage:  core.StorageConfig{Driver: core.DriverMemory, NamespacePrefix: "school_"},
		Sequence: core.SequenceConfig{Overflow: core.OverflowFail},
	}
	app := shared.New(conf, nil, inmemdb.Open(), nil)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	var out bytes.Buffer
	return &commandLine{app: app, out: &out}, &out
}

type cliTest struct {
	name        string
	args        []string // without program name
	wantErr     error
	wantInvalid bool // a *core.ValidationError
	wantOut     string
	extra       interface{}
}

func runTests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if pwd, ok := tt.extra.(string); ok {
				return []byte(pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.wantInvalid {
				var vErr *core.ValidationError
				assert.ErrorAs(t, err, &vErr)
				return
			}
			require.NoError(t, err)
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)

	runTests(t, cli, out, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "bootstrap: no args", args: []string{"bootstrap"}, wantErr: errHelp},
		{name: "bootstrap: unknown flag", args: []string{"bootstrap", "-lol"}, wantErr: errHelp},
		{name: "peekid: no role", args: []string{"peekid", "-tenant", "nps"}, wantErr: errHelp},
		{name: "adduser: no name", args: []string{"adduser", "-tenant", "nps", "-role", "teacher"}, wantErr: errHelp},
		{name: "adduser: empty password", args: []string{"adduser", "-tenant", "nps", "-role", "teacher", "-name", "N", "-password"}, wantErr: errHelp},
		{name: "listusers: no tenant", args: []string{"listusers", "-role", "teacher"}, wantErr: errHelp},
		{name: "deluser: no id", args: []string{"deluser", "-tenant", "nps"}, wantErr: errHelp},
		{name: "passwd: no password", args: []string{"passwd", "-tenant", "nps", "-id", "NPS-T-0001"}, wantErr: errHelp},
	})
}

func Test_commandLine_users(t *testing.T) {
	cli, out := setup(t)

	runTests(t, cli, out, []cliTest{
		{name: "bootstrap", args: []string{"bootstrap", "-tenant", "NPS"}, wantOut: "tenant NPS is ready"},
		{name: "bootstrap again", args: []string{"bootstrap", "-tenant", "nps"}, wantOut: "is ready"},
		{name: "bad tenant", args: []string{"bootstrap", "-tenant", "n p s"}, wantErr: core.ErrInvalidArgument},
		{name: "peekid", args: []string{"peekid", "-tenant", "nps", "-role", "T"}, wantOut: "NPS-T-0001"},
		{name: "peekid: bad role", args: []string{"peekid", "-tenant", "nps", "-role", "janitor"}, wantErr: core.ErrInvalidRole},
		{name: "adduser", args: []string{"adduser", "-tenant", "nps", "-role", "teacher", "-name", "Ngugi wa Thiong'o"}, wantOut: "created NPS-T-0001"},
		{name: "adduser with password", args: []string{"adduser", "-tenant", "nps", "-role", "T", "-name", "Chinua", "-password"}, extra: "Str0ng!pass", wantOut: "created NPS-T-0002"},
		{name: "adduser: weak password", args: []string{"adduser", "-tenant", "nps", "-role", "T", "-name", "Chinua", "-password"}, extra: "weak", wantInvalid: true},
		{name: "peekid after adds", args: []string{"peekid", "-tenant", "nps", "-role", "teacher"}, wantOut: "NPS-T-0003"},
		{name: "listusers", args: []string{"listusers", "-tenant", "nps", "-role", "teacher"}, wantOut: "NPS-T-0002"},
		{name: "listusers search", args: []string{"listusers", "-tenant", "nps", "-role", "teacher", "-search", "ngugi"}, wantOut: "Ngugi"},
		{name: "passwd", args: []string{"passwd", "-tenant", "nps", "-id", "nps-t-0001"}, extra: "N3w!password"},
		{name: "passwd: unknown", args: []string{"passwd", "-tenant", "nps", "-id", "NPS-T-0042"}, extra: "N3w!password", wantErr: core.ErrNotFound},
		{name: "deluser", args: []string{"deluser", "-tenant", "nps", "-id", "NPS-T-0001"}, wantOut: "deleted NPS-T-0001"},
		{name: "deluser again", args: []string{"deluser", "-tenant", "nps", "-id", "NPS-T-0001"}, wantErr: core.ErrNotFound},
		{name: "adduser after delete", args: []string{"adduser", "-tenant", "nps", "-role", "teacher", "-name", "Wole"}, wantOut: "created NPS-T-0003"},
	})

	usr, err := cli.app.UserSvc.GetByIdentifier(context.Background(), "nps", "NPS-T-0002")
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("Str0ng!pass"))
	assert.Equal(t, user.RoleTeacher, usr.Role)
}
