package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo/core/user"
)

func (cli *commandLine) bootstrap(tenantKey string) error {
	if err := cli.app.Boot.EnsureInitialized(context.Background(), tenantKey); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "tenant %s is ready\n", tenantKey)
	return nil
}

func (cli *commandLine) peekID(tenantKey, role string) error {
	r, err := user.ParseRole(role)
	if err != nil {
		return err
	}
	ident, err := cli.app.IDs.Peek(context.Background(), tenantKey, r)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, ident)
	return nil
}
