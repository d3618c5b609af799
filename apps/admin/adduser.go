package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/masomo/core/user"
)

// addUser creates a person record with the next identifier of its role.
func (cli *commandLine) addUser(tenantKey, role, name, email, pwd string) error {
	r, err := user.ParseRole(role)
	if err != nil {
		return err
	}
	usr, err := cli.app.UserSvc.Create(context.Background(), tenantKey, user.NewUser{
		Name:            name,
		Email:           email,
		Role:            r,
		Password:        pwd,
		PasswordConfirm: pwd,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s (%s)\n", usr.Identifier, usr.Name)
	return nil
}

func (cli *commandLine) listUsers(tenantKey, role, search string) error {
	r, err := user.ParseRole(role)
	if err != nil {
		return err
	}
	users, err := cli.app.UserSvc.Query(context.Background(), tenantKey, r, user.QueryFilter{Search: search})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tNAME\tEMAIL\tACTIVE")
	for _, usr := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", usr.Identifier, usr.Name, usr.Email, usr.IsActive)
	}
	return w.Flush()
}

func (cli *commandLine) delUser(tenantKey, ident string) error {
	ctx := context.Background()
	usr, err := cli.app.UserSvc.GetByIdentifier(ctx, tenantKey, ident)
	if err != nil {
		return err
	}
	if _, err := cli.app.UserSvc.Delete(ctx, tenantKey, usr.Role, usr.ID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted %s\n", usr.Identifier)
	return nil
}

func (cli *commandLine) setPassword(tenantKey, ident, pwd string) error {
	_, err := cli.app.UserSvc.SetPassword(context.Background(), tenantKey, ident, pwd)
	return err
}
