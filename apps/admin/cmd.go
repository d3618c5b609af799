package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/masomo/apps/shared"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	app *shared.App
	out io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  bootstrap -tenant TENANT                                   - create the tenant's collections")
	fmt.Fprintln(cli.out, "  peekid -tenant TENANT -role ROLE                           - show the next identifier of a role")
	fmt.Fprintln(cli.out, "  adduser -tenant TENANT -role ROLE -name NAME [-email EMAIL] [-password] - create a person record")
	fmt.Fprintln(cli.out, "  listusers -tenant TENANT -role ROLE [-search NAME]         - list the records of a role")
	fmt.Fprintln(cli.out, "  deluser -tenant TENANT -id IDENTIFIER                      - delete a record")
	fmt.Fprintln(cli.out, "  passwd -tenant TENANT -id IDENTIFIER                       - set a record's password")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) promptPassword(label string) (string, error) {
	fmt.Fprint(cli.out, label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "bootstrap":
		cmd := cli.newFlagSet("bootstrap")
		tenantKey := cmd.String("tenant", "", "The tenant key, eg. nps.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tenantKey == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.bootstrap(*tenantKey)

	case "peekid":
		cmd := cli.newFlagSet("peekid")
		tenantKey := cmd.String("tenant", "", "The tenant key, eg. nps.")
		role := cmd.String("role", "", "One of admin, teacher, student, parent (or A, T, S, P).")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tenantKey == "" || *role == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.peekID(*tenantKey, *role)

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		tenantKey := cmd.String("tenant", "", "The tenant key, eg. nps.")
		role := cmd.String("role", "", "One of admin, teacher, student, parent (or A, T, S, P).")
		name := cmd.String("name", "", "The person's full name.")
		email := cmd.String("email", "", "The person's email (optional).")
		withPwd := cmd.Bool("password", false, "Prompt for a password.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tenantKey == "" || *role == "" || *name == "" {
			cmd.Usage()
			return errHelp
		}
		var pwd string
		if *withPwd {
			var err error
			if pwd, err = cli.promptPassword("Enter password:"); err != nil {
				return err
			}
			if pwd == "" {
				cmd.Usage()
				return errHelp
			}
		}
		return cli.addUser(*tenantKey, *role, *name, *email, pwd)

	case "listusers":
		cmd := cli.newFlagSet("listusers")
		tenantKey := cmd.String("tenant", "", "The tenant key, eg. nps.")
		role := cmd.String("role", "", "One of admin, teacher, student, parent (or A, T, S, P).")
		search := cmd.String("search", "", "Only list people whose name starts with this.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tenantKey == "" || *role == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.listUsers(*tenantKey, *role, *search)

	case "deluser":
		cmd := cli.newFlagSet("deluser")
		tenantKey := cmd.String("tenant", "", "The tenant key, eg. nps.")
		ident := cmd.String("id", "", "The record's identifier, eg. NPS-T-0001.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tenantKey == "" || *ident == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.delUser(*tenantKey, *ident)

	case "passwd":
		cmd := cli.newFlagSet("passwd")
		tenantKey := cmd.String("tenant", "", "The tenant key, eg. nps.")
		ident := cmd.String("id", "", "The record's identifier, eg. NPS-T-0001. The password will be prompted next.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tenantKey == "" || *ident == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.setPassword(*tenantKey, *ident, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}
