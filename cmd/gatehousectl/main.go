package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gatehouse-auth/gatehouse/internal/app"
	"github.com/gatehouse-auth/gatehouse/internal/credential"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/platform/db"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
)

const usage = `usage: gatehousectl <command> [flags]

commands:
  create-user   -email <email> -password <password> [-role <name>]...
  create-role   -name <name> [-description <text>]
  add-role      -email <email> -role <name>
  remove-role   -email <email> -role <name>
  activate      -email <email>
  deactivate    -email <email>
`

type roleList []string

func (r *roleList) String() string { return fmt.Sprint([]string(*r)) }

func (r *roleList) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		slog.Default().Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	passwords := credential.NewCodec(cfg.PasswordSalt, cfg.PasswordHMAC)
	dir := directory.NewStore(pool)
	manager := directory.NewManager(dir, passwords, cfg.DefaultRoles)

	if err := run(ctx, manager, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, manager *directory.Manager, command string, args []string) error {
	switch command {
	case "create-user":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		email := fs.String("email", "", "user email")
		password := fs.String("password", "", "user password")
		var roles roleList
		fs.Var(&roles, "role", "role to grant (repeatable)")
		_ = fs.Parse(args)
		if *email == "" || *password == "" {
			return errors.New("create-user: -email and -password are required")
		}
		refs := make([]directory.RoleRef, 0, len(roles))
		for _, name := range roles {
			refs = append(refs, directory.RoleByName(name))
		}
		user, err := manager.CreateUser(ctx, *email, *password, true, refs)
		if err != nil {
			return err
		}
		fmt.Printf("created user %d (%s)\n", user.ID, user.Email)
		return nil

	case "create-role":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "role name")
		description := fs.String("description", "", "role description")
		_ = fs.Parse(args)
		if *name == "" {
			return errors.New("create-role: -name is required")
		}
		role, err := manager.CreateRole(ctx, *name, *description)
		if err != nil {
			return err
		}
		fmt.Printf("created role %d (%s)\n", role.ID, role.Name)
		return nil

	case "add-role", "remove-role":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		email := fs.String("email", "", "user email")
		role := fs.String("role", "", "role name")
		_ = fs.Parse(args)
		if *email == "" || *role == "" {
			return fmt.Errorf("%s: -email and -role are required", command)
		}
		var err error
		if command == "add-role" {
			_, err = manager.AddRoleToUser(ctx, *email, directory.RoleByName(*role))
		} else {
			_, err = manager.RemoveRoleFromUser(ctx, *email, directory.RoleByName(*role))
		}
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%s: no such user or role", command)
			}
			return err
		}
		fmt.Println("ok")
		return nil

	case "activate", "deactivate":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		email := fs.String("email", "", "user email")
		_ = fs.Parse(args)
		if *email == "" {
			return fmt.Errorf("%s: -email is required", command)
		}
		var err error
		if command == "activate" {
			_, err = manager.ActivateUser(ctx, *email)
		} else {
			_, err = manager.DeactivateUser(ctx, *email)
		}
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%s: no such user", command)
			}
			return err
		}
		fmt.Println("ok")
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}
