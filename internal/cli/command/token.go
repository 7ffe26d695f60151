package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tendant/simple-tokens/pkg/domain"
	"github.com/tendant/simple-tokens/pkg/repository"
	"github.com/tendant/simple-tokens/pkg/tokens"
)

const commandTimeout = 30 * time.Second

// MigrateCommand returns the migrate command.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply the embedded schema migrations (SQL drivers)",
		Action: migrateAction,
	}
}

// AddCommand returns the add command.
func AddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Issue a token, replacing any token with the same name",
		ArgsUsage: "OWNER_TYPE OWNER_ID NAME",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "size",
				Usage: "Value length (default from token.size)",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Lifetime of the token (default from token.ttl)",
			},
			&cli.StringFlag{
				Name:  "expires-at",
				Usage: "Absolute expiry (RFC3339)",
			},
			&cli.BoolFlag{
				Name:  "never-expires",
				Usage: "Issue a token without expiry",
			},
			&cli.StringSliceFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Payload entry KEY=VALUE (repeatable)",
			},
		},
		Action: addAction,
	}
}

// ShowCommand returns the show command.
func ShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show an owner's token by name",
		ArgsUsage: "OWNER_TYPE OWNER_ID NAME",
		Action:    showAction,
	}
}

// FindCommand returns the find command.
func FindCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Usage:     "Find a token by owner type, name and value",
		ArgsUsage: "OWNER_TYPE NAME VALUE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "owner-id",
				Usage: "Restrict to one owner",
			},
			&cli.BoolFlag{
				Name:  "valid",
				Usage: "Only match unexpired tokens",
			},
		},
		Action: findAction,
	}
}

// OwnerCommand returns the owner command.
func OwnerCommand() *cli.Command {
	return &cli.Command{
		Name:      "owner",
		Usage:     "Find the owner of a token",
		ArgsUsage: "OWNER_TYPE NAME VALUE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "valid",
				Usage: "Only match unexpired tokens",
			},
		},
		Action: ownerAction,
	}
}

// RemoveCommand returns the remove command.
func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Remove an owner's token by name",
		ArgsUsage: "OWNER_TYPE OWNER_ID NAME",
		Action:    removeAction,
	}
}

// DestroyOwnerCommand returns the destroy-owner command.
func DestroyOwnerCommand() *cli.Command {
	return &cli.Command{
		Name:      "destroy-owner",
		Usage:     "Delete every token held by an owner",
		ArgsUsage: "OWNER_TYPE OWNER_ID",
		Action:    destroyOwnerAction,
	}
}

// PurgeCommand returns the purge command.
func PurgeCommand() *cli.Command {
	return &cli.Command{
		Name:   "purge",
		Usage:  "Delete expired tokens (SQL drivers)",
		Action: purgeAction,
	}
}

func migrateAction(c *cli.Context) error {
	cfg := getConfig(c)
	if cfg == nil || !cfg.IsSQL() {
		return cli.Exit("migrate requires a SQL store driver", 1)
	}
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	db, dialect, err := openDB(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open database: %v", err), 1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
	defer cancel()

	applied, err := repository.Migrate(ctx, db, dialect)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	getLogger(c).Info("migrations applied", "count", len(applied))
	return p.print(migrateView{Applied: applied})
}

func addAction(c *cli.Context) error {
	owner, name, err := ownerNameArgs(c)
	if err != nil {
		return err
	}
	opts, err := addOptions(c)
	if err != nil {
		return err
	}
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		token, err := e.manager.For(owner).Add(ctx, name, opts)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to add token: %v", err), 1)
		}
		return p.print(newTokenView(token, time.Now(), getLogger(c)))
	})
}

func addOptions(c *cli.Context) (tokens.AddOptions, error) {
	opts := tokens.AddOptions{
		Size:         c.Int("size"),
		NeverExpires: c.Bool("never-expires"),
	}

	set := 0
	if opts.NeverExpires {
		set++
	}
	if ttl := c.Duration("ttl"); ttl != 0 {
		if ttl < 0 {
			return opts, cli.Exit("--ttl must be positive", 1)
		}
		at := time.Now().Add(ttl)
		opts.ExpiresAt = &at
		set++
	}
	if s := c.String("expires-at"); s != "" {
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return opts, cli.Exit(fmt.Sprintf("invalid --expires-at: %v", err), 1)
		}
		opts.ExpiresAt = &at
		set++
	}
	if set > 1 {
		return opts, cli.Exit("--ttl, --expires-at and --never-expires are mutually exclusive", 1)
	}

	if entries := c.StringSlice("data"); len(entries) > 0 {
		payload := make(map[string]string, len(entries))
		for _, entry := range entries {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || key == "" {
				return opts, cli.Exit(fmt.Sprintf("invalid --data entry %q, want KEY=VALUE", entry), 1)
			}
			payload[key] = value
		}
		data, err := tokens.EncodeData(payload)
		if err != nil {
			return opts, cli.Exit(err.Error(), 1)
		}
		opts.Data = data
	}

	return opts, nil
}

func showAction(c *cli.Context) error {
	owner, name, err := ownerNameArgs(c)
	if err != nil {
		return err
	}
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		token, err := e.manager.For(owner).FindByName(ctx, name)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to find token: %v", err), 1)
		}
		if token == nil {
			return cli.Exit("token not found", 1)
		}
		return p.print(newTokenView(token, time.Now(), getLogger(c)))
	})
}

func findAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.Exit("usage: find OWNER_TYPE NAME VALUE", 1)
	}
	criteria := domain.Criteria{
		OwnerType: c.Args().Get(0),
		Name:      c.Args().Get(1),
		Value:     c.Args().Get(2),
		OwnerID:   c.String("owner-id"),
	}
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		find := e.manager.FindToken
		if c.Bool("valid") {
			find = e.manager.FindValidToken
		}
		token, err := find(ctx, criteria)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to find token: %v", err), 1)
		}
		if token == nil {
			return cli.Exit("token not found", 1)
		}
		return p.print(newTokenView(token, time.Now(), getLogger(c)))
	})
}

func ownerAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.Exit("usage: owner OWNER_TYPE NAME VALUE", 1)
	}
	ownerType, name, value := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		find := e.manager.FindOwnerByToken
		if c.Bool("valid") {
			find = e.manager.FindOwnerByValidToken
		}
		owner, err := find(ctx, ownerType, name, value)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to find owner: %v", err), 1)
		}
		if owner == nil {
			return cli.Exit("owner not found", 1)
		}
		return p.print(domain.OwnerRef{Type: owner.OwnerType(), ID: owner.OwnerID()})
	})
}

func removeAction(c *cli.Context) error {
	owner, name, err := ownerNameArgs(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		if err := e.manager.For(owner).Remove(ctx, name); err != nil {
			return cli.Exit(fmt.Sprintf("failed to remove token: %v", err), 1)
		}
		getLogger(c).Info("token removed", "owner_type", owner.Type, "owner_id", owner.ID, "name", name)
		return nil
	})
}

func destroyOwnerAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: destroy-owner OWNER_TYPE OWNER_ID", 1)
	}
	owner := domain.OwnerRef{Type: c.Args().Get(0), ID: c.Args().Get(1)}
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		n, err := e.manager.DestroyOwner(ctx, owner)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to destroy owner tokens: %v", err), 1)
		}
		return p.print(countView{Deleted: n})
	})
}

func purgeAction(c *cli.Context) error {
	p, err := newPrinter(c)
	if err != nil {
		return err
	}

	return withEngine(c, func(e *engine) error {
		if e.tk == nil {
			return cli.Exit("purge requires a SQL store driver", 1)
		}
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		n, err := e.tk.Purge(ctx)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return p.print(countView{Deleted: n})
	})
}

// ownerNameArgs parses OWNER_TYPE OWNER_ID NAME.
func ownerNameArgs(c *cli.Context) (domain.OwnerRef, string, error) {
	if c.NArg() != 3 {
		return domain.OwnerRef{}, "", cli.Exit(fmt.Sprintf("usage: %s OWNER_TYPE OWNER_ID NAME", c.Command.Name), 1)
	}
	owner := domain.OwnerRef{Type: c.Args().Get(0), ID: c.Args().Get(1)}
	return owner, c.Args().Get(2), nil
}
