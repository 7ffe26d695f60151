package command

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tendant/simple-tokens/internal/config"
	"github.com/tendant/simple-tokens/pkg/repository"
	"github.com/tendant/simple-tokens/pkg/repository/badgerstore"
	"github.com/tendant/simple-tokens/pkg/repository/memstore"
	"github.com/tendant/simple-tokens/pkg/tokens"
	"github.com/tendant/simple-tokens/simpletokens"
)

// engine is the token manager opened for one command.
type engine struct {
	manager *tokens.Manager

	// tk is set for SQL drivers only.
	tk *simpletokens.Tokens

	close func() error
}

func (e *engine) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

// openDB opens the SQL database named by cfg.
func openDB(cfg *config.Config) (*sql.DB, repository.Dialect, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := repository.NewDB(repository.Config{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			DBName:   cfg.DB.Name,
			SSLMode:  cfg.DB.SSLMode,
		})
		return db, repository.DialectPostgres, err
	case config.DriverSQLite:
		db, err := repository.OpenSQLite(cfg.SQLite.Path)
		return db, repository.DialectSQLite, err
	default:
		return nil, "", fmt.Errorf("store driver %q is not a SQL database", cfg.Store.Driver)
	}
}

// openEngine opens the configured store. Owners of any type resolve to
// their reference since the CLI has no entity loaders.
func openEngine(c *cli.Context) (*engine, error) {
	cfg := getConfig(c)
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	logger := getLogger(c)

	managerCfg := tokens.Config{
		DefaultTTL:  cfg.Token.TTL,
		DefaultSize: cfg.Token.Size,
		MaxAttempts: cfg.Token.MaxAttempts,
		Logger:      logger,
	}

	if cfg.IsSQL() {
		db, dialect, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		tk, err := simpletokens.New(simpletokens.Config{
			DB:          db,
			Dialect:     dialect,
			DefaultTTL:  cfg.Token.TTL,
			DefaultSize: cfg.Token.Size,
			MaxAttempts: cfg.Token.MaxAttempts,
			Logger:      logger,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		tk.Registry().SetFallback(tokens.ResolveRef)
		return &engine{manager: tk.Manager, tk: tk, close: db.Close}, nil
	}

	registry := tokens.NewRegistry()
	registry.SetFallback(tokens.ResolveRef)

	switch cfg.Store.Driver {
	case config.DriverBadger:
		store, err := badgerstore.Open(badgerstore.Config{
			Dir:        cfg.Badger.Dir,
			SyncWrites: true,
			Logger:     logger,
		}, registry)
		if err != nil {
			return nil, err
		}
		return &engine{manager: tokens.NewManager(managerCfg, store), close: store.Close}, nil
	case config.DriverMemory:
		logger.Warn("memory store does not persist tokens between commands")
		return &engine{manager: tokens.NewManager(managerCfg, memstore.New(registry))}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// withEngine opens the engine, runs fn and closes the engine.
func withEngine(c *cli.Context, fn func(e *engine) error) error {
	e, err := openEngine(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open token store: %v", err), 1)
	}
	defer func() {
		if err := e.Close(); err != nil {
			getLogger(c).Error("failed to close token store", "error", err)
		}
	}()
	return fn(e)
}
