// Package simpletokens wires the token engine to a SQL database in one call.
//
// Setup:
//
//  1. Apply the migrations (repository.Migrate or the simple-tokens migrate command)
//  2. Create a Tokens instance and register the owner types that use tokens
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	tk, err := simpletokens.New(simpletokens.Config{DB: db})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//	tk.Register("user", func(ctx context.Context, id string) (domain.Owner, error) {
//	    return users.Get(ctx, id)
//	})
//
//	t, _ := tk.For(user).Add(ctx, "activation", tokens.AddOptions{})
//	owner, _ := tk.FindOwnerByValidToken(ctx, "user", "activation", t.Value)
//
// Atomic replace-on-add:
//
//	err := tk.InTx(ctx, func(m *tokens.Manager) error {
//	    _, err := m.For(user).Add(ctx, "api_key", tokens.AddOptions{NeverExpires: true})
//	    return err
//	})
package simpletokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-tokens/pkg/metrics"
	"github.com/tendant/simple-tokens/pkg/repository"
	"github.com/tendant/simple-tokens/pkg/tokens"
)

// Config holds the configuration for a Tokens instance.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// Dialect selects the SQL flavour (default: postgres).
	Dialect repository.Dialect

	// DefaultTTL is the lifetime of tokens added without an expiry (default: 48 hours).
	DefaultTTL time.Duration

	// DefaultSize is the length of generated values (default: 12).
	DefaultSize int

	// MaxAttempts bounds value re-draws on collision (default: 1000).
	MaxAttempts int

	// Registerer enables Prometheus store metrics when set (optional).
	Registerer prometheus.Registerer

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger
}

// Tokens is the main token engine instance.
type Tokens struct {
	*tokens.Manager

	config   Config
	registry *tokens.Registry
	repo     *repository.TokensRepository
}

// New creates a Tokens instance with the given configuration.
// Returns an error if the tokens table doesn't exist.
func New(cfg Config) (*Tokens, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := repository.ValidateSchema(context.Background(), cfg.DB, cfg.Dialect); err != nil {
		return nil, fmt.Errorf("simpletokens: %w", err)
	}

	registry := tokens.NewRegistry()
	repo := repository.NewTokensRepository(cfg.DB, cfg.Dialect, registry)

	store, err := instrument(repo, cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("simpletokens: %w", err)
	}

	return &Tokens{
		Manager:  tokens.NewManager(managerConfig(cfg), store),
		config:   cfg,
		registry: registry,
		repo:     repo,
	}, nil
}

// Register makes ownerType resolvable from its tokens.
func (t *Tokens) Register(ownerType string, fn tokens.ResolverFunc) {
	t.registry.Register(ownerType, fn)
}

// Registry returns the owner registry.
func (t *Tokens) Registry() *tokens.Registry {
	return t.registry
}

// Repository returns the SQL repository backing the instance.
func (t *Tokens) Repository() *repository.TokensRepository {
	return t.repo
}

// InTx runs fn with a manager whose store calls share one transaction.
func (t *Tokens) InTx(ctx context.Context, fn func(m *tokens.Manager) error) error {
	return t.repo.Tx(ctx, func(tx *repository.TokensRepository) error {
		store, err := instrument(tx, t.config.Registerer)
		if err != nil {
			return err
		}
		return fn(tokens.NewManager(managerConfig(t.config), store))
	})
}

// Purge deletes tokens that expired before now and returns how many were removed.
func (t *Tokens) Purge(ctx context.Context) (int64, error) {
	n, err := t.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	t.config.Logger.Info("expired tokens purged", "count", n)
	return n, nil
}

// instrument wraps store with Prometheus metrics when reg is set. Collectors
// already registered with reg are reused.
func instrument(store tokens.Store, reg prometheus.Registerer) (tokens.Store, error) {
	if reg == nil {
		return store, nil
	}
	instrumented, err := metrics.NewStore(store, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return instrumented, nil
}

func managerConfig(cfg Config) tokens.Config {
	return tokens.Config{
		DefaultTTL:  cfg.DefaultTTL,
		DefaultSize: cfg.DefaultSize,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      cfg.Logger,
	}
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("simpletokens: DB is required")
	}
	switch cfg.Dialect {
	case "", repository.DialectPostgres, repository.DialectSQLite:
	default:
		return fmt.Errorf("simpletokens: unsupported dialect %q", cfg.Dialect)
	}
	if cfg.DefaultSize < 0 {
		return errors.New("simpletokens: DefaultSize must not be negative")
	}
	if cfg.DefaultTTL < 0 {
		return errors.New("simpletokens: DefaultTTL must not be negative")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dialect == "" {
		cfg.Dialect = repository.DialectPostgres
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = tokens.DefaultTTL
	}
	if cfg.DefaultSize == 0 {
		cfg.DefaultSize = tokens.DefaultSize
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = tokens.DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}
