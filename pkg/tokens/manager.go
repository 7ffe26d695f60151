// Package tokens issues, looks up, and revokes named tokens attached to
// arbitrary owners.
//
// Every owner has named slots: adding a token under a name replaces the
// previous token with that name. Tokens expire lazily, so expired tokens
// remain in storage until they are replaced or removed, and only the
// *Valid lookups filter them out.
//
// Basic usage:
//
//	registry := tokens.NewRegistry()
//	registry.Register("user", loadUser)
//
//	store := memstore.New(registry)
//	m := tokens.NewManager(tokens.Config{}, store)
//
//	t, err := m.For(user).Add(ctx, "activation", tokens.AddOptions{Size: 10})
//	owner, err := m.FindOwnerByValidToken(ctx, "user", "activation", t.Value)
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-tokens/pkg/domain"
)

const (
	// DefaultTTL is the lifetime of tokens added without an explicit expiry.
	DefaultTTL = 48 * time.Hour

	// DefaultSize is the length of generated token values.
	DefaultSize = 12
)

// Config holds token manager configuration.
type Config struct {
	DefaultTTL  time.Duration
	DefaultSize int
	MaxAttempts int
	Logger      *slog.Logger

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Manager is the entry point for token operations.
type Manager struct {
	config    Config
	store     Store
	generator *Generator
	logger    *slog.Logger
}

// NewManager creates a token manager over store.
func NewManager(config Config, store Store) *Manager {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.DefaultSize == 0 {
		config.DefaultSize = DefaultSize
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	generator := NewGenerator(store, config.MaxAttempts, config.Logger)
	generator.now = config.Now

	return &Manager{
		config:    config,
		store:     store,
		generator: generator,
		logger:    config.Logger,
	}
}

// For returns the token repository scoped to owner.
func (m *Manager) For(owner domain.Owner) *OwnerTokens {
	return &OwnerTokens{manager: m, owner: owner}
}

// DestroyOwner deletes every token held by owner. Call it when the owner
// itself is destroyed.
func (m *Manager) DestroyOwner(ctx context.Context, owner domain.Owner) (int64, error) {
	if !domain.IsPersisted(owner) {
		return 0, nil
	}
	if owner.OwnerType() == "" {
		return 0, domain.ErrOwnerTypeRequired
	}

	n, err := m.store.DeleteMatching(ctx, domain.Criteria{
		OwnerType: owner.OwnerType(),
		OwnerID:   owner.OwnerID(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete owner tokens: %w", err)
	}

	m.logger.Debug("owner tokens destroyed",
		"owner_type", owner.OwnerType(),
		"owner_id", owner.OwnerID(),
		"count", n)
	return n, nil
}

func (m *Manager) now() time.Time {
	return m.config.Now()
}
