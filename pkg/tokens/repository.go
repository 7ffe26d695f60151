package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/simple-tokens/pkg/domain"
)

// AddOptions configures a token created by OwnerTokens.Add.
type AddOptions struct {
	// ExpiresAt sets the expiry. Defaults to now plus the manager's DefaultTTL.
	ExpiresAt *time.Time

	// NeverExpires stores the token without an expiry. It wins over ExpiresAt.
	NeverExpires bool

	// Size is the length of the generated value. Defaults to the manager's DefaultSize.
	Size int

	// Data is an opaque payload stored with the token.
	Data []byte
}

// OwnerTokens is the set of named token slots belonging to one owner.
type OwnerTokens struct {
	manager *Manager
	owner   domain.Owner
}

// Owner returns the owner this repository is scoped to.
func (o *OwnerTokens) Owner() domain.Owner {
	return o.owner
}

// Add creates a token named name, replacing any existing token with the same name.
//
// The previous token is deleted before the new one is inserted, in two
// separate store calls. Wrap Add in a store transaction when readers must
// never observe the slot empty.
func (o *OwnerTokens) Add(ctx context.Context, name string, opts AddOptions) (*domain.Token, error) {
	if name == "" {
		return nil, domain.ErrTokenNameRequired
	}
	if err := o.checkOwner(); err != nil {
		return nil, err
	}
	if !domain.IsPersisted(o.owner) {
		return nil, domain.ErrOwnerNotPersisted
	}

	m := o.manager
	now := m.now()

	size := opts.Size
	if size == 0 {
		size = m.config.DefaultSize
	}
	if size < 1 {
		return nil, domain.ErrInvalidTokenSize
	}

	expiresAt := opts.ExpiresAt
	if opts.NeverExpires {
		expiresAt = nil
	} else if expiresAt == nil {
		t := now.Add(m.config.DefaultTTL)
		expiresAt = &t
	}

	if err := o.Remove(ctx, name); err != nil {
		return nil, err
	}

	value, err := m.generator.Generate(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &domain.Token{
		Name:      name,
		Value:     value,
		OwnerType: o.owner.OwnerType(),
		OwnerID:   o.owner.OwnerID(),
		ExpiresAt: expiresAt,
		Data:      opts.Data,
		CreatedAt: now,
	}

	id, err := m.store.Insert(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	token.ID = id

	m.logger.Debug("token added",
		"owner_type", token.OwnerType,
		"owner_id", token.OwnerID,
		"name", name,
		"expires_at", token.ExpiresAt)

	return token, nil
}

// Remove deletes the token named name. It is a no-op when the owner has no
// durable identity yet or holds no such token.
func (o *OwnerTokens) Remove(ctx context.Context, name string) error {
	if name == "" {
		return domain.ErrTokenNameRequired
	}
	if !domain.IsPersisted(o.owner) {
		return nil
	}
	if err := o.checkOwner(); err != nil {
		return err
	}

	n, err := o.manager.store.DeleteMatching(ctx, o.criteria(name, ""))
	if err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	if n > 0 {
		o.manager.logger.Debug("token removed",
			"owner_type", o.owner.OwnerType(),
			"owner_id", o.owner.OwnerID(),
			"name", name)
	}
	return nil
}

// FindByName returns the owner's token named name, or nil.
func (o *OwnerTokens) FindByName(ctx context.Context, name string) (*domain.Token, error) {
	return o.find(ctx, o.criteria(name, ""))
}

// Find returns the owner's token with the given name and value, expired or not.
func (o *OwnerTokens) Find(ctx context.Context, name, value string) (*domain.Token, error) {
	if value == "" {
		return nil, nil
	}
	return o.find(ctx, o.criteria(name, value))
}

// FindValid is like Find but only returns a token that has not expired.
func (o *OwnerTokens) FindValid(ctx context.Context, name, value string) (*domain.Token, error) {
	if value == "" {
		return nil, nil
	}
	criteria := o.criteria(name, value)
	now := o.manager.now()
	criteria.ValidAt = &now
	return o.find(ctx, criteria)
}

func (o *OwnerTokens) find(ctx context.Context, criteria domain.Criteria) (*domain.Token, error) {
	if criteria.Name == "" {
		return nil, domain.ErrTokenNameRequired
	}
	if !domain.IsPersisted(o.owner) {
		return nil, nil
	}
	if err := o.checkOwner(); err != nil {
		return nil, err
	}

	token, err := o.manager.store.QueryOne(ctx, criteria, domain.OrderNatural)
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	return token, nil
}

func (o *OwnerTokens) criteria(name, value string) domain.Criteria {
	c := domain.Criteria{Name: name, Value: value}
	if o.owner != nil {
		c.OwnerType = o.owner.OwnerType()
		c.OwnerID = o.owner.OwnerID()
	}
	return c
}

func (o *OwnerTokens) checkOwner() error {
	if o.owner == nil || o.owner.OwnerType() == "" {
		return domain.ErrOwnerTypeRequired
	}
	return nil
}
