package tokens

import (
	"context"
	"fmt"

	"github.com/tendant/simple-tokens/pkg/domain"
)

// FindToken returns a token matching criteria regardless of expiry.
//
// OwnerType is required; OwnerID is optional and, when empty, the search
// spans every owner of that type. When several tokens match, which one is
// returned is up to the store.
func (m *Manager) FindToken(ctx context.Context, criteria domain.Criteria) (*domain.Token, error) {
	criteria.ValidAt = nil
	return m.findToken(ctx, criteria)
}

// FindValidToken is like FindToken but ignores expired tokens.
func (m *Manager) FindValidToken(ctx context.Context, criteria domain.Criteria) (*domain.Token, error) {
	now := m.now()
	criteria.ValidAt = &now
	return m.findToken(ctx, criteria)
}

// FindOwnerByToken resolves the owner holding the token name/value,
// ignoring expiry. It returns nil when no such token exists.
func (m *Manager) FindOwnerByToken(ctx context.Context, ownerType, name, value string) (domain.Owner, error) {
	if name == "" || value == "" {
		return nil, nil
	}
	token, err := m.FindToken(ctx, domain.Criteria{OwnerType: ownerType, Name: name, Value: value})
	if err != nil {
		return nil, err
	}
	return m.resolveOwner(ctx, token)
}

// FindOwnerByValidToken is like FindOwnerByToken but returns nil when the
// token has expired. Expired tokens are left in place.
func (m *Manager) FindOwnerByValidToken(ctx context.Context, ownerType, name, value string) (domain.Owner, error) {
	if name == "" || value == "" {
		return nil, nil
	}
	token, err := m.FindValidToken(ctx, domain.Criteria{OwnerType: ownerType, Name: name, Value: value})
	if err != nil {
		return nil, err
	}
	return m.resolveOwner(ctx, token)
}

func (m *Manager) findToken(ctx context.Context, criteria domain.Criteria) (*domain.Token, error) {
	if criteria.OwnerType == "" {
		return nil, domain.ErrOwnerTypeRequired
	}

	token, err := m.store.QueryOne(ctx, criteria, domain.OrderNatural)
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	return token, nil
}

func (m *Manager) resolveOwner(ctx context.Context, token *domain.Token) (domain.Owner, error) {
	if token == nil {
		return nil, nil
	}

	owner, err := m.store.ResolveOwner(ctx, token.OwnerType, token.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token owner: %w", err)
	}
	return owner, nil
}
