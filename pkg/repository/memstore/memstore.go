// Package memstore keeps tokens in process memory.
//
// It is meant for tests and single-process tools; nothing survives a restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-tokens/pkg/domain"
)

// OwnerResolver loads owners for ResolveOwner.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error)
}

// Store is an in-memory token store. Tokens are kept in insertion order,
// which is the store's natural order.
type Store struct {
	mu     sync.RWMutex
	tokens []*domain.Token
	owners OwnerResolver
}

// New creates an empty store resolving owners through owners.
func New(owners OwnerResolver) *Store {
	return &Store{owners: owners}
}

// Insert stores a copy of token under a fresh id. It fails with
// domain.ErrDuplicateTokenValue when the value is already taken.
func (s *Store) Insert(ctx context.Context, token *domain.Token) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	stored := clone(token)
	stored.ID = uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Value == stored.Value {
			return uuid.Nil, domain.ErrDuplicateTokenValue
		}
	}
	s.tokens = append(s.tokens, stored)

	return stored.ID, nil
}

// DeleteMatching removes every token matching criteria.
func (s *Store) DeleteMatching(ctx context.Context, criteria domain.Criteria) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if criteria.IsEmpty() {
		return 0, domain.ErrEmptyCriteria
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tokens[:0]
	var deleted int64
	for _, t := range s.tokens {
		if criteria.Matches(t) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(s.tokens); i++ {
		s.tokens[i] = nil
	}
	s.tokens = kept

	return deleted, nil
}

// QueryOne returns a copy of the first matching token in the requested order.
func (s *Store) QueryOne(ctx context.Context, criteria domain.Criteria, order domain.Order) (*domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if order == domain.OrderNewest {
		for i := len(s.tokens) - 1; i >= 0; i-- {
			if criteria.Matches(s.tokens[i]) {
				return clone(s.tokens[i]), nil
			}
		}
		return nil, nil
	}

	for _, t := range s.tokens {
		if criteria.Matches(t) {
			return clone(t), nil
		}
	}
	return nil, nil
}

// ResolveOwner delegates to the configured resolver.
func (s *Store) ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error) {
	if s.owners == nil {
		return domain.OwnerRef{Type: ownerType, ID: ownerID}, nil
	}
	return s.owners.ResolveOwner(ctx, ownerType, ownerID)
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Expire moves the expiry of every token matching criteria to at.
func (s *Store) Expire(criteria domain.Criteria, at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tokens {
		if criteria.Matches(t) {
			expiresAt := at
			t.ExpiresAt = &expiresAt
			n++
		}
	}
	return n
}

func clone(t *domain.Token) *domain.Token {
	c := *t
	if t.ExpiresAt != nil {
		expiresAt := *t.ExpiresAt
		c.ExpiresAt = &expiresAt
	}
	if t.Data != nil {
		c.Data = append([]byte(nil), t.Data...)
	}
	return &c
}
