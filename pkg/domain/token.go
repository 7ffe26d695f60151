package domain

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Token is a named credential value attached to one owner.
type Token struct {
	ID        uuid.UUID
	Name      string
	Value     string
	OwnerType string
	OwnerID   string
	ExpiresAt *time.Time
	Data      []byte
	CreatedAt time.Time
}

// IsExpired reports whether the token's expiry has passed at now.
// A token without ExpiresAt never expires.
func (t *Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// IsValid returns true if the token is not expired at now.
func (t *Token) IsValid(now time.Time) bool {
	return !t.IsExpired(now)
}

// Owner returns the polymorphic reference to the token's owner.
func (t *Token) Owner() OwnerRef {
	return OwnerRef{Type: t.OwnerType, ID: t.OwnerID}
}

// DecodeData unmarshals the YAML payload stored in Data into v.
// It is a no-op when Data is empty.
func (t *Token) DecodeData(v any) error {
	if len(t.Data) == 0 {
		return nil
	}
	return yaml.Unmarshal(t.Data, v)
}

// Criteria selects tokens. Empty string fields are unconstrained.
type Criteria struct {
	OwnerType string
	OwnerID   string
	Name      string
	Value     string

	// ValidAt restricts matches to tokens that are valid at the given instant.
	ValidAt *time.Time
}

// IsEmpty returns true if the criteria would match every token.
func (c Criteria) IsEmpty() bool {
	return c.OwnerType == "" && c.OwnerID == "" && c.Name == "" && c.Value == "" && c.ValidAt == nil
}

// Matches reports whether t satisfies the criteria.
func (c Criteria) Matches(t *Token) bool {
	if c.OwnerType != "" && t.OwnerType != c.OwnerType {
		return false
	}
	if c.OwnerID != "" && t.OwnerID != c.OwnerID {
		return false
	}
	if c.Name != "" && t.Name != c.Name {
		return false
	}
	if c.Value != "" && t.Value != c.Value {
		return false
	}
	if c.ValidAt != nil && t.IsExpired(*c.ValidAt) {
		return false
	}
	return true
}

// Order selects which match QueryOne returns when several tokens qualify.
type Order int

const (
	// OrderNatural leaves the choice to the storage engine.
	OrderNatural Order = iota
	// OrderNewest returns the most recently created match.
	OrderNewest
)
