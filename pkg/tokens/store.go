package tokens

import (
	"context"

	"github.com/google/uuid"
	"github.com/tendant/simple-tokens/pkg/domain"
)

// Store is the durable storage the token engine runs on.
//
// Absent results are reported as nil with a nil error. Store errors are
// returned to callers unchanged apart from wrapping; the engine never retries.
//
// Implementations are not expected to make Insert and DeleteMatching atomic
// with respect to each other. Two concurrent Add calls may both pass the
// value uniqueness check, and a reader may observe a named slot as empty while
// Add replaces it. Stores that need stronger guarantees should enforce a
// unique index on the value and expose a transaction boundary.
type Store interface {
	// Insert persists a new token and returns its id.
	Insert(ctx context.Context, token *domain.Token) (uuid.UUID, error)

	// DeleteMatching deletes every token matching criteria and returns how many were removed.
	DeleteMatching(ctx context.Context, criteria domain.Criteria) (int64, error)

	// QueryOne returns a single token matching criteria, or nil.
	QueryOne(ctx context.Context, criteria domain.Criteria, order domain.Order) (*domain.Token, error)

	// ResolveOwner loads the owner identified by ownerType and ownerID, or nil.
	ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error)
}
