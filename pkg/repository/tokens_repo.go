package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-tokens/pkg/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// OwnerResolver loads owners for ResolveOwner.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error)
}

// TokensRepository stores tokens in the tokens table.
type TokensRepository struct {
	db      *sql.DB
	q       Querier
	dialect Dialect
	owners  OwnerResolver
}

// NewTokensRepository creates a new tokens repository.
func NewTokensRepository(db *sql.DB, dialect Dialect, owners OwnerResolver) *TokensRepository {
	return &TokensRepository{db: db, q: db, dialect: dialect, owners: owners}
}

// Tx runs fn with a repository bound to a single transaction. Running
// tokens.Manager over that repository makes Add's remove-then-insert atomic.
func (r *TokensRepository) Tx(ctx context.Context, fn func(tx *TokensRepository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&TokensRepository{q: tx, dialect: r.dialect, owners: r.owners})
	})
}

// Insert creates a new token.
func (r *TokensRepository) Insert(ctx context.Context, token *domain.Token) (uuid.UUID, error) {
	id := uuid.New()
	createdAt := token.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := r.rebind(`
		INSERT INTO tokens (id, owner_type, owner_id, name, value, expires_at, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err := r.q.ExecContext(ctx, query,
		id, token.OwnerType, token.OwnerID, token.Name, token.Value,
		utcPtr(token.ExpiresAt), token.Data, createdAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: %w", domain.ErrDuplicateTokenValue, err)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// DeleteMatching deletes every token matching criteria.
func (r *TokensRepository) DeleteMatching(ctx context.Context, criteria domain.Criteria) (int64, error) {
	if criteria.IsEmpty() {
		return 0, domain.ErrEmptyCriteria
	}

	where, args := r.where(criteria)
	result, err := r.q.ExecContext(ctx, "DELETE FROM tokens"+where, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// QueryOne returns one token matching criteria, or nil when none does.
func (r *TokensRepository) QueryOne(ctx context.Context, criteria domain.Criteria, order domain.Order) (*domain.Token, error) {
	where, args := r.where(criteria)

	query := `
		SELECT id, owner_type, owner_id, name, value, expires_at, data, created_at
		FROM tokens` + where
	if order == domain.OrderNewest {
		query += " ORDER BY created_at DESC"
	}
	query += " LIMIT 1"

	token := &domain.Token{}
	var expiresAt sql.NullTime
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&token.ID, &token.OwnerType, &token.OwnerID, &token.Name, &token.Value,
		&expiresAt, &token.Data, &token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		token.ExpiresAt = &t
	}
	return token, nil
}

// ResolveOwner delegates to the configured resolver.
func (r *TokensRepository) ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error) {
	if r.owners == nil {
		return domain.OwnerRef{Type: ownerType, ID: ownerID}, nil
	}
	return r.owners.ResolveOwner(ctx, ownerType, ownerID)
}

// SetExpiresAt overwrites the expiry of the token with the given id.
func (r *TokensRepository) SetExpiresAt(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	query := r.rebind(`UPDATE tokens SET expires_at = $1 WHERE id = $2`)
	result, err := r.q.ExecContext(ctx, query, utcPtr(expiresAt), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

// DeleteExpired removes tokens that expired before now. Nothing calls it
// automatically; expiry is otherwise only a query-time filter.
func (r *TokensRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := r.rebind(`DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`)
	result, err := r.q.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TokensRepository) where(c domain.Criteria) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", r.placeholder(len(args))))
	}

	if c.OwnerType != "" {
		add("owner_type = ?", c.OwnerType)
	}
	if c.OwnerID != "" {
		add("owner_id = ?", c.OwnerID)
	}
	if c.Name != "" {
		add("name = ?", c.Name)
	}
	if c.Value != "" {
		add("value = ?", c.Value)
	}
	if c.ValidAt != nil {
		add("(expires_at IS NULL OR expires_at > ?)", c.ValidAt.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *TokensRepository) placeholder(n int) string {
	if r.dialect == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// rebind rewrites $n placeholders for dialects that use "?".
func (r *TokensRepository) rebind(query string) string {
	if r.dialect == DialectPostgres {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
	}
	return false
}
