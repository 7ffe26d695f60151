// Package badgerstore keeps tokens in an embedded Badger database.
//
// Each token is stored under its id together with two index entries: the
// value key, which holds the id, and an owner key ordered by owner and name.
// Ids are UUIDv7, so key order is creation order.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/tendant/simple-tokens/pkg/domain"
)

const sep = "\x00"

var (
	tokenPrefix = []byte("tok" + sep)
	valuePrefix = []byte("val" + sep)
	ownerPrefix = []byte("own" + sep)
)

// OwnerResolver loads owners for ResolveOwner.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error)
}

// Config holds Badger settings.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// Store is a Badger-backed token store.
type Store struct {
	db     *badger.DB
	owners OwnerResolver
	logger *slog.Logger
}

// Open opens (or creates) the Badger database described by cfg.
func Open(cfg Config, owners OwnerResolver) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: cfg.Logger})
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	cfg.Logger.Info("badger token store opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return &Store{db: db, owners: owners, logger: cfg.Logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type record struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	OwnerType string     `json:"owner_type"`
	OwnerID   string     `json:"owner_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Data      []byte     `json:"data,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toRecord(t *domain.Token) record {
	return record{
		ID: t.ID, Name: t.Name, Value: t.Value, OwnerType: t.OwnerType, OwnerID: t.OwnerID,
		ExpiresAt: t.ExpiresAt, Data: t.Data, CreatedAt: t.CreatedAt,
	}
}

func (r record) token() *domain.Token {
	return &domain.Token{
		ID: r.ID, Name: r.Name, Value: r.Value, OwnerType: r.OwnerType, OwnerID: r.OwnerID,
		ExpiresAt: r.ExpiresAt, Data: r.Data, CreatedAt: r.CreatedAt,
	}
}

// Insert stores token under a fresh id. It fails with
// domain.ErrDuplicateTokenValue when the value is already taken.
func (s *Store) Insert(ctx context.Context, token *domain.Token) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("badger: new id: %w", err)
	}

	rec := toRecord(token)
	rec.ID = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("badger: encode token: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		// Reading the value key makes a concurrent insert of the same
		// value fail to commit with badger.ErrConflict.
		_, err := txn.Get(valueKey(rec.Value))
		if err == nil {
			return domain.ErrDuplicateTokenValue
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(tokenKey(id), body); err != nil {
			return err
		}
		if err := txn.Set(valueKey(rec.Value), id[:]); err != nil {
			return err
		}
		return txn.Set(ownerKey(rec.OwnerType, rec.OwnerID, rec.Name, id), nil)
	})
	if errors.Is(err, badger.ErrConflict) {
		return uuid.Nil, fmt.Errorf("%w: %w", domain.ErrDuplicateTokenValue, err)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// DeleteMatching removes every token matching criteria together with its index entries.
func (s *Store) DeleteMatching(ctx context.Context, criteria domain.Criteria) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if criteria.IsEmpty() {
		return 0, domain.ErrEmptyCriteria
	}

	var deleted int64
	err := s.db.Update(func(txn *badger.Txn) error {
		matches, err := s.match(txn, criteria, false)
		if err != nil {
			return err
		}
		for _, rec := range matches {
			for _, key := range [][]byte{
				tokenKey(rec.ID),
				valueKey(rec.Value),
				ownerKey(rec.OwnerType, rec.OwnerID, rec.Name, rec.ID),
			} {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// QueryOne returns the first match in key order, or the last one for
// domain.OrderNewest.
func (s *Store) QueryOne(ctx context.Context, criteria domain.Criteria, order domain.Order) (*domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found *domain.Token
	err := s.db.View(func(txn *badger.Txn) error {
		matches, err := s.match(txn, criteria, order == domain.OrderNatural)
		if err != nil || len(matches) == 0 {
			return err
		}
		if order == domain.OrderNewest {
			found = matches[len(matches)-1].token()
		} else {
			found = matches[0].token()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ResolveOwner delegates to the configured resolver.
func (s *Store) ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error) {
	if s.owners == nil {
		return domain.OwnerRef{Type: ownerType, ID: ownerID}, nil
	}
	return s.owners.ResolveOwner(ctx, ownerType, ownerID)
}

// match returns the records matching criteria in key order, using the value
// key or the owner index when criteria allows. With firstOnly it stops at the
// first match.
func (s *Store) match(txn *badger.Txn, criteria domain.Criteria, firstOnly bool) ([]record, error) {
	if criteria.Value != "" {
		return s.matchValue(txn, criteria)
	}

	prefix := tokenPrefix
	indexed := criteria.OwnerType != ""
	if indexed {
		prefix = ownerIndexPrefix(criteria.OwnerType, criteria.OwnerID, criteria.Name)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = !indexed
	it := txn.NewIterator(opts)
	defer it.Close()

	var matches []record
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()

		var rec record
		var err error
		if indexed {
			rec, err = load(txn, idFromIndexKey(item.Key()))
			if errors.Is(err, badger.ErrKeyNotFound) {
				s.logger.Warn("badger token index points at a missing token", "key", string(item.Key()))
				continue
			}
		} else {
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
		}
		if err != nil {
			return nil, err
		}

		if criteria.Matches(rec.token()) {
			matches = append(matches, rec)
			if firstOnly {
				break
			}
		}
	}
	return matches, nil
}

// matchValue follows the value key to the single token holding the value.
func (s *Store) matchValue(txn *badger.Txn, criteria domain.Criteria) ([]record, error) {
	item, err := txn.Get(valueKey(criteria.Value))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		var err error
		id, err = uuid.FromBytes(val)
		return err
	})
	if err != nil {
		return nil, err
	}

	rec, err := load(txn, id)
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Warn("badger value key points at a missing token", "id", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !criteria.Matches(rec.token()) {
		return nil, nil
	}
	return []record{rec}, nil
}

func load(txn *badger.Txn, id uuid.UUID) (record, error) {
	var rec record
	item, err := txn.Get(tokenKey(id))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func tokenKey(id uuid.UUID) []byte {
	return append(append([]byte(nil), tokenPrefix...), id.String()...)
}

func valueKey(value string) []byte {
	return append(append([]byte(nil), valuePrefix...), value...)
}

// ownerIndexPrefix narrows the owner index as far as the given parts allow.
// Parts after the first empty one are ignored.
func ownerIndexPrefix(ownerType, ownerID, name string) []byte {
	key := string(ownerPrefix) + ownerType + sep
	if ownerID == "" {
		return []byte(key)
	}
	key += ownerID + sep
	if name == "" {
		return []byte(key)
	}
	return []byte(key + name + sep)
}

func ownerKey(ownerType, ownerID, name string, id uuid.UUID) []byte {
	return append(ownerIndexPrefix(ownerType, ownerID, name), id.String()...)
}

func idFromIndexKey(key []byte) uuid.UUID {
	i := bytes.LastIndex(key, []byte(sep))
	id, err := uuid.ParseBytes(key[i+1:])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
