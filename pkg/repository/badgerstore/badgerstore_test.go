package badgerstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tendant/simple-tokens/pkg/domain"
	"github.com/tendant/simple-tokens/pkg/tokens"
)

var _ tokens.Store = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	registry := tokens.NewRegistry()
	registry.Register("user", tokens.RefResolver("user"))

	store, err := Open(Config{
		InMemory: true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, registry)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func insert(t *testing.T, s *Store, token *domain.Token) *domain.Token {
	t.Helper()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	id, err := s.Insert(context.Background(), token)
	if err != nil {
		t.Fatalf("Insert(%s) failed: %v", token.Value, err)
	}
	token.ID = id
	return token
}

func TestOpen_RequiresDir(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Error("Open should fail without a dir")
	}
}

func TestStore_OnDisk(t *testing.T) {
	dir, err := os.MkdirTemp("", "badger-tokens-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(Config{Dir: dir, Logger: logger}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	insert(t, store, &domain.Token{Name: "api_key", Value: "persisted", OwnerType: "user", OwnerID: "1"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = Open(Config{Dir: dir, Logger: logger}, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	found, err := store.QueryOne(context.Background(), domain.Criteria{Value: "persisted"}, domain.OrderNatural)
	if err != nil {
		t.Fatalf("QueryOne failed: %v", err)
	}
	if found == nil {
		t.Error("token should survive a reopen")
	}
}

func TestStore_QueryOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	expired := insert(t, s, &domain.Token{Name: "activation", Value: "v-expired", OwnerType: "user", OwnerID: "1", ExpiresAt: &past})
	active := insert(t, s, &domain.Token{Name: "api_key", Value: "v-active", OwnerType: "user", OwnerID: "1", Data: []byte("k: v\n")})
	insert(t, s, &domain.Token{Name: "activation", Value: "v-other", OwnerType: "account", OwnerID: "1"})

	now := time.Now()
	tests := []struct {
		name     string
		criteria domain.Criteria
		wantID   string
	}{
		{"by value", domain.Criteria{Value: "v-active"}, active.ID.String()},
		{"by owner and name", domain.Criteria{OwnerType: "user", OwnerID: "1", Name: "activation"}, expired.ID.String()},
		{"by type and name", domain.Criteria{OwnerType: "user", Name: "api_key"}, active.ID.String()},
		{"expired without validity", domain.Criteria{OwnerType: "user", Name: "activation", Value: "v-expired"}, expired.ID.String()},
		{"expired with validity", domain.Criteria{OwnerType: "user", Name: "activation", Value: "v-expired", ValidAt: &now}, ""},
		{"wrong type for value", domain.Criteria{OwnerType: "user", Value: "v-other"}, ""},
		{"name only scan", domain.Criteria{Name: "api_key"}, active.ID.String()},
		{"missing", domain.Criteria{Value: "nope"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := s.QueryOne(ctx, tt.criteria, domain.OrderNatural)
			if err != nil {
				t.Fatalf("QueryOne failed: %v", err)
			}
			got := ""
			if found != nil {
				got = found.ID.String()
			}
			if got != tt.wantID {
				t.Errorf("QueryOne id = %q, want %q", got, tt.wantID)
			}
		})
	}

	found, err := s.QueryOne(ctx, domain.Criteria{Value: "v-active"}, domain.OrderNatural)
	if err != nil {
		t.Fatalf("QueryOne failed: %v", err)
	}
	if string(found.Data) != "k: v\n" {
		t.Errorf("Data = %q, want %q", found.Data, "k: v\n")
	}
}

func TestStore_OrderNewest(t *testing.T) {
	s := newTestStore(t)

	insert(t, s, &domain.Token{Name: "invite", Value: "first", OwnerType: "user", OwnerID: "1"})
	insert(t, s, &domain.Token{Name: "invite", Value: "second", OwnerType: "user", OwnerID: "1"})
	last := insert(t, s, &domain.Token{Name: "invite", Value: "third", OwnerType: "user", OwnerID: "1"})

	found, err := s.QueryOne(context.Background(), domain.Criteria{OwnerType: "user", OwnerID: "1", Name: "invite"}, domain.OrderNewest)
	if err != nil {
		t.Fatalf("QueryOne failed: %v", err)
	}
	if found == nil || found.ID != last.ID {
		t.Errorf("QueryOne(OrderNewest) = %+v, want %v", found, last.ID)
	}
}

func TestStore_DuplicateValue(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, &domain.Token{Name: "a", Value: "same", OwnerType: "user", OwnerID: "1"})

	_, err := s.Insert(context.Background(), &domain.Token{Name: "b", Value: "same", OwnerType: "user", OwnerID: "2"})
	if !errors.Is(err, domain.ErrDuplicateTokenValue) {
		t.Errorf("Insert duplicate error = %v, want ErrDuplicateTokenValue", err)
	}
}

func TestStore_ConcurrentDuplicateValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 16
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Insert(ctx, &domain.Token{
				Name:      "invite",
				Value:     "contested",
				OwnerType: "user",
				OwnerID:   strconv.Itoa(i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, domain.ErrDuplicateTokenValue):
			t.Errorf("writer %d error = %v, want ErrDuplicateTokenValue", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d concurrent inserts of one value succeeded, want 1", succeeded)
	}

	n, err := s.DeleteMatching(ctx, domain.Criteria{OwnerType: "user", Name: "invite"})
	if err != nil {
		t.Fatalf("DeleteMatching failed: %v", err)
	}
	if n != 1 {
		t.Errorf("owner index holds %d tokens, want 1", n)
	}
}

func TestStore_DeleteMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, &domain.Token{Name: "a", Value: "one", OwnerType: "user", OwnerID: "1"})
	insert(t, s, &domain.Token{Name: "b", Value: "two", OwnerType: "user", OwnerID: "1"})
	insert(t, s, &domain.Token{Name: "a", Value: "three", OwnerType: "user", OwnerID: "2"})

	n, err := s.DeleteMatching(ctx, domain.Criteria{OwnerType: "user", OwnerID: "1"})
	if err != nil {
		t.Fatalf("DeleteMatching failed: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteMatching removed %d, want 2", n)
	}

	for _, value := range []string{"one", "two"} {
		found, err := s.QueryOne(ctx, domain.Criteria{Value: value}, domain.OrderNatural)
		if err != nil {
			t.Fatalf("QueryOne failed: %v", err)
		}
		if found != nil {
			t.Errorf("token %q should be deleted", value)
		}
	}

	// Value index entries are gone too, so the value can be reused.
	insert(t, s, &domain.Token{Name: "a", Value: "one", OwnerType: "user", OwnerID: "3"})

	if _, err := s.DeleteMatching(ctx, domain.Criteria{}); !errors.Is(err, domain.ErrEmptyCriteria) {
		t.Errorf("DeleteMatching(empty) error = %v, want ErrEmptyCriteria", err)
	}
}

func TestStore_WithManager(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := tokens.NewManager(tokens.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, s)
	owner := domain.OwnerRef{Type: "user", ID: "42"}

	first, err := m.For(owner).Add(ctx, "activation", tokens.AddOptions{Size: 10})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	second, err := m.For(owner).Add(ctx, "activation", tokens.AddOptions{Size: 10})
	if err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	if first.Value == second.Value {
		t.Error("replacement token should have a new value")
	}

	found, err := m.For(owner).FindByName(ctx, "activation")
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	if found == nil || found.Value != second.Value {
		t.Errorf("FindByName = %+v, want value %q", found, second.Value)
	}

	resolved, err := m.FindOwnerByValidToken(ctx, "user", "activation", second.Value)
	if err != nil {
		t.Fatalf("FindOwnerByValidToken failed: %v", err)
	}
	if resolved == nil || resolved.OwnerID() != "42" {
		t.Errorf("FindOwnerByValidToken = %v, want user 42", resolved)
	}
}
