package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tendant/simple-tokens/pkg/domain"
	"github.com/tendant/simple-tokens/pkg/repository/memstore"
	"github.com/tendant/simple-tokens/pkg/tokens"
)

var _ tokens.Store = (*Store)(nil)

type failingStore struct {
	tokens.Store
	err error
}

func (f failingStore) Insert(ctx context.Context, token *domain.Token) (uuid.UUID, error) {
	return uuid.Nil, f.err
}

func TestStore_CountsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewStore(memstore.New(nil), reg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	m := tokens.NewManager(tokens.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, s)
	owner := domain.OwnerRef{Type: "user", ID: "1"}

	token, err := m.For(owner).Add(ctx, "activation", tokens.AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := m.FindOwnerByToken(ctx, "user", "activation", token.Value); err != nil {
		t.Fatalf("FindOwnerByToken failed: %v", err)
	}
	if err := m.For(owner).Remove(ctx, "activation"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	tests := []struct {
		op, status string
		want       float64
	}{
		{OpInsert, StatusOK, 1},
		// Add removes the empty slot, then Remove deletes the token.
		{OpDeleteMatching, StatusOK, 2},
		// The uniqueness check misses, then the lookup hits.
		{OpQueryOne, StatusMiss, 1},
		{OpQueryOne, StatusOK, 1},
		{OpResolveOwner, StatusOK, 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(s.operations.WithLabelValues(tt.op, tt.status))
		if got != tt.want {
			t.Errorf("operations{%s,%s} = %v, want %v", tt.op, tt.status, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(s.deleted); got != 1 {
		t.Errorf("deleted = %v, want 1", got)
	}
}

func TestStore_CountsErrors(t *testing.T) {
	backendErr := errors.New("disk full")
	s, err := NewStore(failingStore{Store: memstore.New(nil), err: backendErr}, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	_, err = s.Insert(context.Background(), &domain.Token{Value: "v"})
	if !errors.Is(err, backendErr) {
		t.Fatalf("Insert error = %v, want %v", err, backendErr)
	}
	if got := testutil.ToFloat64(s.operations.WithLabelValues(OpInsert, StatusError)); got != 1 {
		t.Errorf("operations{insert,error} = %v, want 1", got)
	}
}

func TestNewStore_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewStore(memstore.New(nil), reg); err != nil {
		t.Fatalf("first NewStore failed: %v", err)
	}
	if _, err := NewStore(memstore.New(nil), reg); err != nil {
		t.Errorf("second NewStore on the same registry failed: %v", err)
	}
}
