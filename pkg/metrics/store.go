// Package metrics instruments token stores with Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-tokens/pkg/domain"
	"github.com/tendant/simple-tokens/pkg/tokens"
)

// Operation label values.
const (
	OpInsert         = "insert"
	OpDeleteMatching = "delete_matching"
	OpQueryOne       = "query_one"
	OpResolveOwner   = "resolve_owner"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusMiss  = "miss"
	StatusError = "error"
)

// Store wraps a tokens.Store and records every call.
type Store struct {
	next tokens.Store

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deleted    prometheus.Counter
}

// NewStore wraps next and registers its collectors with reg.
func NewStore(next tokens.Store, reg prometheus.Registerer) (*Store, error) {
	s := &Store{
		next: next,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokens_store_operations_total",
				Help: "Total number of token store operations",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokens_store_operation_duration_seconds",
				Help:    "Token store operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		deleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokens_deleted_total",
				Help: "Total number of tokens deleted through the store",
			},
		),
	}

	var err error
	if s.operations, err = register(reg, s.operations); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.deleted, err = register(reg, s.deleted); err != nil {
		return nil, err
	}
	return s, nil
}

// Insert implements tokens.Store.
func (s *Store) Insert(ctx context.Context, token *domain.Token) (uuid.UUID, error) {
	start := time.Now()
	id, err := s.next.Insert(ctx, token)
	s.observe(OpInsert, start, status(err, true))
	return id, err
}

// DeleteMatching implements tokens.Store.
func (s *Store) DeleteMatching(ctx context.Context, criteria domain.Criteria) (int64, error) {
	start := time.Now()
	n, err := s.next.DeleteMatching(ctx, criteria)
	s.observe(OpDeleteMatching, start, status(err, true))
	if err == nil {
		s.deleted.Add(float64(n))
	}
	return n, err
}

// QueryOne implements tokens.Store. Absent results are counted as misses.
func (s *Store) QueryOne(ctx context.Context, criteria domain.Criteria, order domain.Order) (*domain.Token, error) {
	start := time.Now()
	token, err := s.next.QueryOne(ctx, criteria, order)
	s.observe(OpQueryOne, start, status(err, token != nil))
	return token, err
}

// ResolveOwner implements tokens.Store.
func (s *Store) ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error) {
	start := time.Now()
	owner, err := s.next.ResolveOwner(ctx, ownerType, ownerID)
	s.observe(OpResolveOwner, start, status(err, owner != nil))
	return owner, err
}

func (s *Store) observe(op string, start time.Time, status string) {
	s.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.operations.WithLabelValues(op, status).Inc()
}

// register adds c to reg, reusing the collector already registered under
// the same name so several stores can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func status(err error, found bool) string {
	switch {
	case err != nil:
		return StatusError
	case !found:
		return StatusMiss
	default:
		return StatusOK
	}
}
