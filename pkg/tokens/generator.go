package tokens

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/simple-tokens/pkg/domain"
	"golang.org/x/crypto/blake2b"
)

// DefaultMaxAttempts bounds how many colliding values Generate draws before giving up.
const DefaultMaxAttempts = 1000

// Generator produces token values that no stored token currently uses.
//
// The uniqueness check and the later insert are separate store calls, so two
// concurrent generators can return the same value. Stores close that gap with
// a unique index on the value column.
type Generator struct {
	store       Store
	maxAttempts int
	logger      *slog.Logger
	entropy     io.Reader
	now         func() time.Time
}

// NewGenerator creates a generator checking uniqueness against store.
func NewGenerator(store Store, maxAttempts int, logger *slog.Logger) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger,
		entropy:     rand.Reader,
		now:         time.Now,
	}
}

// Generate returns a lowercase hex string of exactly size characters for
// which no token currently exists.
func (g *Generator) Generate(ctx context.Context, size int) (string, error) {
	if size < 1 {
		return "", domain.ErrInvalidTokenSize
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		candidate, err := g.draw(size)
		if err != nil {
			return "", err
		}

		existing, err := g.store.QueryOne(ctx, domain.Criteria{Value: candidate}, domain.OrderNatural)
		if err != nil {
			return "", fmt.Errorf("failed to check token uniqueness: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}

		g.logger.Warn("token value collision, drawing again",
			"size", size,
			"attempt", attempt)
	}

	return "", domain.ErrTokenGenerationExhausted
}

// draw hashes a seed made of the current time and two random draws.
// Digests are chained until size characters are available.
func (g *Generator) draw(size int) (string, error) {
	var seed [16]byte
	if _, err := io.ReadFull(g.entropy, seed[:]); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	base := fmt.Sprintf("--%x--%s--%x--", seed[:8], g.now().Format(time.RFC3339Nano), seed[8:])

	var out strings.Builder
	out.Grow(size + blake2b.Size*2)
	for block := 0; out.Len() < size; block++ {
		sum := blake2b.Sum512([]byte(fmt.Sprintf("%s%d", base, block)))
		out.WriteString(hex.EncodeToString(sum[:]))
	}

	return out.String()[:size], nil
}
