// Package reference issues payment references for new transactions.
package reference

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/payment/domain"
)

const ulidPrefix = "PAY-"

// ULIDGenerator issues PAY-<ULID> references. ULIDs from one generator are
// strictly increasing even within the same millisecond.
type ULIDGenerator struct {
	mu      sync.Mutex
	clock   clock.Clock
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator(clk clock.Clock) domain.ReferenceGenerator {
	return &ULIDGenerator{
		clock:   clk,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *ULIDGenerator) Next(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.clock.Now()), g.entropy)
	if err != nil {
		return "", err
	}
	return ulidPrefix + id.String(), nil
}
