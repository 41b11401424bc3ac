package supplier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrSupplierUnavailable is a transient failure from a supplier call.
var ErrSupplierUnavailable = errors.New("supplier unavailable")

// PurchaseRequest is what the storefront asks a supplier to ship.
type PurchaseRequest struct {
	ProductID         string
	SupplierID        string
	SupplierProductID string
	Quantity          int
}

// Gateway places purchases with suppliers.
type Gateway interface {
	Purchase(ctx context.Context, req PurchaseRequest) error
}

// SimulatedGateway stands in for supplier APIs: each call takes Latency and
// fails with ErrSupplierUnavailable with probability FailureRate.
type SimulatedGateway struct {
	Latency     time.Duration
	FailureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedGateway returns a gateway seeded from seed.
func NewSimulatedGateway(latency time.Duration, failureRate float64, seed uint64) *SimulatedGateway {
	return &SimulatedGateway{
		Latency:     latency,
		FailureRate: failureRate,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (g *SimulatedGateway) Purchase(ctx context.Context, req PurchaseRequest) error {
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if g.FailureRate <= 0 {
		return nil
	}
	g.mu.Lock()
	roll := g.rnd.Float64()
	g.mu.Unlock()
	if roll < g.FailureRate {
		return ErrSupplierUnavailable
	}
	return nil
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req PurchaseRequest) error

func (f GatewayFunc) Purchase(ctx context.Context, req PurchaseRequest) error { return f(ctx, req) }
