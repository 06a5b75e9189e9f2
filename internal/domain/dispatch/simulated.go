package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Rand is the randomness source of the simulated gateway.
type Rand interface {
	Float64() float64
}

type SimulatedConfig struct {
	FailureRate  float64
	ReadRate     float64
	DeliverAfter time.Duration
	ReadAfter    time.Duration
}

func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		FailureRate:  0.05,
		ReadRate:     0.7,
		DeliverAfter: 2 * time.Second,
		ReadAfter:    5 * time.Second,
	}
}

// SimulatedGateway accepts messages locally and reports delivery and read
// receipts through timers, for environments without a real carrier.
type SimulatedGateway struct {
	cfg SimulatedConfig

	mu       sync.Mutex
	rng      Rand
	onStatus StatusFunc
	timers   map[*time.Timer]struct{}
	closed   bool
}

func NewSimulatedGateway(cfg SimulatedConfig, rng Rand) *SimulatedGateway {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SimulatedGateway{cfg: cfg, rng: rng, timers: make(map[*time.Timer]struct{})}
}

func (g *SimulatedGateway) Name() string { return "simulated" }

// OnStatus registers the receiver of delivery receipts.
func (g *SimulatedGateway) OnStatus(fn StatusFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onStatus = fn
}

func (g *SimulatedGateway) roll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

func (g *SimulatedGateway) Send(ctx context.Context, _, _, _ string) (*GatewayResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.roll() < g.cfg.FailureRate {
		return &GatewayResponse{Accepted: false, Status: StatusFailed, Reason: "simulated carrier rejection"}, nil
	}
	id := "SIM" + uuid.NewString()
	g.after(g.cfg.DeliverAfter, id, StatusDelivered)
	if g.roll() < g.cfg.ReadRate {
		g.after(g.cfg.ReadAfter, id, StatusRead)
	}
	return &GatewayResponse{Accepted: true, ID: id, Status: StatusSent}, nil
}

func (g *SimulatedGateway) after(d time.Duration, id string, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.onStatus == nil {
		return
	}
	fn := g.onStatus
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		g.mu.Lock()
		delete(g.timers, t)
		g.mu.Unlock()
		fn(context.Background(), id, status, "")
	})
	g.timers[t] = struct{}{}
}

// Pending returns the number of receipts not yet delivered.
func (g *SimulatedGateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// Close cancels every outstanding receipt.
func (g *SimulatedGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for t := range g.timers {
		t.Stop()
	}
	g.timers = make(map[*time.Timer]struct{})
}
