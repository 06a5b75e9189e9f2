// Package metrics collects pipeline counters and publishes snapshots to Redis.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	KeyPrefix             = "metrics:"
	TTL                   = 2 * time.Minute
	DefaultReportInterval = 30 * time.Second
)

// Counter names.
const (
	Sweeps               = "sweeps"
	SweepsSkipped        = "sweeps_skipped"
	PatientsAssessed     = "patients_assessed"
	ReconcileErrors      = "reconcile_errors"
	NotificationsCreated = "notifications_created"
	MessagesSent         = "messages_sent"
	MessagesFailed       = "messages_failed"
	OracleFallbacks      = "oracle_fallbacks"
	VitalsIngested       = "vitals_ingested"
)

// Recorder is the write side used by the pipeline.
type Recorder interface {
	Add(name string, n uint64)
	Inc(name string)
}

// NoOp discards everything.
type NoOp struct{}

func (NoOp) Add(string, uint64) {}
func (NoOp) Inc(string)         {}

var _ Recorder = NoOp{}

// Snapshot is the JSON document stored under KeyPrefix+service.
type Snapshot struct {
	Service     string            `json:"service"`
	StartedAt   time.Time         `json:"started_at"`
	LastUpdated time.Time         `json:"last_updated"`
	Status      string            `json:"status"`
	Counters    map[string]uint64 `json:"counters"`
}

// Collector holds counters in memory and writes them to Redis every
// interval. A nil Redis client keeps it purely in-memory.
type Collector struct {
	service  string
	redis    *redis.Client
	logger   zerolog.Logger
	started  time.Time
	interval time.Duration

	mu       sync.RWMutex
	counters map[string]*atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCollector(service string, client *redis.Client, logger zerolog.Logger) *Collector {
	return &Collector{
		service:  service,
		redis:    client,
		logger:   logger.With().Str("component", "metrics").Logger(),
		started:  time.Now().UTC(),
		interval: DefaultReportInterval,
		counters: make(map[string]*atomic.Uint64),
		stopCh:   make(chan struct{}),
	}
}

func (c *Collector) SetReportInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

func (c *Collector) counter(name string) *atomic.Uint64 {
	c.mu.RLock()
	ctr, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return ctr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok = c.counters[name]; !ok {
		ctr = &atomic.Uint64{}
		c.counters[name] = ctr
	}
	return ctr
}

func (c *Collector) Add(name string, n uint64) {
	if n == 0 {
		return
	}
	c.counter(name).Add(n)
}

func (c *Collector) Inc(name string) { c.counter(name).Add(1) }

// Snapshot returns the current counters without touching Redis.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	counters := make(map[string]uint64, len(c.counters))
	for name, ctr := range c.counters {
		counters[name] = ctr.Load()
	}
	c.mu.RUnlock()

	return &Snapshot{
		Service:     c.service,
		StartedAt:   c.started,
		LastUpdated: time.Now().UTC(),
		Status:      "healthy",
		Counters:    counters,
	}
}

// Start reports to Redis until ctx is done or Stop is called. A final
// snapshot is written on exit.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.Flush(context.Background())
				return
			case <-c.stopCh:
				c.Flush(context.Background())
				return
			case <-ticker.C:
				c.Flush(ctx)
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Flush writes the current snapshot to Redis.
func (c *Collector) Flush(ctx context.Context) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal metrics")
		return
	}
	key := KeyPrefix + c.service
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to write metrics")
		return
	}
	c.logger.Debug().Str("key", key).Msg("metrics written")
}

var _ Recorder = (*Collector)(nil)

// -- Reader --

var ErrNoMetrics = errors.New("metrics: not found")

type Reader struct {
	redis *redis.Client
}

func NewReader(client *redis.Client) *Reader {
	return &Reader{redis: client}
}

// Get returns the stored snapshot for service. Snapshots older than TTL are
// reported as unhealthy.
func (r *Reader) Get(ctx context.Context, service string) (*Snapshot, error) {
	data, err := r.redis.Get(ctx, KeyPrefix+service).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNoMetrics, service)
	}
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if time.Since(s.LastUpdated) > TTL {
		s.Status = "unhealthy"
	}
	return &s, nil
}

// Services lists the service names with a stored snapshot.
func (r *Reader) Services(ctx context.Context) ([]string, error) {
	var names []string
	iter := r.redis.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, iter.Val()[len(KeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan metrics keys: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
