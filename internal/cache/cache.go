// Package cache keeps a short-lived, process-wide copy of the vessel list and
// statistics so views can re-render without a network round-trip.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/raphaelgruber/aritana/internal/metrics"
	"github.com/raphaelgruber/aritana/internal/models"
)

// DefaultTTL is how long a loaded snapshot is served without refetching.
const DefaultTTL = 10 * time.Minute

const flightKey = "data"

// ErrClosed is returned by LoadData after Close when a load would be needed.
var ErrClosed = errors.New("cache closed")

// Source is the network side of the cache. *client.Client satisfies it.
type Source interface {
	// GetCache fetches the combined payload.
	GetCache(ctx context.Context) (*models.CacheData, error)
	// GetMap and GetCharts are the fallback pair.
	GetMap(ctx context.Context) ([]models.Vessel, error)
	GetCharts(ctx context.Context) (*models.Statistics, error)
}

// Snapshot is one loaded copy of the data. Vessels keep server order and
// are shared between callers; treat them as read-only.
type Snapshot struct {
	Vessels    []models.Vessel   `json:"vessels" yaml:"vessels"`
	Statistics models.Statistics `json:"statistics" yaml:"statistics"`
	LastUpdate time.Time         `json:"lastUpdate" yaml:"last_update"`
}

// Cache is a single-entry TTL cache with single-flight loading.
type Cache struct {
	source  Source
	ttl     time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics metrics.Recorder

	group singleflight.Group

	// Shared loads run under base so Close can abort them.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entry   *Snapshot
	loading bool
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the timing recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Cache) { c.metrics = r }
}

// New creates an empty cache backed by source.
func New(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:  source,
		ttl:     DefaultTTL,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		metrics: metrics.Nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.base, c.cancel = context.WithCancel(context.Background())
	return c
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// LoadData returns the cached snapshot or loads a new one.
//
// A load already in flight is always joined, even when forceRefresh is set
// or the cache is fresh. Otherwise a fresh entry is returned without network
// access unless forceRefresh is set. A failed load leaves the previous entry
// in place and the next call tries again.
//
// Cancelling ctx abandons the wait but not the shared load. Only Close
// aborts a load.
func (c *Cache) LoadData(ctx context.Context, forceRefresh bool) (Snapshot, error) {
	c.mu.Lock()
	if !c.loading && !forceRefresh && c.freshLocked() {
		snap := *c.entry
		c.mu.Unlock()
		return snap, nil
	}
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	c.loading = true
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.load(c.base)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Prefetch starts a background load so the first view finds warm data.
func (c *Cache) Prefetch(ctx context.Context) {
	go func() {
		if _, err := c.LoadData(ctx, false); err != nil {
			c.logger.Warn("initial data prefetch failed", "error", err)
		}
	}()
}

// Close aborts an in-flight load and refuses new ones. The current entry
// stays readable through Peek.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// Peek returns the current entry, fresh or not, without network access.
func (c *Cache) Peek() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return Snapshot{}, false
	}
	return *c.entry, true
}

// Fresh reports whether the current entry is within its TTL.
func (c *Cache) Fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked()
}

// freshLocked: caller must hold c.mu.
func (c *Cache) freshLocked() bool {
	return c.entry != nil && c.clock.Since(c.entry.LastUpdate) < c.ttl
}

// load runs inside the single flight. It overwrites the entry on success
// and always clears the in-flight state.
func (c *Cache) load(ctx context.Context) (Snapshot, error) {
	snap, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Forget under the lock so no caller can join a call that is finishing.
	c.group.Forget(flightKey)
	c.loading = false
	if err != nil {
		return Snapshot{}, err
	}
	snap.LastUpdate = c.clock.Now()
	c.entry = &snap
	c.logger.Debug("data cache refreshed", "vessels", len(snap.Vessels))
	return snap, nil
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	data, err := c.source.GetCache(ctx)
	if err == nil && data == nil {
		err = errors.New("empty cache response")
	}
	c.metrics.RecordTiming(metrics.OpCacheFetch, time.Since(start), err)
	if err == nil {
		return Snapshot{Vessels: data.Vessels, Statistics: data.Statistics}, nil
	}

	if ctx.Err() != nil {
		return Snapshot{}, fmt.Errorf("load data: %w", err)
	}
	c.logger.Warn("combined endpoint failed, using fallback endpoints", "error", err)

	start = time.Now()
	snap, fallbackErr := c.fetchFallback(ctx)
	c.metrics.RecordTiming(metrics.OpCacheFallback, time.Since(start), fallbackErr)
	if fallbackErr != nil {
		return Snapshot{}, fmt.Errorf("load data: %w", errors.Join(err, fallbackErr))
	}
	return snap, nil
}

// fetchFallback loads vessels and statistics concurrently.
func (c *Cache) fetchFallback(ctx context.Context) (Snapshot, error) {
	var (
		vessels []models.Vessel
		stats   *models.Statistics
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.source.GetMap(gctx)
		if err != nil {
			return fmt.Errorf("fallback vessels: %w", err)
		}
		vessels = v
		return nil
	})
	g.Go(func() error {
		s, err := c.source.GetCharts(gctx)
		if err != nil {
			return fmt.Errorf("fallback statistics: %w", err)
		}
		stats = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Vessels: vessels}
	if stats != nil {
		snap.Statistics = *stats
	}
	return snap, nil
}
