package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/aritana/internal/config"
	"github.com/raphaelgruber/aritana/internal/metrics"
	"github.com/raphaelgruber/aritana/internal/models"
)

// fakeSource counts calls per endpoint. When gate is set, GetCache blocks
// until it is closed.
type fakeSource struct {
	cacheCalls  atomic.Int32
	mapCalls    atomic.Int32
	chartsCalls atomic.Int32

	gate     chan struct{}
	entered  chan struct{}
	cacheErr error
	mapErr   error

	mu      sync.Mutex
	vessels []models.Vessel
}

func newFakeSource(ids ...string) *fakeSource {
	s := &fakeSource{}
	s.setVessels(ids...)
	return s
}

func (s *fakeSource) setVessels(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vessels = nil
	for _, id := range ids {
		s.vessels = append(s.vessels, models.Vessel{ID: id, Classificacao: models.ClassificationLegal})
	}
}

func (s *fakeSource) GetCache(ctx context.Context) (*models.CacheData, error) {
	s.cacheCalls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.cacheErr != nil {
		return nil, s.cacheErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.CacheData{
		Vessels:    s.vessels,
		Statistics: models.Statistics{Legalidade: models.Legality{Legais: len(s.vessels)}},
	}, nil
}

func (s *fakeSource) GetMap(context.Context) ([]models.Vessel, error) {
	s.mapCalls.Add(1)
	if s.mapErr != nil {
		return nil, s.mapErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vessels, nil
}

func (s *fakeSource) GetCharts(context.Context) (*models.Statistics, error) {
	s.chartsCalls.Add(1)
	return &models.Statistics{
		Legalidade: models.Legality{Legais: 1, Ilegais: 2},
		Regional:   models.Regional{Meses: []string{"Norte"}, Legais: []int{1}, Ilegais: []int{2}},
	}, nil
}

func newTestCache(t *testing.T, src Source, opts ...Option) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	c := New(src, append([]Option{WithClock(fc), WithLogger(config.Discard())}, opts...)...)
	return c, fc
}

func TestLoadData_PopulatesAndServesFromCache(t *testing.T) {
	src := newFakeSource("a", "b")
	c, _ := newTestCache(t, src)

	_, ok := c.Peek()
	assert.False(t, ok)

	snap, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, snap.Vessels, 2)
	assert.Equal(t, 2, snap.Statistics.Legalidade.Legais)

	again, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, snap, again)
	assert.Equal(t, int32(1), src.cacheCalls.Load())
}

func TestLoadData_SingleFlight(t *testing.T) {
	const callers = 20

	src := newFakeSource("a")
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, callers)
	c, _ := newTestCache(t, src)

	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	errs := make([]error, callers)

	// The first caller starts the load; the rest join while it is blocked.
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.LoadData(context.Background(), false)
	}()
	<-src.entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.LoadData(context.Background(), false)
		}(i)
	}
	// Give the joiners time to reach the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.cacheCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestLoadData_SingleFlightSharesFailure(t *testing.T) {
	const callers = 5

	src := newFakeSource()
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, callers)
	src.cacheErr = errors.New("primary down")
	src.mapErr = errors.New("map down")
	c, _ := newTestCache(t, src)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = c.LoadData(context.Background(), false)
	}()
	<-src.entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.LoadData(context.Background(), false)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.cacheCalls.Load())
	for i := 0; i < callers; i++ {
		require.Error(t, errs[i])
		assert.Same(t, errs[0], errs[i])
	}
}

func TestLoadData_TTL(t *testing.T) {
	src := newFakeSource("a")
	c, fc := newTestCache(t, src)

	_, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, int32(1), src.cacheCalls.Load())

	fc.Advance(DefaultTTL - time.Millisecond)
	_, err = c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.cacheCalls.Load(), "still fresh one millisecond before expiry")
	assert.True(t, c.Fresh())

	fc.Advance(2 * time.Millisecond)
	assert.False(t, c.Fresh())
	_, err = c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.cacheCalls.Load())
}

func TestLoadData_CustomTTL(t *testing.T) {
	src := newFakeSource("a")
	c, fc := newTestCache(t, src, WithTTL(time.Minute))
	assert.Equal(t, time.Minute, c.TTL())

	_, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	fc.Advance(time.Minute)
	_, err = c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.cacheCalls.Load())
}

func TestLoadData_ForceRefresh(t *testing.T) {
	src := newFakeSource("a")
	c, fc := newTestCache(t, src)

	first, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)

	src.setVessels("a", "b", "c")
	fc.Advance(time.Second)

	second, err := c.LoadData(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.cacheCalls.Load())
	assert.Len(t, second.Vessels, 3, "refresh overwrites the entry wholesale")
	assert.True(t, second.LastUpdate.After(first.LastUpdate))

	peek, ok := c.Peek()
	require.True(t, ok)
	assert.Equal(t, second, peek)
}

func TestLoadData_Fallback(t *testing.T) {
	src := newFakeSource("a", "b")
	src.cacheErr = errors.New("cache endpoint unavailable")
	col := metrics.NewCollector()
	c, _ := newTestCache(t, src, WithMetrics(col))

	snap, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.cacheCalls.Load())
	assert.Equal(t, int32(1), src.mapCalls.Load())
	assert.Equal(t, int32(1), src.chartsCalls.Load())
	assert.Len(t, snap.Vessels, 2)
	assert.Equal(t, 3, snap.Statistics.Legalidade.Total())
	assert.Equal(t, []string{"Norte"}, snap.Statistics.Regional.Meses)

	ops := col.Snapshot().Operations
	assert.Equal(t, int64(1), ops[metrics.OpCacheFetch].Failures)
	assert.Equal(t, int64(1), ops[metrics.OpCacheFallback].Count)
}

func TestLoadData_FailureKeepsStaleEntry(t *testing.T) {
	src := newFakeSource("a")
	c, fc := newTestCache(t, src)

	good, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)

	src.cacheErr = errors.New("primary down")
	src.mapErr = errors.New("fallback down")
	fc.Advance(DefaultTTL + time.Second)

	_, err = c.LoadData(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")

	stale, ok := c.Peek()
	require.True(t, ok)
	assert.Equal(t, good, stale)

	// The in-flight marker was cleared, so the next call retries.
	src.cacheErr = nil
	_, err = c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.cacheCalls.Load())
}

func TestLoadData_CallerCancelDoesNotAbortLoad(t *testing.T) {
	src := newFakeSource("a")
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	c, _ := newTestCache(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.LoadData(ctx, false)
		errCh <- err
	}()
	<-src.entered
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(src.gate)
	require.Eventually(t, func() bool {
		_, ok := c.Peek()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), src.cacheCalls.Load())
}

func TestPrefetch(t *testing.T) {
	src := newFakeSource("a")
	c, _ := newTestCache(t, src)

	c.Prefetch(context.Background())
	require.Eventually(t, c.Fresh, time.Second, 5*time.Millisecond)

	_, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.cacheCalls.Load())
}

// nilSource answers the combined endpoint with neither data nor error.
type nilSource struct {
	*fakeSource
}

func (nilSource) GetCache(context.Context) (*models.CacheData, error) {
	return nil, nil
}

func TestLoadData_EmptyCombinedResponseUsesFallback(t *testing.T) {
	src := newFakeSource("a", "b")
	c, _ := newTestCache(t, nilSource{src})

	snap, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, snap.Vessels, 2)
	assert.Equal(t, int32(1), src.mapCalls.Load())
	assert.Equal(t, int32(1), src.chartsCalls.Load())
}

func TestClose_AbortsInFlightLoad(t *testing.T) {
	src := newFakeSource("a")
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	c, _ := newTestCache(t, src)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.LoadData(context.Background(), false)
		errCh <- err
	}()
	<-src.entered
	c.Close()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, src.mapCalls.Load())
	_, ok := c.Peek()
	assert.False(t, ok)

	_, err := c.LoadData(context.Background(), true)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(1), src.cacheCalls.Load())
}

func TestClose_KeepsServingFreshEntry(t *testing.T) {
	src := newFakeSource("a")
	c, _ := newTestCache(t, src)

	_, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	c.Close()

	snap, err := c.LoadData(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, snap.Vessels, 1)

	_, err = c.LoadData(context.Background(), true)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(1), src.cacheCalls.Load())
}
