package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/aritana/internal/config"
	"github.com/raphaelgruber/aritana/internal/models"
)

type result struct {
	status *models.JobStatus
	err    error
}

// fakeFetcher replays scripted results per job id. The last result repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	calls     []string
	responses map[string][]result
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string][]result)}
}

func (f *fakeFetcher) script(id string, rs ...result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[id] = rs
}

func (f *fakeFetcher) GetJobStatus(_ context.Context, id string) (*models.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	q := f.responses[id]
	if len(q) == 0 {
		return nil, errors.New("no scripted response")
	}
	r := q[0]
	if len(q) > 1 {
		f.responses[id] = q[1:]
	}
	return r.status, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func ok(status models.AnalysisStatus, progress int) result {
	return result{status: &models.JobStatus{Status: status, Progresso: progress, Mensagem: string(status)}}
}

func fail() result {
	return result{err: errors.New("connection refused")}
}

// recorder counts callback invocations.
type recorder struct {
	mu         sync.Mutex
	progress   []int
	processing int
	success    int
	errs       []error
	retries    int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(info JobInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, info.Progress)
		},
		OnProcessing: func(JobInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.processing++
		},
		OnSuccess: func(JobInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.success++
		},
		OnError: func(_ JobInfo, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnRetry: func(JobInfo, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.retries++
		},
	}
}

// newTestMonitor returns a monitor on a fake clock that is never advanced,
// so only explicit CheckAllJobs calls poll.
func newTestMonitor(t *testing.T, f StatusFetcher, opts ...Option) (*Monitor, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	m := New(f, append([]Option{WithClock(fc), WithLogger(config.Discard())}, opts...)...)
	t.Cleanup(m.Close)
	return m, fc
}

func TestAddJob_EmptyID(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeFetcher())
	err := m.AddJob("", Callbacks{})
	assert.ErrorIs(t, err, ErrEmptyJobID)
	assert.Empty(t, m.GetActiveJobs())
	assert.False(t, m.Polling())
}

func TestProcessingThenDone(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", ok(models.AnalysisProcessing, 40), ok(models.AnalysisDone, 100))
	m, _ := newTestMonitor(t, f)

	rec := &recorder{}
	require.NoError(t, m.AddJob("j1", rec.callbacks()))

	m.CheckAllJobs(context.Background())
	assert.Equal(t, []int{40}, rec.progress)
	assert.Equal(t, 1, rec.processing)
	assert.Equal(t, 0, rec.success)

	info, found := m.GetJobInfo("j1")
	require.True(t, found)
	assert.Equal(t, StatusProcessing, info.Status)
	assert.Equal(t, 40, info.Progress)

	m.CheckAllJobs(context.Background())
	assert.Equal(t, 1, rec.success)
	assert.Empty(t, m.GetActiveJobs())
	assert.False(t, m.Polling())

	_, found = m.GetJobInfo("j1")
	assert.False(t, found)
}

func TestFinishedJobTrackedDuringCallbacks(t *testing.T) {
	tests := []struct {
		name   string
		script []result
		checks int
	}{
		{"done", []result{ok(models.AnalysisDone, 100)}, 1},
		{"server error", []result{ok(models.AnalysisError, 0)}, 1},
		{"retries exhausted", []result{fail()}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			f.script("j1", tt.script...)
			m, _ := newTestMonitor(t, f)

			var tracked []bool
			seen := func() {
				_, found := m.GetJobInfo("j1")
				tracked = append(tracked, found)
			}
			require.NoError(t, m.AddJob("j1", Callbacks{
				OnSuccess: func(JobInfo) { seen() },
				OnError:   func(JobInfo, error) { seen() },
			}))

			for range tt.checks {
				m.CheckAllJobs(context.Background())
			}
			assert.Equal(t, []bool{true}, tracked)

			_, found := m.GetJobInfo("j1")
			assert.False(t, found)
			assert.False(t, m.Polling())
		})
	}
}

func TestReAddFromSuccessCallbackKeepsJob(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", ok(models.AnalysisDone, 100))
	m, _ := newTestMonitor(t, f)

	rec := &recorder{}
	require.NoError(t, m.AddJob("j1", Callbacks{
		OnSuccess: func(JobInfo) {
			require.NoError(t, m.AddJob("j1", rec.callbacks()))
		},
	}))

	m.CheckAllJobs(context.Background())
	_, found := m.GetJobInfo("j1")
	assert.True(t, found)
	assert.True(t, m.Polling())
}

func TestOnlySuccessCallback(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", ok(models.AnalysisProcessing, 40), ok(models.AnalysisDone, 100))
	m, _ := newTestMonitor(t, f)

	var success int
	require.NoError(t, m.AddJob("j1", Callbacks{OnSuccess: func(JobInfo) { success++ }}))

	m.CheckAllJobs(context.Background())
	info, _ := m.GetJobInfo("j1")
	assert.Equal(t, 40, info.Progress)

	m.CheckAllJobs(context.Background())
	assert.Equal(t, 1, success)
	assert.Empty(t, m.GetActiveJobs())
}

func TestServerErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  models.JobStatus
		wantMsg string
	}{
		{"with erro field", models.JobStatus{Status: models.AnalysisError, Erro: "imagem corrompida"}, "imagem corrompida"},
		{"message only", models.JobStatus{Status: models.AnalysisError, Mensagem: "falhou"}, "falhou"},
		{"no message", models.JobStatus{Status: models.AnalysisError}, unknownJobError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			st := tt.status
			f.script("j1", result{status: &st})
			m, _ := newTestMonitor(t, f)

			rec := &recorder{}
			require.NoError(t, m.AddJob("j1", rec.callbacks()))
			m.CheckAllJobs(context.Background())

			require.Len(t, rec.errs, 1)
			var jobErr *JobError
			require.ErrorAs(t, rec.errs[0], &jobErr)
			assert.Equal(t, "j1", jobErr.JobID)
			assert.Equal(t, tt.wantMsg, jobErr.Message)
			assert.Len(t, rec.progress, 1, "progress fires before the status callback")
			assert.Empty(t, m.GetActiveJobs())
			assert.Equal(t, 0, rec.retries)
		})
	}
}

func TestRetryBound(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", fail())
	m, _ := newTestMonitor(t, f)

	rec := &recorder{}
	require.NoError(t, m.AddJob("j1", rec.callbacks()))

	m.CheckAllJobs(context.Background())
	m.CheckAllJobs(context.Background())
	info, found := m.GetJobInfo("j1")
	require.True(t, found)
	assert.Equal(t, 2, info.RetryCount)
	assert.Equal(t, 2, rec.retries)
	assert.Empty(t, rec.errs)

	m.CheckAllJobs(context.Background())
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 2, rec.retries)
	assert.Empty(t, m.GetActiveJobs())

	// Further checks do nothing once the job is gone.
	m.CheckAllJobs(context.Background())
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 3, f.callCount())
}

func TestRetryCountResetsOnSuccess(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1",
		fail(), fail(),
		ok(models.AnalysisProcessing, 10),
		fail(), fail(),
		ok(models.AnalysisProcessing, 20),
		fail(), fail(),
	)
	m, _ := newTestMonitor(t, f)

	rec := &recorder{}
	require.NoError(t, m.AddJob("j1", rec.callbacks()))

	for i := 0; i < 8; i++ {
		m.CheckAllJobs(context.Background())
	}

	info, found := m.GetJobInfo("j1")
	require.True(t, found, "interleaved successes keep the job tracked")
	assert.Equal(t, 2, info.RetryCount)
	assert.Equal(t, 20, info.Progress)
	assert.Empty(t, rec.errs)
	assert.Equal(t, 6, rec.retries)
}

func TestWithMaxRetries(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", fail())
	m, _ := newTestMonitor(t, f, WithMaxRetries(1))

	rec := &recorder{}
	require.NoError(t, m.AddJob("j1", rec.callbacks()))
	m.CheckAllJobs(context.Background())

	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 0, rec.retries)
	assert.Empty(t, m.GetActiveJobs())
}

func TestCheckAllJobs_InsertionOrderAndIsolation(t *testing.T) {
	f := newFakeFetcher()
	f.script("a", fail())
	f.script("b", ok(models.AnalysisDone, 100))
	f.script("c", ok(models.AnalysisProcessing, 50))
	m, _ := newTestMonitor(t, f, WithConcurrency(1))

	recs := map[string]*recorder{"a": {}, "b": {}, "c": {}}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddJob(id, recs[id].callbacks()))
	}

	m.CheckAllJobs(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, f.callOrder())
	assert.Equal(t, 1, recs["a"].retries)
	assert.Equal(t, 1, recs["b"].success)
	assert.Equal(t, 1, recs["c"].processing)

	ids := make([]string, 0)
	for _, info := range m.GetActiveJobs() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestReAddResetsRetryAndCallbacks(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", fail())
	m, _ := newTestMonitor(t, f)

	first := &recorder{}
	require.NoError(t, m.AddJob("j1", first.callbacks()))
	m.CheckAllJobs(context.Background())
	m.CheckAllJobs(context.Background())
	assert.Equal(t, 2, first.retries)

	second := &recorder{}
	require.NoError(t, m.AddJob("j1", second.callbacks()))
	info, _ := m.GetJobInfo("j1")
	assert.Equal(t, 0, info.RetryCount)
	assert.Len(t, m.GetActiveJobs(), 1)

	m.CheckAllJobs(context.Background())
	m.CheckAllJobs(context.Background())
	assert.Equal(t, 2, first.retries, "old callbacks are replaced")
	assert.Equal(t, 2, second.retries)
	assert.Empty(t, second.errs, "retry state was reset by re-adding")
}

func TestRemoveJob(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeFetcher())
	m.RemoveJob("missing")

	require.NoError(t, m.AddJob("a", Callbacks{}))
	require.NoError(t, m.AddJob("b", Callbacks{}))
	assert.True(t, m.Polling())

	m.RemoveJob("a")
	assert.True(t, m.Polling())
	m.RemoveJob("b")
	assert.False(t, m.Polling())
	assert.Empty(t, m.GetActiveJobs())
}

func TestClearAllJobs(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeFetcher())
	require.NoError(t, m.AddJob("a", Callbacks{}))
	require.NoError(t, m.AddJob("b", Callbacks{}))

	m.ClearAllJobs()
	assert.Empty(t, m.GetActiveJobs())
	assert.False(t, m.Polling())
}

func TestPollingStartsAndStopsWithJobs(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", ok(models.AnalysisProcessing, 10))
	m, fc := newTestMonitor(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, m.AddJob("j1", Callbacks{}))
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	fc.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return f.callCount() >= 1 }, 2*time.Second, 5*time.Millisecond)

	m.RemoveJob("j1")
	require.NoError(t, fc.BlockUntilContext(ctx, 0), "ticker stops once the last job is gone")
	calls := f.callCount()

	for i := 0; i < 5; i++ {
		fc.Advance(DefaultInterval)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.callCount())
}

func TestPollingLoopDropsJobAfterRetries(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", fail())
	m, fc := newTestMonitor(t, f, WithInterval(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	var retries sync.WaitGroup
	retries.Add(DefaultMaxRetries - 1)
	require.NoError(t, m.AddJob("j1", Callbacks{
		OnRetry: func(JobInfo, error) { retries.Done() },
		OnError: func(_ JobInfo, err error) { errCh <- err },
	}))

	for i := 0; i < DefaultMaxRetries; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		before := f.callCount()
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return f.callCount() > before }, 2*time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			info, found := m.GetJobInfo("j1")
			return !found || info.RetryCount == i+1
		}, 2*time.Second, 5*time.Millisecond)
	}

	retries.Wait()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-ctx.Done():
		t.Fatal("OnError not called")
	}
	assert.Empty(t, m.GetActiveJobs())
	assert.False(t, m.Polling())
}

func TestRemovedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := fetcherFunc(func(ctx context.Context, id string) (*models.JobStatus, error) {
		close(started)
		<-release
		return &models.JobStatus{Status: models.AnalysisDone}, nil
	})
	m, _ := newTestMonitor(t, f)

	rec := &recorder{}
	require.NoError(t, m.AddJob("j1", rec.callbacks()))

	done := make(chan struct{})
	go func() {
		m.CheckAllJobs(context.Background())
		close(done)
	}()
	<-started
	m.RemoveJob("j1")
	close(release)
	<-done

	assert.Equal(t, 0, rec.success)
	assert.Empty(t, rec.progress)
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", ok(models.AnalysisDone, 100))
	m, _ := newTestMonitor(t, f)

	var success bool
	require.NoError(t, m.AddJob("j1", Callbacks{
		OnProgress: func(JobInfo) { panic("render failed") },
		OnSuccess:  func(JobInfo) { success = true },
	}))

	assert.NotPanics(t, func() { m.CheckAllJobs(context.Background()) })
	assert.True(t, success)
	assert.Empty(t, m.GetActiveJobs())
}

func TestSubscribe(t *testing.T) {
	f := newFakeFetcher()
	f.script("j1", ok(models.AnalysisProcessing, 30), ok(models.AnalysisDone, 100))
	m, _ := newTestMonitor(t, f)

	events, cancel := m.Subscribe(10)
	defer cancel()

	require.NoError(t, m.AddJob("j1", Callbacks{}))
	m.CheckAllJobs(context.Background())
	m.CheckAllJobs(context.Background())

	var types []EventType
	for i := 0; i < 3; i++ {
		ev := <-events
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventAdded, EventProgress, EventDone}, types)
}

func TestClose(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeFetcher())
	events, _ := m.Subscribe(1)
	require.NoError(t, m.AddJob("j1", Callbacks{}))
	<-events

	m.Close()
	assert.False(t, m.Polling())
	assert.ErrorIs(t, m.AddJob("j2", Callbacks{}), ErrClosed)

	_, open := <-events
	assert.False(t, open)

	m.Close()
}

type fetcherFunc func(ctx context.Context, id string) (*models.JobStatus, error)

func (f fetcherFunc) GetJobStatus(ctx context.Context, id string) (*models.JobStatus, error) {
	return f(ctx, id)
}
