// Package monitor tracks server-side analysis jobs by polling their status
// endpoint and dispatching lifecycle callbacks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/aritana/internal/metrics"
	"github.com/raphaelgruber/aritana/internal/models"
)

// Defaults for the polling loop.
const (
	DefaultInterval   = 2 * time.Second
	DefaultMaxRetries = 3
)

// unknownJobError is reported when the server says "erro" without a message.
const unknownJobError = "Erro desconhecido"

var (
	// ErrEmptyJobID is returned by AddJob for an empty id.
	ErrEmptyJobID = errors.New("job id must not be empty")
	// ErrClosed is returned by AddJob after Close.
	ErrClosed = errors.New("monitor closed")
)

// Status is the client-side view of a job's state.
type Status string

// Job states. Done and Error are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// IsTerminal reports whether the state ends monitoring.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

func mapStatus(s models.AnalysisStatus) Status {
	switch s {
	case models.AnalysisProcessing:
		return StatusProcessing
	case models.AnalysisDone:
		return StatusDone
	case models.AnalysisError:
		return StatusError
	default:
		return StatusPending
	}
}

// StatusFetcher fetches the status of one job. *client.Client satisfies it.
type StatusFetcher interface {
	GetJobStatus(ctx context.Context, id string) (*models.JobStatus, error)
}

// JobInfo is a snapshot of one tracked job.
type JobInfo struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retryCount"`
	LastCheck  time.Time `json:"lastCheck"`
	AddedAt    time.Time `json:"addedAt"`
}

// Callbacks receive job lifecycle notifications. Every field is optional.
// Callbacks for different jobs may run concurrently; callbacks for one job
// never overlap.
type Callbacks struct {
	// OnProgress fires on every successful poll, before the status callback.
	OnProgress func(JobInfo)
	// OnProcessing fires when the server reports "processando".
	OnProcessing func(JobInfo)
	// OnSuccess fires once when the server reports "analisada".
	OnSuccess func(JobInfo)
	// OnError fires once when the server reports "erro" (err is a *JobError)
	// or when polling failed MaxRetries consecutive times.
	OnError func(JobInfo, error)
	// OnRetry fires after a failed poll that did not exhaust the retries.
	OnRetry func(JobInfo, error)
}

// JobError is a business failure reported by the server for a job.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s", e.JobID, e.Message)
}

type entry struct {
	info      JobInfo
	callbacks Callbacks
	checking  bool
}

// Monitor polls job status on a fixed interval while at least one job is
// tracked. The loop starts when the first job is added and stops when the
// last one is removed.
type Monitor struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxRetries  int
	concurrency int
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     metrics.Recorder

	mu       sync.Mutex
	jobs     map[string]*entry
	order    []string
	stop     chan struct{}
	loopDone chan struct{}
	closed   bool

	events *broker
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMaxRetries sets how many consecutive failed polls drop a job.
func WithMaxRetries(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithConcurrency bounds the number of status requests in flight during one
// tick. Zero means one request per job with no bound.
func WithConcurrency(n int) Option {
	return func(m *Monitor) { m.concurrency = n }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics sets the timing recorder for polls.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Monitor) { m.metrics = r }
}

// New creates a monitor that polls through fetcher.
func New(fetcher StatusFetcher, opts ...Option) *Monitor {
	m := &Monitor{
		fetcher:    fetcher,
		interval:   DefaultInterval,
		maxRetries: DefaultMaxRetries,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		metrics:    metrics.Nop,
		jobs:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = newBroker(m.logger)
	return m
}

// Interval returns the configured poll interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// AddJob starts tracking a job. Adding an id that is already tracked
// replaces its callbacks and resets its retry state.
func (m *Monitor) AddJob(id string, cb Callbacks) error {
	if id == "" {
		return ErrEmptyJobID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	now := m.clock.Now()
	e := &entry{
		info: JobInfo{
			ID:      id,
			Status:  StatusPending,
			AddedAt: now,
		},
		callbacks: cb,
	}
	if old, ok := m.jobs[id]; ok {
		e.info.Status = old.info.Status
		e.info.Progress = old.info.Progress
		e.info.Message = old.info.Message
		e.info.LastCheck = old.info.LastCheck
		e.info.AddedAt = old.info.AddedAt
	} else {
		m.order = append(m.order, id)
	}
	m.jobs[id] = e
	info := e.info
	if len(m.jobs) == 1 {
		m.startLocked()
	}
	m.mu.Unlock()

	m.logger.Debug("job added", "job_id", id)
	m.events.publish(Event{Type: EventAdded, Job: info})
	return nil
}

// RemoveJob stops tracking a job. Unknown ids are ignored.
func (m *Monitor) RemoveJob(id string) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if ok {
		m.removeLocked(id)
	}
	m.mu.Unlock()

	if ok {
		m.logger.Debug("job removed", "job_id", id)
		m.events.publish(Event{Type: EventRemoved, Job: e.info})
	}
}

// ClearAllJobs drops every tracked job and stops polling.
func (m *Monitor) ClearAllJobs() {
	m.mu.Lock()
	removed := make([]JobInfo, 0, len(m.order))
	for _, id := range m.order {
		removed = append(removed, m.jobs[id].info)
	}
	m.jobs = make(map[string]*entry)
	m.order = nil
	m.stopLocked()
	m.mu.Unlock()

	for _, info := range removed {
		m.events.publish(Event{Type: EventRemoved, Job: info})
	}
}

// GetJobInfo returns a snapshot of one tracked job.
func (m *Monitor) GetJobInfo(id string) (JobInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return e.info, true
}

// GetActiveJobs returns snapshots of all tracked jobs in insertion order.
func (m *Monitor) GetActiveJobs() []JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]JobInfo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id].info)
	}
	return out
}

// Polling reports whether the poll loop is running.
func (m *Monitor) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// Subscribe returns a channel of job events. Events are dropped for a
// subscriber whose buffer is full. Call cancel to unsubscribe.
func (m *Monitor) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// Close stops polling, waits for the loop to exit and closes all event
// subscriptions. It must not be called from a callback.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.jobs = make(map[string]*entry)
	m.order = nil
	done := m.loopDone
	m.stopLocked()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	m.events.close()
}

// CheckAllJobs polls every tracked job once, in insertion order. A failure
// in one job never affects the others. Jobs whose previous check is still
// in flight are skipped.
func (m *Monitor) CheckAllJobs(ctx context.Context) {
	m.mu.Lock()
	batch := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		e := m.jobs[id]
		if e.checking {
			continue
		}
		e.checking = true
		batch = append(batch, e)
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var g errgroup.Group
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	for _, e := range batch {
		g.Go(func() error {
			m.checkJob(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) checkJob(ctx context.Context, e *entry) {
	id := e.info.ID
	checkedAt := m.clock.Now()

	start := time.Now()
	status, err := m.fetcher.GetJobStatus(ctx, id)
	if err == nil && status == nil {
		err = fmt.Errorf("job %s: empty status response", id)
	}
	m.metrics.RecordTiming(metrics.OpJobPoll, time.Since(start), err)

	m.mu.Lock()
	e.checking = false
	if m.jobs[id] != e || (err != nil && ctx.Err() != nil) {
		// Removed, replaced, or the loop was stopped mid-request.
		m.mu.Unlock()
		return
	}
	e.info.LastCheck = checkedAt

	var (
		calls    []func()
		event    Event
		terminal bool
		cb       = e.callbacks
	)

	if err != nil {
		e.info.RetryCount++
		info := e.info
		if info.RetryCount >= m.maxRetries {
			terminal = true
			m.logger.Warn("job dropped after failed polls",
				"job_id", id,
				"retry_count", info.RetryCount,
				"error", err)
			if cb.OnError != nil {
				calls = append(calls, func() { cb.OnError(info, err) })
			}
			event = Event{Type: EventFailed, Job: info, Error: err.Error()}
		} else {
			m.logger.Debug("job poll failed, will retry",
				"job_id", id,
				"retry_count", info.RetryCount,
				"error", err)
			if cb.OnRetry != nil {
				calls = append(calls, func() { cb.OnRetry(info, err) })
			}
			event = Event{Type: EventRetry, Job: info, Error: err.Error()}
		}
	} else {
		e.info.RetryCount = 0
		e.info.Status = mapStatus(status.Status)
		e.info.Progress = status.Progresso
		e.info.Message = status.Mensagem
		info := e.info

		if cb.OnProgress != nil {
			calls = append(calls, func() { cb.OnProgress(info) })
		}
		event = Event{Type: EventProgress, Job: info}

		switch status.Status {
		case models.AnalysisProcessing:
			if cb.OnProcessing != nil {
				calls = append(calls, func() { cb.OnProcessing(info) })
			}
		case models.AnalysisDone:
			terminal = true
			m.logger.Info("job finished", "job_id", id)
			if cb.OnSuccess != nil {
				calls = append(calls, func() { cb.OnSuccess(info) })
			}
			event = Event{Type: EventDone, Job: info}
		case models.AnalysisError:
			terminal = true
			jobErr := &JobError{JobID: id, Message: firstNonEmpty(status.Erro, status.Mensagem, unknownJobError)}
			m.logger.Warn("job failed", "job_id", id, "error", jobErr.Message)
			if cb.OnError != nil {
				calls = append(calls, func() { cb.OnError(info, jobErr) })
			}
			event = Event{Type: EventFailed, Job: info, Error: jobErr.Message}
		}
	}
	// A finished job stays tracked, and is not polled again, until its
	// callbacks have run.
	e.checking = terminal
	m.mu.Unlock()

	for _, call := range calls {
		m.safeCall(id, call)
	}
	if terminal {
		m.mu.Lock()
		if m.jobs[id] == e {
			m.removeLocked(id)
		}
		m.mu.Unlock()
	}
	m.events.publish(event)
}

// safeCall runs a callback, logging instead of propagating a panic.
func (m *Monitor) safeCall(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job callback panicked", "job_id", id, "panic", r)
		}
	}()
	fn()
}

// removeLocked deletes a job and stops the loop when none remain.
// Caller must hold m.mu.
func (m *Monitor) removeLocked(id string) {
	delete(m.jobs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if len(m.jobs) == 0 {
		m.stopLocked()
	}
}

// startLocked launches the poll loop. Caller must hold m.mu.
func (m *Monitor) startLocked() {
	if m.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop, m.loopDone = stop, done
	m.logger.Debug("job polling started", "interval", m.interval)
	go m.run(stop, done)
}

// stopLocked signals the loop to exit without waiting for it, so callbacks
// running on the loop may remove jobs. Caller must hold m.mu.
func (m *Monitor) stopLocked() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	m.stop = nil
	m.logger.Debug("job polling stopped")
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			m.CheckAllJobs(ctx)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
