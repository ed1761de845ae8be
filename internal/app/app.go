// Package app wires the API client, data cache, job monitor and uploader
// into the single set of instances a process shares.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/raphaelgruber/aritana/internal/cache"
	"github.com/raphaelgruber/aritana/internal/client"
	"github.com/raphaelgruber/aritana/internal/config"
	"github.com/raphaelgruber/aritana/internal/metrics"
	"github.com/raphaelgruber/aritana/internal/monitor"
	"github.com/raphaelgruber/aritana/internal/upload"
)

// App is the composition root.
type App struct {
	Config   config.Config
	Client   *client.Client
	Cache    *cache.Cache
	Monitor  *monitor.Monitor
	Uploader *upload.Uploader
	Metrics  *metrics.Collector

	logger   *slog.Logger
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

type options struct {
	prefetch bool
	clientOp []client.Option
}

// Option configures New.
type Option func(*options)

// WithoutPrefetch skips the initial background cache load. Commands that
// never read vessel data use it.
func WithoutPrefetch() Option {
	return func(o *options) { o.prefetch = false }
}

// WithClientOptions passes extra options to the API client.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) { o.clientOp = append(o.clientOp, opts...) }
}

// New builds every shared component from cfg and starts the initial cache
// prefetch.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{prefetch: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", cfg.APIURL)
	}

	mc := metrics.NewCollector()

	clientOpts := append([]client.Option{
		client.WithTimeout(cfg.ClientTimeout),
		client.WithRateLimit(cfg.RateLimit),
		client.WithLogger(logger.With("component", "client")),
		client.WithMetrics(mc),
	}, o.clientOp...)
	apiClient := client.New(cfg.APIURL, clientOpts...)

	dataCache := cache.New(apiClient,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithLogger(logger.With("component", "cache")),
		cache.WithMetrics(mc),
	)

	mon := monitor.New(apiClient,
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithMaxRetries(cfg.MaxRetries),
		monitor.WithLogger(logger.With("component", "monitor")),
		monitor.WithMetrics(mc),
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a := &App{
		Config:   cfg,
		Client:   apiClient,
		Cache:    dataCache,
		Monitor:  mon,
		Uploader: upload.NewUploader(apiClient, mon, logger.With("component", "upload")),
		Metrics:  mc,
		logger:   logger,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if o.prefetch {
		dataCache.Prefetch(bgCtx)
	}
	return a, nil
}

// Track wraps cb so that a successful job also forces a cache refresh,
// making the newly classified vessel visible.
func (a *App) Track(cb monitor.Callbacks) monitor.Callbacks {
	onSuccess := cb.OnSuccess
	cb.OnSuccess = func(info monitor.JobInfo) {
		if onSuccess != nil {
			onSuccess(info)
		}
		if a.bgCtx.Err() != nil {
			return
		}
		go func() {
			_, err := a.Cache.LoadData(a.bgCtx, true)
			if err != nil && !errors.Is(err, cache.ErrClosed) && a.bgCtx.Err() == nil {
				a.logger.Warn("refresh after job failed", "job_id", info.ID, "error", err)
			}
		}()
	}
	return cb
}

// ResumeJobs lists the server's jobs and starts monitoring every one that
// has not finished. newCallbacks may be nil. It returns the ids added.
func (a *App) ResumeJobs(ctx context.Context, newCallbacks func(id string) monitor.Callbacks) ([]string, error) {
	jobs, err := a.Client.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var added []string
	for _, job := range jobs {
		if job.JobID == "" || job.StatusAnalise.IsTerminal() {
			continue
		}
		var cb monitor.Callbacks
		if newCallbacks != nil {
			cb = newCallbacks(job.JobID)
		}
		if err := a.Monitor.AddJob(job.JobID, a.Track(cb)); err != nil {
			return added, fmt.Errorf("add job %s: %w", job.JobID, err)
		}
		added = append(added, job.JobID)
	}
	if len(added) > 0 {
		a.logger.Info("resumed in-flight jobs", "count", len(added))
	}
	return added, nil
}

// Close stops polling and background work.
func (a *App) Close() {
	a.bgCancel()
	a.Monitor.Close()
	a.Cache.Close()
}
