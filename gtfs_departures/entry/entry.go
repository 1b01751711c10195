// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package entry ties together everything serving a single configured data source:
// its store, the static loader and the realtime merger.
package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/archive"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/backoff"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/board"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/config"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/metrics"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/realtime"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/schedules"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/secret"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/set"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/time2"
)

const (
	DefaultForcePollInterval = 5 * time.Second
	MaxBackoffExponent       = 6
)

var (
	ErrNotReady   = errors.New("source is not ready")
	ErrNoRealtime = errors.New("source has no realtime feed")
	ErrThrottled  = errors.New("forced polls are requested too often")
)

type Entry struct {
	Config  config.Source
	Store   *store.Store
	Loader  *schedules.Loader
	Merger  *realtime.Merger // nil for sources without realtime_url
	Metrics *metrics.Metrics
	Log     *slog.Logger

	// Client downloads the static archive, defaults to http.DefaultClient.
	Client http2.Doer
	Now    func() time.Time

	header     http.Header
	anchors    set.Set[string]
	forcePolls *rate.Limiter

	// mu keeps static loads and realtime polls from running concurrently.
	mu       sync.Mutex
	ready    atomic.Bool
	location atomic.Pointer[time.Location]
	loadedAt atomic.Pointer[time.Time]
}

// Open creates the source's database in directory, without loading anything.
func Open(cfg config.Source, directory string, m *metrics.Metrics) (*Entry, error) {
	header, err := secret.Header(cfg.APIKeyEnv, cfg.APIKeyHeader)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.DatabasePath(directory))
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}

	log := slog.With("source", cfg.Name)
	e := &Entry{
		Config:     cfg,
		Store:      s,
		Loader:     &schedules.Loader{Store: s, Log: log},
		Metrics:    m,
		Log:        log,
		header:     header,
		anchors:    set.Of(cfg.Stops...),
		forcePolls: rate.NewLimiter(rate.Every(DefaultForcePollInterval), 1),
	}
	e.Loader.Progress = func(table string, rows int) {
		log.Debug("Committed batch", "table", table, "rows", rows)
	}

	if cfg.RealtimeURL != "" {
		e.Merger = &realtime.Merger{
			Store:   s,
			URL:     cfg.RealtimeURL,
			Client:  http2.NewRateLimitedDoer(http.DefaultClient, cfg.MinRequestInterval),
			Header:  header,
			Timeout: cfg.FeedTimeout,
			Now:     e.now,
			Log:     log,
		}
	}

	m.SetReady(cfg.Name, false)
	return e, nil
}

func (e *Entry) Name() string { return e.Config.Name }

func (e *Entry) Ready() bool { return e.ready.Load() }

func (e *Entry) Close() error { return e.Store.Close() }

func (e *Entry) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Entry) setReady(ready bool) {
	e.ready.Store(ready)
	e.Metrics.SetReady(e.Config.Name, ready)
}

// Start performs the initial static load. The load is skipped if the store
// already holds data from the same static URL for the same anchor stops.
func (e *Entry) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(ctx, false)
}

// ForceReload clears the store and loads the static data again.
// The source stops answering queries until the load completes.
func (e *Entry) ForceReload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(ctx, true)
}

func (e *Entry) load(ctx context.Context, force bool) error {
	// Without anchors nothing is relevant, so whatever the store holds stays.
	if e.anchors.Len() == 0 {
		e.Log.Info("No anchor stops, skipping static load")
		return e.becomeReady(ctx)
	}

	fingerprint := schedules.Fingerprint(e.Config.StaticURL, e.anchors)

	if !force {
		meta, found, err := e.Store.Metadata(ctx, e.Config.StaticURL)
		if err != nil {
			return err
		}
		if found && meta.AnchorFingerprint == fingerprint {
			e.Log.Info("Static data already loaded, skipping", "loaded_at", meta.LoadedAt, "trips", meta.Trips)
			e.loadedAt.Store(&meta.LoadedAt)
			return e.becomeReady(ctx)
		}
	}

	e.setReady(false)
	started := e.now()
	res, err := e.fetchAndLoad(ctx, fingerprint)
	if err != nil {
		e.Metrics.LoadFailed(e.Config.Name)
		return fmt.Errorf("source %s: %w", e.Config.Name, err)
	}

	took := e.now().Sub(started)
	e.Metrics.ObserveLoad(e.Config.Name, res, took)
	e.Log.Info("Static data loaded", "took", took, "trips", res.Trips.Loaded, "stop_times", res.StopTimes.Loaded, "groups", res.Groups.Groups)
	return e.becomeReady(ctx)
}

func (e *Entry) fetchAndLoad(ctx context.Context, fingerprint string) (schedules.Result, error) {
	e.Log.Info("Fetching static data", "url", e.Config.StaticURL)
	data, err := archive.Fetch(ctx, e.Client, e.Config.StaticURL, e.header, e.Config.DownloadTimeout)
	if err != nil {
		return schedules.Result{}, err
	}
	a, err := archive.Open(data)
	if err != nil {
		return schedules.Result{}, err
	}
	e.Log.Debug("Fetched static data", "bytes", a.Size())

	if err := e.Store.Clear(ctx); err != nil {
		return schedules.Result{}, err
	}
	res, err := e.Loader.Load(ctx, a, e.anchors)
	if err != nil {
		return res, err
	}

	loadedAt := e.now()
	err = e.Store.SetMetadata(ctx, store.LoadMetadata{
		SourceURL:         e.Config.StaticURL,
		AnchorFingerprint: fingerprint,
		LoadedAt:          loadedAt,
		Trips:             res.Trips.Loaded,
		Routes:            res.Routes.Loaded,
		StopTimes:         res.StopTimes.Loaded,
	})
	if err == nil {
		e.loadedAt.Store(&loadedAt)
	}
	return res, err
}

func (e *Entry) becomeReady(ctx context.Context) error {
	agency, _, err := e.Store.Agency(ctx)
	if err != nil {
		return err
	}
	e.location.Store(time2.LoadLocation(agency.Timezone))
	e.setReady(true)
	return nil
}

// Location is the timezone of the source's agency.
func (e *Entry) Location() *time.Location {
	if loc := e.location.Load(); loc != nil {
		return loc
	}
	return time.UTC
}

// Poll runs a single realtime cycle. Stale feeds are not errors.
func (e *Entry) Poll(ctx context.Context) (realtime.Stats, error) {
	if e.Merger == nil {
		return realtime.Stats{}, ErrNoRealtime
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.Ready() {
		return realtime.Stats{}, ErrNotReady
	}

	stats, err := e.Merger.Poll(ctx)
	e.Metrics.ObservePoll(e.Config.Name, stats, err)
	return stats, err
}

// ForcePoll runs a realtime cycle outside of the regular schedule.
// Returns [ErrThrottled] when called more often than DefaultForcePollInterval.
func (e *Entry) ForcePoll(ctx context.Context) (realtime.Stats, error) {
	if e.Merger == nil {
		return realtime.Stats{}, ErrNoRealtime
	}
	if !e.forcePolls.Allow() {
		return realtime.Stats{}, ErrThrottled
	}
	return e.Poll(ctx)
}

// Run polls the realtime feed every poll_interval until ctx is cancelled,
// backing off exponentially after failed cycles.
func (e *Entry) Run(ctx context.Context) error {
	if e.Merger == nil {
		<-ctx.Done()
		return nil
	}

	b := e.backoff()
	for {
		if err := b.Wait(ctx); err != nil {
			return nil
		}

		b.StartRun()
		stats, err := e.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		e.finishPoll(b, stats, err)
	}
}

func (e *Entry) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Period:                 e.Config.PollInterval,
		ExponentialBackoffBase: e.Config.BackoffBase,
		MaxBackoffExponent:     MaxBackoffExponent,
		Now:                    e.now,
	}
}

// finishPoll ends the cycle started on b and returns when the next one is due.
// Errors other than 429 and 5xx responses jump straight to the longest wait.
func (e *Entry) finishPoll(b *backoff.Backoff, stats realtime.Stats, err error) time.Time {
	var httpErr *http2.Error
	switch {
	case errors.Is(err, ErrNotReady):
		e.Log.Debug("Source not ready, skipping realtime poll")
		return b.EndRun(backoff.Success)

	case errors.As(err, &httpErr) && !httpErr.Temporary():
		b.Failures = max(b.Failures, b.MaxBackoffExponent)
		next := b.EndRun(backoff.Failure)
		e.Log.Error("Realtime feed rejected", "error", err, "next_try", next)
		return next

	case err != nil:
		next := b.EndRun(backoff.Failure)
		e.Log.Warn("Realtime poll failed", "error", err, "next_try", next)
		return next

	default:
		if !stats.Stale {
			e.Log.Info("Realtime feed merged", "stats", stats)
		}
		return b.EndRun(backoff.Success)
	}
}

// Departures returns the departure boards of all anchor stops.
// A non-positive limit uses the configured one.
func (e *Entry) Departures(ctx context.Context, limit int) ([]board.Board, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if limit <= 0 {
		limit = e.Config.Departures
	}

	q := board.Query{Now: e.now(), Location: e.Location(), Limit: limit}
	if e.Merger != nil && e.Merger.Horizon > 0 {
		q.Freshness = e.Merger.Horizon
	}
	return board.Departures(ctx, e.Store, e.Config.Stops, q)
}

type Status struct {
	Name          string     `json:"name"`
	Ready         bool       `json:"ready"`
	Anchors       []string   `json:"anchors"`
	LoadedAt      *time.Time `json:"loaded_at,omitempty"`
	Realtime      bool       `json:"realtime"`
	RealtimeState string     `json:"realtime_state,omitempty"`
	LastFeed      *time.Time `json:"last_feed,omitempty"`
}

func (e *Entry) Status() Status {
	s := Status{
		Name:     e.Config.Name,
		Ready:    e.Ready(),
		Anchors:  e.Config.Stops,
		LoadedAt: e.loadedAt.Load(),
		Realtime: e.Merger != nil,
	}
	if e.Merger != nil {
		s.RealtimeState = e.Merger.State().String()
		if last := e.Merger.LastTimestamp(); !last.IsZero() {
			s.LastFeed = &last
		}
	}
	return s
}
