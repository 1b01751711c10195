// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package metrics exposes ingestion statistics as Prometheus collectors,
// labelled by source name.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/realtime"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/schedules"
)

const namespace = "gtfs_departures"

type Metrics struct {
	rowsLoaded     *prometheus.GaugeVec
	rowsSkipped    *prometheus.GaugeVec
	relevantTrips  *prometheus.GaugeVec
	stopGroups     *prometheus.GaugeVec
	loadDuration   *prometheus.GaugeVec
	loadFailures   *prometheus.CounterVec
	ready          *prometheus.GaugeVec
	polls          *prometheus.CounterVec
	realtimeRows   *prometheus.CounterVec
	realtimeSkips  *prometheus.CounterVec
	realtimeEvicts *prometheus.CounterVec
	feedTimestamp  *prometheus.GaugeVec
}

// New registers all collectors in reg. Passing [prometheus.DefaultRegisterer]
// makes them available under promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rowsLoaded: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "static_rows_loaded",
			Help:      "Rows written by the last static load, per table.",
		}, []string{"source", "table"}),
		rowsSkipped: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "static_rows_skipped",
			Help:      "Invalid rows skipped by the last static load, per table.",
		}, []string{"source", "table"}),
		relevantTrips: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "static_relevant_trips",
			Help:      "Trips stopping at any anchor stop.",
		}, []string{"source"}),
		stopGroups: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "static_stop_groups",
			Help:      "Groups of duplicate stops found by the last static load.",
		}, []string{"source"}),
		loadDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "static_load_duration_seconds",
			Help:      "Wall time of the last static load.",
		}, []string{"source"}),
		loadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_load_failures_total",
			Help:      "Failed static loads.",
		}, []string{"source"}),
		ready: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_ready",
			Help:      "1 when the source answers queries.",
		}, []string{"source"}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_polls_total",
			Help:      "Realtime polling cycles by result (ok, stale, error).",
		}, []string{"source", "result"}),
		realtimeRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_rows_total",
			Help:      "Realtime rows upserted.",
		}, []string{"source"}),
		realtimeSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_skipped_total",
			Help:      "Per-stop updates skipped for lacking a stop id.",
		}, []string{"source"}),
		realtimeEvicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_evicted_total",
			Help:      "Realtime rows removed for being older than the horizon.",
		}, []string{"source"}),
		feedTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_feed_timestamp_seconds",
			Help:      "Header timestamp of the last merged realtime feed.",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveLoad(source string, res schedules.Result, took time.Duration) {
	if m == nil {
		return
	}
	for table, stats := range res.Tables() {
		m.rowsLoaded.WithLabelValues(source, table).Set(float64(stats.Loaded))
		m.rowsSkipped.WithLabelValues(source, table).Set(float64(stats.Skipped))
	}
	m.relevantTrips.WithLabelValues(source).Set(float64(res.RelevantTrips))
	m.stopGroups.WithLabelValues(source).Set(float64(res.Groups.Groups))
	m.loadDuration.WithLabelValues(source).Set(took.Seconds())
}

func (m *Metrics) LoadFailed(source string) {
	if m == nil {
		return
	}
	m.loadFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) SetReady(source string, ready bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1
	}
	m.ready.WithLabelValues(source).Set(v)
}

func (m *Metrics) ObservePoll(source string, stats realtime.Stats, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.polls.WithLabelValues(source, "error").Inc()
		return
	case stats.Stale:
		m.polls.WithLabelValues(source, "stale").Inc()
		return
	}

	m.polls.WithLabelValues(source, "ok").Inc()
	m.realtimeRows.WithLabelValues(source).Add(float64(stats.Rows))
	m.realtimeSkips.WithLabelValues(source).Add(float64(stats.Skipped))
	m.realtimeEvicts.WithLabelValues(source).Add(float64(stats.Evicted))
	m.feedTimestamp.WithLabelValues(source).Set(float64(stats.FeedTimestamp))
}
