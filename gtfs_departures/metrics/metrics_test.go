// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/realtime"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/schedules"
)

func TestObserveLoad(t *testing.T) {
	m := New(prometheus.NewRegistry())

	res := schedules.Result{RelevantTrips: 7}
	res.StopTimes = schedules.TableStats{Loaded: 20, Skipped: 2}
	res.Groups.Groups = 3
	m.ObserveLoad("city", res, 1500*time.Millisecond)

	assert.Equal(t, 20.0, testutil.ToFloat64(m.rowsLoaded.WithLabelValues("city", "stop_times")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowsSkipped.WithLabelValues("city", "stop_times")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.rowsLoaded.WithLabelValues("city", "agency")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.relevantTrips.WithLabelValues("city")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.stopGroups.WithLabelValues("city")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.loadDuration.WithLabelValues("city")))

	m.LoadFailed("city")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loadFailures.WithLabelValues("city")))
}

func TestObservePoll(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePoll("city", realtime.Stats{FeedTimestamp: 1000, Rows: 5, Skipped: 1, Evicted: 2}, nil)
	m.ObservePoll("city", realtime.Stats{FeedTimestamp: 1000, Stale: true}, nil)
	m.ObservePoll("city", realtime.Stats{}, errors.New("boom"))
	m.ObservePoll("city", realtime.Stats{FeedTimestamp: 1030, Rows: 4}, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues("city", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("city", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("city", "error")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.realtimeRows.WithLabelValues("city")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.realtimeSkips.WithLabelValues("city")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.realtimeEvicts.WithLabelValues("city")))
	assert.Equal(t, 1030.0, testutil.ToFloat64(m.feedTimestamp.WithLabelValues("city")))
}

func TestReadyAndNil(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetReady("city", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ready.WithLabelValues("city")))
	m.SetReady("city", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ready.WithLabelValues("city")))

	var none *Metrics
	assert.NotPanics(t, func() {
		none.SetReady("city", true)
		none.ObservePoll("city", realtime.Stats{}, nil)
		none.ObserveLoad("city", schedules.Result{}, 0)
		none.LoadFailed("city")
	})
}
