// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/gtfstest"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newMerger(t *testing.T) (*Merger, *gtfstest.FeedServer) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	srv := gtfstest.NewFeedServer(t)
	m := &Merger{
		Store:  s,
		URL:    srv.URL,
		Client: srv.Client(),
		Now:    func() time.Time { return now },
	}
	return m, srv
}

func countRows(t *testing.T, m *Merger) int {
	t.Helper()
	n, err := m.Store.Count(context.Background(), "realtime_updates")
	require.NoError(t, err)
	return n
}

func simpleFeed(ts time.Time, delay int32) *gtfstest.Feed {
	return &gtfstest.Feed{
		Timestamp: ts,
		TripUpdates: []gtfstest.TripUpdate{{
			TripID:  "T1",
			RouteID: "R1",
			StopTimes: []gtfstest.StopTimeUpdate{
				{StopID: "S1", DepartureDelay: gtfstest.Ptr(delay)},
			},
		}},
	}
}

func TestPollReplaceSemantics(t *testing.T) {
	m, srv := newMerger(t)
	ctx := context.Background()
	t1 := now.Add(-60 * time.Second)

	srv.Set(http.StatusOK, simpleFeed(t1, 30).Marshal(t))
	stats, err := m.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)
	assert.False(t, stats.Stale)
	assert.Equal(t, t1.Unix(), m.LastTimestamp().Unix())

	stats, err = m.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Stale)
	assert.Zero(t, stats.Rows)
	assert.Equal(t, 1, countRows(t, m), "same timestamp must not add rows")

	// Even when bypassing the staleness check, the same key is replaced.
	require.NoError(t, store.Upsert(ctx, m.Store, []store.RealtimeUpdate{{TripID: "T1", StopID: "S1", Timestamp: t1.Unix()}}))
	assert.Equal(t, 1, countRows(t, m))

	t2 := t1.Add(30 * time.Second)
	srv.Set(http.StatusOK, simpleFeed(t2, 45).Marshal(t))
	stats, err = m.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, 2, countRows(t, m), "newer timestamp adds a row instead of overwriting")
	assert.Equal(t, Idle, m.State())
}

func TestMergeStaleFeed(t *testing.T) {
	m, _ := newMerger(t)
	ctx := context.Background()

	_, err := m.Merge(ctx, simpleFeed(now, 0).Marshal(t))
	require.NoError(t, err)

	_, err = m.Merge(ctx, simpleFeed(now.Add(-time.Second), 0).Marshal(t))
	assert.True(t, errors.Is(err, ErrStaleFeed))
	assert.Equal(t, 1, countRows(t, m))
}

func TestPollTransportFailure(t *testing.T) {
	m, srv := newMerger(t)

	srv.Set(http.StatusServiceUnavailable, nil)
	stats, err := m.Poll(context.Background())
	var httpErr *http2.Error
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.Temporary())
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, countRows(t, m))
	assert.Equal(t, Idle, m.State())

	srv.Set(http.StatusOK, []byte("not a protobuf message \xff\xff"))
	_, err = m.Poll(context.Background())
	assert.Error(t, err)
	assert.True(t, m.LastTimestamp().IsZero())
}

func TestMergeOptionalFields(t *testing.T) {
	m, _ := newMerger(t)
	ctx := context.Background()
	arrival := now.Add(5 * time.Minute)

	feed := &gtfstest.Feed{
		Timestamp: now,
		TripUpdates: []gtfstest.TripUpdate{
			{
				TripID:       "T1",
				RouteID:      "R1",
				VehicleID:    "V42",
				VehiclePlate: "WX 12345",
				StopTimes: []gtfstest.StopTimeUpdate{
					{StopID: "S1", DepartureDelay: gtfstest.Ptr[int32](0)},
					{StopID: "", DepartureDelay: gtfstest.Ptr[int32](10)},
					{StopID: "S2", StopSequence: gtfstest.Ptr[uint32](7), ArrivalTime: &arrival, Skipped: true},
				},
			},
			{
				StopTimes: []gtfstest.StopTimeUpdate{{StopID: "S3"}},
			},
		},
	}

	stats, err := m.Merge(ctx, feed.Marshal(t))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 2, stats.TripUpdates)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 2, stats.Skipped)

	var (
		arrivalDelay, departureDelay, arrivalTime sql.Null[int64]
		stopSequence                              sql.Null[int64]
		vehicleID, vehicleLabel, plate            sql.Null[string]
		relationship                              int64
	)
	row := func(stopID string) {
		t.Helper()
		err := m.Store.DB().QueryRow(`
SELECT arrival_delay, departure_delay, arrival_time, vehicle_id, vehicle_label,
    vehicle_license_plate, schedule_relationship, stop_sequence
FROM realtime_updates WHERE trip_id = 'T1' AND stop_id = ?`, stopID).Scan(
			&arrivalDelay, &departureDelay, &arrivalTime, &vehicleID, &vehicleLabel, &plate, &relationship,
			&stopSequence,
		)
		require.NoError(t, err)
	}

	row("S1")
	assert.False(t, arrivalDelay.Valid, "absent arrival is not a zero delay")
	assert.True(t, departureDelay.Valid)
	assert.Equal(t, int64(0), departureDelay.V)
	assert.Equal(t, "V42", vehicleID.V)
	assert.False(t, vehicleLabel.Valid)
	assert.Equal(t, "WX 12345", plate.V)
	assert.Equal(t, int64(0), relationship)
	assert.False(t, stopSequence.Valid)

	row("S2")
	assert.False(t, arrivalDelay.Valid)
	assert.True(t, arrivalTime.Valid)
	assert.Equal(t, arrival.Unix(), arrivalTime.V)
	assert.Equal(t, int64(1), relationship)
	assert.Equal(t, sql.Null[int64]{V: 7, Valid: true}, stopSequence)
}

func TestEviction(t *testing.T) {
	m, srv := newMerger(t)
	ctx := context.Background()

	old := store.RealtimeUpdate{TripID: "T0", StopID: "S1", Timestamp: now.Add(-301 * time.Second).Unix()}
	require.NoError(t, store.Upsert(ctx, m.Store, []store.RealtimeUpdate{old}))

	srv.Set(http.StatusOK, simpleFeed(now.Add(-100*time.Second), 0).Marshal(t))
	stats, err := m.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Evicted)

	var trip string
	require.NoError(t, m.Store.DB().QueryRow("SELECT trip_id FROM realtime_updates").Scan(&trip))
	assert.Equal(t, "T1", trip)
	assert.Equal(t, 1, countRows(t, m))
}

func TestMergeBatches(t *testing.T) {
	m, _ := newMerger(t)
	m.BatchSize = 2

	feed := &gtfstest.Feed{Timestamp: now}
	for _, trip := range []string{"A", "B", "C"} {
		feed.TripUpdates = append(feed.TripUpdates, gtfstest.TripUpdate{
			TripID:    trip,
			StopTimes: []gtfstest.StopTimeUpdate{{StopID: "S1"}, {StopID: "S2"}},
		})
	}

	stats, err := m.Merge(context.Background(), feed.Marshal(t))
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Rows)
	assert.Equal(t, 6, countRows(t, m))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "merging", Merging.String())
	assert.Equal(t, "State(9)", State(9).String())
}
