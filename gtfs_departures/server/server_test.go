// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/board"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/config"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/entry"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/metrics"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/realtime"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/gtfstest"
)

var now = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

var feedFiles = map[string]string{
	"agency.txt": "agency_name,agency_url,agency_timezone\n" +
		"City Transit,https://city.example,UTC\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,Central Station,52.2,21.0\n" +
		"S1B,Central Station Platform B,52.2,21.0\n" +
		"S2,Airport,52.1,20.9\n",
	"routes.txt": "route_id,route_short_name,route_long_name,route_type,route_color\n" +
		"R1,175,Airport Express,3,FF0000\n",
	"trips.txt": "route_id,service_id,trip_id\n" +
		"R1,WD,T1\n" +
		"R1,WD,T2\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:00,S1,1\n" +
		"T1,08:30:00,08:30:00,S2,2\n" +
		"T2,09:00:00,09:00:00,S1B,1\n" +
		"T2,09:30:00,09:30:00,S2,2\n",
}

type testServer struct {
	*httptest.Server
	entry *entry.Entry
	feed  *gtfstest.FeedServer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gtfs.zip")
	require.NoError(t, os.WriteFile(path, gtfstest.Zip(t, feedFiles), 0o644))

	feed := gtfstest.NewFeedServer(t)
	reg := prometheus.NewRegistry()
	e, err := entry.Open(config.Source{
		Name:        "city",
		StaticURL:   path,
		RealtimeURL: feed.URL,
		Stops:       []string{"S1", "S1B"},
		FeedTimeout: time.Second,
		Departures:  10,
	}, dir, metrics.New(reg))
	require.NoError(t, err)
	e.Now = func() time.Time { return now }
	t.Cleanup(func() { e.Close() })

	srv := httptest.NewServer(New([]*entry.Entry{e}, reg))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, entry: e, feed: feed}
}

func (s *testServer) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNotReady(t *testing.T) {
	s := newTestServer(t)

	var sources []entry.Status
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sources", &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "city", sources[0].Name)
	assert.False(t, sources[0].Ready)
	assert.True(t, sources[0].Realtime)

	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/sources/city/stops", nil))
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/sources/city/departures", nil))
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/sources/city/poll", nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/sources/other/stops", nil))
}

func TestStopsRoutesAndGroups(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.entry.Start(context.Background()))

	var stops []Stop
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sources/city/stops", &stops))
	require.Len(t, stops, 2)
	assert.Equal(t, "S1", stops[0].ID)
	assert.False(t, stops[0].IsDuplicate)
	assert.Equal(t, "S1B", stops[1].ID)
	assert.True(t, stops[1].IsDuplicate)
	require.NotEmpty(t, stops[0].DuplicateGroupID)
	assert.Equal(t, stops[0].DuplicateGroupID, stops[1].DuplicateGroupID)

	var group []Stop
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sources/city/groups/"+stops[0].DuplicateGroupID, &group))
	assert.Len(t, group, 2)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/sources/city/groups/nope", nil))

	var routes []Route
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sources/city/stops/S1/routes", &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, Route{ID: "R1", Name: "175", LongName: "Airport Express", Type: 3, Color: "FF0000"}, routes[0])
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/sources/city/stops/S2/routes", nil))
}

func TestDepartures(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.entry.Start(context.Background()))

	var boards []board.Board
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sources/city/departures?limit=5", &boards))
	require.Len(t, boards, 2)
	assert.Equal(t, "S1", boards[0].StopID)
	require.Len(t, boards[0].Departures, 1)
	assert.Equal(t, "T1", boards[0].Departures[0].TripID)
	assert.Equal(t, "Airport", boards[0].Departures[0].Headsign)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/sources/city/departures?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/sources/city/departures?limit=0", nil))
}

func TestReloadAndPoll(t *testing.T) {
	s := newTestServer(t)

	var status entry.Status
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/sources/city/reload", &status))
	assert.True(t, status.Ready)
	require.NotNil(t, status.LoadedAt)

	s.feed.Set(http.StatusServiceUnavailable, nil)
	assert.Equal(t, http.StatusBadGateway, s.do(t, http.MethodPost, "/sources/city/poll", nil))
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/sources/city/poll", nil))
}

func TestPoll(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.entry.Start(context.Background()))
	s.feed.Set(http.StatusOK, (&gtfstest.Feed{
		Timestamp: now,
		TripUpdates: []gtfstest.TripUpdate{{
			TripID:    "T1",
			StopTimes: []gtfstest.StopTimeUpdate{{StopID: "S1", DepartureDelay: gtfstest.Ptr[int32](60)}},
		}},
	}).Marshal(t))

	var stats realtime.Stats
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/sources/city/poll", &stats))
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, now.Unix(), stats.FeedTimestamp)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.entry.Start(context.Background()))

	resp, err := s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gtfs_departures_source_ready{source="city"} 1`)
	assert.Contains(t, string(body), `gtfs_departures_static_rows_loaded{source="city",table="stop_times"} 2`)
}
