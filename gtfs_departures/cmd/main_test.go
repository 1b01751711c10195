// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/gtfstest"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
)

func TestDumpFeed(t *testing.T) {
	feed := &gtfstest.Feed{
		Timestamp: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
		TripUpdates: []gtfstest.TripUpdate{{
			TripID:       "T1",
			VehicleLabel: "1234",
			StopTimes:    []gtfstest.StopTimeUpdate{{StopID: "S1", DepartureDelay: gtfstest.Ptr[int32](60)}},
		}},
	}
	srv := gtfstest.NewFeedServer(t)
	srv.Set(http.StatusOK, feed.Marshal(t))

	var out bytes.Buffer
	require.NoError(t, dumpFeed(context.Background(), srv.URL, &out))

	got := new(gtfs.FeedMessage)
	require.NoError(t, prototext.Unmarshal(out.Bytes(), got))
	require.Len(t, got.Entity, 1)
	assert.Equal(t, "T1", got.Entity[0].GetTripUpdate().GetTrip().GetTripId())
	assert.True(t, proto.Equal(feed.AsGTFS(), got), "dumped feed differs from the served one")
}

func TestDumpFeedErrors(t *testing.T) {
	srv := gtfstest.NewFeedServer(t)

	srv.Set(http.StatusNotFound, nil)
	var out bytes.Buffer
	err := dumpFeed(context.Background(), srv.URL, &out)
	var httpErr *http2.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)

	srv.Set(http.StatusOK, []byte("not a protobuf message"))
	assert.Error(t, dumpFeed(context.Background(), srv.URL, &out))
	assert.Zero(t, out.Len())
}
