// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package gtfstest builds in-memory GTFS archives and GTFS-Realtime feeds for tests.
package gtfstest

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Zip creates a zip archive with the given file names and contents.
// Files are written in name order, so equal inputs give equal archives.
func Zip(t testing.TB, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip %s: %v", name, err)
		}
		if _, err := f.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip: %v", err)
	}
	return buf.Bytes()
}

// Feed is a compact description of a GTFS-Realtime trip updates feed.
type Feed struct {
	Timestamp   time.Time
	TripUpdates []TripUpdate
}

type TripUpdate struct {
	TripID, RouteID string

	VehicleID, VehicleLabel, VehiclePlate string

	StopTimes []StopTimeUpdate
}

// StopTimeUpdate carries optional predictions; nil means the event is absent from the feed.
type StopTimeUpdate struct {
	StopID         string
	StopSequence   *uint32
	ArrivalDelay   *int32
	ArrivalTime    *time.Time
	DepartureDelay *int32
	DepartureTime  *time.Time
	Skipped        bool
}

func (f *Feed) AsGTFS() *gtfs.FeedMessage {
	g := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: Ptr("2.0"),
			Timestamp:           Ptr(uint64(f.Timestamp.Unix())),
		},
	}

	g.Entity = make([]*gtfs.FeedEntity, len(f.TripUpdates))
	for i, u := range f.TripUpdates {
		g.Entity[i] = u.AsGTFS()
	}
	return g
}

func (f *Feed) Marshal(t testing.TB) []byte {
	t.Helper()
	data, err := proto.Marshal(f.AsGTFS())
	if err != nil {
		t.Fatalf("marshal feed: %v", err)
	}
	return data
}

func (u *TripUpdate) AsGTFS() *gtfs.FeedEntity {
	g := &gtfs.FeedEntity{
		Id:         Ptr(u.TripID),
		TripUpdate: &gtfs.TripUpdate{Trip: &gtfs.TripDescriptor{TripId: Ptr(u.TripID)}},
	}
	if u.RouteID != "" {
		g.TripUpdate.Trip.RouteId = Ptr(u.RouteID)
	}

	if u.VehicleID != "" || u.VehicleLabel != "" || u.VehiclePlate != "" {
		g.TripUpdate.Vehicle = new(gtfs.VehicleDescriptor)
		if u.VehicleID != "" {
			g.TripUpdate.Vehicle.Id = Ptr(u.VehicleID)
		}
		if u.VehicleLabel != "" {
			g.TripUpdate.Vehicle.Label = Ptr(u.VehicleLabel)
		}
		if u.VehiclePlate != "" {
			g.TripUpdate.Vehicle.LicensePlate = Ptr(u.VehiclePlate)
		}
	}

	g.TripUpdate.StopTimeUpdate = make([]*gtfs.TripUpdate_StopTimeUpdate, len(u.StopTimes))
	for i, st := range u.StopTimes {
		g.TripUpdate.StopTimeUpdate[i] = st.AsGTFS()
	}
	return g
}

func (s *StopTimeUpdate) AsGTFS() *gtfs.TripUpdate_StopTimeUpdate {
	g := new(gtfs.TripUpdate_StopTimeUpdate)
	if s.StopID != "" {
		g.StopId = Ptr(s.StopID)
	}
	g.StopSequence = s.StopSequence
	if s.Skipped {
		g.ScheduleRelationship = Ptr(gtfs.TripUpdate_StopTimeUpdate_SKIPPED)
	}
	g.Arrival = event(s.ArrivalDelay, s.ArrivalTime)
	g.Departure = event(s.DepartureDelay, s.DepartureTime)
	return g
}

func event(delay *int32, at *time.Time) *gtfs.TripUpdate_StopTimeEvent {
	if delay == nil && at == nil {
		return nil
	}
	e := new(gtfs.TripUpdate_StopTimeEvent)
	e.Delay = delay
	if at != nil {
		e.Time = Ptr(at.Unix())
	}
	return e
}

func Ptr[T any](thing T) *T {
	return &thing
}

// FeedServer serves whatever body and status were last set on it.
type FeedServer struct {
	*httptest.Server

	mu       sync.Mutex
	body     []byte
	status   int
	requests int
}

func NewFeedServer(t testing.TB) *FeedServer {
	t.Helper()
	s := &FeedServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests++
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(s.status)
		w.Write(s.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *FeedServer) Set(status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

func (s *FeedServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}
