// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package realtime merges GTFS-Realtime trip updates into a [store.Store].
package realtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
)

const (
	DefaultHorizon   = 300 * time.Second
	DefaultBatchSize = 1000
	DefaultTimeout   = 10 * time.Second
)

// ErrStaleFeed is returned by [Merger.Merge] for a feed whose header timestamp
// is not newer than the last merged one.
var ErrStaleFeed = errors.New("feed is not newer than the last merged one")

type State int32

const (
	Idle State = iota
	Fetching
	Decoding
	Merging
	Evicting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Decoding:
		return "decoding"
	case Merging:
		return "merging"
	case Evicting:
		return "evicting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats describes a single polling cycle.
type Stats struct {
	FeedTimestamp int64 `json:"feed_timestamp"`
	Stale         bool  `json:"stale,omitempty"`
	Entities      int   `json:"entities"`
	TripUpdates   int   `json:"trip_updates"`
	Rows          int   `json:"rows"`
	Skipped       int   `json:"skipped"`
	Evicted       int64 `json:"evicted"`
}

// Merger polls a single GTFS-Realtime feed. Cycles never overlap:
// concurrent calls to Poll or Merge wait for each other.
type Merger struct {
	Store *store.Store
	URL   string

	Client  http2.Doer
	Header  http.Header
	Timeout time.Duration // defaults to DefaultTimeout

	Horizon   time.Duration // defaults to DefaultHorizon
	BatchSize int           // defaults to DefaultBatchSize

	Now func() time.Time
	Log *slog.Logger

	mu    sync.Mutex
	last  atomic.Int64
	state atomic.Int32
}

func (m *Merger) log() *slog.Logger {
	if m.Log == nil {
		return slog.Default()
	}
	return m.Log
}

func (m *Merger) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Merger) State() State { return State(m.state.Load()) }

// LastTimestamp returns the header timestamp of the last merged feed,
// or zero time if nothing was merged yet.
func (m *Merger) LastTimestamp() time.Time {
	ts := m.last.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func (m *Merger) enter(s State) { m.state.Store(int32(s)) }

// Poll fetches the feed and merges it. A stale feed is not an error:
// it is reported through Stats.Stale. On any error nothing about the
// static data changes and the next Poll can simply be retried.
func (m *Merger) Poll(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.enter(Idle)

	m.enter(Fetching)
	timeout := m.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	data, err := http2.GetBytes(ctx, m.Client, m.URL, m.Header, timeout)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching realtime feed: %w", err)
	}

	stats, err := m.merge(ctx, data)
	if errors.Is(err, ErrStaleFeed) {
		m.log().Debug("Realtime feed is stale, skipping", "timestamp", stats.FeedTimestamp)
		stats.Stale = true
		return stats, nil
	}
	return stats, err
}

// Merge decodes a binary FeedMessage and merges it, exactly like [Merger.Poll]
// does after fetching. Returns [ErrStaleFeed] if the feed is not newer than the last one.
func (m *Merger) Merge(ctx context.Context, data []byte) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.enter(Idle)
	return m.merge(ctx, data)
}

func (m *Merger) merge(ctx context.Context, data []byte) (stats Stats, err error) {
	m.enter(Decoding)
	feed := new(gtfs.FeedMessage)
	if err = proto.Unmarshal(data, feed); err != nil {
		return stats, fmt.Errorf("decoding realtime feed: %w", err)
	}

	ts := int64(feed.GetHeader().GetTimestamp())
	stats.FeedTimestamp = ts
	if ts <= m.last.Load() {
		return stats, ErrStaleFeed
	}

	m.enter(Merging)
	if err = m.upsert(ctx, feed, ts, &stats); err != nil {
		return stats, err
	}
	m.last.Store(ts)

	m.enter(Evicting)
	horizon := m.Horizon
	if horizon == 0 {
		horizon = DefaultHorizon
	}
	stats.Evicted, err = m.Store.EvictRealtime(ctx, m.now().Add(-horizon))
	if err != nil {
		return stats, err
	}

	m.log().Info(
		"Realtime feed merged",
		"timestamp", ts,
		"trip_updates", stats.TripUpdates,
		"rows", stats.Rows,
		"skipped", stats.Skipped,
		"evicted", stats.Evicted,
	)
	return stats, nil
}

func (m *Merger) upsert(ctx context.Context, feed *gtfs.FeedMessage, ts int64, stats *Stats) error {
	size := m.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	batch := make([]store.RealtimeUpdate, 0, size)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.Upsert(ctx, m.Store, batch); err != nil {
			return err
		}
		stats.Rows += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, entity := range feed.GetEntity() {
		stats.Entities++
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		stats.TripUpdates++

		tripID := tu.GetTrip().GetTripId()
		if tripID == "" {
			stats.Skipped += len(tu.GetStopTimeUpdate())
			m.log().Debug("Skipping trip update without trip_id", "entity", entity.GetId())
			continue
		}

		base := store.RealtimeUpdate{
			TripID:    tripID,
			RouteID:   tu.GetTrip().GetRouteId(),
			Timestamp: ts,
		}
		if v := tu.GetVehicle(); v != nil {
			base.VehicleID = optional(v.Id)
			base.VehicleLabel = optional(v.Label)
			base.VehicleLicensePlate = optional(v.LicensePlate)
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			if stu.GetStopId() == "" {
				stats.Skipped++
				m.log().Debug("Skipping stop time update without stop_id", "trip_id", tripID)
				continue
			}

			u := base
			u.StopID = stu.GetStopId()
			u.ScheduleRelationship = int64(stu.GetScheduleRelationship())
			u.StopSequence = optionalInt(stu.StopSequence)
			if a := stu.GetArrival(); a != nil {
				u.ArrivalDelay = optionalInt(a.Delay)
				u.ArrivalTime = optionalInt(a.Time)
			}
			if d := stu.GetDeparture(); d != nil {
				u.DepartureDelay = optionalInt(d.Delay)
				u.DepartureTime = optionalInt(d.Time)
			}

			batch = append(batch, u)
			if len(batch) >= size {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func optional(s *string) sql.Null[string] {
	if s == nil {
		return sql.Null[string]{}
	}
	return sql.Null[string]{V: *s, Valid: true}
}

func optionalInt[T int32 | int64 | uint32](v *T) sql.Null[int64] {
	if v == nil {
		return sql.Null[int64]{}
	}
	return sql.Null[int64]{V: int64(*v), Valid: true}
}
