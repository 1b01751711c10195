// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package board answers "what leaves from these stops next" from a [store.Store].
package board

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/time2"
)

const (
	DefaultLimit     = 10
	DefaultFreshness = 300 * time.Second
	DefaultLookback  = time.Hour
)

type Departure struct {
	TripID    string `json:"trip_id"`
	RouteID   string `json:"route_id"`
	Route     string `json:"route"`
	RouteType int    `json:"route_type"`
	Headsign  string `json:"headsign"`

	Scheduled time.Time `json:"scheduled"`
	Expected  time.Time `json:"expected"`

	// Delay is only set when realtime data predicts this departure.
	Delay *int64 `json:"delay,omitempty"`

	Realtime bool `json:"realtime"`
	Skipped  bool `json:"skipped,omitempty"`

	VehicleID    string `json:"vehicle_id,omitempty"`
	VehicleLabel string `json:"vehicle_label,omitempty"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
}

// Board lists upcoming departures from a single stop.
type Board struct {
	StopID     string      `json:"stop_id"`
	StopName   string      `json:"stop_name"`
	Departures []Departure `json:"departures"`
}

type Query struct {
	Now      time.Time
	Location *time.Location // defaults to UTC
	Limit    int            // per stop, defaults to DefaultLimit

	// Freshness is the maximum age of realtime data taken into account.
	Freshness time.Duration

	// Lookback is how long before Now a delayed departure may be scheduled
	// and still be listed.
	Lookback time.Duration
}

// Departures returns a board for every anchor, in the order of anchors.
// Anchors unknown to the store produce a board without a name.
func Departures(ctx context.Context, s *store.Store, anchors []string, q Query) ([]Board, error) {
	if q.Location == nil {
		q.Location = time.UTC
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Freshness <= 0 {
		q.Freshness = DefaultFreshness
	}
	if q.Lookback <= 0 {
		q.Lookback = DefaultLookback
	}
	q.Now = q.Now.In(q.Location)

	today := time2.DateOf(q.Now)
	days := []time2.Date{today.Previous(), today}
	services := make(map[time2.Date][]string, len(days))
	for _, day := range days {
		active, ok, err := s.ActiveServices(ctx, day)
		if err != nil {
			return nil, err
		}
		if ok {
			services[day] = active
		}
	}

	boards := make([]Board, 0, len(anchors))
	for _, stopID := range anchors {
		b, err := departuresFrom(ctx, s, stopID, days, services, q)
		if err != nil {
			return nil, fmt.Errorf("stop %s: %w", stopID, err)
		}
		boards = append(boards, b)
	}
	return boards, nil
}

func departuresFrom(ctx context.Context, s *store.Store, stopID string, days []time2.Date, services map[time2.Date][]string, q Query) (Board, error) {
	b := Board{StopID: stopID, Departures: []Departure{}}
	if stop, found, err := s.Stop(ctx, stopID); err != nil {
		return b, err
	} else if found {
		b.StopName = stop.Name
	}

	realtime, err := latestRealtime(ctx, s, stopID, q.Now.Add(-q.Freshness))
	if err != nil {
		return b, err
	}

	for _, day := range days {
		since := max(time2.Since(day, q.Now), 0)
		scheduled, err := s.ScheduledDepartures(ctx, store.DepartureQuery{
			StopID:   stopID,
			From:     since.String(),
			Services: services[day],
			Limit:    q.Limit,
		})
		if err != nil {
			return b, err
		}

		// Departures which should have already left, but might still be delayed.
		if len(realtime) > 0 {
			late, err := s.ScheduledDepartures(ctx, store.DepartureQuery{
				StopID:   stopID,
				From:     max(time2.Since(day, q.Now.Add(-q.Lookback)), 0).String(),
				Until:    since.String(),
				Services: services[day],
			})
			if err != nil {
				return b, err
			}
			scheduled = append(late, scheduled...)
		}

		for _, sd := range scheduled {
			d, err := newDeparture(sd, day, q.Location)
			if err != nil {
				return b, err
			}
			if rt, ok := realtime[sd.TripID]; ok && rt.ScheduledStopSequence == sd.StopSequence {
				d.apply(rt)
			}
			if d.Expected.Before(q.Now) {
				continue
			}
			b.Departures = append(b.Departures, d)
		}
	}

	slices.SortStableFunc(b.Departures, func(x, y Departure) int {
		return cmp.Or(x.Expected.Compare(y.Expected), cmp.Compare(x.TripID, y.TripID))
	})
	if len(b.Departures) > q.Limit {
		b.Departures = b.Departures[:q.Limit]
	}
	return b, nil
}

// latestRealtime returns the newest realtime row of every trip at the stop.
// Rows come ordered by visit, so ties keep the earliest matching visit.
func latestRealtime(ctx context.Context, s *store.Store, stopID string, since time.Time) (map[string]store.RealtimeDeparture, error) {
	rows, err := s.RealtimeDepartures(ctx, stopID, since, 0)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]store.RealtimeDeparture, len(rows))
	for _, row := range rows {
		if existing, ok := latest[row.TripID]; !ok || row.Timestamp > existing.Timestamp {
			latest[row.TripID] = row
		}
	}
	return latest, nil
}

func newDeparture(sd store.ScheduledDeparture, day time2.Date, loc *time.Location) (Departure, error) {
	at, err := time2.ParseServiceTime(sd.DepartureTime)
	if err != nil {
		return Departure{}, fmt.Errorf("trip %s: %w", sd.TripID, err)
	}

	scheduled := at.On(day, loc)
	return Departure{
		TripID:    sd.TripID,
		RouteID:   sd.Route.ID,
		Route:     sd.Route.DisplayName(),
		RouteType: sd.Route.Type,
		Headsign:  sd.Headsign,
		Scheduled: scheduled,
		Expected:  scheduled,
	}, nil
}

// apply uses, in order of preference, the predicted departure time,
// the predicted arrival time, the departure delay and the arrival delay.
func (d *Departure) apply(rt store.RealtimeDeparture) {
	d.VehicleID = rt.VehicleID.V
	d.VehicleLabel = rt.VehicleLabel.V
	d.VehiclePlate = rt.VehicleLicensePlate.V
	d.Skipped = rt.ScheduleRelationship == int64(gtfs.TripUpdate_StopTimeUpdate_SKIPPED)

	var expected time.Time
	switch {
	case rt.DepartureTime.Valid:
		expected = time.Unix(rt.DepartureTime.V, 0)
	case rt.ArrivalTime.Valid:
		expected = time.Unix(rt.ArrivalTime.V, 0)
	case rt.DepartureDelay.Valid:
		expected = d.Scheduled.Add(time.Duration(rt.DepartureDelay.V) * time.Second)
	case rt.ArrivalDelay.Valid:
		expected = d.Scheduled.Add(time.Duration(rt.ArrivalDelay.V) * time.Second)
	default:
		return
	}

	d.Realtime = true
	d.Expected = expected.In(d.Scheduled.Location())
	delay := int64(d.Expected.Sub(d.Scheduled) / time.Second)
	d.Delay = &delay
}
