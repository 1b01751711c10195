// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/time2"
)

// ScheduledDeparture is a stop_times row joined with its trip and route.
type ScheduledDeparture struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
	ServiceID     string
	Headsign      string
	Route         Route
}

// RealtimeDeparture is a realtime row joined with its trip, route and scheduled times.
type RealtimeDeparture struct {
	RealtimeUpdate
	Route                 Route
	Headsign              string
	ScheduledStopSequence int
	ScheduledArrival      string
	ScheduledDeparture    string
}

type DepartureQuery struct {
	StopID string

	// From is the earliest departure_time returned, as zero-padded HH:MM:SS.
	From string

	// Until, if not empty, excludes departures at or after it.
	Until string

	// Services restricts the result to trips of these services.
	// A nil slice disables the restriction, an empty one matches nothing.
	Services []string

	Limit int
}

var weekdayColumns = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

const stopColumns = `stop_id, stop_code, stop_name, stop_lat, stop_lon, zone_id, location_type,
    parent_station, wheelchair_boarding, duplicate_group_id, is_duplicate`

func scanStops(rows *sql.Rows) (stops []Stop, err error) {
	defer rows.Close()
	for rows.Next() {
		var s Stop
		err = rows.Scan(
			&s.ID, &s.Code, &s.Name, &s.Lat, &s.Lon, &s.ZoneID, &s.LocationType,
			&s.ParentStation, &s.WheelchairBoarding, &s.DuplicateGroupID, &s.IsDuplicate,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// Stops returns all stops ordered by name.
func (s *Store) Stops(ctx context.Context) ([]Stop, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+stopColumns+" FROM stops ORDER BY stop_name, stop_id")
	if err != nil {
		return nil, fmt.Errorf("listing stops: %w", err)
	}
	return scanStops(rows)
}

// StopsInGroup returns all members of a duplicate group, ordered by name.
func (s *Store) StopsInGroup(ctx context.Context, groupID string) ([]Stop, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+stopColumns+" FROM stops WHERE duplicate_group_id = ? ORDER BY stop_name, stop_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stops in group: %w", err)
	}
	return scanStops(rows)
}

func (s *Store) Stop(ctx context.Context, stopID string) (Stop, bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+stopColumns+" FROM stops WHERE stop_id = ?", stopID)
	if err != nil {
		return Stop{}, false, fmt.Errorf("fetching stop: %w", err)
	}
	stops, err := scanStops(rows)
	if err != nil || len(stops) == 0 {
		return Stop{}, false, err
	}
	return stops[0], true, nil
}

// RoutesForStop returns the distinct routes with at least one trip calling at the stop,
// ordered by route_sort_order and then short name.
func (s *Store) RoutesForStop(ctx context.Context, stopID string) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT r.route_id, r.agency_id, r.route_short_name, r.route_long_name, r.route_desc,
    r.route_type, r.route_url, r.route_color, r.route_text_color, r.route_sort_order
FROM routes r
JOIN trips t ON r.route_id = t.route_id
JOIN stop_times st ON t.trip_id = st.trip_id
WHERE st.stop_id = ?
ORDER BY r.route_sort_order, r.route_short_name, r.route_id`, stopID)
	if err != nil {
		return nil, fmt.Errorf("listing routes for stop: %w", err)
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var r Route
		err := rows.Scan(
			&r.ID, &r.AgencyID, &r.ShortName, &r.LongName, &r.Desc, &r.Type, &r.URL, &r.Color,
			&r.TextColor, &r.SortOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// ScheduledDepartures returns up to q.Limit departures from q.StopID at or after q.From,
// ordered by departure time.
func (s *Store) ScheduledDepartures(ctx context.Context, q DepartureQuery) ([]ScheduledDeparture, error) {
	if q.Services != nil && len(q.Services) == 0 {
		return nil, nil
	}

	query := `
SELECT st.trip_id, st.stop_id, st.stop_sequence, st.arrival_time, st.departure_time,
    t.service_id, CASE WHEN st.stop_headsign != '' THEN st.stop_headsign ELSE t.trip_headsign END,
    r.route_id, r.route_short_name, r.route_long_name, r.route_type, r.route_color,
    r.route_text_color, r.route_sort_order
FROM stop_times st
JOIN trips t ON t.trip_id = st.trip_id
JOIN routes r ON r.route_id = t.route_id
WHERE st.stop_id = ? AND st.departure_time >= ?`
	params := []any{q.StopID, q.From}
	if q.Until != "" {
		query += " AND st.departure_time < ?"
		params = append(params, q.Until)
	}

	if q.Services != nil {
		query += " AND t.service_id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(q.Services)), ", ") + ")"
		for _, service := range q.Services {
			params = append(params, service)
		}
	}

	query += " ORDER BY st.departure_time, st.trip_id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled departures: %w", err)
	}
	defer rows.Close()

	var departures []ScheduledDeparture
	for rows.Next() {
		var d ScheduledDeparture
		err := rows.Scan(
			&d.TripID, &d.StopID, &d.StopSequence, &d.ArrivalTime, &d.DepartureTime,
			&d.ServiceID, &d.Headsign,
			&d.Route.ID, &d.Route.ShortName, &d.Route.LongName, &d.Route.Type, &d.Route.Color,
			&d.Route.TextColor, &d.Route.SortOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning scheduled departure: %w", err)
		}
		departures = append(departures, d)
	}
	return departures, rows.Err()
}

// RealtimeDepartures returns realtime rows for the stop with a feed timestamp after since,
// joined with the matching scheduled times. Newer rows of the same trip come first.
// A row without a stop_sequence of a trip visiting the stop more than once is joined
// with every visit, earliest visit first.
func (s *Store) RealtimeDepartures(ctx context.Context, stopID string, since time.Time, limit int) ([]RealtimeDeparture, error) {
	query := `
SELECT rt.trip_id, COALESCE(rt.route_id, ''), rt.stop_id, rt.timestamp, rt.arrival_delay,
    rt.arrival_time, rt.departure_delay, rt.departure_time, rt.schedule_relationship,
    rt.vehicle_id, rt.vehicle_label, rt.vehicle_license_plate, rt.stop_sequence,
    r.route_id, r.route_short_name, r.route_long_name, r.route_type,
    t.trip_headsign, st.stop_sequence, st.arrival_time, st.departure_time
FROM realtime_updates rt
JOIN trips t ON rt.trip_id = t.trip_id
JOIN routes r ON t.route_id = r.route_id
JOIN stop_times st ON rt.trip_id = st.trip_id AND rt.stop_id = st.stop_id
    AND (rt.stop_sequence IS NULL OR rt.stop_sequence = st.stop_sequence)
WHERE rt.stop_id = ? AND rt.timestamp > ?
ORDER BY rt.trip_id, rt.timestamp DESC, st.stop_sequence`
	params := []any{stopID, since.Unix()}
	if limit > 0 {
		query += " LIMIT ?"
		params = append(params, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing realtime departures: %w", err)
	}
	defer rows.Close()

	var departures []RealtimeDeparture
	for rows.Next() {
		var d RealtimeDeparture
		err := rows.Scan(
			&d.TripID, &d.RouteID, &d.StopID, &d.Timestamp, &d.ArrivalDelay, &d.ArrivalTime,
			&d.DepartureDelay, &d.DepartureTime, &d.ScheduleRelationship,
			&d.VehicleID, &d.VehicleLabel, &d.VehicleLicensePlate, &d.StopSequence,
			&d.Route.ID, &d.Route.ShortName, &d.Route.LongName, &d.Route.Type,
			&d.Headsign, &d.ScheduledStopSequence, &d.ScheduledArrival, &d.ScheduledDeparture,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning realtime departure: %w", err)
		}
		departures = append(departures, d)
	}
	return departures, rows.Err()
}

// ActiveServices returns the services running on the given date. ok is false
// when the store holds no calendar data at all, in which case callers should
// not filter by service.
func (s *Store) ActiveServices(ctx context.Context, date time2.Date) (services []string, ok bool, err error) {
	var total int
	err = s.db.QueryRowContext(ctx,
		"SELECT (SELECT COUNT(*) FROM calendar) + (SELECT COUNT(*) FROM calendar_dates)",
	).Scan(&total)
	if err != nil {
		return nil, false, fmt.Errorf("counting calendars: %w", err)
	} else if total == 0 {
		return nil, false, nil
	}

	day := date.GTFS()
	rows, err := s.db.QueryContext(ctx, `
SELECT service_id FROM calendar
WHERE `+weekdayColumns[date.Weekday()]+` = 1 AND start_date <= ? AND end_date >= ?
    AND service_id NOT IN (
        SELECT service_id FROM calendar_dates WHERE date = ? AND exception_type = ?
    )
UNION
SELECT service_id FROM calendar_dates WHERE date = ? AND exception_type = ?`,
		day, day, day, ServiceRemoved, day, ServiceAdded,
	)
	if err != nil {
		return nil, false, fmt.Errorf("listing active services: %w", err)
	}
	defer rows.Close()

	services = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, false, fmt.Errorf("scanning service: %w", err)
		}
		services = append(services, id)
	}
	return services, true, rows.Err()
}

// Agency returns the data source's agency, if one was loaded.
func (s *Store) Agency(ctx context.Context) (a Agency, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
SELECT agency_id, agency_name, agency_url, agency_timezone, agency_lang, agency_phone,
    agency_fare_url
FROM agency
ORDER BY agency_id
LIMIT 1`).Scan(&a.ID, &a.Name, &a.URL, &a.Timezone, &a.Lang, &a.Phone, &a.FareURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Agency{}, false, nil
	} else if err != nil {
		return Agency{}, false, fmt.Errorf("fetching agency: %w", err)
	}
	return a, true, nil
}
