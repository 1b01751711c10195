// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"strings"
)

type table struct {
	Name    string
	Columns []string
	insert  string
}

func newTable(name string, columns ...string) *table {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return &table{
		Name:    name,
		Columns: columns,
		insert: fmt.Sprintf(
			"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
			name, strings.Join(columns, ", "), placeholders,
		),
	}
}

var (
	agencyTable = newTable("agency",
		"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang",
		"agency_phone", "agency_fare_url")

	stopsTable = newTable("stops",
		"stop_id", "stop_code", "stop_name", "stop_lat", "stop_lon", "zone_id",
		"location_type", "parent_station", "wheelchair_boarding", "duplicate_group_id",
		"is_duplicate")

	routesTable = newTable("routes",
		"route_id", "agency_id", "route_short_name", "route_long_name", "route_desc",
		"route_type", "route_url", "route_color", "route_text_color", "route_sort_order")

	tripsTable = newTable("trips",
		"trip_id", "route_id", "service_id", "trip_headsign", "trip_short_name",
		"direction_id", "block_id", "shape_id", "wheelchair_accessible", "bikes_allowed")

	stopTimesTable = newTable("stop_times",
		"trip_id", "arrival_time", "departure_time", "stop_id", "stop_sequence",
		"stop_headsign", "pickup_type", "drop_off_type", "shape_dist_traveled", "timepoint")

	calendarTable = newTable("calendar",
		"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
		"sunday", "start_date", "end_date")

	calendarDatesTable = newTable("calendar_dates", "service_id", "date", "exception_type")

	realtimeTable = newTable("realtime_updates",
		"trip_id", "route_id", "stop_id", "arrival_delay", "arrival_time", "departure_delay",
		"departure_time", "schedule_relationship", "timestamp", "vehicle_id", "vehicle_label",
		"vehicle_license_plate", "stop_sequence")
)

// staticTables are cleared on a forced reload, in addition to realtime_updates.
var staticTables = []*table{
	agencyTable, stopsTable, routesTable, tripsTable, stopTimesTable, calendarTable,
	calendarDatesTable,
}

var allTables = append(staticTables[:len(staticTables):len(staticTables)], realtimeTable)

const schema = `
CREATE TABLE IF NOT EXISTS agency (
    agency_id TEXT PRIMARY KEY,
    agency_name TEXT NOT NULL,
    agency_url TEXT,
    agency_timezone TEXT,
    agency_lang TEXT,
    agency_phone TEXT,
    agency_fare_url TEXT
);

CREATE TABLE IF NOT EXISTS stops (
    stop_id TEXT PRIMARY KEY,
    stop_code TEXT,
    stop_name TEXT NOT NULL,
    stop_lat REAL,
    stop_lon REAL,
    zone_id TEXT,
    location_type INTEGER DEFAULT 0,
    parent_station TEXT,
    wheelchair_boarding INTEGER DEFAULT 0,
    duplicate_group_id TEXT,
    is_duplicate INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS routes (
    route_id TEXT PRIMARY KEY,
    agency_id TEXT,
    route_short_name TEXT,
    route_long_name TEXT,
    route_desc TEXT,
    route_type INTEGER NOT NULL,
    route_url TEXT,
    route_color TEXT,
    route_text_color TEXT,
    route_sort_order INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trips (
    trip_id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    trip_headsign TEXT,
    trip_short_name TEXT,
    direction_id INTEGER,
    block_id TEXT,
    shape_id TEXT,
    wheelchair_accessible INTEGER DEFAULT 0,
    bikes_allowed INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stop_times (
    trip_id TEXT NOT NULL,
    arrival_time TEXT,
    departure_time TEXT,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    stop_headsign TEXT,
    pickup_type INTEGER DEFAULT 0,
    drop_off_type INTEGER DEFAULT 0,
    shape_dist_traveled REAL,
    timepoint INTEGER DEFAULT 1,
    PRIMARY KEY (trip_id, stop_sequence)
);

CREATE TABLE IF NOT EXISTS calendar (
    service_id TEXT PRIMARY KEY,
    monday INTEGER DEFAULT 0,
    tuesday INTEGER DEFAULT 0,
    wednesday INTEGER DEFAULT 0,
    thursday INTEGER DEFAULT 0,
    friday INTEGER DEFAULT 0,
    saturday INTEGER DEFAULT 0,
    sunday INTEGER DEFAULT 0,
    start_date TEXT,
    end_date TEXT
);

CREATE TABLE IF NOT EXISTS calendar_dates (
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL,
    PRIMARY KEY (service_id, date)
);

CREATE TABLE IF NOT EXISTS realtime_updates (
    trip_id TEXT NOT NULL,
    route_id TEXT,
    stop_id TEXT NOT NULL,
    arrival_delay INTEGER,
    arrival_time INTEGER,
    departure_delay INTEGER,
    departure_time INTEGER,
    schedule_relationship INTEGER DEFAULT 0,
    timestamp INTEGER NOT NULL,
    vehicle_id TEXT,
    vehicle_label TEXT,
    vehicle_license_plate TEXT,
    stop_sequence INTEGER,
    PRIMARY KEY (trip_id, stop_id, timestamp)
);

CREATE TABLE IF NOT EXISTS load_metadata (
    source_url TEXT PRIMARY KEY,
    anchor_fingerprint TEXT NOT NULL,
    loaded_at TIMESTAMP NOT NULL,
    trips INTEGER NOT NULL DEFAULT 0,
    routes INTEGER NOT NULL DEFAULT 0,
    stop_times INTEGER NOT NULL DEFAULT 0
);
`

// Primary keys already provide point lookups; these cover the join and scan paths.
var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_stops_location ON stops(stop_lat, stop_lon)",
	"CREATE INDEX IF NOT EXISTS idx_stops_duplicate ON stops(duplicate_group_id)",
	"CREATE INDEX IF NOT EXISTS idx_routes_type ON routes(route_type)",
	"CREATE INDEX IF NOT EXISTS idx_trips_route ON trips(route_id)",
	"CREATE INDEX IF NOT EXISTS idx_trips_service ON trips(service_id)",
	"CREATE INDEX IF NOT EXISTS idx_stop_times_trip ON stop_times(trip_id)",
	"CREATE INDEX IF NOT EXISTS idx_stop_times_stop ON stop_times(stop_id, departure_time)",
	"CREATE INDEX IF NOT EXISTS idx_calendar_dates_date ON calendar_dates(date)",
	"CREATE INDEX IF NOT EXISTS idx_realtime_trip_stop ON realtime_updates(trip_id, stop_id)",
	"CREATE INDEX IF NOT EXISTS idx_realtime_stop ON realtime_updates(stop_id, timestamp)",
	"CREATE INDEX IF NOT EXISTS idx_realtime_timestamp ON realtime_updates(timestamp)",
}
