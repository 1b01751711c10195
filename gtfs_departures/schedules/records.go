// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/time2"
)

var errMissing = errors.New("missing value")

type ErrGTFSInvalidValue struct {
	File, Column string
	Line         int
	Reason       error
}

func (e ErrGTFSInvalidValue) Error() string {
	if e.Reason == nil {
		return fmt.Sprintf("%s:%d: invalid %s", e.File, e.Line, e.Column)
	}
	return fmt.Sprintf("%s:%d: invalid %s: %s", e.File, e.Line, e.Column, e.Reason)
}

func (e ErrGTFSInvalidValue) Unwrap() error {
	return e.Reason
}

// record wraps a single CSV row and remembers the first invalid value found.
type record struct {
	file string
	line int
	row  map[string]string
	err  error
}

func (r *record) fail(column string, reason error) {
	if r.err == nil {
		r.err = ErrGTFSInvalidValue{r.file, column, r.line, reason}
	}
}

func (r *record) str(column string) string {
	return strings.TrimSpace(r.row[column])
}

func (r *record) required(column string) string {
	v := r.str(column)
	if v == "" {
		r.fail(column, errMissing)
	}
	return v
}

func (r *record) integer(column string, fallback int) int {
	v := r.str(column)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(column, err)
		return fallback
	}
	return n
}

func (r *record) requiredInteger(column string) int {
	if r.str(column) == "" {
		r.fail(column, errMissing)
		return 0
	}
	return r.integer(column, 0)
}

func (r *record) optionalInteger(column string) (v sql.Null[int64]) {
	s := r.str(column)
	if s == "" {
		return
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail(column, err)
		return
	}
	return sql.Null[int64]{V: n, Valid: true}
}

func (r *record) float(column string) float64 {
	s := r.str(column)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(column, err)
	}
	return f
}

func (r *record) optionalFloat(column string) (v sql.Null[float64]) {
	s := r.str(column)
	if s == "" {
		return
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(column, err)
		return
	}
	return sql.Null[float64]{V: f, Valid: true}
}

func (r *record) serviceTime(column string) string {
	s := r.str(column)
	if s == "" {
		return ""
	}
	t, err := time2.ParseServiceTime(s)
	if err != nil {
		r.fail(column, err)
		return ""
	}
	return t.String()
}

func (r *record) date(column string) string {
	s := r.required(column)
	if s == "" {
		return ""
	}
	d, err := time2.ParseDate(s)
	if err != nil {
		r.fail(column, err)
		return ""
	}
	return d.GTFS()
}

func parseAgency(r *record) store.Agency {
	id := r.str("agency_id")
	if id == "" {
		id = "default"
	}
	return store.Agency{
		ID:       id,
		Name:     r.str("agency_name"),
		URL:      r.str("agency_url"),
		Timezone: r.str("agency_timezone"),
		Lang:     r.str("agency_lang"),
		Phone:    r.str("agency_phone"),
		FareURL:  r.str("agency_fare_url"),
	}
}

func parseStop(r *record) store.Stop {
	return store.Stop{
		ID:                 r.required("stop_id"),
		Code:               r.str("stop_code"),
		Name:               r.str("stop_name"),
		Lat:                r.float("stop_lat"),
		Lon:                r.float("stop_lon"),
		ZoneID:             r.str("zone_id"),
		LocationType:       r.integer("location_type", 0),
		ParentStation:      r.str("parent_station"),
		WheelchairBoarding: r.integer("wheelchair_boarding", 0),
	}
}

func parseRoute(r *record) store.Route {
	return store.Route{
		ID:        r.required("route_id"),
		AgencyID:  r.str("agency_id"),
		ShortName: r.str("route_short_name"),
		LongName:  r.str("route_long_name"),
		Desc:      r.str("route_desc"),
		Type:      r.requiredInteger("route_type"),
		URL:       r.str("route_url"),
		Color:     r.str("route_color"),
		TextColor: r.str("route_text_color"),
		SortOrder: r.integer("route_sort_order", 0),
	}
}

func parseTrip(r *record) store.Trip {
	return store.Trip{
		ID:                   r.required("trip_id"),
		RouteID:              r.required("route_id"),
		ServiceID:            r.required("service_id"),
		Headsign:             r.str("trip_headsign"),
		ShortName:            r.str("trip_short_name"),
		DirectionID:          r.optionalInteger("direction_id"),
		BlockID:              r.str("block_id"),
		ShapeID:              r.str("shape_id"),
		WheelchairAccessible: r.integer("wheelchair_accessible", 0),
		BikesAllowed:         r.integer("bikes_allowed", 0),
	}
}

// parseStopTime fills a missing arrival or departure time from the other one.
func parseStopTime(r *record) store.StopTime {
	st := store.StopTime{
		TripID:            r.required("trip_id"),
		StopSequence:      r.requiredInteger("stop_sequence"),
		ArrivalTime:       r.serviceTime("arrival_time"),
		DepartureTime:     r.serviceTime("departure_time"),
		StopID:            r.required("stop_id"),
		StopHeadsign:      r.str("stop_headsign"),
		PickupType:        r.integer("pickup_type", 0),
		DropOffType:       r.integer("drop_off_type", 0),
		ShapeDistTraveled: r.optionalFloat("shape_dist_traveled"),
		Timepoint:         r.integer("timepoint", 1),
	}
	if st.ArrivalTime == "" {
		st.ArrivalTime = st.DepartureTime
	} else if st.DepartureTime == "" {
		st.DepartureTime = st.ArrivalTime
	}
	return st
}

var calendarColumns = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func parseCalendar(r *record) store.Calendar {
	c := store.Calendar{
		ServiceID: r.required("service_id"),
		StartDate: r.date("start_date"),
		EndDate:   r.date("end_date"),
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		c.Days[day] = r.integer(calendarColumns[day], 0) == 1
	}
	return c
}

func parseCalendarDate(r *record) store.CalendarDate {
	cd := store.CalendarDate{
		ServiceID:     r.required("service_id"),
		Date:          r.date("date"),
		ExceptionType: r.requiredInteger("exception_type"),
	}
	if r.err == nil && cd.ExceptionType != store.ServiceAdded && cd.ExceptionType != store.ServiceRemoved {
		r.fail("exception_type", fmt.Errorf("unknown exception type %d", cd.ExceptionType))
	}
	return cd
}
