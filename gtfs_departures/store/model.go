// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package store

import (
	"database/sql"
	"time"
)

// Row is implemented by every record type which can be written with [Upsert].
type Row interface {
	table() *table
	values() []any
}

// Agency is the single agency kept per data source.
type Agency struct {
	ID       string // defaults to "default"
	Name     string
	URL      string
	Timezone string
	Lang     string
	Phone    string
	FareURL  string
}

type Stop struct {
	ID                 string
	Code               string
	Name               string
	Lat, Lon           float64
	ZoneID             string
	LocationType       int
	ParentStation      string
	WheelchairBoarding int

	// Assigned during load by duplicate grouping, not present in source data.
	DuplicateGroupID string
	IsDuplicate      bool
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      int
	URL       string
	Color     string
	TextColor string
	SortOrder int // defaults to 0
}

// DisplayName returns the short name, or the long name for routes without one.
func (r Route) DisplayName() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

type Trip struct {
	ID                   string
	RouteID              string
	ServiceID            string
	Headsign             string
	ShortName            string
	DirectionID          sql.Null[int64]
	BlockID              string
	ShapeID              string
	WheelchairAccessible int
	BikesAllowed         int
}

type StopTime struct {
	TripID            string
	StopSequence      int
	ArrivalTime       string // zero-padded HH:MM:SS, may exceed 24:00:00
	DepartureTime     string // zero-padded HH:MM:SS, may exceed 24:00:00
	StopID            string
	StopHeadsign      string
	PickupType        int
	DropOffType       int
	ShapeDistTraveled sql.Null[float64]
	Timepoint         int // defaults to 1
}

// Calendar is a weekly service pattern. Days is indexed by [time.Weekday].
type Calendar struct {
	ServiceID string
	Days      [7]bool
	StartDate string // YYYYMMDD
	EndDate   string // YYYYMMDD
}

const (
	ServiceAdded   = 1
	ServiceRemoved = 2
)

type CalendarDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType int    // ServiceAdded or ServiceRemoved
}

// RealtimeUpdate is a single per-stop prediction from a realtime feed.
// Null fields mean the feed carried no prediction, which is different from a zero delay.
type RealtimeUpdate struct {
	TripID               string
	RouteID              string
	StopID               string
	Timestamp            int64 // feed header timestamp, seconds since epoch
	ArrivalDelay         sql.Null[int64]
	ArrivalTime          sql.Null[int64]
	DepartureDelay       sql.Null[int64]
	DepartureTime        sql.Null[int64]
	ScheduleRelationship int64
	VehicleID            sql.Null[string]
	VehicleLabel         sql.Null[string]
	VehicleLicensePlate  sql.Null[string]

	// StopSequence picks the visit of trips calling more than once at StopID.
	StopSequence sql.Null[int64]
}

// LoadMetadata records what the last successful static load was made from.
type LoadMetadata struct {
	SourceURL         string
	AnchorFingerprint string
	LoadedAt          time.Time
	Trips             int
	Routes            int
	StopTimes         int
}

func (a Agency) table() *table { return agencyTable }
func (a Agency) values() []any {
	return []any{a.ID, a.Name, a.URL, a.Timezone, a.Lang, a.Phone, a.FareURL}
}

func (s Stop) table() *table { return stopsTable }
func (s Stop) values() []any {
	return []any{
		s.ID, s.Code, s.Name, s.Lat, s.Lon, s.ZoneID, s.LocationType, s.ParentStation,
		s.WheelchairBoarding, s.DuplicateGroupID, s.IsDuplicate,
	}
}

func (r Route) table() *table { return routesTable }
func (r Route) values() []any {
	return []any{
		r.ID, r.AgencyID, r.ShortName, r.LongName, r.Desc, r.Type, r.URL, r.Color,
		r.TextColor, r.SortOrder,
	}
}

func (t Trip) table() *table { return tripsTable }
func (t Trip) values() []any {
	return []any{
		t.ID, t.RouteID, t.ServiceID, t.Headsign, t.ShortName, t.DirectionID, t.BlockID,
		t.ShapeID, t.WheelchairAccessible, t.BikesAllowed,
	}
}

func (st StopTime) table() *table { return stopTimesTable }
func (st StopTime) values() []any {
	return []any{
		st.TripID, st.ArrivalTime, st.DepartureTime, st.StopID, st.StopSequence,
		st.StopHeadsign, st.PickupType, st.DropOffType, st.ShapeDistTraveled, st.Timepoint,
	}
}

func (c Calendar) table() *table { return calendarTable }
func (c Calendar) values() []any {
	return []any{
		c.ServiceID,
		c.Days[time.Monday], c.Days[time.Tuesday], c.Days[time.Wednesday], c.Days[time.Thursday],
		c.Days[time.Friday], c.Days[time.Saturday], c.Days[time.Sunday],
		c.StartDate, c.EndDate,
	}
}

func (cd CalendarDate) table() *table { return calendarDatesTable }
func (cd CalendarDate) values() []any {
	return []any{cd.ServiceID, cd.Date, cd.ExceptionType}
}

func (u RealtimeUpdate) table() *table { return realtimeTable }
func (u RealtimeUpdate) values() []any {
	return []any{
		u.TripID, u.RouteID, u.StopID, u.ArrivalDelay, u.ArrivalTime, u.DepartureDelay,
		u.DepartureTime, u.ScheduleRelationship, u.Timestamp, u.VehicleID, u.VehicleLabel,
		u.VehicleLicensePlate, u.StopSequence,
	}
}
