// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package time2

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var dateParseRegex = regexp.MustCompile(`^([0-9]{4})[[:punct:]]?([0-9]{2})[[:punct:]]?([0-9]{2})$`)

type ErrInvalidDate string

func (e ErrInvalidDate) Error() string {
	return fmt.Sprintf("invalid date string: %q", string(e))
}

// Date is a calendar date without time zone, as used by GTFS calendars.
type Date struct {
	Y    uint16
	M, D uint8
}

// DateOf returns the date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{uint16(y), uint8(m), uint8(d)}
}

func ParseDate(s string) (d Date, err error) {
	err = d.UnmarshalText([]byte(s))
	return
}

func (d Date) IsValid() bool {
	return d.M >= 1 && d.M <= 12 && d.D >= 1 && int(d.D) <= d.daysInMonth()
}

func (d Date) daysInMonth() int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(int(d.Y), time.Month(d.M)+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

// GTFS returns the date in the YYYYMMDD format used in GTFS tables.
func (d Date) GTFS() string {
	return fmt.Sprintf("%04d%02d%02d", d.Y, d.M, d.D)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Y, d.M, d.D)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	s := string(text)
	m := dateParseRegex.FindStringSubmatch(s)
	if m == nil {
		return ErrInvalidDate(s)
	}

	year, _ := strconv.ParseUint(m[1], 10, 16)
	month, _ := strconv.ParseUint(m[2], 10, 8)
	day, _ := strconv.ParseUint(m[3], 10, 8)

	parsed := Date{uint16(year), uint8(month), uint8(day)}
	if !parsed.IsValid() {
		return ErrInvalidDate(s)
	}
	*d = parsed
	return nil
}

// Noon returns 12:00 of the date in the given location. GTFS defines service
// times relative to "noon minus 12h", which keeps DST transitions out of the math.
func (d Date) Noon(loc *time.Location) time.Time {
	return time.Date(int(d.Y), time.Month(d.M), int(d.D), 12, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.Noon(time.UTC).Weekday()
}

func (d Date) Previous() Date {
	return DateOf(d.Noon(time.UTC).AddDate(0, 0, -1))
}

func (d Date) Next() Date {
	return DateOf(d.Noon(time.UTC).AddDate(0, 0, 1))
}
