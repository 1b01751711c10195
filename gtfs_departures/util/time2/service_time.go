// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package time2

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ErrInvalidServiceTime string

func (e ErrInvalidServiceTime) Error() string {
	return fmt.Sprintf("invalid service time: %q", string(e))
}

// ServiceTime is a GTFS clock value: seconds since the start of the service day.
// Values past 24:00:00 denote service running after midnight.
type ServiceTime int

func ParseServiceTime(s string) (ServiceTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, ErrInvalidServiceTime(s)
	}

	var v [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || (i > 0 && (len(part) != 2 || n > 59)) {
			return 0, ErrInvalidServiceTime(s)
		}
		v[i] = n
	}
	return ServiceTime(v[0]*3600 + v[1]*60 + v[2]), nil
}

// String formats the time as zero-padded HH:MM:SS, so that lexical
// order of stored values matches chronological order.
func (t ServiceTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, (int(t)/60)%60, int(t)%60)
}

// On returns the absolute instant of the service time on the given service day.
func (t ServiceTime) On(day Date, loc *time.Location) time.Time {
	return day.Noon(loc).Add(-12 * time.Hour).Add(time.Duration(t) * time.Second)
}

// Since returns the service time of instant within the service day.
func Since(day Date, instant time.Time) ServiceTime {
	return ServiceTime(instant.Sub(day.Noon(instant.Location()).Add(-12*time.Hour)) / time.Second)
}
