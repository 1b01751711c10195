// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package time2

import (
	"log/slog"
	"time"
	_ "time/tzdata"
)

// LoadLocation resolves an agency_timezone, falling back to UTC for empty or unknown zones.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Unknown agency timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}
