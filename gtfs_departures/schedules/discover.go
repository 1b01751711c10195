// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"fmt"
	"log/slog"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/archive"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/set"
)

// Relevance is the part of a feed reachable from a set of anchor stops.
type Relevance struct {
	Trips  set.Set[string]
	Routes set.Set[string]
}

// Discover finds the trips calling at any of the anchors, and the routes of those trips.
// Both stop_times.txt and trips.txt are required; each is streamed exactly once.
func Discover(a *archive.Archive, anchors set.Set[string]) (Relevance, error) {
	rel := Relevance{Trips: make(set.Set[string]), Routes: make(set.Set[string])}

	stopTimes, err := a.Table("stop_times")
	if err != nil {
		return rel, err
	}
	defer stopTimes.Close()

	for row := range stopTimes.Iter() {
		if anchors.Has(row["stop_id"]) {
			if tripID := row["trip_id"]; tripID != "" {
				rel.Trips.Add(tripID)
			}
		}
	}
	if err := stopTimes.Err(); err != nil {
		return rel, fmt.Errorf("%s: %w", stopTimes.Name, err)
	}
	slog.Debug("Discovered trips", "trips", rel.Trips.Len())

	trips, err := a.Table("trips")
	if err != nil {
		return rel, err
	}
	defer trips.Close()

	for row := range trips.Iter() {
		if rel.Trips.Has(row["trip_id"]) {
			if routeID := row["route_id"]; routeID != "" {
				rel.Routes.Add(routeID)
			}
		}
	}
	if err := trips.Err(); err != nil {
		return rel, fmt.Errorf("%s: %w", trips.Name, err)
	}
	slog.Debug("Discovered routes", "routes", rel.Routes.Len())

	return rel, nil
}
