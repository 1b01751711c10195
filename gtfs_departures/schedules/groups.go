// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
)

// groupNamespace seeds name-based group ids, so that equal keys always get equal ids.
var groupNamespace = uuid.MustParse("6f1c7a52-3a0e-4d6b-9a51-0b8f6b3c2d11")

// DuplicateKey identifies stops which are assumed to be the same boarding point:
// coordinates rounded to 5 decimal places (about 1 m) and the first two
// words of the lower-cased name.
func DuplicateKey(lower cases.Caser, s store.Stop) string {
	words := strings.Fields(lower.String(s.Name))
	if len(words) > 2 {
		words = words[:2]
	}
	return fmt.Sprintf("%.5f,%.5f,%s", s.Lat, s.Lon, strings.Join(words, " "))
}

// GroupStats summarizes a call to [AssignGroups].
type GroupStats struct {
	Groups     int `json:"groups"`
	Duplicates int `json:"duplicates"`
}

// AssignGroups sets DuplicateGroupID and IsDuplicate on every stop. Within a group,
// the first stop in slice order is canonical and all later ones are duplicates.
// The result depends only on the contents and order of stops.
func AssignGroups(stops []store.Stop) (stats GroupStats) {
	lower := cases.Lower(language.Und)
	seen := make(map[string]struct{}, len(stops))

	for i := range stops {
		key := DuplicateKey(lower, stops[i])
		stops[i].DuplicateGroupID = uuid.NewSHA1(groupNamespace, []byte(key)).String()

		if _, dup := seen[key]; dup {
			stops[i].IsDuplicate = true
			stats.Duplicates++
		} else {
			seen[key] = struct{}{}
			stops[i].IsDuplicate = false
			stats.Groups++
		}
	}
	return
}
