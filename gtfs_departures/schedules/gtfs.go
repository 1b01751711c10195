// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/archive"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/set"
)

const (
	stopTimesBatchSize = 5000
	tripsBatchSize     = 2000
	calendarBatchSize  = 1000
	routesBatchSize    = 500
	stopsBatchSize     = 500
)

type TableStats struct {
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// Result summarizes a single static load.
type Result struct {
	Anchors        int `json:"anchors"`
	RelevantTrips  int `json:"relevant_trips"`
	RelevantRoutes int `json:"relevant_routes"`

	Agency        TableStats `json:"agency"`
	Calendar      TableStats `json:"calendar"`
	CalendarDates TableStats `json:"calendar_dates"`
	StopTimes     TableStats `json:"stop_times"`
	Stops         TableStats `json:"stops"`
	Routes        TableStats `json:"routes"`
	Trips         TableStats `json:"trips"`

	Groups GroupStats `json:"groups"`
}

// Tables returns per-table statistics keyed by table name.
func (r *Result) Tables() map[string]TableStats {
	return map[string]TableStats{
		"agency":         r.Agency,
		"calendar":       r.Calendar,
		"calendar_dates": r.CalendarDates,
		"stop_times":     r.StopTimes,
		"stops":          r.Stops,
		"routes":         r.Routes,
		"trips":          r.Trips,
	}
}

// Loader copies the part of a GTFS feed relevant to a set of anchor stops into a [store.Store].
type Loader struct {
	Store *store.Store
	Log   *slog.Logger

	// Progress, if set, is called after every committed batch.
	Progress func(table string, rows int)
}

func (l *Loader) log() *slog.Logger {
	if l.Log == nil {
		return slog.Default()
	}
	return l.Log
}

// Fingerprint identifies a load of sourceURL restricted to anchors,
// independently of the order of anchors.
func Fingerprint(sourceURL string, anchors set.Set[string]) string {
	h := sha256.New()
	io.WriteString(h, sourceURL)
	for _, id := range set.Sorted(anchors) {
		h.Write([]byte{0})
		io.WriteString(h, id)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Load streams the archive into the store, keeping only stops in anchors,
// stop_times at those stops and the trips and routes serving them.
// An empty anchor set is a no-op. Missing stop_times.txt or trips.txt is an error,
// other missing tables are skipped with a warning.
func (l *Loader) Load(ctx context.Context, a *archive.Archive, anchors set.Set[string]) (res Result, err error) {
	res.Anchors = anchors.Len()
	if anchors.Len() == 0 {
		l.log().Info("No anchor stops, skipping static load")
		return
	}

	l.log().Debug("Discovering relevant trips and routes", "anchors", anchors.Len())
	rel, err := Discover(a, anchors)
	if err != nil {
		return res, fmt.Errorf("discovery: %w", err)
	}
	res.RelevantTrips = rel.Trips.Len()
	res.RelevantRoutes = rel.Routes.Len()
	if rel.Trips.Len() == 0 {
		l.log().Warn("No trips call at the anchor stops", "anchors", anchors.Len())
	}

	if err = l.loadAgency(ctx, a, &res); err != nil {
		return
	}
	if err = l.loadCalendar(ctx, a, &res); err != nil {
		return
	}
	if err = l.loadCalendarDates(ctx, a, &res); err != nil {
		return
	}

	terminals, err := l.loadStopTimes(ctx, a, anchors, rel, &res)
	if err != nil {
		return
	}

	terminalStops := make(set.Set[string], len(terminals))
	for _, t := range terminals {
		terminalStops.Add(t.stopID)
	}
	names, err := l.loadStops(ctx, a, anchors, terminalStops, &res)
	if err != nil {
		return
	}

	if err = l.loadRoutes(ctx, a, rel, &res); err != nil {
		return
	}

	headsigns := make(map[string]string, len(terminals))
	for tripID, t := range terminals {
		headsigns[tripID] = names[t.stopID]
	}
	if err = l.loadTrips(ctx, a, rel, headsigns, &res); err != nil {
		return
	}

	l.log().Info(
		"Static schedules loaded",
		"stops", res.Stops.Loaded,
		"routes", res.Routes.Loaded,
		"trips", res.Trips.Loaded,
		"stop_times", res.StopTimes.Loaded,
		"duplicate_groups", res.Groups.Groups,
	)
	return
}

// open returns a nil table without an error when an optional table is missing.
func (l *Loader) open(a *archive.Archive, name string, required bool) (*archive.Table, error) {
	if !required && !a.Has(name) {
		l.log().Warn("Optional table missing, skipping", "table", name)
		return nil, nil
	}
	return a.Table(name)
}

// records yields every row of t accepted by want (nil accepts everything).
// Rejected rows are never parsed.
func records(t *archive.Table, want func(map[string]string) bool) iter.Seq[*record] {
	return func(yield func(*record) bool) {
		r := &record{file: t.Name}
		for row := range t.Iter() {
			if want != nil && !want(row) {
				continue
			}
			r.row, r.line, r.err = row, t.Line(), nil
			if !yield(r) {
				return
			}
		}
	}
}

// skip reports whether r failed to parse, counting and logging it if so.
func (l *Loader) skip(r *record, stats *TableStats) bool {
	if r.err == nil {
		return false
	}
	stats.Skipped++
	l.log().Debug("Skipping invalid record", "error", r.err)
	return true
}

func (l *Loader) finish(t *archive.Table, stats *TableStats) error {
	if err := t.Err(); err != nil {
		return fmt.Errorf("%s: %w", t.Name, err)
	}
	if stats.Skipped > 0 {
		l.log().Warn("Skipped invalid records", "table", t.Name, "skipped", stats.Skipped)
	}
	return nil
}

// batch buffers rows and upserts them once size is reached.
type batch[T store.Row] struct {
	ctx   context.Context
	l     *Loader
	table string
	size  int
	rows  []T
	stats *TableStats
}

func newBatch[T store.Row](ctx context.Context, l *Loader, table string, size int, stats *TableStats) *batch[T] {
	return &batch[T]{ctx: ctx, l: l, table: table, size: size, rows: make([]T, 0, size), stats: stats}
}

func (b *batch[T]) add(row T) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batch[T]) flush() error {
	if len(b.rows) == 0 {
		return nil
	}
	if err := store.Upsert(b.ctx, b.l.Store, b.rows); err != nil {
		return err
	}

	b.stats.Loaded += len(b.rows)
	b.rows = b.rows[:0]
	b.l.log().Debug("Batch committed", "table", b.table, "total", b.stats.Loaded)
	if b.l.Progress != nil {
		b.l.Progress(b.table, b.stats.Loaded)
	}
	return nil
}

func (l *Loader) loadAgency(ctx context.Context, a *archive.Archive, res *Result) error {
	t, err := l.open(a, "agency", false)
	if t == nil || err != nil {
		return err
	}
	defer t.Close()

	// Only the first agency is kept.
	for r := range records(t, nil) {
		agency := parseAgency(r)
		if err := store.Upsert(ctx, l.Store, []store.Agency{agency}); err != nil {
			return err
		}
		res.Agency.Loaded = 1
		break
	}
	return l.finish(t, &res.Agency)
}

func (l *Loader) loadCalendar(ctx context.Context, a *archive.Archive, res *Result) error {
	t, err := l.open(a, "calendar", false)
	if t == nil || err != nil {
		return err
	}
	defer t.Close()

	b := newBatch[store.Calendar](ctx, l, "calendar", calendarBatchSize, &res.Calendar)
	for r := range records(t, nil) {
		c := parseCalendar(r)
		if l.skip(r, &res.Calendar) {
			continue
		}
		if err := b.add(c); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}
	return l.finish(t, &res.Calendar)
}

func (l *Loader) loadCalendarDates(ctx context.Context, a *archive.Archive, res *Result) error {
	t, err := l.open(a, "calendar_dates", false)
	if t == nil || err != nil {
		return err
	}
	defer t.Close()

	b := newBatch[store.CalendarDate](ctx, l, "calendar_dates", calendarBatchSize, &res.CalendarDates)
	for r := range records(t, nil) {
		cd := parseCalendarDate(r)
		if l.skip(r, &res.CalendarDates) {
			continue
		}
		if err := b.add(cd); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}
	return l.finish(t, &res.CalendarDates)
}

type terminal struct {
	sequence int
	stopID   string
}

// loadStopTimes stores stop_times at anchor stops and returns the last stop
// (by stop_sequence) of every relevant trip.
func (l *Loader) loadStopTimes(ctx context.Context, a *archive.Archive, anchors set.Set[string], rel Relevance, res *Result) (map[string]terminal, error) {
	t, err := l.open(a, "stop_times", true)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	terminals := make(map[string]terminal, rel.Trips.Len())
	b := newBatch[store.StopTime](ctx, l, "stop_times", stopTimesBatchSize, &res.StopTimes)
	relevantTrip := func(row map[string]string) bool { return rel.Trips.Has(row["trip_id"]) }

	for r := range records(t, relevantTrip) {
		st := parseStopTime(r)
		if l.skip(r, &res.StopTimes) {
			continue
		}

		if last, ok := terminals[st.TripID]; !ok || st.StopSequence > last.sequence {
			terminals[st.TripID] = terminal{st.StopSequence, st.StopID}
		}

		if anchors.Has(st.StopID) {
			if err := b.add(st); err != nil {
				return nil, err
			}
		}
	}
	if err := b.flush(); err != nil {
		return nil, err
	}
	return terminals, l.finish(t, &res.StopTimes)
}

// loadStops stores the anchor stops with duplicate groups assigned,
// and returns the names of all stops in terminalStops.
func (l *Loader) loadStops(ctx context.Context, a *archive.Archive, anchors, terminalStops set.Set[string], res *Result) (map[string]string, error) {
	t, err := l.open(a, "stops", false)
	if t == nil || err != nil {
		return nil, err
	}
	defer t.Close()

	names := make(map[string]string, terminalStops.Len())
	var selected []store.Stop
	wanted := func(row map[string]string) bool {
		id := row["stop_id"]
		return anchors.Has(id) || terminalStops.Has(id)
	}

	for r := range records(t, wanted) {
		s := parseStop(r)
		if l.skip(r, &res.Stops) {
			continue
		}
		if terminalStops.Has(s.ID) {
			names[s.ID] = s.Name
		}
		if anchors.Has(s.ID) {
			selected = append(selected, s)
		}
	}
	if err := l.finish(t, &res.Stops); err != nil {
		return nil, err
	}

	if missing := anchors.Len() - len(selected); missing > 0 {
		l.log().Warn("Some anchor stops are not in stops.txt", "missing", missing)
	}

	res.Groups = AssignGroups(selected)
	for chunk := range slices.Chunk(selected, stopsBatchSize) {
		if err := store.Upsert(ctx, l.Store, chunk); err != nil {
			return nil, err
		}
		res.Stops.Loaded += len(chunk)
		if l.Progress != nil {
			l.Progress("stops", res.Stops.Loaded)
		}
	}
	return names, nil
}

func (l *Loader) loadRoutes(ctx context.Context, a *archive.Archive, rel Relevance, res *Result) error {
	t, err := l.open(a, "routes", false)
	if t == nil || err != nil {
		return err
	}
	defer t.Close()

	b := newBatch[store.Route](ctx, l, "routes", routesBatchSize, &res.Routes)
	relevantRoute := func(row map[string]string) bool { return rel.Routes.Has(row["route_id"]) }

	for r := range records(t, relevantRoute) {
		route := parseRoute(r)
		if l.skip(r, &res.Routes) {
			continue
		}
		if err := b.add(route); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}
	return l.finish(t, &res.Routes)
}

// loadTrips stores relevant trips, using the name of the last stop
// as the headsign of trips without one.
func (l *Loader) loadTrips(ctx context.Context, a *archive.Archive, rel Relevance, headsigns map[string]string, res *Result) error {
	t, err := l.open(a, "trips", true)
	if err != nil {
		return err
	}
	defer t.Close()

	b := newBatch[store.Trip](ctx, l, "trips", tripsBatchSize, &res.Trips)
	relevantTrip := func(row map[string]string) bool { return rel.Trips.Has(row["trip_id"]) }

	for r := range records(t, relevantTrip) {
		trip := parseTrip(r)
		if l.skip(r, &res.Trips) {
			continue
		}
		if trip.Headsign == "" {
			trip.Headsign = headsigns[trip.ID]
		}
		if err := b.add(trip); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}
	return l.finish(t, &res.Trips)
}
