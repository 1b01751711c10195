// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package store persists GTFS data for a single data source in SQLite.
//
// All writes go through a single writer lock and are committed per batch,
// so readers observe either the whole batch or none of it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
}

// Open opens (creating if necessary) the database at path and ensures the
// schema and indexes exist. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" && path != "" {
		dsn = "file:" + (&url.URL{Path: path}).EscapedPath() +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Upsert writes rows in a single transaction, replacing any existing rows
// with the same primary key. All rows must belong to the same table.
func Upsert[T Row](ctx context.Context, s *Store, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	t := rows[0].table()

	return s.write(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, t.insert)
		if err != nil {
			return fmt.Errorf("preparing %s upsert: %w", t.Name, err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.values()...); err != nil {
				return fmt.Errorf("upserting into %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

// write runs fn in a transaction while holding the writer lock.
func (s *Store) write(ctx context.Context, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Clear removes all rows, including load metadata, so that an interrupted
// reload is never mistaken for a complete one.
func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		for _, t := range allTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t.Name); err != nil {
				return fmt.Errorf("clearing %s: %w", t.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM load_metadata"); err != nil {
			return fmt.Errorf("clearing load_metadata: %w", err)
		}
		return nil
	})
}

// EvictRealtime deletes realtime rows whose feed timestamp is older than cutoff.
func (s *Store) EvictRealtime(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	err = s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM realtime_updates WHERE timestamp < ?", cutoff.Unix())
		if err != nil {
			return fmt.Errorf("evicting realtime updates: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return
}

func (s *Store) Metadata(ctx context.Context, sourceURL string) (m LoadMetadata, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
SELECT source_url, anchor_fingerprint, loaded_at, trips, routes, stop_times
FROM load_metadata
WHERE source_url = ?`, sourceURL).Scan(
		&m.SourceURL, &m.AnchorFingerprint, &m.LoadedAt, &m.Trips, &m.Routes, &m.StopTimes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return LoadMetadata{}, false, nil
	} else if err != nil {
		return LoadMetadata{}, false, fmt.Errorf("reading load metadata: %w", err)
	}
	return m, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, m LoadMetadata) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO load_metadata (source_url, anchor_fingerprint, loaded_at, trips, routes, stop_times)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source_url) DO UPDATE SET
    anchor_fingerprint = excluded.anchor_fingerprint,
    loaded_at = excluded.loaded_at,
    trips = excluded.trips,
    routes = excluded.routes,
    stop_times = excluded.stop_times`,
			m.SourceURL, m.AnchorFingerprint, m.LoadedAt.UTC(), m.Trips, m.Routes, m.StopTimes,
		)
		if err != nil {
			return fmt.Errorf("writing load metadata: %w", err)
		}
		return nil
	})
}

// Count returns the number of rows in one of the store's tables.
func (s *Store) Count(ctx context.Context, tableName string) (n int, err error) {
	for _, t := range allTables {
		if t.Name == tableName {
			err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.Name).Scan(&n)
			return
		}
	}
	return 0, fmt.Errorf("unknown table %q", tableName)
}
