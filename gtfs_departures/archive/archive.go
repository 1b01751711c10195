// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package archive reads GTFS Schedule zip archives.
//
// The whole archive is kept in memory and every table is streamed
// from it independently, so the same table may be read several times.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/mcsv"
)

var ErrTableNotFound = errors.New("table not found")

// Fetch retrieves the archive bytes from an http(s) URL or a local file path.
func Fetch(ctx context.Context, client http2.Doer, source string, header http.Header, timeout time.Duration) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err := http2.GetBytes(ctx, client, source, header, timeout)
		if err != nil {
			return nil, fmt.Errorf("downloading archive: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(strings.TrimPrefix(source, "file://"))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return data, nil
}

type Archive struct {
	files map[string]*zip.File
	size  int
}

// Open indexes the tables of an in-memory zip archive. Tables are matched by
// their lower-cased base name, so archives with a top-level directory work too.
func Open(data []byte) (*Archive, error) {
	z, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	a := &Archive{files: make(map[string]*zip.File, len(z.File)), size: len(data)}
	for _, f := range z.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(path.Base(f.Name))
		if existing, ok := a.files[name]; ok && depth(existing.Name) <= depth(f.Name) {
			continue
		}
		a.files[name] = f
	}
	return a, nil
}

func depth(name string) int {
	return strings.Count(strings.Trim(name, "/"), "/")
}

// Size returns the compressed size of the archive in bytes.
func (a *Archive) Size() int { return a.size }

// Has reports whether the archive contains the table, with or without the .txt suffix.
func (a *Archive) Has(table string) bool {
	_, ok := a.files[fileName(table)]
	return ok
}

func fileName(table string) string {
	table = strings.ToLower(table)
	if !strings.HasSuffix(table, ".txt") {
		table += ".txt"
	}
	return table
}

// Table is a single CSV table streamed out of the archive.
type Table struct {
	*mcsv.Reader
	Name string
	c    io.Closer
}

func (t *Table) Close() error { return t.c.Close() }

// Table opens a table by name, with or without the ".txt" extension.
// Returns an error wrapping [ErrTableNotFound] if the archive lacks it.
func (a *Archive) Table(name string) (*Table, error) {
	file := fileName(name)
	f, ok := a.files[file]
	if !ok {
		return nil, fmt.Errorf("%s: %w", file, ErrTableNotFound)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return &Table{Reader: mcsv.NewReader(rc), Name: file, c: rc}, nil
}
