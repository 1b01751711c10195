// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package mcsv reads header-keyed CSV files, such as GTFS tables,
// one record at a time.
package mcsv

import (
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Reader decodes a CSV file into records keyed by the header row.
// The returned records are reused between calls - callers must copy anything
// they want to keep past the next call to Read or the next iteration.
type Reader struct {
	r      *csv.Reader
	header []string
	record map[string]string
	err    error
}

// NewReader creates a Reader over UTF-8 text. A leading byte-order mark is
// detected and stripped (UTF-16 BOMs switch decoding accordingly).
func NewReader(r io.Reader) *Reader {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	o := &Reader{r: csv.NewReader(decoded)}
	o.r.ReuseRecord = true
	o.r.FieldsPerRecord = -1
	o.r.LazyQuotes = true
	return o
}

func (r *Reader) readHeader() {
	var row []string
	row, r.err = r.r.Read()
	if r.err != nil {
		return
	}

	r.header = make([]string, len(row))
	for i, key := range row {
		r.header[i] = strings.TrimSpace(key)
	}
}

func (r *Reader) next() {
	if r.header == nil {
		r.readHeader()
		if r.err != nil {
			return
		}
	}

	if r.record == nil {
		r.record = make(map[string]string, len(r.header))
	}

	var row []string
	row, r.err = r.r.Read()
	if r.err != nil {
		return
	}

	for i, key := range r.header {
		if i < len(row) {
			r.record[key] = row[i]
		} else {
			r.record[key] = ""
		}
	}
}

func (r *Reader) Read() (map[string]string, error) {
	r.next()
	if r.err != nil {
		return nil, r.err
	}
	return r.record, nil
}

func (r *Reader) Iter() iter.Seq[map[string]string] {
	return func(yield func(map[string]string) bool) {
		for {
			r.next()
			if r.err != nil || !yield(r.record) {
				return
			}
		}
	}
}

func (r *Reader) Err() error {
	if errors.Is(r.err, io.EOF) {
		return nil
	}
	return r.err
}

func (r *Reader) Line() int {
	line, _ := r.r.FieldPos(0)
	return line
}
