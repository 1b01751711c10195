// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package server exposes data sources over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/entry"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/store"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
)

type Stop struct {
	ID               string  `json:"id"`
	Code             string  `json:"code,omitempty"`
	Name             string  `json:"name"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	DuplicateGroupID string  `json:"duplicate_group_id,omitempty"`
	IsDuplicate      bool    `json:"is_duplicate"`
}

func stopFrom(s store.Stop) Stop {
	return Stop{
		ID:               s.ID,
		Code:             s.Code,
		Name:             s.Name,
		Lat:              s.Lat,
		Lon:              s.Lon,
		DuplicateGroupID: s.DuplicateGroupID,
		IsDuplicate:      s.IsDuplicate,
	}
}

type Route struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LongName  string `json:"long_name,omitempty"`
	Type      int    `json:"type"`
	Color     string `json:"color,omitempty"`
	TextColor string `json:"text_color,omitempty"`
}

func routeFrom(r store.Route) Route {
	return Route{
		ID:        r.ID,
		Name:      r.DisplayName(),
		LongName:  r.LongName,
		Type:      r.Type,
		Color:     r.Color,
		TextColor: r.TextColor,
	}
}

type Server struct {
	entries []*entry.Entry
	byName  map[string]*entry.Entry
	router  chi.Router
}

// New builds the HTTP surface over entries. Metrics are served from gatherer,
// usually [prometheus.DefaultGatherer].
func New(entries []*entry.Entry, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		entries: entries,
		byName:  make(map[string]*entry.Entry, len(entries)),
		router:  chi.NewRouter(),
	}
	for _, e := range entries {
		s.byName[e.Name()] = e
	}

	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/sources", s.listSources)
	r.Route("/sources/{source}", func(r chi.Router) {
		r.Use(s.withEntry)
		r.Post("/reload", s.reload)
		r.Post("/poll", s.poll)

		r.Group(func(r chi.Router) {
			r.Use(requireReady)
			r.Get("/stops", s.stops)
			r.Get("/stops/{stop}/routes", s.routes)
			r.Get("/groups/{group}", s.group)
			r.Get("/departures", s.departures)
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type entryKey struct{}

func entryFrom(r *http.Request) *entry.Entry {
	return r.Context().Value(entryKey{}).(*entry.Entry)
}

func (s *Server) withEntry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, ok := s.byName[chi.URLParam(r, "source")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown source")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), entryKey{}, e)))
	})
}

func requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !entryFrom(r).Ready() {
			writeError(w, http.StatusServiceUnavailable, entry.ErrNotReady.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	statuses := make([]entry.Status, len(s.entries))
	for i, e := range s.entries {
		statuses[i] = e.Status()
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) stops(w http.ResponseWriter, r *http.Request) {
	stops, err := entryFrom(r).Store.Stops(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := make([]Stop, len(stops))
	for i, stop := range stops {
		out[i] = stopFrom(stop)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) routes(w http.ResponseWriter, r *http.Request) {
	e := entryFrom(r)
	stopID := chi.URLParam(r, "stop")
	if _, found, err := e.Store.Stop(r.Context(), stopID); err != nil {
		internalError(w, r, err)
		return
	} else if !found {
		writeError(w, http.StatusNotFound, "unknown stop")
		return
	}

	routes, err := e.Store.RoutesForStop(r.Context(), stopID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := make([]Route, len(routes))
	for i, route := range routes {
		out[i] = routeFrom(route)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) group(w http.ResponseWriter, r *http.Request) {
	stops, err := entryFrom(r).Store.StopsInGroup(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if len(stops) == 0 {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}
	out := make([]Stop, len(stops))
	for i, stop := range stops {
		out[i] = stopFrom(stop)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) departures(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	boards, err := entryFrom(r).Departures(r.Context(), limit)
	if err != nil {
		controlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	e := entryFrom(r)
	// A reload abandoned halfway leaves the source empty, so it outlives the request.
	if err := e.ForceReload(context.WithoutCancel(r.Context())); err != nil {
		controlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e.Status())
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	stats, err := entryFrom(r).ForcePoll(r.Context())
	if err != nil {
		controlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func controlError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *http2.Error
	switch {
	case errors.Is(err, entry.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, entry.ErrNoRealtime):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entry.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &httpErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		internalError(w, r, err)
	}
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
