// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package http2

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			w.Write([]byte("payload"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("late"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	header := http.Header{"X-Api-Key": {"secret"}}
	data, err := GetBytes(context.Background(), srv.Client(), srv.URL+"/ok", header, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = GetBytes(context.Background(), srv.Client(), srv.URL+"/missing", nil, time.Second)
	var httpErr *Error
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.True(t, httpErr.Temporary())

	_, err = GetBytes(context.Background(), srv.Client(), srv.URL+"/slow", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitedDoerSpacesRequests(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	d := NewRateLimitedDoer(srv.Client(), 50*time.Millisecond)
	start := time.Now()
	for range 3 {
		_, err := GetBytes(context.Background(), d, srv.URL, nil, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
