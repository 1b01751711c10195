// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package http2

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Doer abstracts any object which can "Do" a [http.Request], such as a [http.Client].
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// RateLimitedDoer limits another [Doer] to only start requests at most once every period.
// Waiting honors the request's context.
type RateLimitedDoer struct {
	Parent  Doer
	Limiter *rate.Limiter
}

func NewRateLimitedDoer(parent Doer, period time.Duration) *RateLimitedDoer {
	if parent == nil {
		parent = http.DefaultClient
	}
	limit := rate.Inf
	if period > 0 {
		limit = rate.Every(period)
	}
	return &RateLimitedDoer{Parent: parent, Limiter: rate.NewLimiter(limit, 1)}
}

func (d *RateLimitedDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return d.Parent.Do(req)
}

type Error struct {
	URL, Status string
	StatusCode  int
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

// Temporary reports whether the server asked us to come back later.
func (e Error) Temporary() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Check turns any non-2xx response into an [*Error], draining and closing the body.
func Check(r *http.Response) error {
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
		return &Error{
			URL:        r.Request.URL.Redacted(),
			Status:     r.Status,
			StatusCode: r.StatusCode,
		}
	}
	return nil
}

// GetBytes downloads the whole body of url. A non-zero timeout bounds
// the entire exchange, including reading the body.
func GetBytes(ctx context.Context, client Doer, url string, header http.Header, timeout time.Duration) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	} else if err = Check(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}
