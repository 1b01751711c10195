// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndRun(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := Backoff{
		Period:             30 * time.Second,
		MaxBackoffExponent: 2,
		Now:                func() time.Time { return start },
	}

	b.StartRun()
	assert.Equal(t, start.Add(30*time.Second), b.EndRun(Success))

	want := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute, 2 * time.Minute}
	for i, d := range want {
		b.StartRun()
		assert.Equal(t, start.Add(d), b.EndRun(Failure), "failure %d", i+1)
	}
	assert.Equal(t, uint(4), b.Failures)

	b.StartRun()
	assert.Equal(t, start.Add(30*time.Second), b.EndRun(Success))
	assert.Zero(t, b.Failures)
}

func TestExponentialBackoffBase(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := Backoff{Period: time.Minute, ExponentialBackoffBase: time.Second, Now: func() time.Time { return start }}

	b.StartRun()
	b.EndRun(Failure)
	b.StartRun()
	assert.Equal(t, start.Add(2*time.Second), b.EndRun(Failure))
}

func TestWait(t *testing.T) {
	b := Backoff{Period: time.Hour}
	assert.NoError(t, b.Wait(context.Background()), "first run is due immediately")

	b.StartRun()
	b.EndRun(Success)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)
}
