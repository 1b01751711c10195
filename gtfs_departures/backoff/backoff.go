// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package backoff

import (
	"context"
	"fmt"
	"time"
)

type Status int

const (
	Success Status = iota
	Failure
)

// Backoff schedules periodic runs. After a successful run the next one starts
// Period after the previous start; after n consecutive failures it starts
// ExponentialBackoffBase * 2^(n-1) after, with the exponent capped at MaxBackoffExponent.
type Backoff struct {
	Period                 time.Duration
	ExponentialBackoffBase time.Duration // defaults to Period
	Failures               uint
	MaxBackoffExponent     uint

	// Now defaults to time.Now.
	Now func() time.Time

	lastRun time.Time
	nextRun time.Time
}

func (b *Backoff) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Backoff) StartRun() {
	b.lastRun = b.now()
}

func (b *Backoff) EndRun(status Status) time.Time {
	switch status {
	case Success:
		b.Failures = 0
		b.nextRun = b.lastRun.Add(b.Period)

	case Failure:
		backoffExponent := b.Failures
		b.Failures++

		if b.MaxBackoffExponent > 0 && backoffExponent > b.MaxBackoffExponent {
			backoffExponent = b.MaxBackoffExponent
		}

		sleep := time.Duration(1<<backoffExponent) * b.getBackoffBase()
		b.nextRun = b.lastRun.Add(sleep)

	default:
		panic(fmt.Errorf("invalid status enum value: %d", status))
	}

	return b.nextRun
}

// Wait sleeps until the next run is due, or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.nextRun.Sub(b.now())
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *Backoff) getBackoffBase() time.Duration {
	if b.ExponentialBackoffBase == 0 {
		return b.Period
	}
	return b.ExponentialBackoffBase
}
