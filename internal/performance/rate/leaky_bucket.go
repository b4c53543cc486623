// Package rate provides the iteration pacing used by arrival-rate executors.
package rate

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket decides when the next iteration should start.
//
// It keeps a virtual drip time that advances by 1/rate per iteration. If the
// caller is behind schedule the returned time is in the past and the
// iteration should start immediately; slots are never accumulated beyond
// one, so a slow consumer does not get a burst afterwards. A wake-up that
// lags by less than one interval is absorbed by the next slot; a stall
// longer than that loses the slots it covers, and they are never made up.
//
// The first slot is available immediately, so a bucket running at r per
// second for d seconds hands out r*d slots.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	rate        float64
	lastDrip    time.Time
	accumulated float64
	mu          sync.Mutex
}

// NewLeakyBucket creates a bucket handing out rate slots per second.
// A non-positive rate is treated as 1.
func NewLeakyBucket(rate float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	return &LeakyBucket{
		rate:        rate,
		lastDrip:    time.Now(),
		accumulated: 1.0,
	}
}

// Per converts "iterations per unit" into the per-second rate the bucket
// works with. A zero unit means one second.
func Per(iterations float64, unit time.Duration) float64 {
	if unit <= 0 {
		unit = time.Second
	}
	return iterations / unit.Seconds()
}

// Next returns when the next iteration should start.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > 1.0 {
		lb.accumulated = 1.0
	}

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = now
		return now
	}

	waitSeconds := (1.0 - lb.accumulated) / lb.rate
	lb.accumulated = 0

	nextTime := now.Add(time.Duration(waitSeconds * float64(time.Second)))

	// lastDrip moves to the scheduled slot, not to now; otherwise waking up
	// at nextTime would count the wait twice and hand out an extra slot.
	lb.lastDrip = nextTime
	return nextTime
}

// Wait blocks until the next iteration should start or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	waitDuration := time.Until(lb.Next())
	if waitDuration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
