// Package retry wraps fallible operations with bounded retries and
// exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls retry behavior.
//
// Attempts is the total number of tries, including the first one.
// Base is the delay before the second try; each subsequent delay doubles,
// capped at MaxDelay. A small random jitter is added so synchronized
// callers don't retry in lockstep.
type Policy struct {
	Attempts int
	Base     time.Duration
	MaxDelay time.Duration
}

// DefaultPolicy is tuned for short network calls.
var DefaultPolicy = Policy{Attempts: 3, Base: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// Do runs fn until it returns nil, the policy's attempts are exhausted, or
// ctx is cancelled. It returns the last error (or ctx.Err() on cancellation).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		delay := backoff(p, attempt)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

func backoff(p Policy, attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	// Up to 10% jitter.
	j := time.Duration(rand.Int63n(int64(d)/10 + 1))
	if d+j > p.MaxDelay {
		return p.MaxDelay
	}
	return d + j
}
