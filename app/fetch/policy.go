package fetch

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a named retry/backoff configuration. The aggregation path and
// the sync path keep deliberately different tolerances: aggregation favors
// speed, sync favors completeness.
type Policy struct {
	Name string

	// MaxRetries is the number of retries after the first attempt, so a
	// fetch makes at most MaxRetries+1 attempts.
	MaxRetries int

	// Timeouts is the progressive per-attempt timeout schedule. Later
	// attempts get more time; the last entry repeats when attempts exceed
	// the schedule length.
	Timeouts []time.Duration

	// Delays is the base sleep schedule between attempts, widened by
	// ±Jitter to avoid synchronized retry storms across feeds.
	Delays []time.Duration
	Jitter time.Duration
}

// DefaultPolicy is used by the fetch endpoint and the sync job.
var DefaultPolicy = Policy{
	Name:       "default",
	MaxRetries: 3,
	Timeouts:   []time.Duration{15 * time.Second, 30 * time.Second, 45 * time.Second, 60 * time.Second},
	Delays:     []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	Jitter:     500 * time.Millisecond,
}

// AggregatePolicy is used by the batch aggregator, where a slow feed holds
// up its whole batch.
var AggregatePolicy = Policy{
	Name:       "aggregate",
	MaxRetries: 2,
	Timeouts:   []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second},
	Delays:     []time.Duration{time.Second, 2 * time.Second},
	Jitter:     500 * time.Millisecond,
}

func (p Policy) timeoutFor(attempt int) time.Duration {
	if len(p.Timeouts) == 0 {
		return 30 * time.Second
	}
	if attempt >= len(p.Timeouts) {
		attempt = len(p.Timeouts) - 1
	}
	return p.Timeouts[attempt]
}

func (p Policy) delayFor(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return time.Second
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	return p.Delays[attempt]
}

// scheduleBackOff adapts the policy's fixed delay schedule to the backoff
// package's BackOff contract.
type scheduleBackOff struct {
	policy  Policy
	attempt int
}

var _ backoff.BackOff = (*scheduleBackOff)(nil)

func (b *scheduleBackOff) NextBackOff() time.Duration {
	delay := b.policy.delayFor(b.attempt)
	b.attempt++
	return addJitter(delay, b.policy.Jitter)
}

func (b *scheduleBackOff) Reset() {
	b.attempt = 0
}

func addJitter(delay, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return delay
	}
	offset := time.Duration(rand.Int63n(int64(2*jitter)+1)) - jitter
	if delay+offset < 0 {
		return 0
	}
	return delay + offset
}
