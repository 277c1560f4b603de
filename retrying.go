package surge

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// maxRetryDelay caps exponential backoff growth.
const maxRetryDelay = time.Minute

type retryKind int

const (
	retryEvery retryKind = iota
	retryEveryLimited
	retryBackoff
)

// RetryStrategy decides when, and whether, a failed fetch is retried.
type RetryStrategy struct {
	kind     retryKind
	interval time.Duration
	limit    int
}

// RetryEvery retries after a fixed interval, indefinitely.
func RetryEvery(interval time.Duration) RetryStrategy {
	return RetryStrategy{kind: retryEvery, interval: interval}
}

// RetryEveryWithLimit retries after a fixed interval, up to limit attempts.
func RetryEveryWithLimit(interval time.Duration, limit int) RetryStrategy {
	return RetryStrategy{kind: retryEveryLimited, interval: interval, limit: limit}
}

// RetryBackoff retries with exponentially growing delays: base, 2*base,
// 4*base, capped at one minute. The upstream's failure counter resets on
// success, which resets the delay with it.
func RetryBackoff(base time.Duration) RetryStrategy {
	return RetryStrategy{kind: retryBackoff, interval: base}
}

// delay returns the wait before the next retry given the number of
// consecutive failures so far, or false when the strategy gives up.
func (s RetryStrategy) delay(failed int) (time.Duration, bool) {
	switch s.kind {
	case retryEveryLimited:
		if failed > s.limit {
			return 0, false
		}
		return s.interval, true
	case retryBackoff:
		d := s.interval
		for i := 1; i < failed; i++ {
			d *= 2
			if d >= maxRetryDelay {
				return maxRetryDelay, true
			}
		}
		return d, true
	default:
		return s.interval, true
	}
}

type forwardKind int

const (
	forwardImmediately forwardKind = iota
	forwardAfterAttempts
	forwardAfterDelay
	forwardNever
)

// ForwardPolicy decides when a failure becomes visible downstream of the
// Retrying operator. Until then retries happen silently: downstream keeps
// seeing the previous state, and in-flight retries do not surface as
// Fetching.
type ForwardPolicy struct {
	kind     forwardKind
	attempts int
	delay    time.Duration
}

// ForwardImmediately forwards every failure as it happens.
func ForwardImmediately() ForwardPolicy {
	return ForwardPolicy{kind: forwardImmediately}
}

// ForwardAfterAttempts forwards a failure once at least n consecutive
// attempts have failed.
func ForwardAfterAttempts(n int) ForwardPolicy {
	return ForwardPolicy{kind: forwardAfterAttempts, attempts: n}
}

// ForwardAfter forwards a failure once it has persisted for the given
// duration. The timer spans the whole failure run, surviving the
// Failed-Fetching-Failed cycles of intervening retries; once forwarded,
// later failures in the same run forward immediately.
func ForwardAfter(d time.Duration) ForwardPolicy {
	return ForwardPolicy{kind: forwardAfterDelay, delay: d}
}

// ForwardNever keeps failures hidden; downstream only ever sees Fetching
// and Fetched.
func ForwardNever() ForwardPolicy {
	return ForwardPolicy{kind: forwardNever}
}

// Retrying derives a Fetchable source that automatically retries upstream
// failures. On each Failed state it schedules the upstream's Retry action
// per the strategy; the policy decides if and when the failure is forwarded
// downstream. The retry timer is canceled whenever the upstream leaves the
// Failed state; the forward timer runs until the failure run ends in a
// Fetched state. Retries stop once the strategy gives up.
func Retrying[V any](up *Source[Fetchable[V]], strategy RetryStrategy, policy ForwardPolicy) *Source[Fetchable[V]] {
	op := &retrying[V]{up: up, strategy: strategy, policy: policy}
	op.out = newSource(up.name+".retrying", func() Fetchable[V] {
		return op.initial(up.Read())
	}, WithClock(up.clock), WithAudit(up.audit))

	id := NewSubscriberID()
	up.Subscribe(id, false, op.onUpstream)
	op.out.onClose(func() {
		up.Unsubscribe(id)
		op.mu.Lock()
		op.cancelTimers()
		op.mu.Unlock()
	})
	return op.out
}

type retrying[V any] struct {
	up       *Source[Fetchable[V]]
	out      *Source[Fetchable[V]]
	strategy RetryStrategy
	policy   ForwardPolicy

	mu           sync.Mutex
	retryTimer   *delayed
	forwardTimer *delayed
	forwardGen   uint64
	forwarded    bool
	suppressing  bool
}

// initial maps the upstream's current value into the first downstream
// value; a failure that the policy holds back shows as Fetching instead.
func (r *retrying[V]) initial(v Fetchable[V]) Fetchable[V] {
	if v.Phase != FetchPhaseFailed {
		return v
	}
	if r.handleFailure(v) {
		return v
	}
	return Fetching[V](nil)
}

func (r *retrying[V]) onUpstream(v Fetchable[V]) {
	switch v.Phase {
	case FetchPhaseFailed:
		if r.handleFailure(v) {
			r.out.write(v)
			r.emitForwarded(v)
		}
	case FetchPhaseFetched:
		r.mu.Lock()
		r.cancelTimers()
		r.forwarded = false
		r.suppressing = false
		r.mu.Unlock()
		r.out.write(v)
	default:
		// An in-flight retry. Its Fetching state ends the pending retry but
		// not the failure run: the forward timer keeps counting.
		r.mu.Lock()
		r.cancelRetry()
		suppress := r.suppressing
		r.mu.Unlock()
		if !suppress {
			r.out.write(v)
		}
	}
}

// handleFailure schedules the retry and forward timers for a failure and
// reports whether the failure should be forwarded downstream right now.
func (r *retrying[V]) handleFailure(v Fetchable[V]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelRetry()

	if d, ok := r.strategy.delay(v.FailedAttempts); ok {
		retry := v.Retry
		if !retry.IsZero() {
			r.retryTimer = runAfter(r.out.clock, d, func() {
				// An expired action means a newer state superseded us.
				_ = retry.Invoke(Void{})
			})
			capitan.Emit(context.Background(), RetryScheduled,
				KeySource.Field(r.up.name),
				KeyAttempt.Field(v.FailedAttempts),
				KeyDelay.Field(d),
			)
		}
	} else {
		capitan.Emit(context.Background(), RetryExhausted,
			KeySource.Field(r.up.name),
			KeyAttempt.Field(v.FailedAttempts),
		)
	}

	switch r.policy.kind {
	case forwardImmediately:
		r.suppressing = false
		return true
	case forwardAfterAttempts:
		if v.FailedAttempts >= r.policy.attempts {
			r.cancelForward()
			r.suppressing = false
			return true
		}
	case forwardAfterDelay:
		if r.forwarded {
			r.suppressing = false
			return true
		}
		if r.forwardTimer == nil {
			// Armed once per failure run, so the delay measures how long the
			// failure has persisted, not the gap since the latest retry.
			gen := r.forwardGen
			r.forwardTimer = runAfter(r.out.clock, r.policy.delay, func() {
				r.forwardLate(gen)
			})
		}
	}
	r.suppressing = true
	return false
}

// forwardLate publishes a held-back failure once its forward delay fires. It
// re-reads the upstream so a success that raced the timer is never shadowed
// by a stale failure.
func (r *retrying[V]) forwardLate(gen uint64) {
	r.mu.Lock()
	if gen != r.forwardGen {
		r.mu.Unlock()
		return
	}
	r.forwardTimer = nil
	r.forwarded = true
	r.suppressing = false
	r.mu.Unlock()

	v := r.up.Read()
	if v.Phase != FetchPhaseFailed {
		return
	}
	r.out.write(v)
	r.emitForwarded(v)
}

func (r *retrying[V]) emitForwarded(v Fetchable[V]) {
	desc := ""
	if v.Err != nil {
		desc = v.Err.Error()
	}
	capitan.Emit(context.Background(), FailureForwarded,
		KeySource.Field(r.up.name),
		KeyAttempt.Field(v.FailedAttempts),
		KeyError.Field(desc),
	)
}

// cancelTimers stops both pending timers. Callers hold r.mu.
func (r *retrying[V]) cancelTimers() {
	r.cancelRetry()
	r.cancelForward()
}

func (r *retrying[V]) cancelRetry() {
	r.retryTimer.cancel()
	r.retryTimer = nil
}

// cancelForward ends the failure run's forward window. Bumping the
// generation invalidates a timer whose channel already fired.
func (r *retrying[V]) cancelForward() {
	r.forwardTimer.cancel()
	r.forwardTimer = nil
	r.forwardGen++
}
