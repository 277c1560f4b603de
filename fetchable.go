package surge

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// FetchPhase is the variant tag of a Fetchable.
type FetchPhase int

const (
	// FetchPhaseFetching indicates the fetch is in flight.
	FetchPhaseFetching FetchPhase = iota

	// FetchPhaseFetched indicates the fetch completed with a value.
	FetchPhaseFetched

	// FetchPhaseFailed indicates the fetch completed with an error.
	FetchPhaseFailed
)

// String returns the string representation of the phase.
func (p FetchPhase) String() string {
	switch p {
	case FetchPhaseFetching:
		return "fetching"
	case FetchPhaseFetched:
		return "fetched"
	case FetchPhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress reports partial completion of a fetch.
type Progress struct {
	Completed int64
	Total     int64
}

// Fraction returns completion as a value in [0, 1], or 0 when the total is
// unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Fetchable is the standard state machine for a value obtained by fetching:
// Fetching, then Fetched or Failed; Refresh and Retry drive it back to
// Fetching. The owning container mints fresh actions on every transition.
type Fetchable[V any] struct {
	// Phase selects the variant; only that variant's fields are meaningful.
	Phase FetchPhase

	// Value is the fetched value (Fetched only).
	Value V

	// Err is the fetch error (Failed only).
	Err error

	// FailedAttempts counts consecutive failures; it resets on success.
	FailedAttempts int

	// Progress is an optional child source of fetch progress (Fetching
	// only). It is opaque to the capability manifest.
	Progress *Source[Progress]

	// Refresh re-runs the fetch (Fetched only).
	Refresh Action[Void]

	// Retry re-runs the fetch after a failure (Failed only; may be absent).
	Retry Action[Void]
}

// Fetching constructs the in-flight variant, with an optional progress
// source.
func Fetching[V any](progress *Source[Progress]) Fetchable[V] {
	return Fetchable[V]{Phase: FetchPhaseFetching, Progress: progress}
}

// Fetched constructs the completed variant.
func Fetched[V any](value V, refresh Action[Void]) Fetchable[V] {
	return Fetchable[V]{Phase: FetchPhaseFetched, Value: value, Refresh: refresh}
}

// FetchFailed constructs the failed variant.
func FetchFailed[V any](err error, failedAttempts int, retry Action[Void]) Fetchable[V] {
	return Fetchable[V]{
		Phase:          FetchPhaseFailed,
		Err:            err,
		FailedAttempts: failedAttempts,
		Retry:          retry,
	}
}

// ActionManifest enumerates the capabilities reachable from this state.
// The Progress child source is opaque.
func (f Fetchable[V]) ActionManifest() []ActionID {
	return Manifest(f.Refresh, f.Retry)
}

// Reload invokes whichever action re-runs the fetch: Refresh when Fetched,
// Retry when Failed. It is a no-op while Fetching or when the failed variant
// carries no retry.
func (f Fetchable[V]) Reload() error {
	switch f.Phase {
	case FetchPhaseFetched:
		return f.Refresh.Invoke(Void{})
	case FetchPhaseFailed:
		if f.Retry.IsZero() {
			return nil
		}
		return f.Retry.Invoke(Void{})
	default:
		return nil
	}
}

// FetchFunc produces a value, reporting progress along the way. It runs on a
// worker goroutine; the context is canceled when a newer fetch supersedes
// this one or the source closes.
type FetchFunc[V any] func(ctx context.Context, report func(Progress)) (V, error)

// fetchCarrier moves one fetch attempt through the pipz pipeline.
type fetchCarrier[V any] struct {
	value  V
	report func(Progress)
}

// FetchOption configures the fetch execution pipeline. Options wrap the
// fetch with pipz reliability patterns; they compose in order, innermost
// first.
type FetchOption[V any] func(pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]]

// WithRetry wraps the fetch with retry logic. Failed fetches are retried
// immediately up to maxAttempts times before the failure surfaces as a
// Failed state. For spaced retries across states, use the Retrying operator
// instead.
func WithRetry[V any](maxAttempts int) FetchOption[V] {
	return func(p pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]] {
		return pipz.NewRetry("retry", p, maxAttempts)
	}
}

// WithBackoff wraps the fetch with exponential backoff retry logic inside a
// single fetch attempt: baseDelay, 2*baseDelay, 4*baseDelay, and so on.
func WithBackoff[V any](maxAttempts int, baseDelay time.Duration) FetchOption[V] {
	return func(p pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]] {
		return pipz.NewBackoff("backoff", p, maxAttempts, baseDelay)
	}
}

// WithTimeout bounds each fetch attempt.
func WithTimeout[V any](d time.Duration) FetchOption[V] {
	return func(p pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]] {
		return pipz.NewTimeout("timeout", p, d)
	}
}

// WithRateLimit bounds how often fetches run, with the given rate per second
// and burst capacity.
func WithRateLimit[V any](rate float64, burst int) FetchOption[V] {
	return func(p pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]] {
		return pipz.NewSequence[*fetchCarrier[V]]("rate-limited",
			pipz.NewRateLimiter[*fetchCarrier[V]]("rate-limiter", rate, burst),
			p,
		)
	}
}

// WithCircuitBreaker opens the fetch circuit after the given consecutive
// failures and probes again once recovery has passed.
func WithCircuitBreaker[V any](failures int, recovery time.Duration) FetchOption[V] {
	return func(p pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]] {
		return pipz.NewCircuitBreaker("circuit-breaker", p, failures, recovery)
	}
}

// WithFallback tries the fallback fetch when the primary fails.
func WithFallback[V any](fallback FetchFunc[V]) FetchOption[V] {
	return func(p pipz.Chainable[*fetchCarrier[V]]) pipz.Chainable[*fetchCarrier[V]] {
		return pipz.NewFallback("fallback", p, fetchTerminal(fallback))
	}
}

func fetchTerminal[V any](fetch FetchFunc[V]) pipz.Chainable[*fetchCarrier[V]] {
	return pipz.Apply(pipz.Name("fetch"), func(ctx context.Context, car *fetchCarrier[V]) (*fetchCarrier[V], error) {
		v, err := fetch(ctx, car.report)
		if err != nil {
			return car, err
		}
		car.value = v
		return car, nil
	})
}

// FetchSource owns a Fetchable lifecycle: it runs the fetch function through
// its pipeline on a worker goroutine, publishes Fetching / Fetched / Failed
// transitions, and mints fresh Refresh and Retry actions per transition.
// The first access to the source starts the first fetch; nothing happens
// until someone reads or subscribes.
type FetchSource[V any] struct {
	src      *MutableSource[Fetchable[V]]
	pipeline pipz.Chainable[*fetchCarrier[V]]

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	progress *Source[Progress]
	attempts int
	closed   bool
}

// NewFetchSource creates a fetch-backed source. The name scopes action
// tokens and shows up in observability events.
//
// Example:
//
//	users := surge.NewFetchSource("users", fetchUsers,
//	    surge.WithTimeout[[]User](5*time.Second),
//	    surge.WithRetry[[]User](3),
//	)
//	state := users.Source().Read() // starts the fetch, returns Fetching
func NewFetchSource[V any](name string, fetch FetchFunc[V], opts ...FetchOption[V]) *FetchSource[V] {
	pipeline := fetchTerminal(fetch)
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}

	f := &FetchSource[V]{pipeline: pipeline}
	f.src = NewSource(name, func() Fetchable[V] {
		return f.begin()
	})
	f.src.onClose(f.stop)
	return f
}

// Clock sets a custom clock for the source. Must be called before first
// access.
func (f *FetchSource[V]) Clock(clock clockz.Clock) *FetchSource[V] {
	f.src.clock = clock
	return f
}

// Audit routes this source's action executions to the given audit stream.
// Must be called before first access.
func (f *FetchSource[V]) Audit(a *Audit) *FetchSource[V] {
	f.src.audit = a
	f.src.core.audit = a
	return f
}

// Source returns the observable side of the fetch lifecycle.
func (f *FetchSource[V]) Source() *Source[Fetchable[V]] {
	return f.src.Source
}

// Close cancels any in-flight fetch and closes the source.
func (f *FetchSource[V]) Close() {
	f.src.Close()
}

func (f *FetchSource[V]) stop() {
	f.mu.Lock()
	f.closed = true
	cancel := f.cancel
	progress := f.progress
	f.cancel = nil
	f.progress = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if progress != nil {
		progress.Close()
	}
}

// begin supersedes any in-flight fetch and starts a new one, returning the
// Fetching state to publish.
func (f *FetchSource[V]) begin() Fetchable[V] {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Fetching[V](nil)
	}
	f.gen++
	gen := f.gen
	if f.cancel != nil {
		f.cancel()
	}
	if f.progress != nil {
		f.progress.Close()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	progress := newSource(f.src.name+".progress", func() Progress {
		return Progress{}
	})
	f.progress = progress
	f.mu.Unlock()

	capitan.Emit(ctx, FetchStarted,
		KeySource.Field(f.src.name),
	)

	go f.run(ctx, gen, progress)

	return Fetching[V](progress)
}

func (f *FetchSource[V]) run(ctx context.Context, gen uint64, progress *Source[Progress]) {
	car := &fetchCarrier[V]{report: func(p Progress) {
		progress.write(p)
	}}
	out, err := f.pipeline.Process(ctx, car)

	if ctx.Err() != nil {
		// Superseded by a newer fetch or closed; drop the result.
		return
	}

	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.attempts++
	} else {
		f.attempts = 0
	}
	attempts := f.attempts
	f.mu.Unlock()

	if err != nil {
		capitan.Emit(ctx, FetchErrored,
			KeySource.Field(f.src.name),
			KeyError.Field(err.Error()),
			KeyAttempt.Field(attempts),
		)
		retry := NewAction(f.src.Source, "Fetchable.retry", func(Void) error {
			f.reload()
			return nil
		})
		f.src.Write(FetchFailed[V](err, attempts, retry))
		return
	}

	capitan.Emit(ctx, FetchSucceeded,
		KeySource.Field(f.src.name),
	)
	refresh := NewAction(f.src.Source, "Fetchable.refresh", func(Void) error {
		f.reload()
		return nil
	})
	f.src.Write(Fetched(out.value, refresh))
}

// reload transitions back to Fetching and starts a new fetch. Both Refresh
// and Retry bind to it; they differ only in which state offered them.
func (f *FetchSource[V]) reload() {
	f.src.Write(f.begin())
}
