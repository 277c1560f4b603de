package surge

import (
	"errors"
	"sync"
)

// CombineFetch derives a Fetchable source from two Fetchable upstreams.
//
// The combined pair updates only when both sides are Fetched, so a refresh
// never exposes a half-updated pair: while either side is in flight the
// combined source keeps showing the last complete pair. Before the first
// complete pair it is Fetching, with a merged progress source when both
// sides report progress. A failure on either side surfaces as Failed;
// consecutive identical failures are suppressed as repeats. The combined
// Refresh reloads both sides, the combined Retry only the failed ones.
func CombineFetch[A, B any](a *Source[Fetchable[A]], b *Source[Fetchable[B]]) *Source[Fetchable[Pair[A, B]]] {
	cf := &combineFetch[A, B]{a: a, b: b}
	cf.out = newSource(a.name+"+"+b.name+".fetch", func() Fetchable[Pair[A, B]] {
		state, _ := cf.recompute()
		return state
	}, WithClock(a.clock), WithAudit(a.audit))

	aID := NewSubscriberID()
	a.Subscribe(aID, false, func(Fetchable[A]) {
		cf.publish()
	})
	bID := NewSubscriberID()
	b.Subscribe(bID, false, func(Fetchable[B]) {
		cf.publish()
	})
	cf.out.onClose(func() {
		a.Unsubscribe(aID)
		b.Unsubscribe(bID)
		cf.mu.Lock()
		cf.releaseProgress()
		cf.mu.Unlock()
	})
	return cf.out
}

type combineFetch[A, B any] struct {
	a   *Source[Fetchable[A]]
	b   *Source[Fetchable[B]]
	out *Source[Fetchable[Pair[A, B]]]

	mu        sync.Mutex
	pair      *Pair[A, B]
	havePhase bool
	lastPhase FetchPhase

	// last surfaced failure, for repeat suppression
	lastErr      error
	lastDesc     string
	lastAttempts int

	// merged progress source, closed when owned and no longer current
	progress      *Source[Progress]
	progressOwned bool
}

func (cf *combineFetch[A, B]) publish() {
	state, ok := cf.recompute()
	if ok {
		cf.out.write(state)
	}
}

// recompute builds the combined state from both upstreams' current values
// and reports whether it should be published. Repeats are not published:
// a stale pair already showing, an unchanged Fetching, or an identical
// consecutive failure.
func (cf *combineFetch[A, B]) recompute() (Fetchable[Pair[A, B]], bool) {
	fa := cf.a.Read()
	fb := cf.b.Read()

	cf.mu.Lock()
	defer cf.mu.Unlock()

	if fa.Phase == FetchPhaseFailed || fb.Phase == FetchPhaseFailed {
		err, attempts := combinedFailure(fa, fb)
		desc := ""
		if err != nil {
			desc = err.Error()
		}
		if cf.havePhase && cf.lastPhase == FetchPhaseFailed &&
			desc == cf.lastDesc && attempts == cf.lastAttempts && errors.Is(err, cf.lastErr) {
			return Fetchable[Pair[A, B]]{}, false
		}
		cf.record(FetchPhaseFailed)
		cf.lastErr = err
		cf.lastDesc = desc
		cf.lastAttempts = attempts
		cf.releaseProgress()
		return FetchFailed[Pair[A, B]](err, attempts, cf.retryAction()), true
	}
	cf.lastErr = nil
	cf.lastDesc = ""
	cf.lastAttempts = 0

	if fa.Phase == FetchPhaseFetched && fb.Phase == FetchPhaseFetched {
		pair := Pair[A, B]{First: fa.Value, Second: fb.Value}
		cf.pair = &pair
		cf.record(FetchPhaseFetched)
		cf.releaseProgress()
		return Fetched(pair, cf.refreshAction()), true
	}

	// At least one side in flight.
	if cf.pair != nil {
		if cf.havePhase && cf.lastPhase == FetchPhaseFetched {
			// Stale pair already showing.
			return Fetchable[Pair[A, B]]{}, false
		}
		cf.record(FetchPhaseFetched)
		cf.releaseProgress()
		return Fetched(*cf.pair, cf.refreshAction()), true
	}

	if cf.havePhase && cf.lastPhase == FetchPhaseFetching {
		return Fetchable[Pair[A, B]]{}, false
	}
	cf.record(FetchPhaseFetching)
	cf.releaseProgress()
	cf.progress, cf.progressOwned = mergedProgress(fa, fb)
	return Fetching[Pair[A, B]](cf.progress), true
}

func (cf *combineFetch[A, B]) record(phase FetchPhase) {
	cf.havePhase = true
	cf.lastPhase = phase
}

// releaseProgress closes the merged progress source when this operator
// created it; single-side progress belongs to the upstream.
func (cf *combineFetch[A, B]) releaseProgress() {
	if cf.progressOwned && cf.progress != nil {
		cf.progress.Close()
	}
	cf.progress = nil
	cf.progressOwned = false
}

// refreshAction reloads both sides.
func (cf *combineFetch[A, B]) refreshAction() Action[Void] {
	return NewAction(cf.out, "CombinedFetch.refresh", func(Void) error {
		return errors.Join(
			cf.a.Read().Reload(),
			cf.b.Read().Reload(),
		)
	})
}

// retryAction reloads only the failed sides.
func (cf *combineFetch[A, B]) retryAction() Action[Void] {
	return NewAction(cf.out, "CombinedFetch.retry", func(Void) error {
		var errs []error
		if fa := cf.a.Read(); fa.Phase == FetchPhaseFailed {
			errs = append(errs, fa.Reload())
		}
		if fb := cf.b.Read(); fb.Phase == FetchPhaseFailed {
			errs = append(errs, fb.Reload())
		}
		return errors.Join(errs...)
	})
}

func combinedFailure[A, B any](fa Fetchable[A], fb Fetchable[B]) (error, int) {
	switch {
	case fa.Phase == FetchPhaseFailed && fb.Phase == FetchPhaseFailed:
		return errors.Join(fa.Err, fb.Err), fa.FailedAttempts + fb.FailedAttempts
	case fa.Phase == FetchPhaseFailed:
		return fa.Err, fa.FailedAttempts
	default:
		return fb.Err, fb.FailedAttempts
	}
}

// mergedProgress combines the in-flight sides' progress. With both sides
// reporting, the merged source sums completed and total; with one, it is
// passed through. The bool reports whether the caller owns the result.
func mergedProgress[A, B any](fa Fetchable[A], fb Fetchable[B]) (*Source[Progress], bool) {
	var pa, pb *Source[Progress]
	if fa.Phase == FetchPhaseFetching {
		pa = fa.Progress
	}
	if fb.Phase == FetchPhaseFetching {
		pb = fb.Progress
	}
	switch {
	case pa != nil && pb != nil:
		return CombineLatest(pa, pb, func(x, y Progress) Progress {
			return Progress{Completed: x.Completed + y.Completed, Total: x.Total + y.Total}
		}), true
	case pa != nil:
		return pa, false
	case pb != nil:
		return pb, false
	default:
		return nil, false
	}
}
