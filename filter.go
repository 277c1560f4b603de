package surge

import "sync"

// Filter derives a source that forwards only upstream values the predicate
// accepts. The derived source always has a current value: the upstream value
// at creation seeds it whether or not the predicate accepts it.
func Filter[S any](up *Source[S], pred func(S) bool) *Source[S] {
	out := newSource(up.name+".filter", func() S {
		return up.Read()
	}, WithClock(up.clock), WithAudit(up.audit))

	id := NewSubscriberID()
	up.Subscribe(id, false, func(v S) {
		if pred(v) {
			out.write(v)
		}
	})
	out.onClose(func() {
		up.Unsubscribe(id)
	})
	return out
}

// FilterDuplicates derives a source that drops consecutive equal upstream
// values, for comparable value types.
func FilterDuplicates[S comparable](up *Source[S]) *Source[S] {
	return FilterDuplicatesFunc(up, func(a, b S) bool {
		return a == b
	})
}

// FilterDuplicatesFunc is FilterDuplicates with a custom equality function,
// for value types that are not comparable or need semantic equality.
func FilterDuplicatesFunc[S any](up *Source[S], eq func(a, b S) bool) *Source[S] {
	op := &dedupe[S]{eq: eq}
	out := newSource(up.name+".dedupe", func() S {
		v := up.Read()
		op.remember(v)
		return v
	}, WithClock(up.clock), WithAudit(up.audit))

	id := NewSubscriberID()
	up.Subscribe(id, false, func(v S) {
		if op.changed(v) {
			out.write(v)
		}
	})
	out.onClose(func() {
		up.Unsubscribe(id)
	})
	return out
}

type dedupe[S any] struct {
	mu   sync.Mutex
	eq   func(a, b S) bool
	prev *S
}

func (d *dedupe[S]) remember(v S) {
	d.mu.Lock()
	d.prev = &v
	d.mu.Unlock()
}

// changed records v as the latest value and reports whether it differs from
// the previous one.
func (d *dedupe[S]) changed(v S) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prev != nil && d.eq(*d.prev, v) {
		return false
	}
	d.prev = &v
	return true
}
