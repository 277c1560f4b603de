package surge

// Pair carries two values combined from two sources.
type Pair[A, B any] struct {
	First  A
	Second B
}

// CombineLatest derives a source whose value combines the latest values of
// two upstreams. Any upstream emission recombines with the other side's
// current value.
func CombineLatest[A, B, T any](a *Source[A], b *Source[B], combine func(A, B) T) *Source[T] {
	out := newSource(a.name+"+"+b.name, func() T {
		return combine(a.Read(), b.Read())
	}, WithClock(a.clock), WithAudit(a.audit))

	aID := NewSubscriberID()
	a.Subscribe(aID, false, func(v A) {
		out.write(combine(v, b.Read()))
	})
	bID := NewSubscriberID()
	b.Subscribe(bID, false, func(v B) {
		out.write(combine(a.Read(), v))
	})
	out.onClose(func() {
		a.Unsubscribe(aID)
		b.Unsubscribe(bID)
	})
	return out
}

// Combine is CombineLatest producing a Pair.
func Combine[A, B any](a *Source[A], b *Source[B]) *Source[Pair[A, B]] {
	return CombineLatest(a, b, func(x A, y B) Pair[A, B] {
		return Pair[A, B]{First: x, Second: y}
	})
}
