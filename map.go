package surge

import "sync"

// Map derives a source whose value is fn applied to the upstream's value.
// The derived source owns its upstream subscription for its own lifetime;
// Close releases it.
func Map[S, T any](up *Source[S], fn func(S) T) *Source[T] {
	out := newSource(up.name+".map", func() T {
		return fn(up.Read())
	}, WithClock(up.clock), WithAudit(up.audit))

	id := NewSubscriberID()
	up.Subscribe(id, false, func(v S) {
		out.write(fn(v))
	})
	out.onClose(func() {
		up.Unsubscribe(id)
	})
	return out
}

// FlatMap derives a source that follows the inner source selected by fn:
// each upstream value picks a new inner source, and the derived source
// mirrors whichever inner source is currently selected. Superseded inner
// sources are unsubscribed from but not closed; fn decides their ownership.
func FlatMap[S, T any](up *Source[S], fn func(S) *Source[T]) *Source[T] {
	op := &flatMap[S, T]{fn: fn}
	op.out = newSource(up.name+".flat-map", func() T {
		inner := op.attach(fn(up.Read()))
		return inner.Read()
	}, WithClock(up.clock), WithAudit(up.audit))

	id := NewSubscriberID()
	up.Subscribe(id, false, func(v S) {
		inner := op.attach(fn(v))
		op.out.write(inner.Read())
	})
	op.out.onClose(func() {
		up.Unsubscribe(id)
		op.detach()
	})
	return op.out
}

type flatMap[S, T any] struct {
	out *Source[T]
	fn  func(S) *Source[T]

	mu      sync.Mutex
	inner   *Source[T]
	innerID SubscriberID
}

// attach switches to a new inner source, detaching from the previous one.
func (op *flatMap[S, T]) attach(inner *Source[T]) *Source[T] {
	op.mu.Lock()
	prev, prevID := op.inner, op.innerID
	id := NewSubscriberID()
	op.inner = inner
	op.innerID = id
	op.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe(prevID)
	}
	inner.Subscribe(id, false, func(v T) {
		op.mu.Lock()
		current := op.inner == inner
		op.mu.Unlock()
		if current {
			op.out.write(v)
		}
	})
	return inner
}

func (op *flatMap[S, T]) detach() {
	op.mu.Lock()
	inner, id := op.inner, op.innerID
	op.inner = nil
	op.mu.Unlock()

	if inner != nil {
		inner.Unsubscribe(id)
	}
}
