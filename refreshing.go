package surge

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// Refreshing derives a Fetchable source that reloads the upstream on a
// fixed interval, keeping its value fresh for as long as the derived source
// lives. Upstream states pass through unchanged; each tick invokes Refresh
// or Retry on whatever state is current and is a no-op mid-fetch.
func Refreshing[V any](up *Source[Fetchable[V]], interval time.Duration) *Source[Fetchable[V]] {
	op := &refreshing[V]{up: up, interval: interval}
	op.out = newSource(up.name+".refreshing", func() Fetchable[V] {
		return up.Read()
	}, WithClock(up.clock), WithAudit(up.audit))

	id := NewSubscriberID()
	up.Subscribe(id, false, func(v Fetchable[V]) {
		op.out.write(v)
	})
	op.schedule()
	op.out.onClose(func() {
		up.Unsubscribe(id)
		op.stop()
	})
	return op.out
}

type refreshing[V any] struct {
	up       *Source[Fetchable[V]]
	out      *Source[Fetchable[V]]
	interval time.Duration

	mu      sync.Mutex
	pending *delayed
	stopped bool
}

func (r *refreshing[V]) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.pending = runAfter(r.out.clock, r.interval, r.tick)
}

func (r *refreshing[V]) tick() {
	capitan.Emit(context.Background(), RefreshTicked,
		KeySource.Field(r.up.name),
		KeyInterval.Field(r.interval),
	)
	// Expired actions just mean a transition raced the tick.
	_ = r.up.Read().Reload()
	r.schedule()
}

func (r *refreshing[V]) stop() {
	r.mu.Lock()
	r.stopped = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	pending.cancel()
}
