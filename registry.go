package surge

import (
	"weak"

	"github.com/google/uuid"
)

// SubscriberID identifies a subscriber on a source. Subscriptions are
// idempotent per id: subscribing an id that already holds a live callback is
// a no-op, so an id stands for one observer identity, not one callback.
type SubscriberID string

// NewSubscriberID returns a unique subscriber id.
func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.NewString())
}

// subscriber is one registry entry. Entries are kept in subscription order;
// delivery walks them in that order. pending holds an initial snapshot for a
// subscriber registered while a delivery was in flight; the active deliverer
// hands it over before any queued newer values.
type subscriber[S any] struct {
	id      SubscriberID
	fn      func(S)
	alive   func() bool // nil means always alive
	pending *S
}

func (e *subscriber[S]) live() bool {
	return e.alive == nil || e.alive()
}

// SubscribeWeak subscribes fn to s with its liveness tied to owner: once
// owner becomes unreachable the entry is purged lazily on the next delivery
// attempt, so short-lived observers need no explicit Unsubscribe.
//
// The callback must not capture owner, or the entry keeps itself alive and
// is never purged. Capture the id plus whatever narrow state the callback
// needs instead.
func SubscribeWeak[S any, O any](s *Source[S], id SubscriberID, owner *O, deliverCurrent bool, fn func(S)) {
	wp := weak.Make(owner)
	s.subscribe(id, deliverCurrent, fn, func() bool {
		return wp.Value() != nil
	})
}
