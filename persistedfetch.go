package surge

import "sync"

// PersistedFetch derives a Fetchable source that serves a persisted value
// when a fresh one exists and fetches otherwise. Successful fetches are
// written back through the persist source's Set action, so the next start
// serves from the store. The fetch upstream is only touched once it is
// actually needed, which keeps a lazily started FetchSource idle while the
// store holds a fresh value. Refresh always re-fetches, even when the
// current value came from the store.
func PersistedFetch[V any](fetch *Source[Fetchable[V]], persist *Source[Persistable[V]]) *Source[Fetchable[V]] {
	op := &persistedFetch[V]{fetch: fetch, persist: persist}
	op.out = newSource(fetch.name+".persisted", op.initial,
		WithClock(fetch.clock), WithAudit(fetch.audit))

	persistID := NewSubscriberID()
	persist.Subscribe(persistID, false, op.onPersist)
	op.out.onClose(func() {
		persist.Unsubscribe(persistID)
		op.deactivate()
	})
	return op.out
}

type persistedFetch[V any] struct {
	fetch   *Source[Fetchable[V]]
	persist *Source[Persistable[V]]
	out     *Source[Fetchable[V]]

	mu      sync.Mutex
	active  bool
	fetchID SubscriberID
}

// initial decides the starting value: a fresh persisted value short-circuits
// the fetch entirely; anything else activates the fetch upstream.
func (pf *persistedFetch[V]) initial() Fetchable[V] {
	p := pf.persist.Read()
	if p.Phase == PersistPhaseFound && !p.Expired {
		return Fetched(p.Value, pf.refreshAction())
	}
	pf.activate()
	return pf.rewrap(pf.fetch.Read())
}

// activate subscribes to the fetch upstream, starting it if it was lazy.
func (pf *persistedFetch[V]) activate() {
	pf.mu.Lock()
	if pf.active {
		pf.mu.Unlock()
		return
	}
	pf.active = true
	id := NewSubscriberID()
	pf.fetchID = id
	pf.mu.Unlock()

	pf.fetch.Subscribe(id, false, pf.onFetch)
}

func (pf *persistedFetch[V]) deactivate() {
	pf.mu.Lock()
	active := pf.active
	id := pf.fetchID
	pf.active = false
	pf.mu.Unlock()

	if active {
		pf.fetch.Unsubscribe(id)
	}
}

func (pf *persistedFetch[V]) onFetch(v Fetchable[V]) {
	if v.Phase == FetchPhaseFetched {
		// Write back so the next start serves from the store. A failed or
		// expired Set surfaces through the audit stream, not here.
		if set := pf.persist.Read().Set; !set.IsZero() {
			_ = set.Invoke(v.Value)
		}
	}
	pf.out.write(pf.rewrap(v))
}

// onPersist surfaces fresh values that appear in the store while the fetch
// side is dormant, e.g. written by another process under a watched store.
func (pf *persistedFetch[V]) onPersist(p Persistable[V]) {
	pf.mu.Lock()
	active := pf.active
	pf.mu.Unlock()
	if active {
		return
	}
	if p.Phase == PersistPhaseFound && !p.Expired {
		pf.out.write(Fetched(p.Value, pf.refreshAction()))
	}
}

// rewrap swaps the upstream's actions for this source's own, so downstream
// holders drive the persisted-fetch lifecycle rather than the raw fetch.
func (pf *persistedFetch[V]) rewrap(v Fetchable[V]) Fetchable[V] {
	switch v.Phase {
	case FetchPhaseFetched:
		return Fetched(v.Value, pf.refreshAction())
	case FetchPhaseFailed:
		return FetchFailed[V](v.Err, v.FailedAttempts, pf.retryAction())
	default:
		return Fetching[V](v.Progress)
	}
}

func (pf *persistedFetch[V]) refreshAction() Action[Void] {
	return NewAction(pf.out, "PersistedFetch.refresh", pf.reload)
}

func (pf *persistedFetch[V]) retryAction() Action[Void] {
	return NewAction(pf.out, "PersistedFetch.retry", pf.reload)
}

// reload forces a real fetch, activating the fetch upstream if this source
// has been serving from the store so far.
func (pf *persistedFetch[V]) reload(Void) error {
	pf.mu.Lock()
	wasActive := pf.active
	pf.mu.Unlock()

	pf.activate()
	state := pf.fetch.Read()
	if !wasActive {
		// First activation already started the fetch; publish its state.
		pf.out.write(pf.rewrap(state))
		if state.Phase == FetchPhaseFetching {
			return nil
		}
	}
	return state.Reload()
}
