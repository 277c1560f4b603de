package surge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Source holds exactly one current value of type S and notifies subscribers
// when it changes. It is the leaf primitive of the package: models own one,
// operators derive new ones, and collaborators consume them through Read and
// Subscribe.
//
// A source always has a readable value: the first Read (or Subscribe with
// delivery) computes the initial value exactly once and caches it. Writes
// are reserved for the owning logic via MutableSource; subscribers never
// mutate the source they observe.
//
// Delivery semantics: each write notifies every live subscriber exactly
// once, synchronously, in subscription order. The container lock is not held
// during callbacks, so a callback may Read the same source and observes the
// newly written value. A write issued from inside a callback (an action
// fired by an observer) is queued and drained by the active deliverer rather
// than recursing.
type Source[S any] struct {
	name  string
	id    string
	audit *Audit
	clock clockz.Clock

	mu         sync.Mutex
	state      *S
	initial    func() S
	subs       []*subscriber[S]
	index      map[SubscriberID]*subscriber[S]
	queue      []S
	delivering bool
	closers    []func()
	closed     bool

	core   *ownerCore
	handle ownerHandle
}

// MutableSource couples a Source with write access. Constructors return the
// mutable handle to the owning logic, which shares only the embedded
// *Source with everyone else.
type MutableSource[S any] struct {
	*Source[S]
}

// sourceConfig holds construction options for a source.
type sourceConfig struct {
	audit *Audit
	clock clockz.Clock
}

// SourceOption configures a source at construction.
type SourceOption func(*sourceConfig)

// WithAudit routes the source's action executions to the given audit stream
// instead of the process default.
func WithAudit(a *Audit) SourceOption {
	return func(c *sourceConfig) {
		c.audit = a
	}
}

// WithClock sets a custom clock for time operations. Use this with
// clockz.FakeClock for deterministic timer testing.
func WithClock(clock clockz.Clock) SourceOption {
	return func(c *sourceConfig) {
		c.clock = clock
	}
}

// NewSource creates a source whose initial value is computed lazily on first
// access. The name scopes action identifiers and token ownership checks, so
// two sources that should resolve each other's tokens must share it.
//
// The returned MutableSource is the owner's write handle.
func NewSource[S any](name string, initial func() S, opts ...SourceOption) *MutableSource[S] {
	return &MutableSource[S]{newSource(name, initial, opts...)}
}

func newSource[S any](name string, initial func() S, opts ...SourceOption) *Source[S] {
	cfg := &sourceConfig{
		audit: DefaultAudit(),
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Source[S]{
		name:    name,
		id:      uuid.NewString(),
		audit:   cfg.audit,
		clock:   cfg.clock,
		initial: initial,
		index:   make(map[SubscriberID]*subscriber[S]),
	}

	s.core = &ownerCore{
		name:     name,
		sourceID: s.id,
		methods:  make(map[string]any),
		audit:    cfg.audit,
		contains: func(id ActionID) bool {
			return manifestContains(manifestOf(s.Read()), id)
		},
		containsName: func(method string) bool {
			return manifestContainsName(manifestOf(s.Read()), method)
		},
	}
	s.handle = owners.add(s.core)

	capitan.Emit(context.Background(), SourceCreated,
		KeySource.Field(name),
		KeySourceID.Field(s.id),
	)

	return s
}

// Name returns the source name, which doubles as the owning-type identifier
// for action tokens.
func (s *Source[S]) Name() string {
	return s.name
}

// ID returns the unique instance id of the source.
func (s *Source[S]) ID() string {
	return s.id
}

// Read returns the current value. It never blocks on I/O, only on the
// container's own short-lived lock. The first Read computes the initial
// value exactly once and caches it.
func (s *Source[S]) Read() S {
	s.mu.Lock()
	if s.state == nil {
		// The initial factory runs under the lock so it executes at most
		// once. It must not Read or Subscribe this same source.
		v := s.initial()
		if s.state == nil {
			s.state = &v
		}
	}
	v := *s.state
	s.mu.Unlock()
	return v
}

// Subscribe registers fn under id. If id already holds a live callback the
// call is a no-op: the callback is not replaced and nothing is delivered.
// When deliverCurrent is true the current value (computing the initial value
// if needed) is delivered to fn once, before any later write. If a delivery
// is in flight when Subscribe is called, the active deliverer hands over the
// snapshot instead and Subscribe returns without waiting for it.
func (s *Source[S]) Subscribe(id SubscriberID, deliverCurrent bool, fn func(S)) {
	s.subscribe(id, deliverCurrent, fn, nil)
}

func (s *Source[S]) subscribe(id SubscriberID, deliverCurrent bool, fn func(S), alive func() bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.index[id]; ok && prev.live() {
		s.mu.Unlock()
		return
	}
	entry := &subscriber[S]{id: id, fn: fn, alive: alive}
	if prev, ok := s.index[id]; ok {
		// Dead weak entry: replace in place, keeping registry order.
		*prev = *entry
		entry = prev
	} else {
		s.subs = append(s.subs, entry)
		s.index[id] = entry
	}

	// The initial snapshot is taken under the registration lock and routed
	// through the deliverer, so a concurrent write cannot reach fn before
	// its older snapshot does.
	var snap S
	claimed := false
	if deliverCurrent {
		if s.state == nil {
			v := s.initial()
			s.state = &v
		}
		snap = *s.state
		switch {
		case s.delivering && len(s.queue) > 0:
			// The queued writes already cover this subscriber from an older
			// value up to the current one; a snapshot of the newest state
			// would land ahead of them.
		case s.delivering:
			pending := snap
			entry.pending = &pending
		default:
			s.delivering = true
			claimed = true
		}
	}
	s.mu.Unlock()

	capitan.Emit(context.Background(), SubscriberAdded,
		KeySource.Field(s.name),
		KeySubscriber.Field(string(id)),
	)

	if claimed {
		fn(snap)
		s.deliver()
	}
}

// Unsubscribe removes id unconditionally.
func (s *Source[S]) Unsubscribe(id SubscriberID) {
	s.mu.Lock()
	entry, ok := s.index[id]
	if ok {
		delete(s.index, id)
		for i, e := range s.subs {
			if e == entry {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		capitan.Emit(context.Background(), SubscriberRemoved,
			KeySource.Field(s.name),
			KeySubscriber.Field(string(id)),
		)
	}
}

// write replaces the current value and delivers it. Only the owning logic
// reaches this, through MutableSource or a model's transition methods.
func (s *Source[S]) write(v S) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = &v
	s.queue = append(s.queue, v)
	if s.delivering {
		// A callback (or a concurrent writer) is mid-delivery; it drains
		// the queue, preserving swap order without re-entering callbacks.
		s.mu.Unlock()
		return
	}
	s.delivering = true
	s.mu.Unlock()

	s.deliver()
}

func (s *Source[S]) deliver() {
	for {
		s.mu.Lock()

		// Initial snapshots for subscribers registered mid-delivery go out
		// before the next queued value; theirs is at least as old.
		var initials []func()
		for _, e := range s.subs {
			if e.pending == nil {
				continue
			}
			v, cb := *e.pending, e.fn
			e.pending = nil
			if e.live() {
				initials = append(initials, func() { cb(v) })
			}
		}
		if len(initials) > 0 {
			s.mu.Unlock()
			for _, d := range initials {
				d()
			}
			continue
		}

		if len(s.queue) == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		s.queue = s.queue[1:]

		live := make([]*subscriber[S], 0, len(s.subs))
		var purged []SubscriberID
		kept := s.subs[:0]
		for _, e := range s.subs {
			if !e.live() {
				delete(s.index, e.id)
				purged = append(purged, e.id)
				continue
			}
			kept = append(kept, e)
			live = append(live, e)
		}
		s.subs = kept
		s.mu.Unlock()

		for _, id := range purged {
			capitan.Emit(context.Background(), SubscriberPurged,
				KeySource.Field(s.name),
				KeySubscriber.Field(string(id)),
			)
		}

		capitan.Emit(context.Background(), SourceWrote,
			KeySource.Field(s.name),
			KeySourceID.Field(s.id),
		)

		for _, e := range live {
			e.fn(v)
		}
	}
}

// onClose registers cleanup run when the source closes. Derived sources use
// it to release their upstream subscriptions and timers.
func (s *Source[S]) onClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close releases the source: all of its actions expire with OwnerDestroyed,
// subscribers are dropped, and any upstream subscriptions or timers owned by
// the source are released. Close is idempotent.
func (s *Source[S]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.subs = nil
	s.index = make(map[SubscriberID]*subscriber[S])
	s.mu.Unlock()

	owners.release(s.handle)

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	capitan.Emit(context.Background(), SourceClosed,
		KeySource.Field(s.name),
		KeySourceID.Field(s.id),
	)
}

// Write replaces the current value and notifies subscribers.
func (m *MutableSource[S]) Write(v S) {
	m.write(v)
}

// Swap atomically derives the next state from the current one and publishes
// it. fn runs under the container lock and must not touch the source.
func (m *MutableSource[S]) Swap(fn func(S) S) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state == nil {
		v := m.initial()
		m.state = &v
	}
	next := fn(*m.state)
	m.state = &next
	m.queue = append(m.queue, next)
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	m.mu.Unlock()

	m.deliver()
}
