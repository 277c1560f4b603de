package surge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// validate is the shared struct-tag validator instance.
var validate = validator.New()

// Validator is implemented by value types that carry their own validation
// logic. PersistSource checks it on load and set, in addition to struct
// tags.
type Validator interface {
	Validate() error
}

// validateValue runs both validation layers: the Validator interface when
// implemented, then go-playground struct tags for struct values.
func validateValue(v any) error {
	if vv, ok := v.(Validator); ok {
		if err := vv.Validate(); err != nil {
			return err
		}
	}
	if err := validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// Not a struct; tags don't apply.
			return nil
		}
		return err
	}
	return nil
}

// PersistPhase is the variant tag of a Persistable.
type PersistPhase int

const (
	// PersistPhaseNotFound indicates no persisted value exists.
	PersistPhaseNotFound PersistPhase = iota

	// PersistPhaseFound indicates a persisted value exists.
	PersistPhaseFound
)

// String returns the string representation of the phase.
func (p PersistPhase) String() string {
	switch p {
	case PersistPhaseNotFound:
		return "not-found"
	case PersistPhaseFound:
		return "found"
	default:
		return "unknown"
	}
}

// Persistable is the standard state machine for a persisted value: NotFound
// until Set, Found thereafter, back to NotFound via Clear. The owning
// container mints fresh actions on every transition.
type Persistable[V any] struct {
	// Phase selects the variant; only that variant's fields are meaningful.
	Phase PersistPhase

	// Value is the persisted value (Found only).
	Value V

	// Err is the load or save error that left the store empty (NotFound
	// only; may be nil).
	Err error

	// Expired reports whether the value outlived its TTL at the time this
	// state was built (Found only).
	Expired bool

	// SavedAt is when the value was persisted (Found only).
	SavedAt time.Time

	// Set persists a new value.
	Set Action[V]

	// Clear removes the persisted value (Found only).
	Clear Action[Void]
}

// PersistNotFound constructs the empty variant.
func PersistNotFound[V any](err error, set Action[V]) Persistable[V] {
	return Persistable[V]{Phase: PersistPhaseNotFound, Err: err, Set: set}
}

// PersistFound constructs the populated variant.
func PersistFound[V any](value V, savedAt time.Time, expired bool, set Action[V], clear Action[Void]) Persistable[V] {
	return Persistable[V]{
		Phase:   PersistPhaseFound,
		Value:   value,
		SavedAt: savedAt,
		Expired: expired,
		Set:     set,
		Clear:   clear,
	}
}

// ActionManifest enumerates the capabilities reachable from this state.
func (p Persistable[V]) ActionManifest() []ActionID {
	return Manifest(p.Set, p.Clear)
}

// PersistOption configures the save pipeline of a PersistSource. Options
// wrap the store write with pipz reliability patterns.
type PersistOption[V any] func(pipz.Chainable[*StoredValue[V]]) pipz.Chainable[*StoredValue[V]]

// WithSaveRetry retries failed store writes immediately up to maxAttempts
// times.
func WithSaveRetry[V any](maxAttempts int) PersistOption[V] {
	return func(p pipz.Chainable[*StoredValue[V]]) pipz.Chainable[*StoredValue[V]] {
		return pipz.NewRetry("save-retry", p, maxAttempts)
	}
}

// WithSaveBackoff retries failed store writes with exponential backoff.
func WithSaveBackoff[V any](maxAttempts int, baseDelay time.Duration) PersistOption[V] {
	return func(p pipz.Chainable[*StoredValue[V]]) pipz.Chainable[*StoredValue[V]] {
		return pipz.NewBackoff("save-backoff", p, maxAttempts, baseDelay)
	}
}

// WithSaveTimeout bounds each store write.
func WithSaveTimeout[V any](d time.Duration) PersistOption[V] {
	return func(p pipz.Chainable[*StoredValue[V]]) pipz.Chainable[*StoredValue[V]] {
		return pipz.NewTimeout("save-timeout", p, d)
	}
}

// PersistSource owns a Persistable lifecycle backed by a Store. The first
// access loads the store; Set and Clear actions write through it. With a
// watchable store and WatchStore enabled, external changes to the backend
// surface as fresh Found / NotFound transitions.
type PersistSource[V any] struct {
	src      *MutableSource[Persistable[V]]
	store    Store[V]
	pipeline pipz.Chainable[*StoredValue[V]]
	ttl      time.Duration
	watch    bool

	mu       sync.Mutex
	watching bool
	cancel   context.CancelFunc
}

// NewPersistSource creates a store-backed source. TTL, clock, and store
// watching are configured with chainable methods before first access.
//
// Example:
//
//	prefs := surge.NewPersistSource("prefs", surge.NewFileStore[Prefs](path)).
//	    TTL(24 * time.Hour).
//	    WatchStore()
func NewPersistSource[V any](name string, store Store[V], opts ...PersistOption[V]) *PersistSource[V] {
	pipeline := pipz.Apply(pipz.Name("save"), func(ctx context.Context, sv *StoredValue[V]) (*StoredValue[V], error) {
		return sv, store.Save(ctx, *sv)
	})
	var chain pipz.Chainable[*StoredValue[V]] = pipeline
	for _, opt := range opts {
		chain = opt(chain)
	}

	p := &PersistSource[V]{store: store, pipeline: chain}
	p.src = NewSource(name, func() Persistable[V] {
		return p.load()
	})
	p.src.onClose(p.stop)
	return p
}

// TTL sets how long a persisted value stays fresh; 0 (the default) means it
// never expires. Must be called before first access.
func (p *PersistSource[V]) TTL(d time.Duration) *PersistSource[V] {
	p.ttl = d
	return p
}

// Clock sets a custom clock for expiry computation. Must be called before
// first access.
func (p *PersistSource[V]) Clock(clock clockz.Clock) *PersistSource[V] {
	p.src.clock = clock
	return p
}

// Audit routes this source's action executions to the given audit stream.
// Must be called before first access.
func (p *PersistSource[V]) Audit(a *Audit) *PersistSource[V] {
	p.src.audit = a
	p.src.core.audit = a
	return p
}

// WatchStore reloads the source when the store's backend changes
// externally. The store must implement WatchableStore. Must be called
// before first access.
func (p *PersistSource[V]) WatchStore() *PersistSource[V] {
	p.watch = true
	return p
}

// Source returns the observable side of the persisted lifecycle.
func (p *PersistSource[V]) Source() *Source[Persistable[V]] {
	return p.src.Source
}

// Close stops watching and closes the source.
func (p *PersistSource[V]) Close() {
	p.src.Close()
}

func (p *PersistSource[V]) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *PersistSource[V]) expired(savedAt time.Time) bool {
	return p.ttl > 0 && p.src.clock.Now().Sub(savedAt) >= p.ttl
}

// load builds the state from the store and starts the watch loop on first
// use.
func (p *PersistSource[V]) load() Persistable[V] {
	p.startWatch()

	stored, ok, err := p.store.Load(context.Background())
	if err == nil && ok {
		err = validateValue(stored.Value)
		if err != nil {
			ok = false
		}
	}
	if err != nil || !ok {
		capitan.Emit(context.Background(), PersistMissed,
			KeySource.Field(p.src.name),
		)
		return PersistNotFound(err, p.setAction())
	}

	capitan.Emit(context.Background(), PersistLoaded,
		KeySource.Field(p.src.name),
	)
	return PersistFound(stored.Value, stored.SavedAt, p.expired(stored.SavedAt), p.setAction(), p.clearAction())
}

func (p *PersistSource[V]) setAction() Action[V] {
	return NewAction(p.src.Source, "Persistable.set", p.set)
}

func (p *PersistSource[V]) clearAction() Action[Void] {
	return NewAction(p.src.Source, "Persistable.clear", p.clear)
}

// set persists a new value and publishes Found. A failed write leaves the
// current phase in place; the error surfaces through the action result and
// the audit stream, and on an empty store also through NotFound.Err.
func (p *PersistSource[V]) set(v V) error {
	if err := validateValue(v); err != nil {
		return err
	}

	sv := StoredValue[V]{Value: v, SavedAt: p.src.clock.Now()}
	if _, err := p.pipeline.Process(context.Background(), &sv); err != nil {
		if p.src.Read().Phase == PersistPhaseNotFound {
			p.src.Write(PersistNotFound(err, p.setAction()))
		}
		return err
	}

	capitan.Emit(context.Background(), PersistSaved,
		KeySource.Field(p.src.name),
	)
	p.src.Write(PersistFound(v, sv.SavedAt, false, p.setAction(), p.clearAction()))
	return nil
}

// clear removes the persisted value and publishes NotFound.
func (p *PersistSource[V]) clear(Void) error {
	if err := p.store.Clear(context.Background()); err != nil {
		return err
	}

	capitan.Emit(context.Background(), PersistCleared,
		KeySource.Field(p.src.name),
	)
	p.src.Write(PersistNotFound[V](nil, p.setAction()))
	return nil
}

// startWatch begins the external-change loop once, when enabled and
// supported by the store.
func (p *PersistSource[V]) startWatch() {
	if !p.watch {
		return
	}
	ws, ok := p.store.(WatchableStore[V])
	if !ok {
		return
	}

	p.mu.Lock()
	if p.watching {
		p.mu.Unlock()
		return
	}
	p.watching = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	ticks, err := ws.Watch(ctx)
	if err != nil {
		cancel()
		return
	}

	go func() {
		for range ticks {
			p.src.Write(p.reload())
		}
	}()
}

// reload rebuilds the state from the store after an external change.
func (p *PersistSource[V]) reload() Persistable[V] {
	stored, ok, err := p.store.Load(context.Background())
	if err == nil && ok {
		err = validateValue(stored.Value)
		if err != nil {
			ok = false
		}
	}
	if err != nil || !ok {
		return PersistNotFound(err, p.setAction())
	}
	return PersistFound(stored.Value, stored.SavedAt, p.expired(stored.SavedAt), p.setAction(), p.clearAction())
}
