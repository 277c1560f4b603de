package surge

import (
	"sync/atomic"
	"time"
)

// Void is the input type of actions that take no argument.
type Void struct{}

// actionSeq mints process-unique action sequence numbers.
var actionSeq atomic.Uint64

// Action is an opaque, equatable handle to a state-mutating method, embedded
// inside the state value that offers it. Invoking it calls the bound method
// on the owning source, but only while this exact capability is still part
// of the owner's current state: owners mint fresh actions on every state
// transition, so a handle captured from a superseded state fails with
// ErrActionExpired even though the method it names still exists.
//
// Action values are comparable; two handles are equal exactly when they were
// minted together. The zero Action behaves like a placeholder.
type Action[I any] struct {
	id          ActionID
	source      string
	owner       ownerHandle
	decoded     bool
	placeholder bool
}

// NewAction mints a capability bound to a method of the owning source. The
// method name should be scoped by the owning type ("Fetchable.refresh"); it
// is also the identifier tokens resolve against, so minting an action for a
// method re-registers the latest bound implementation under that name.
//
// Owning logic calls NewAction every time it constructs a new state, never
// reusing handles across transitions.
func NewAction[S any, I any](owner *Source[S], method string, fn func(I) error) Action[I] {
	owner.core.register(method, fn)
	return Action[I]{
		id:     ActionID{Name: method, Seq: actionSeq.Add(1)},
		source: owner.name,
		owner:  owner.handle,
	}
}

// Placeholder creates a design-time stand-in that always fails with
// ErrPlaceholderInvoked. Useful for previews and fixtures that need a
// structurally complete state without a live owner.
func Placeholder[I any](method string) Action[I] {
	return Action[I]{
		id:          ActionID{Name: method, Seq: actionSeq.Add(1)},
		placeholder: true,
	}
}

// ID returns the action's identity.
func (a Action[I]) ID() ActionID {
	return a.id
}

// String returns the action identity in printable form.
func (a Action[I]) String() string {
	return a.id.String()
}

// IsZero reports whether the action is the zero value, i.e. absent.
func (a Action[I]) IsZero() bool {
	return a == Action[I]{}
}

// manifestID feeds Manifest composition; zero and placeholder actions
// contribute nothing.
func (a Action[I]) manifestID() (ActionID, bool) {
	return a.id, !a.placeholder && a.id.Seq != 0
}

// Invoke executes the bound method with the given input if the capability is
// still valid. Every call, success or failure, emits one Execution record to
// the owner's audit stream (or the process default when the owner is gone).
//
// Errors: ErrPlaceholderInvoked, ErrOwnerDestroyed, ErrActionExpired,
// ErrDecodedWithInvalidMethod, or whatever the bound method returns.
func (a Action[I]) Invoke(input I) error {
	err := a.call(input)

	audit := defaultAudit
	if core := owners.resolve(a.owner); core != nil && core.audit != nil {
		audit = core.audit
	}
	audit.Record(Execution{
		Source: a.source,
		Action: a.id,
		Input:  input,
		Err:    err,
		At:     time.Now(),
	})

	return err
}

func (a Action[I]) call(input I) error {
	if a.placeholder || a.id == (ActionID{}) {
		return actionErr(a.id, a.source, ErrPlaceholderInvoked)
	}

	core := owners.resolve(a.owner)
	if core == nil {
		return actionErr(a.id, a.source, ErrOwnerDestroyed)
	}

	if a.decoded {
		if !core.containsName(a.id.Name) {
			return actionErr(a.id, a.source, ErrActionExpired)
		}
	} else if !core.contains(a.id) {
		return actionErr(a.id, a.source, ErrActionExpired)
	}

	mv, ok := core.method(a.id.Name)
	if !ok {
		return actionErr(a.id, a.source, ErrDecodedWithInvalidMethod)
	}
	fn, ok := mv.(func(I) error)
	if !ok {
		return actionErr(a.id, a.source, ErrDecodedWithInvalidMethod)
	}
	return fn(input)
}

// Token is the serialized form of an action: the method identifier plus the
// owning-type identifier. It carries no sequence, so a rehydrated action
// matches by name against whatever generation of the capability is live.
type Token struct {
	Action string `json:"action" yaml:"action"`
	Owner  string `json:"owner" yaml:"owner"`
}

// Token returns the serializable form of the action.
func (a Action[I]) Token() Token {
	return Token{Action: a.id.Name, Owner: a.source}
}

// ResolveToken rehydrates a serialized action against a live source.
// Resolution fails closed: ErrDecodedByWrongOwner if the token's owner
// identifier does not match the source, ErrDecodedWithInvalidMethod if the
// source has no such method or its input type is not I.
//
// The resolved action is validity-checked by method name on each Invoke, so
// it tracks the currently live generation of the capability.
func ResolveToken[S any, I any](owner *Source[S], tok Token) (Action[I], error) {
	id := ActionID{Name: tok.Action}

	if tok.Owner != owner.name {
		return Action[I]{}, actionErr(id, owner.name, ErrDecodedByWrongOwner)
	}
	mv, ok := owner.core.method(tok.Action)
	if !ok {
		return Action[I]{}, actionErr(id, owner.name, ErrDecodedWithInvalidMethod)
	}
	if _, ok := mv.(func(I) error); !ok {
		return Action[I]{}, actionErr(id, owner.name, ErrDecodedWithInvalidMethod)
	}

	return Action[I]{
		id:      id,
		source:  owner.name,
		owner:   owner.handle,
		decoded: true,
	}, nil
}
