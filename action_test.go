package surge

import (
	"errors"
	"sync/atomic"
	"testing"
)

// lampState is a minimal action-bearing state machine for tests.
type lampState struct {
	On     bool
	Toggle Action[Void]
}

func (s lampState) ActionManifest() []ActionID {
	return Manifest(s.Toggle)
}

// newLamp builds a source whose state carries a Toggle action; every toggle
// transitions the state and mints a fresh action.
func newLamp(name string, opts ...SourceOption) (*MutableSource[lampState], *atomic.Int32) {
	var src *MutableSource[lampState]
	var toggles atomic.Int32

	var mint func() Action[Void]
	mint = func() Action[Void] {
		return NewAction(src.Source, "lamp.toggle", func(Void) error {
			toggles.Add(1)
			on := src.Read().On
			src.Write(lampState{On: !on, Toggle: mint()})
			return nil
		})
	}
	src = NewSource(name, func() lampState {
		return lampState{Toggle: mint()}
	}, opts...)
	return src, &toggles
}

func TestAction_InvokeRunsBoundMethod(t *testing.T) {
	lamp, toggles := newLamp("lamp")
	defer lamp.Close()

	if err := lamp.Read().Toggle.Invoke(Void{}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if toggles.Load() != 1 {
		t.Errorf("expected 1 toggle, got %d", toggles.Load())
	}
	if !lamp.Read().On {
		t.Error("expected lamp on after toggle")
	}
}

func TestAction_ExpiredAfterTransition(t *testing.T) {
	lamp, toggles := newLamp("lamp-expired")
	defer lamp.Close()

	stale := lamp.Read().Toggle
	if err := stale.Invoke(Void{}); err != nil {
		t.Fatalf("first Invoke failed: %v", err)
	}

	// The transition minted a fresh Toggle; the captured one is now stale.
	err := stale.Invoke(Void{})
	if !errors.Is(err, ErrActionExpired) {
		t.Fatalf("expected ErrActionExpired, got %v", err)
	}
	if toggles.Load() != 1 {
		t.Errorf("expected stale action not to run, got %d toggles", toggles.Load())
	}

	if err := lamp.Read().Toggle.Invoke(Void{}); err != nil {
		t.Errorf("fresh action should work: %v", err)
	}
}

func TestAction_OwnerDestroyed(t *testing.T) {
	lamp, toggles := newLamp("lamp-destroyed")
	act := lamp.Read().Toggle
	lamp.Close()

	err := act.Invoke(Void{})
	if !errors.Is(err, ErrOwnerDestroyed) {
		t.Fatalf("expected ErrOwnerDestroyed, got %v", err)
	}
	if toggles.Load() != 0 {
		t.Errorf("expected no toggles, got %d", toggles.Load())
	}
}

func TestAction_PlaceholderInvoked(t *testing.T) {
	act := Placeholder[Void]("preview.action")
	if err := act.Invoke(Void{}); !errors.Is(err, ErrPlaceholderInvoked) {
		t.Errorf("expected ErrPlaceholderInvoked, got %v", err)
	}
}

func TestAction_ZeroBehavesLikePlaceholder(t *testing.T) {
	var act Action[Void]
	if !act.IsZero() {
		t.Error("expected zero action to report IsZero")
	}
	if err := act.Invoke(Void{}); !errors.Is(err, ErrPlaceholderInvoked) {
		t.Errorf("expected ErrPlaceholderInvoked, got %v", err)
	}
}

func TestAction_Equality(t *testing.T) {
	lamp, _ := newLamp("lamp-eq")
	defer lamp.Close()

	act := lamp.Read().Toggle
	same := act
	if act != same {
		t.Error("expected copied action to compare equal")
	}

	other := NewAction(lamp.Source, "lamp.toggle", func(Void) error { return nil })
	if act == other {
		t.Error("expected separately minted actions to compare unequal")
	}
}

func TestAction_ErrorCarriesIdentity(t *testing.T) {
	lamp, _ := newLamp("lamp-err")
	act := lamp.Read().Toggle
	lamp.Close()

	err := act.Invoke(Void{})
	var ae *ActionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *ActionError, got %T", err)
	}
	if ae.Action.Name != "lamp.toggle" {
		t.Errorf("expected action name in error, got %q", ae.Action.Name)
	}
	if ae.Source != "lamp-err" {
		t.Errorf("expected source name in error, got %q", ae.Source)
	}
}

func TestToken_ResolveAndInvoke(t *testing.T) {
	lamp, toggles := newLamp("lamp-token")
	defer lamp.Close()

	tok := lamp.Read().Toggle.Token()
	if tok.Action != "lamp.toggle" || tok.Owner != "lamp-token" {
		t.Fatalf("unexpected token %+v", tok)
	}

	resolved, err := ResolveToken[lampState, Void](lamp.Source, tok)
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	if err := resolved.Invoke(Void{}); err != nil {
		t.Fatalf("resolved Invoke failed: %v", err)
	}
	if toggles.Load() != 1 {
		t.Errorf("expected 1 toggle, got %d", toggles.Load())
	}

	// A decoded action matches by name, so it stays valid across the
	// transition its own invocation caused.
	if err := resolved.Invoke(Void{}); err != nil {
		t.Errorf("decoded action should track the live generation: %v", err)
	}
}

func TestToken_WrongOwner(t *testing.T) {
	lamp, _ := newLamp("lamp-a")
	defer lamp.Close()
	other, _ := newLamp("lamp-b")
	defer other.Close()

	tok := lamp.Read().Toggle.Token()
	_, err := ResolveToken[lampState, Void](other.Source, tok)
	if !errors.Is(err, ErrDecodedByWrongOwner) {
		t.Errorf("expected ErrDecodedByWrongOwner, got %v", err)
	}
}

func TestToken_UnknownMethod(t *testing.T) {
	lamp, _ := newLamp("lamp-unknown")
	defer lamp.Close()
	lamp.Read() // register methods

	_, err := ResolveToken[lampState, Void](lamp.Source, Token{Action: "lamp.explode", Owner: "lamp-unknown"})
	if !errors.Is(err, ErrDecodedWithInvalidMethod) {
		t.Errorf("expected ErrDecodedWithInvalidMethod, got %v", err)
	}
}

func TestToken_WrongInputType(t *testing.T) {
	lamp, _ := newLamp("lamp-badtype")
	defer lamp.Close()
	tok := lamp.Read().Toggle.Token()

	_, err := ResolveToken[lampState, int](lamp.Source, tok)
	if !errors.Is(err, ErrDecodedWithInvalidMethod) {
		t.Errorf("expected ErrDecodedWithInvalidMethod, got %v", err)
	}
}

func TestToken_ExpiredMethodFailsOnInvoke(t *testing.T) {
	// A decoded action resolves while the method is registered but must
	// still fail when no current-state capability carries its name.
	var src *MutableSource[lampState]
	act := func() Action[Void] {
		return NewAction(src.Source, "lamp.toggle", func(Void) error { return nil })
	}
	src = NewSource("lamp-gone", func() lampState {
		return lampState{Toggle: act()}
	})
	defer src.Close()

	tok := src.Read().Toggle.Token()
	resolved, err := ResolveToken[lampState, Void](src.Source, tok)
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}

	// Transition to a state without the capability.
	src.Write(lampState{})
	if err := resolved.Invoke(Void{}); !errors.Is(err, ErrActionExpired) {
		t.Errorf("expected ErrActionExpired, got %v", err)
	}
}

func TestAction_InvocationsRecorded(t *testing.T) {
	audit := NewAudit(8)
	var records []Execution
	detach := audit.Attach(SinkFunc(func(ex Execution) {
		records = append(records, ex)
	}))
	defer detach()

	lamp, _ := newLamp("lamp-audit", WithAudit(audit))
	defer lamp.Close()

	stale := lamp.Read().Toggle
	if err := stale.Invoke(Void{}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	_ = stale.Invoke(Void{}) // expired, still recorded

	if len(records) != 2 {
		t.Fatalf("expected 2 execution records, got %d", len(records))
	}
	if records[0].Err != nil {
		t.Errorf("expected first record to succeed, got %v", records[0].Err)
	}
	if !errors.Is(records[1].Err, ErrActionExpired) {
		t.Errorf("expected second record to carry ErrActionExpired, got %v", records[1].Err)
	}
	if records[0].Source != "lamp-audit" {
		t.Errorf("expected source name on record, got %q", records[0].Source)
	}
}
