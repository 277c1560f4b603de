package surge

import "testing"

func TestActionID_String(t *testing.T) {
	id := ActionID{Name: "lamp.toggle", Seq: 7}
	if s := id.String(); s != "lamp.toggle#7" {
		t.Errorf("expected 'lamp.toggle#7', got %q", s)
	}
}

func TestActionID_String_Decoded(t *testing.T) {
	id := ActionID{Name: "lamp.toggle"}
	if s := id.String(); s != "lamp.toggle" {
		t.Errorf("expected bare name for decoded identity, got %q", s)
	}
}

type nestedState struct {
	Inner lampState
	Extra Action[int]
}

func (s nestedState) ActionManifest() []ActionID {
	return Manifest(s.Inner, s.Extra)
}

func TestManifest_ComposesParts(t *testing.T) {
	lamp, _ := newLamp("manifest-lamp")
	defer lamp.Close()

	extra := NewAction(lamp.Source, "lamp.dim", func(int) error { return nil })
	state := nestedState{Inner: lamp.Read(), Extra: extra}

	ids := state.ActionManifest()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if ids[0].Name != "lamp.toggle" || ids[1].Name != "lamp.dim" {
		t.Errorf("unexpected manifest %v", ids)
	}
}

func TestManifest_SkipsInertParts(t *testing.T) {
	ids := Manifest(
		nil,
		Action[Void]{},            // zero contributes nothing
		Placeholder[Void]("x.y"),  // placeholders contribute nothing
		"not an action",           // inert
		[]ActionID{{Name: "a.b", Seq: 1}},
	)
	if len(ids) != 1 || ids[0].Name != "a.b" {
		t.Errorf("expected only the explicit id, got %v", ids)
	}
}

func TestManifest_Capped(t *testing.T) {
	huge := make([]ActionID, maxManifest+10)
	for i := range huge {
		huge[i] = ActionID{Name: "x", Seq: uint64(i + 1)}
	}
	ids := Manifest(huge)
	if len(ids) != maxManifest {
		t.Errorf("expected manifest capped at %d, got %d", maxManifest, len(ids))
	}
}

func TestManifest_ContainsHelpers(t *testing.T) {
	m := []ActionID{{Name: "a", Seq: 1}, {Name: "b", Seq: 2}}
	if !manifestContains(m, ActionID{Name: "a", Seq: 1}) {
		t.Error("expected exact id to match")
	}
	if manifestContains(m, ActionID{Name: "a", Seq: 9}) {
		t.Error("expected differing seq not to match")
	}
	if !manifestContainsName(m, "b") {
		t.Error("expected name match")
	}
	if manifestContainsName(m, "c") {
		t.Error("expected missing name not to match")
	}
}
