package surge

import "fmt"

// ActionID identifies one minted capability. Name is the method identifier
// scoped by the owning type ("Fetchable.refresh"); Seq is a process-unique
// sequence assigned at construction, so actions minted for different state
// transitions are structurally distinct even when they name the same method.
//
// A Seq of zero marks an identity reconstructed from a token, which matches
// by name only.
type ActionID struct {
	Name string
	Seq  uint64
}

// String returns the identity in "name#seq" form.
func (id ActionID) String() string {
	if id.Seq == 0 {
		return id.Name
	}
	return fmt.Sprintf("%s#%d", id.Name, id.Seq)
}

// ActionBearer is implemented by state types whose variants carry actions.
// Each state enumerates the identities of the capabilities reachable from
// it; the enumeration replaces any runtime structural introspection, which
// keeps validity checks cheap and total.
//
// Child *Source values inside a state are opaque: their states carry their
// own manifests and must not be folded into the parent's.
type ActionBearer interface {
	ActionManifest() []ActionID
}

// maxManifest bounds the size of a composed manifest. States are small
// closed machines; hitting the cap means a bearer is folding an unbounded
// aggregate into its manifest.
const maxManifest = 1024

// Manifest composes a manifest from actions and nested bearers. Each part
// may be an Action, an ActionBearer, a []ActionID, or nil; anything else is
// inert. Zero and placeholder actions contribute nothing.
func Manifest(parts ...any) []ActionID {
	var out []ActionID
	for _, part := range parts {
		if len(out) >= maxManifest {
			return out[:maxManifest]
		}
		switch p := part.(type) {
		case nil:
		case interface{ manifestID() (ActionID, bool) }:
			if id, ok := p.manifestID(); ok {
				out = append(out, id)
			}
		case ActionBearer:
			out = append(out, p.ActionManifest()...)
		case []ActionID:
			out = append(out, p...)
		}
	}
	if len(out) > maxManifest {
		out = out[:maxManifest]
	}
	return out
}

// manifestOf returns the manifest of a state value, or nil for states that
// carry no actions.
func manifestOf(state any) []ActionID {
	if b, ok := state.(ActionBearer); ok {
		return b.ActionManifest()
	}
	return nil
}

func manifestContains(manifest []ActionID, id ActionID) bool {
	for _, m := range manifest {
		if m == id {
			return true
		}
	}
	return false
}

func manifestContainsName(manifest []ActionID, name string) bool {
	for _, m := range manifest {
		if m.Name == name {
			return true
		}
	}
	return false
}
