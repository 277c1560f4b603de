package surge

import (
	"sync"
	"weak"
)

// ownerCore is the part of a source that actions reach through the arena.
// It is held weakly so an abandoned source can be collected even while
// serialized or captured actions still reference its slot.
type ownerCore struct {
	name     string
	sourceID string

	mu      sync.RWMutex
	methods map[string]any // method name -> func(I) error
	audit   *Audit

	// contains reports whether the given action identity is part of the
	// owning source's current state. containsName matches by method name
	// only, for actions rehydrated from tokens.
	contains     func(ActionID) bool
	containsName func(string) bool
}

func (c *ownerCore) register(name string, fn any) {
	c.mu.Lock()
	c.methods[name] = fn
	c.mu.Unlock()
}

func (c *ownerCore) method(name string) (any, bool) {
	c.mu.RLock()
	fn, ok := c.methods[name]
	c.mu.RUnlock()
	return fn, ok
}

// ownerHandle is a generation-checked index into the owner arena. Actions
// carry only this handle, never a pointer, so holding an action does not
// keep its source alive. The zero handle resolves to nothing.
type ownerHandle struct {
	index uint32
	gen   uint32
}

type arenaSlot struct {
	gen  uint32
	core weak.Pointer[ownerCore]
}

// ownerArena maps handles to live owner cores. Releasing a slot bumps its
// generation, so stale handles held by expired actions fail to resolve even
// after the slot is reused.
type ownerArena struct {
	mu    sync.Mutex
	slots []arenaSlot
	free  []uint32
}

// owners is the process arena. Sources register on construction and release
// on Close.
var owners ownerArena

func (a *ownerArena) add(core *ownerCore) ownerHandle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = uint32(len(a.slots) - 1) //nolint:gosec // slot count bounded by live sources
	}

	slot := &a.slots[idx]
	slot.gen++
	slot.core = weak.Make(core)
	return ownerHandle{index: idx, gen: slot.gen}
}

func (a *ownerArena) release(h ownerHandle) {
	if h == (ownerHandle{}) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		return
	}
	slot := &a.slots[h.index]
	if slot.gen != h.gen {
		return
	}
	slot.gen++
	slot.core = weak.Pointer[ownerCore]{}
	a.free = append(a.free, h.index)
}

// resolve returns the owner core for a handle, or nil if the slot was
// released or the core was collected.
func (a *ownerArena) resolve(h ownerHandle) *ownerCore {
	if h == (ownerHandle{}) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[h.index]
	if slot.gen != h.gen {
		return nil
	}
	return slot.core.Value()
}
