package surge

import (
	"sync"

	"github.com/zoobzio/clockz"
)

// ConnectPhase is the variant tag of a Connectable.
type ConnectPhase int

const (
	// ConnectPhaseDisconnected indicates no inner resource is held.
	ConnectPhaseDisconnected ConnectPhase = iota

	// ConnectPhaseConnected indicates the inner resource is live.
	ConnectPhaseConnected
)

// String returns the string representation of the phase.
func (p ConnectPhase) String() string {
	switch p {
	case ConnectPhaseDisconnected:
		return "disconnected"
	case ConnectPhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connectable is the standard state machine for a lazily connected
// resource: Disconnected until Connect opens the inner source, Connected
// and tracking its value until Disconnect releases it.
type Connectable[V any] struct {
	// Phase selects the variant; only that variant's fields are meaningful.
	Phase ConnectPhase

	// Value is the inner source's latest value (Connected only).
	Value V

	// Connect opens the inner resource (Disconnected only).
	Connect Action[Void]

	// Disconnect releases the inner resource (Connected only).
	Disconnect Action[Void]
}

// Disconnected constructs the idle variant.
func Disconnected[V any](connect Action[Void]) Connectable[V] {
	return Connectable[V]{Phase: ConnectPhaseDisconnected, Connect: connect}
}

// Connected constructs the live variant.
func Connected[V any](value V, disconnect Action[Void]) Connectable[V] {
	return Connectable[V]{Phase: ConnectPhaseConnected, Value: value, Disconnect: disconnect}
}

// ActionManifest enumerates the capabilities reachable from this state.
func (c Connectable[V]) ActionManifest() []ActionID {
	return Manifest(c.Connect, c.Disconnect)
}

// ConnectSource owns a Connectable lifecycle. Connect lazily opens the
// inner source via the factory and mirrors its emissions (each emission
// mints a fresh Disconnect); Disconnect closes the inner source, freeing
// its resources.
type ConnectSource[V any] struct {
	src  *MutableSource[Connectable[V]]
	open func() *Source[V]

	mu    sync.Mutex
	inner *Source[V]
	subID SubscriberID
}

// NewConnectSource creates a lazily connected source. The factory runs on
// each Connect; the source it returns is owned by the ConnectSource and
// closed on Disconnect.
func NewConnectSource[V any](name string, open func() *Source[V]) *ConnectSource[V] {
	c := &ConnectSource[V]{open: open}
	c.src = NewSource(name, func() Connectable[V] {
		return Disconnected[V](c.connectAction())
	})
	c.src.onClose(c.release)
	return c
}

// Clock sets a custom clock for the source. Must be called before first
// access.
func (c *ConnectSource[V]) Clock(clock clockz.Clock) *ConnectSource[V] {
	c.src.clock = clock
	return c
}

// Audit routes this source's action executions to the given audit stream.
// Must be called before first access.
func (c *ConnectSource[V]) Audit(a *Audit) *ConnectSource[V] {
	c.src.audit = a
	c.src.core.audit = a
	return c
}

// Source returns the observable side of the connection lifecycle.
func (c *ConnectSource[V]) Source() *Source[Connectable[V]] {
	return c.src.Source
}

// Close releases the inner source, if any, and closes the source.
func (c *ConnectSource[V]) Close() {
	c.src.Close()
}

func (c *ConnectSource[V]) connectAction() Action[Void] {
	return NewAction(c.src.Source, "Connectable.connect", c.connect)
}

func (c *ConnectSource[V]) disconnectAction() Action[Void] {
	return NewAction(c.src.Source, "Connectable.disconnect", c.disconnect)
}

func (c *ConnectSource[V]) connect(Void) error {
	c.mu.Lock()
	if c.inner != nil {
		c.mu.Unlock()
		return nil
	}
	inner := c.open()
	id := NewSubscriberID()
	c.inner = inner
	c.subID = id
	c.mu.Unlock()

	// The first delivery carries the inner source's current value, so the
	// Connected state is published before connect returns.
	inner.Subscribe(id, true, func(v V) {
		c.src.Write(Connected(v, c.disconnectAction()))
	})
	return nil
}

func (c *ConnectSource[V]) disconnect(Void) error {
	c.release()
	c.src.Write(Disconnected[V](c.connectAction()))
	return nil
}

// release detaches from and closes the inner source, if any.
func (c *ConnectSource[V]) release() {
	c.mu.Lock()
	inner := c.inner
	id := c.subID
	c.inner = nil
	c.mu.Unlock()

	if inner != nil {
		inner.Unsubscribe(id)
		inner.Close()
	}
}
