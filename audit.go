package surge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// DefaultAuditHistory is the number of recent executions the default audit
// stream retains.
const DefaultAuditHistory = 64

// Execution records one attempted action invocation, success or failure.
// Every Invoke call produces exactly one record. The stream exists for
// debugging and audit, never for control flow.
type Execution struct {
	// Source is the name of the owning source, or empty if the owner was
	// already destroyed when the action fired.
	Source string

	// Action identifies the invoked capability.
	Action ActionID

	// Input is the value the action was invoked with.
	Input any

	// Err is nil on success, otherwise the invocation error.
	Err error

	// At is the invocation time.
	At time.Time
}

// Sink receives execution records from an Audit stream.
type Sink interface {
	Record(Execution)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Execution)

// Record calls the wrapped function.
func (f SinkFunc) Record(ex Execution) { f(ex) }

// Audit is an observability stream of action executions. It is explicitly
// constructed and handed to sources rather than hidden in a global, so a
// test harness can scope one to itself; DefaultAudit covers the common
// process-wide case.
type Audit struct {
	mu      sync.RWMutex
	sinks   []*sinkEntry
	onFail  func(Execution)
	history *executionRing
}

// sinkEntry wraps an attached sink so detach can match by slot identity.
// Sinks with uncomparable dynamic types (SinkFunc included) cannot be
// located by interface equality.
type sinkEntry struct {
	sink Sink
}

// NewAudit creates an audit stream retaining the given number of recent
// executions (0 disables history).
func NewAudit(history int) *Audit {
	return &Audit{history: newExecutionRing(history)}
}

// Attach adds a sink and returns a function that detaches it.
func (a *Audit) Attach(s Sink) func() {
	entry := &sinkEntry{sink: s}
	a.mu.Lock()
	a.sinks = append(a.sinks, entry)
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, cur := range a.sinks {
			if cur == entry {
				a.sinks = append(a.sinks[:i], a.sinks[i+1:]...)
				return
			}
		}
	}
}

// SetFailureHandler replaces the failure handler wholesale. The default
// handler logs failed invocations; pass nil to silence it.
func (a *Audit) SetFailureHandler(fn func(Execution)) {
	a.mu.Lock()
	a.onFail = fn
	a.mu.Unlock()
}

// Record distributes one execution to every attached sink, the failure
// handler, and the capitan bus.
func (a *Audit) Record(ex Execution) {
	a.history.push(ex)

	a.mu.RLock()
	sinks := make([]*sinkEntry, len(a.sinks))
	copy(sinks, a.sinks)
	onFail := a.onFail
	a.mu.RUnlock()

	for _, e := range sinks {
		e.sink.Record(ex)
	}
	if ex.Err != nil && onFail != nil {
		onFail(ex)
	}

	// Invocations happen on caller threads that carry no request context.
	ctx := context.Background()
	if ex.Err != nil {
		capitan.Emit(ctx, ActionFailed,
			KeySource.Field(ex.Source),
			KeyAction.Field(ex.Action.String()),
			KeyError.Field(ex.Err.Error()),
		)
	} else {
		capitan.Emit(ctx, ActionInvoked,
			KeySource.Field(ex.Source),
			KeyAction.Field(ex.Action.String()),
		)
	}
}

// Recent returns the retained execution history, oldest first.
func (a *Audit) Recent() []Execution {
	return a.history.all()
}

var defaultAudit = func() *Audit {
	a := NewAudit(DefaultAuditHistory)
	a.SetFailureHandler(func(ex Execution) {
		log.Printf("surge: action %s failed: %v", ex.Action, ex.Err)
	})
	return a
}()

// DefaultAudit returns the process-wide audit stream. Sources use it unless
// constructed with WithAudit.
func DefaultAudit() *Audit {
	return defaultAudit
}
