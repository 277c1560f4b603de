package surge

import "sync"

// executionRing is a thread-safe ring buffer of recent action executions.
type executionRing struct {
	mu      sync.RWMutex
	records []Execution
	size    int
	head    int
	count   int
}

// newExecutionRing creates a ring buffer with the given capacity.
// If size is 0, the ring buffer is disabled.
func newExecutionRing(size int) *executionRing {
	if size <= 0 {
		return nil
	}
	return &executionRing{
		records: make([]Execution, size),
		size:    size,
	}
}

// push adds a record to the ring buffer.
func (r *executionRing) push(ex Execution) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.head] = ex
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// all returns the buffered records, oldest first.
func (r *executionRing) all() []Execution {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	result := make([]Execution, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		result[i] = r.records[(start+i)%r.size]
	}
	return result
}
