package surge

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// fetchRig is a hand-driven Fetchable upstream for operator tests.
type fetchRig struct {
	src     *MutableSource[Fetchable[int]]
	reloads atomic.Int32
}

func newFetchRig(name string) *fetchRig {
	r := &fetchRig{}
	r.src = NewSource(name, func() Fetchable[int] {
		return Fetching[int](nil)
	})
	return r
}

func (r *fetchRig) fetched(v int) {
	refresh := NewAction(r.src.Source, "Fetchable.refresh", func(Void) error {
		r.reloads.Add(1)
		return nil
	})
	r.src.Write(Fetched(v, refresh))
}

func (r *fetchRig) failed(err error, attempts int) {
	retry := NewAction(r.src.Source, "Fetchable.retry", func(Void) error {
		r.reloads.Add(1)
		return nil
	})
	r.src.Write(FetchFailed[int](err, attempts, retry))
}

func (r *fetchRig) fetching() {
	r.src.Write(Fetching[int](nil))
}

func TestCombineFetch_FetchingUntilBothFetched(t *testing.T) {
	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()

	if st := out.Read(); st.Phase != FetchPhaseFetching {
		t.Fatalf("expected Fetching, got %s", st.Phase)
	}

	a.fetched(10)
	if st := out.Read(); st.Phase != FetchPhaseFetching {
		t.Fatalf("expected still Fetching with one side done, got %s", st.Phase)
	}

	b.fetched(20)
	st := out.Read()
	if st.Phase != FetchPhaseFetched {
		t.Fatalf("expected Fetched, got %s", st.Phase)
	}
	if st.Value.First != 10 || st.Value.Second != 20 {
		t.Errorf("expected pair (10,20), got %+v", st.Value)
	}
}

func TestCombineFetch_KeepsStalePairDuringRefresh(t *testing.T) {
	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()

	a.fetched(10)
	b.fetched(20)
	out.Read()

	var mu sync.Mutex
	var emissions int
	out.Subscribe(NewSubscriberID(), false, func(Fetchable[Pair[int, int]]) {
		mu.Lock()
		emissions++
		mu.Unlock()
	})

	// One side goes back in flight: the combined source keeps showing the
	// last complete pair and emits nothing.
	a.fetching()
	st := out.Read()
	if st.Phase != FetchPhaseFetched || st.Value.First != 10 || st.Value.Second != 20 {
		t.Fatalf("expected stale pair (10,20), got %s %+v", st.Phase, st.Value)
	}
	mu.Lock()
	if emissions != 0 {
		t.Errorf("expected no emission while stale pair shows, got %d", emissions)
	}
	mu.Unlock()

	a.fetched(11)
	st = out.Read()
	if st.Value.First != 11 || st.Value.Second != 20 {
		t.Errorf("expected updated pair (11,20), got %+v", st.Value)
	}
}

func TestCombineFetch_CombinedRefreshSwapsAtomically(t *testing.T) {
	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()

	a.fetched(10)
	b.fetched(20)

	st := out.Read()
	if err := st.Refresh.Invoke(Void{}); err != nil {
		t.Fatalf("combined Refresh failed: %v", err)
	}
	if a.reloads.Load() != 1 || b.reloads.Load() != 1 {
		t.Fatalf("expected both sides reloaded, got a=%d b=%d", a.reloads.Load(), b.reloads.Load())
	}

	a.fetching()
	b.fetching()
	a.fetched(11)
	// One new side is not enough; the old pair still shows.
	if st := out.Read(); st.Value.First != 10 || st.Value.Second != 20 {
		t.Fatalf("expected old pair until both sides refresh, got %+v", st.Value)
	}

	b.fetched(21)
	if st := out.Read(); st.Value.First != 11 || st.Value.Second != 21 {
		t.Errorf("expected new pair (11,21), got %+v", st.Value)
	}
}

func TestCombineFetch_FailurePropagates(t *testing.T) {
	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()
	out.Read()

	boom := errors.New("boom")
	b.failed(boom, 1)

	st := out.Read()
	if st.Phase != FetchPhaseFailed {
		t.Fatalf("expected Failed, got %s", st.Phase)
	}
	if !errors.Is(st.Err, boom) {
		t.Errorf("expected wrapped upstream error, got %v", st.Err)
	}
	if st.FailedAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", st.FailedAttempts)
	}
}

func TestCombineFetch_RepeatFailureSuppressed(t *testing.T) {
	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()
	out.Read()

	var mu sync.Mutex
	var failures int
	out.Subscribe(NewSubscriberID(), false, func(st Fetchable[Pair[int, int]]) {
		if st.Phase == FetchPhaseFailed {
			mu.Lock()
			failures++
			mu.Unlock()
		}
	})

	boom := errors.New("boom")
	b.failed(boom, 1)
	b.failed(boom, 1) // identical: suppressed as a repeat

	mu.Lock()
	if failures != 1 {
		t.Errorf("expected 1 failure emission, got %d", failures)
	}
	mu.Unlock()

	b.failed(boom, 2) // attempt count changed: surfaces
	mu.Lock()
	defer mu.Unlock()
	if failures != 2 {
		t.Errorf("expected 2 failure emissions, got %d", failures)
	}
}

func TestCombineFetch_RetryReloadsFailedSidesOnly(t *testing.T) {
	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()

	a.fetched(10)
	b.failed(errors.New("boom"), 1)

	st := out.Read()
	if st.Phase != FetchPhaseFailed {
		t.Fatalf("expected Failed, got %s", st.Phase)
	}
	if err := st.Retry.Invoke(Void{}); err != nil {
		t.Fatalf("combined Retry failed: %v", err)
	}
	if a.reloads.Load() != 0 {
		t.Errorf("expected healthy side untouched, got %d reloads", a.reloads.Load())
	}
	if b.reloads.Load() != 1 {
		t.Errorf("expected failed side reloaded once, got %d", b.reloads.Load())
	}
}

func TestCombineFetch_MergedProgressSums(t *testing.T) {
	pa := NewSource("pa", func() Progress { return Progress{Completed: 10, Total: 100} })
	defer pa.Close()
	pb := NewSource("pb", func() Progress { return Progress{Completed: 20, Total: 100} })
	defer pb.Close()

	a := newFetchRig("a")
	defer a.src.Close()
	b := newFetchRig("b")
	defer b.src.Close()
	a.src.Write(Fetching[int](pa.Source))
	b.src.Write(Fetching[int](pb.Source))

	out := CombineFetch(a.src.Source, b.src.Source)
	defer out.Close()

	st := out.Read()
	if st.Phase != FetchPhaseFetching {
		t.Fatalf("expected Fetching, got %s", st.Phase)
	}
	if st.Progress == nil {
		t.Fatal("expected merged progress")
	}
	p := st.Progress.Read()
	if p.Completed != 30 || p.Total != 200 {
		t.Errorf("expected merged progress 30/200, got %+v", p)
	}

	pa.Write(Progress{Completed: 60, Total: 100})
	waitFor(t, func() bool {
		return st.Progress.Read().Completed == 80
	})
}
