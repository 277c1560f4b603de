package surge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func persistedFetchRig(t *testing.T, seed *prefs) (*Source[Fetchable[prefs]], *MemoryStore[prefs], *atomic.Int32) {
	t.Helper()

	store := NewMemoryStore[prefs]()
	if seed != nil {
		_ = store.Save(context.Background(), StoredValue[prefs]{Value: *seed, SavedAt: time.Now()})
	}

	var calls atomic.Int32
	fetch := NewFetchSource("remote", func(_ context.Context, _ func(Progress)) (prefs, error) {
		calls.Add(1)
		return prefs{Theme: "fetched"}, nil
	})
	t.Cleanup(fetch.Close)

	persist := NewPersistSource[prefs]("cache", store)
	t.Cleanup(persist.Close)

	out := PersistedFetch(fetch.Source(), persist.Source())
	t.Cleanup(out.Close)
	return out, store, &calls
}

func TestPersistedFetch_ServesFreshPersistedValue(t *testing.T) {
	out, _, calls := persistedFetchRig(t, &prefs{Theme: "cached"})

	st := out.Read()
	if st.Phase != FetchPhaseFetched {
		t.Fatalf("expected Fetched from store, got %s", st.Phase)
	}
	if st.Value.Theme != "cached" {
		t.Errorf("expected cached value, got %q", st.Value.Theme)
	}
	if calls.Load() != 0 {
		t.Errorf("expected fetch untouched with a fresh persisted value, got %d calls", calls.Load())
	}
}

func TestPersistedFetch_FetchesWhenStoreEmpty(t *testing.T) {
	out, store, calls := persistedFetchRig(t, nil)

	if st := out.Read(); st.Phase != FetchPhaseFetching {
		t.Fatalf("expected Fetching with empty store, got %s", st.Phase)
	}
	waitFor(t, func() bool {
		st := out.Read()
		return st.Phase == FetchPhaseFetched && st.Value.Theme == "fetched"
	})
	if calls.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", calls.Load())
	}

	// The fetched value is written back for the next start.
	waitFor(t, func() bool {
		stored, ok, _ := store.Load(context.Background())
		return ok && stored.Value.Theme == "fetched"
	})
}

func TestPersistedFetch_RefreshAlwaysRefetches(t *testing.T) {
	out, _, calls := persistedFetchRig(t, &prefs{Theme: "cached"})

	st := out.Read()
	if calls.Load() != 0 {
		t.Fatalf("expected no fetch yet, got %d", calls.Load())
	}

	if err := st.Refresh.Invoke(Void{}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	waitFor(t, func() bool {
		st := out.Read()
		return st.Phase == FetchPhaseFetched && st.Value.Theme == "fetched"
	})
	if calls.Load() != 1 {
		t.Errorf("expected refresh to fetch, got %d calls", calls.Load())
	}
}

func TestPersistedFetch_ExpiredPersistedValueFetches(t *testing.T) {
	store := NewMemoryStore[prefs]()
	_ = store.Save(context.Background(), StoredValue[prefs]{
		Value:   prefs{Theme: "stale"},
		SavedAt: time.Now().Add(-2 * time.Hour),
	})

	var calls atomic.Int32
	fetch := NewFetchSource("remote", func(_ context.Context, _ func(Progress)) (prefs, error) {
		calls.Add(1)
		return prefs{Theme: "fetched"}, nil
	})
	defer fetch.Close()

	persist := NewPersistSource[prefs]("cache", store).TTL(time.Hour)
	defer persist.Close()

	out := PersistedFetch(fetch.Source(), persist.Source())
	defer out.Close()

	out.Read()
	waitFor(t, func() bool {
		st := out.Read()
		return st.Phase == FetchPhaseFetched && st.Value.Theme == "fetched"
	})
	if calls.Load() != 1 {
		t.Errorf("expected expired value to trigger a fetch, got %d calls", calls.Load())
	}
}
