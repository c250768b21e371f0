package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBucketFormats(t *testing.T) {
	ts := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)
	cases := []struct {
		scope Scope
		want  string
	}{
		{ScopeRateHourly, "2026-07-30-14"},
		{ScopeCostDaily, "2026-07-30"},
		{ScopeCostMonthly, "2026-07"},
		{ScopeCostTotal, ""},
	}
	for _, c := range cases {
		if got := Bucket(c.scope, ts); got != c.want {
			t.Errorf("Bucket(%s) = %q, want %q", c.scope, got, c.want)
		}
	}
}

func TestMemoryStoreAddIsAtomicAndMonotonic(t *testing.T) {
	store := NewMemoryStore()
	key := Key{Scope: ScopeRateHourly, Dimension: "global", Bucket: "2026-07-30-14"}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.Add(context.Background(), key, 1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != n {
		t.Fatalf("Get() = %v, want %d (counter must not lose concurrent increments)", got, n)
	}
}

func TestMemoryStoreAddReturnsNewValue(t *testing.T) {
	store := NewMemoryStore()
	key := Key{Scope: ScopeCostDaily, Dimension: "global", Bucket: "2026-07-30"}

	v, err := store.Add(context.Background(), key, 0.5)
	if err != nil || v != 0.5 {
		t.Fatalf("Add() = (%v, %v), want (0.5, nil)", v, err)
	}
	v, err = store.Add(context.Background(), key, 0.25)
	if err != nil || v != 0.75 {
		t.Fatalf("Add() = (%v, %v), want (0.75, nil)", v, err)
	}
}

func TestMemoryStoreSweepDropsStaleBuckets(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stale := Key{Scope: ScopeCostDaily, Dimension: "global", Bucket: "2020-01-01"}
	fresh := Key{Scope: ScopeCostDaily, Dimension: "global", Bucket: "2026-07-30"}
	total := Key{Scope: ScopeCostTotal, Dimension: "global", Bucket: ""}

	if _, err := store.Add(ctx, stale, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(ctx, fresh, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(ctx, total, 1); err != nil {
		t.Fatal(err)
	}

	if err := store.Sweep(ctx, time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if v, _ := store.Get(ctx, stale); v != 0 {
		t.Fatalf("expected stale bucket swept, got %v", v)
	}
	if v, _ := store.Get(ctx, fresh); v != 1 {
		t.Fatalf("expected fresh bucket retained, got %v", v)
	}
	if v, _ := store.Get(ctx, total); v != 1 {
		t.Fatal("expected total-scope counter never swept")
	}
}
