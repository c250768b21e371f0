package limit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/santrancisco/ai-gateway/internal/apierror"
	"github.com/santrancisco/ai-gateway/internal/counter"
)

var fixedNow = time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

func TestCheckDeniesOverHourlyLimit(t *testing.T) {
	store := counter.NewMemoryStore()
	gate := New(store, Config{HourlyRequests: 2})
	ctx := context.Background()

	if err := gate.Check(ctx, Global, fixedNow); err != nil {
		t.Fatalf("1st check: %v", err)
	}
	if err := gate.Record(ctx, Global, 0, fixedNow); err != nil {
		t.Fatal(err)
	}
	if err := gate.Check(ctx, Global, fixedNow); err != nil {
		t.Fatalf("2nd check: %v", err)
	}
	if err := gate.Record(ctx, Global, 0, fixedNow); err != nil {
		t.Fatal(err)
	}

	err := gate.Check(ctx, Global, fixedNow)
	if err == nil {
		t.Fatal("expected 3rd request to be denied")
	}
	ae, ok := apierror.As(err)
	if !ok || ae.Kind() != apierror.KindRateLimited {
		t.Fatalf("expected KindRateLimited, got %v", err)
	}
	if ae.HTTPStatus() != 429 {
		t.Fatalf("HTTPStatus() = %d, want 429", ae.HTTPStatus())
	}
}

func TestCheckDeniesOverCostLimit(t *testing.T) {
	store := counter.NewMemoryStore()
	gate := New(store, Config{DailyCost: 0.01})
	ctx := context.Background()

	if err := gate.Check(ctx, Global, fixedNow); err != nil {
		t.Fatalf("first check should pass: %v", err)
	}
	if err := gate.Record(ctx, Global, 0.02, fixedNow); err != nil {
		t.Fatal(err)
	}

	err := gate.Check(ctx, Global, fixedNow)
	if err == nil {
		t.Fatal("expected denial once the daily counter crosses the limit")
	}
	ae, ok := apierror.As(err)
	if !ok || ae.Kind() != apierror.KindCostLimitExceeded {
		t.Fatalf("expected KindCostLimitExceeded, got %v", err)
	}
}

func TestCheckUnconfiguredLimitsNeverDeny(t *testing.T) {
	store := counter.NewMemoryStore()
	gate := New(store, Config{})
	ctx := context.Background()
	if err := gate.Record(ctx, Global, 1000, fixedNow); err != nil {
		t.Fatal(err)
	}
	if err := gate.Check(ctx, Global, fixedNow); err != nil {
		t.Fatalf("unconfigured gate must never deny, got %v", err)
	}
}

func TestRecordConcurrentRequestsExactCounters(t *testing.T) {
	store := counter.NewMemoryStore()
	gate := New(store, Config{})
	ctx := context.Background()

	const n = 100
	const perRequestCost = 0.000123
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := gate.Record(ctx, Global, perRequestCost, fixedNow); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rateKey := counter.Key{Scope: counter.ScopeRateHourly, Dimension: Global, Bucket: counter.Bucket(counter.ScopeRateHourly, fixedNow)}
	rate, _ := store.Get(ctx, rateKey)
	if rate != n {
		t.Fatalf("rate counter = %v, want %d", rate, n)
	}

	costKey := counter.Key{Scope: counter.ScopeCostTotal, Dimension: Global, Bucket: ""}
	got, _ := store.Get(ctx, costKey)
	want := float64(n) * perRequestCost
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost counter = %v, want %v", got, want)
	}
}

func TestRateCheckedBeforeCost(t *testing.T) {
	// With both limits exhausted, the rate kind must win (rate is checked first).
	store := counter.NewMemoryStore()
	gate := New(store, Config{HourlyRequests: 1, DailyCost: 0.01})
	ctx := context.Background()
	if err := gate.Record(ctx, Global, 0.02, fixedNow); err != nil {
		t.Fatal(err)
	}
	if err := gate.Record(ctx, Global, 0, fixedNow); err != nil {
		t.Fatal(err)
	}
	err := gate.Check(ctx, Global, fixedNow)
	ae, ok := apierror.As(err)
	if !ok || ae.Kind() != apierror.KindRateLimited {
		t.Fatalf("expected rate check to win, got %v", err)
	}
}
