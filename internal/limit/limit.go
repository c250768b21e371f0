// Package limit implements the gateway's pre-request admission gate (C5):
// an hourly request-rate check followed by daily/monthly/total cost checks,
// both read against the counter store with no locking, and the matching
// post-request counter updates.
package limit

import (
	"context"
	"time"

	"github.com/santrancisco/ai-gateway/internal/apierror"
	"github.com/santrancisco/ai-gateway/internal/counter"
)

// Dimension is the counter partition a gate check/update runs against. The
// spec has no multi-tenant identity, so the router always passes Global;
// the type exists so a future per-key or per-tenant dimension is a non-breaking
// addition.
type Dimension = string

// Global is the single counter dimension used when no finer partition applies.
const Global Dimension = "global"

// Config captures the configured limits. A zero value for any field means
// "unconfigured" (no check performed for that limit), matching the spec's
// "for each configured cost limit" language.
type Config struct {
	// HourlyRequests is the max number of requests allowed within the current
	// UTC hour. Zero means unlimited.
	HourlyRequests int

	// DailyCost, MonthlyCost, TotalCost are USD ceilings for their respective
	// windows. Zero means unlimited.
	DailyCost   float64
	MonthlyCost float64
	TotalCost   float64
}

// Gate is the admission check plus post-request accounting described by C5.
// It is safe for concurrent use; it holds no request-scoped state itself,
// delegating all mutable state to the Store.
type Gate struct {
	store counter.Store
	cfg   Config
}

// New constructs a Gate over store using cfg's configured limits.
func New(store counter.Store, cfg Config) *Gate {
	return &Gate{store: store, cfg: cfg}
}

// Check runs the rate check and then the cost checks, in that order (rate is
// cheap, cost requires reading up to three counters). It returns nil when the
// request is admitted, or an *apierror.Error with KindRateLimited or
// KindCostLimitExceeded on denial. Both checks are advisory: they read the
// counter value that existed at call time and take no lock, so a burst of
// concurrent requests may transiently overshoot by up to the concurrency
// level before the next check observes the crossed threshold — this is the
// spec's accepted trade-off, not a bug.
func (g *Gate) Check(ctx context.Context, dim Dimension, now time.Time) error {
	if g.cfg.HourlyRequests > 0 {
		key := counter.Key{Scope: counter.ScopeRateHourly, Dimension: dim, Bucket: counter.Bucket(counter.ScopeRateHourly, now)}
		v, err := g.store.Get(ctx, key)
		if err != nil {
			return apierror.New(apierror.KindInternal, "counter store unavailable", err)
		}
		if v >= float64(g.cfg.HourlyRequests) {
			return apierror.New(apierror.KindRateLimited, "hourly request limit exceeded", nil).WithCode("rate_hourly")
		}
	}

	for _, check := range []struct {
		scope counter.Scope
		limit float64
		code  string
	}{
		{counter.ScopeCostDaily, g.cfg.DailyCost, "cost_daily"},
		{counter.ScopeCostMonthly, g.cfg.MonthlyCost, "cost_monthly"},
		{counter.ScopeCostTotal, g.cfg.TotalCost, "cost_total"},
	} {
		if check.limit <= 0 {
			continue
		}
		key := counter.Key{Scope: check.scope, Dimension: dim, Bucket: counter.Bucket(check.scope, now)}
		v, err := g.store.Get(ctx, key)
		if err != nil {
			return apierror.New(apierror.KindInternal, "counter store unavailable", err)
		}
		if v >= check.limit {
			return apierror.New(apierror.KindCostLimitExceeded, "cost limit exceeded", nil).WithCode(check.code)
		}
	}
	return nil
}

// Record applies the post-request counter updates: +1 to the hourly rate
// counter and +cost to each cost counter. Called once per request that
// reached an upstream and produced usage (whether finish was stop or error);
// the router must not call Record for requests denied at the gate or that
// failed input validation.
func (g *Gate) Record(ctx context.Context, dim Dimension, costUSD float64, now time.Time) error {
	rateKey := counter.Key{Scope: counter.ScopeRateHourly, Dimension: dim, Bucket: counter.Bucket(counter.ScopeRateHourly, now)}
	if _, err := g.store.Add(ctx, rateKey, 1); err != nil {
		return err
	}
	if costUSD == 0 {
		return nil
	}
	for _, scope := range []counter.Scope{counter.ScopeCostDaily, counter.ScopeCostMonthly, counter.ScopeCostTotal} {
		key := counter.Key{Scope: scope, Dimension: dim, Bucket: counter.Bucket(scope, now)}
		if _, err := g.store.Add(ctx, key, costUSD); err != nil {
			return err
		}
	}
	return nil
}
