// Package gate implements the freemium gate that sits in front of a paid
// handler.
//
// Each resolved caller gets a fixed number of free calls per process. Once
// those are used up the request is handed to a payment.Enforcer, which either
// runs the handler or answers 402 itself. The gate never looks at what the
// enforcer did.
package gate

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fourotwo-xyz/web-scraper/pkg/identity"
	"github.com/fourotwo-xyz/web-scraper/pkg/metering"
	"github.com/fourotwo-xyz/web-scraper/pkg/observability"
	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
)

const (
	// RemainingHeader reports the free calls left after this one.
	RemainingHeader = "X-Free-Tier-Remaining"
	// LimitHeader reports the per-identity free-tier allowance.
	LimitHeader = "X-Free-Tier-Limit"
)

// Gate routes each request to the free path or the payment enforcer.
type Gate struct {
	store    quota.Store
	enforcer payment.Enforcer
	resolve  func(*http.Request) identity.CallerIdentity
	meter    metering.Meter
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithMeter records one usage event per decision.
func WithMeter(m metering.Meter) Option {
	return func(g *Gate) { g.meter = m }
}

// WithMetrics counts decisions by tier.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithResolver replaces identity.FromRequest.
func WithResolver(fn func(*http.Request) identity.CallerIdentity) Option {
	return func(g *Gate) { g.resolve = fn }
}

// New creates a gate over store that hands payable calls to enforcer.
func New(store quota.Store, enforcer payment.Enforcer, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		enforcer: enforcer,
		resolve:  identity.FromRequest,
		logger:   slog.Default().With("component", "gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wrap returns next behind the gate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := g.identify(r)
		grant := g.store.CheckAndConsume(id)

		if grant.Granted {
			tier := Tier{Identity: id, Free: true, Remaining: grant.Remaining}
			w.Header().Set(RemainingHeader, strconv.Itoa(grant.Remaining))
			w.Header().Set(LimitHeader, strconv.Itoa(g.store.Limit()))
			g.record(r.Context(), id, metering.EventFreeCall, observability.TierFree, grant.Remaining)
			next.ServeHTTP(w, r.WithContext(WithTier(r.Context(), tier)))
			return
		}

		tier := Tier{Identity: id, Free: false}
		w.Header().Set(RemainingHeader, "0")
		w.Header().Set(LimitHeader, strconv.Itoa(g.store.Limit()))
		g.record(r.Context(), id, metering.EventPayableCall, observability.TierPayable, 0)
		g.enforcer.Enforce(w, r.WithContext(WithTier(r.Context(), tier)), next)
	})
}

// identify never fails: a resolver panic degrades to identity.Unknown.
func (g *Gate) identify(r *http.Request) (id identity.CallerIdentity) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("identity resolution panicked", "panic", rec)
			id = identity.Unknown
		}
	}()
	id = g.resolve(r)
	if id == "" {
		id = identity.Unknown
	}
	return id
}

func (g *Gate) record(ctx context.Context, id identity.CallerIdentity, ev metering.EventType, tier string, remaining int) {
	g.metrics.RecordGateDecision(tier)
	g.logger.DebugContext(ctx, "gate decision", "identity", id, "tier", tier, "remaining", remaining)
	if g.meter == nil {
		return
	}
	err := g.meter.Record(ctx, metering.Event{
		Identity:  id.String(),
		EventType: ev,
		Quantity:  1,
		Metadata:  map[string]any{"remaining": remaining},
	})
	if err != nil {
		g.logger.WarnContext(ctx, "metering failed", "identity", id, "event_type", ev, "error", err)
	}
}
