package entitlement

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tillworks/accessgate/pkg/observability"
)

// Decision is the result of a capability check
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}

// Decision reasons, stable strings for metrics and the audit trail
const (
	ReasonTenantAdmin      = "tenant_admin"
	ReasonOperator         = "operator_override"
	ReasonRoleDenied       = "role_permission_denied"
	ReasonBaseModule       = "base_module"
	ReasonModuleActive     = "module_active"
	ReasonModuleInactive   = "module_not_activated"
	ReasonNoTenantSnapshot = "no_tenant_snapshot"
)

// decisionKey identifies a cached decision. The snapshot epoch is part of
// the key, so entries from a superseded tenant snapshot can never answer a
// check against the new one.
type decisionKey struct {
	epoch    uint64
	operator bool
	module   ModuleCode
	action   Action
}

// Engine evaluates capability decisions with a bounded LRU cache
type Engine struct {
	cache   *lru.Cache[decisionKey, Decision]
	metrics *observability.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics attaches Prometheus metrics to the engine
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine with the given decision cache capacity
func NewEngine(cacheSize int, opts ...Option) (*Engine, error) {
	cache, err := lru.New[decisionKey, Decision](cacheSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{cache: cache}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decide evaluates a capability against the resolved tenant snapshot.
// First match wins; see the package comment for the precedence rationale.
func (e *Engine) Decide(snap *Snapshot, operator bool, module ModuleCode, action Action) Decision {
	start := time.Now()

	if snap == nil {
		return Decision{Allowed: false, Reason: ReasonNoTenantSnapshot, CheckedAt: start}
	}

	key := decisionKey{epoch: snap.Epoch, operator: operator, module: module, action: action}
	if cached, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.DecisionCacheHits.WithLabelValues("hit").Inc()
		}
		return cached
	}
	if e.metrics != nil {
		e.metrics.DecisionCacheHits.WithLabelValues("miss").Inc()
	}

	d := e.evaluate(snap, operator, module, action)
	d.CheckedAt = time.Now()
	e.cache.Add(key, d)

	if e.metrics != nil {
		e.metrics.ObserveDecision(string(module), string(action), d.Allowed, d.Reason, time.Since(start))
	}
	return d
}

// evaluate applies the ordered rules
func (e *Engine) evaluate(snap *Snapshot, operator bool, module ModuleCode, action Action) Decision {
	// 1. Tenant admin may do anything within the tenant.
	if snap.Role == RoleAdmin {
		return Decision{Allowed: true, Reason: ReasonTenantAdmin}
	}

	// 2. Platform operator override.
	if operator {
		return Decision{Allowed: true, Reason: ReasonOperator}
	}

	// 3. Role grant is a precondition for everything below.
	if !snap.Matrix.Granted(snap.Role, module, action) {
		return Decision{Allowed: false, Reason: ReasonRoleDenied}
	}

	// 4. Base modules need no activation.
	if IsBaseModule(module) {
		return Decision{Allowed: true, Reason: ReasonBaseModule}
	}

	// 5. Non-base modules additionally require tenant activation.
	if snap.ActiveModules.Contains(module) {
		return Decision{Allowed: true, Reason: ReasonModuleActive}
	}

	return Decision{Allowed: false, Reason: ReasonModuleInactive}
}

// Invalidate drops all cached decisions. Called on tenant switch so results
// for the prior tenant cannot be served; epoch keying already makes them
// unreachable, this frees the memory too.
func (e *Engine) Invalidate() {
	e.cache.Purge()
}

// CacheLen reports the number of cached decisions (for tests and metrics)
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}
