package guard

import (
	"context"

	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/identity"
	"github.com/tillworks/accessgate/pkg/observability"
	"github.com/tillworks/accessgate/pkg/tenancy"
)

// OutcomeKind is the terminal shape of a guard evaluation
type OutcomeKind string

const (
	KindRender   OutcomeKind = "render"
	KindRedirect OutcomeKind = "redirect"
	KindLoading  OutcomeKind = "loading"
)

// RedirectTarget names the surface a redirect outcome points at
type RedirectTarget string

const (
	TargetLogin            RedirectTarget = "login"
	TargetProvisioning     RedirectTarget = "provisioning"
	TargetOperatorArea     RedirectTarget = "operator-area"
	TargetCapabilityDenied RedirectTarget = "capability-denied"
)

// Outcome is the result of one guard evaluation. Target is set only for
// redirects; Snapshot and Decision are set when the pipeline got far
// enough to produce them.
type Outcome struct {
	Kind     OutcomeKind           `json:"kind"`
	Target   RedirectTarget        `json:"target,omitempty"`
	Snapshot *entitlement.Snapshot `json:"-"`
	Decision *entitlement.Decision `json:"decision,omitempty"`
}

func render(snap *entitlement.Snapshot, d *entitlement.Decision) Outcome {
	return Outcome{Kind: KindRender, Snapshot: snap, Decision: d}
}

func redirect(target RedirectTarget) Outcome {
	return Outcome{Kind: KindRedirect, Target: target}
}

func loading() Outcome {
	return Outcome{Kind: KindLoading}
}

// DecisionRecorder receives capability decisions for the audit trail.
// Recording is advisory and must never affect the outcome.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, principalID, tenantID string, module entitlement.ModuleCode, action entitlement.Action, d entitlement.Decision)
}

// Composer runs the guard pipeline against a session
type Composer struct {
	tenants  *tenancy.Manager
	engine   *entitlement.Engine
	logger   *observability.Logger
	metrics  *observability.Metrics
	recorder DecisionRecorder
}

// Option configures optional Composer collaborators
type Option func(*Composer)

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Composer) {
		c.metrics = m
	}
}

func WithRecorder(r DecisionRecorder) Option {
	return func(c *Composer) {
		c.recorder = r
	}
}

func NewComposer(tenants *tenancy.Manager, engine *entitlement.Engine, logger *observability.Logger, opts ...Option) *Composer {
	c := &Composer{
		tenants: tenants,
		engine:  engine,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate runs the full pipeline. A nil capability makes this a
// tenant-only guard: render as soon as a tenant is resolved.
func (c *Composer) Evaluate(ctx context.Context, sess identity.Session, capability *entitlement.Capability) Outcome {
	out := c.evaluate(ctx, sess, capability)
	if c.metrics != nil {
		c.metrics.ObserveGuardOutcome(string(out.Kind), string(out.Target))
	}
	return out
}

func (c *Composer) evaluate(ctx context.Context, sess identity.Session, capability *entitlement.Capability) Outcome {
	switch sess.State {
	case identity.StateAuthenticating:
		return loading()
	case identity.StateAuthenticated:
	default:
		return redirect(TargetLogin)
	}
	if sess.Principal == nil {
		return redirect(TargetLogin)
	}

	resolver := c.tenants.ForPrincipal(sess.Principal.ID)
	res := resolver.Resolve(ctx, sess.Operator)
	switch res.State {
	case tenancy.StateLoading:
		return loading()
	case tenancy.StateNoTenant:
		return redirect(TargetProvisioning)
	case tenancy.StateOperatorArea:
		// unconditional, capabilities are never consulted on this path
		return redirect(TargetOperatorArea)
	}

	if capability == nil {
		return render(res.Snapshot, nil)
	}

	d := c.engine.Decide(res.Snapshot, sess.Operator, capability.Module, capability.Action)
	if !d.Allowed {
		// only denials land in the audit trail
		if c.recorder != nil {
			c.recorder.RecordDecision(ctx, sess.Principal.ID, res.Snapshot.TenantID, capability.Module, capability.Action, d)
		}
		return Outcome{Kind: KindRedirect, Target: TargetCapabilityDenied, Snapshot: res.Snapshot, Decision: &d}
	}
	return render(res.Snapshot, &d)
}

// EvaluateOperatorOnly guards operator surfaces: identity check, then the
// operator flag, nothing else. Tenant state is never consulted so these
// screens stay reachable for principals with zero memberships.
func (c *Composer) EvaluateOperatorOnly(ctx context.Context, sess identity.Session) Outcome {
	var out Outcome
	switch {
	case sess.State == identity.StateAuthenticating:
		out = loading()
	case !sess.Authenticated():
		out = redirect(TargetLogin)
	case !sess.Operator:
		out = redirect(TargetCapabilityDenied)
	default:
		out = render(nil, nil)
	}
	if c.metrics != nil {
		c.metrics.ObserveGuardOutcome(string(out.Kind), string(out.Target))
	}
	return out
}
