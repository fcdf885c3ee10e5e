package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/identity"
	"github.com/tillworks/accessgate/pkg/observability"
	"github.com/tillworks/accessgate/pkg/tenancy"
)

type stubStore struct {
	mu          sync.Mutex
	memberships []tenancy.Membership
	modules     entitlement.ModuleSet
	matrix      entitlement.Matrix
	listCalls   int
}

func (s *stubStore) ListMemberships(ctx context.Context, principalID string) ([]tenancy.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return s.memberships, nil
}

func (s *stubStore) TenantEntitlements(ctx context.Context, tenantID string) (entitlement.ModuleSet, entitlement.Matrix, error) {
	return s.modules, s.matrix, nil
}

func (s *stubStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

type stubSessions struct{}

func (stubSessions) GraceMarker(ctx context.Context, principalID string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (stubSessions) SetGraceMarker(ctx context.Context, principalID string, at time.Time) error {
	return nil
}
func (stubSessions) ClearGraceMarker(ctx context.Context, principalID string) error { return nil }
func (stubSessions) LastTenant(ctx context.Context, principalID string) (string, error) {
	return "", nil
}
func (stubSessions) SetLastTenant(ctx context.Context, principalID, tenantID string) error {
	return nil
}
func (stubSessions) ClearLastTenant(ctx context.Context, principalID string) error { return nil }

type recordedDecision struct {
	principalID string
	tenantID    string
	capability  entitlement.Capability
	decision    entitlement.Decision
}

type stubRecorder struct {
	mu      sync.Mutex
	entries []recordedDecision
}

func (r *stubRecorder) RecordDecision(ctx context.Context, principalID, tenantID string, module entitlement.ModuleCode, action entitlement.Action, d entitlement.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedDecision{
		principalID: principalID,
		tenantID:    tenantID,
		capability:  entitlement.Capability{Module: module, Action: action},
		decision:    d,
	})
}

func cashierMatrix() entitlement.Matrix {
	m := entitlement.Matrix{}
	m.Grant(entitlement.RoleCashier, entitlement.ModuleSales, entitlement.ActionView)
	m.Grant(entitlement.RoleCashier, entitlement.ModuleInventory, entitlement.ActionView)
	return m
}

type composerFixture struct {
	store    *stubStore
	tenants  *tenancy.Manager
	engine   *entitlement.Engine
	recorder *stubRecorder
	composer *Composer
}

func newComposerFixture(t *testing.T, store *stubStore) *composerFixture {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	engine, err := entitlement.NewEngine(64)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	cfg := tenancy.Config{
		PollInterval: 10 * time.Millisecond,
		MaxWait:      40 * time.Millisecond,
		GraceMaxWait: 80 * time.Millisecond,
		GraceTTL:     15 * time.Second,
	}
	tenants := tenancy.NewManager(store, stubSessions{}, cfg, logger, tenancy.WithInvalidator(engine))
	recorder := &stubRecorder{}
	return &composerFixture{
		store:    store,
		tenants:  tenants,
		engine:   engine,
		recorder: recorder,
		composer: NewComposer(tenants, engine, logger, WithRecorder(recorder)),
	}
}

func authenticated(id string, operator bool) identity.Session {
	return identity.Session{
		State:     identity.StateAuthenticated,
		Principal: &identity.Principal{ID: id},
		Operator:  operator,
	}
}

// resolve pre-resolves the principal's tenant so Evaluate sees a snapshot
func (f *composerFixture) resolve(t *testing.T, principalID string) {
	t.Helper()
	res, err := f.tenants.ForPrincipal(principalID).Await(context.Background(), false)
	if err != nil || res.State != tenancy.StateResolved {
		t.Fatalf("Tenant resolution failed: state=%v err=%v", res.State, err)
	}
}

func TestEvaluateUnauthenticatedRedirectsToLogin(t *testing.T) {
	f := newComposerFixture(t, &stubStore{})

	out := f.composer.Evaluate(context.Background(), identity.Session{State: identity.StateUnauthenticated}, nil)
	if out.Kind != KindRedirect || out.Target != TargetLogin {
		t.Errorf("Expected redirect to login, got %s/%s", out.Kind, out.Target)
	}

	// identity short-circuits: tenant resolution never starts
	time.Sleep(20 * time.Millisecond)
	if f.store.calls() != 0 {
		t.Errorf("Expected no membership fetches, got %d", f.store.calls())
	}
}

func TestEvaluateAuthenticatingIsLoading(t *testing.T) {
	f := newComposerFixture(t, &stubStore{})

	out := f.composer.Evaluate(context.Background(), identity.Session{State: identity.StateAuthenticating}, nil)
	if out.Kind != KindLoading {
		t.Errorf("Expected loading, got %s", out.Kind)
	}
}

func TestEvaluateOperatorRedirectsWithoutEntitlementCheck(t *testing.T) {
	f := newComposerFixture(t, &stubStore{})

	capability := &entitlement.Capability{Module: entitlement.ModuleSales, Action: entitlement.ActionView}
	out := f.composer.Evaluate(context.Background(), authenticated("p-1", true), capability)
	if out.Kind != KindRedirect || out.Target != TargetOperatorArea {
		t.Fatalf("Expected redirect to operator area, got %s/%s", out.Kind, out.Target)
	}
	if out.Decision != nil {
		t.Error("Expected no capability decision on the operator-area path")
	}
	if f.store.calls() != 0 {
		t.Errorf("Expected no membership fetches for operator, got %d", f.store.calls())
	}
}

func TestEvaluateWhilePollingIsLoading(t *testing.T) {
	f := newComposerFixture(t, &stubStore{})

	out := f.composer.Evaluate(context.Background(), authenticated("p-1", false), nil)
	if out.Kind != KindLoading {
		t.Errorf("Expected loading while polling, got %s", out.Kind)
	}
}

func TestEvaluateNoTenantRedirectsToProvisioning(t *testing.T) {
	f := newComposerFixture(t, &stubStore{})
	sess := authenticated("p-1", false)

	res, err := f.tenants.ForPrincipal("p-1").Await(context.Background(), false)
	if err != nil || res.State != tenancy.StateNoTenant {
		t.Fatalf("Expected timeout, state=%v err=%v", res.State, err)
	}

	out := f.composer.Evaluate(context.Background(), sess, nil)
	if out.Kind != KindRedirect || out.Target != TargetProvisioning {
		t.Errorf("Expected redirect to provisioning, got %s/%s", out.Kind, out.Target)
	}
}

func TestEvaluateTenantOnlyGuardRenders(t *testing.T) {
	store := &stubStore{
		memberships: []tenancy.Membership{{PrincipalID: "p-1", TenantID: "t-1", TenantName: "Till & Sons", Role: entitlement.RoleCashier}},
		modules:     entitlement.NewModuleSet(entitlement.ModuleInventory),
		matrix:      cashierMatrix(),
	}
	f := newComposerFixture(t, store)
	f.resolve(t, "p-1")

	out := f.composer.Evaluate(context.Background(), authenticated("p-1", false), nil)
	if out.Kind != KindRender {
		t.Fatalf("Expected render, got %s/%s", out.Kind, out.Target)
	}
	if out.Snapshot == nil || out.Snapshot.TenantID != "t-1" {
		t.Error("Expected resolved snapshot on render outcome")
	}
}

func TestEvaluateCapabilityAllowedRenders(t *testing.T) {
	store := &stubStore{
		memberships: []tenancy.Membership{{PrincipalID: "p-1", TenantID: "t-1", Role: entitlement.RoleCashier}},
		modules:     entitlement.NewModuleSet(entitlement.ModuleInventory),
		matrix:      cashierMatrix(),
	}
	f := newComposerFixture(t, store)
	f.resolve(t, "p-1")

	capability := &entitlement.Capability{Module: entitlement.ModuleInventory, Action: entitlement.ActionView}
	out := f.composer.Evaluate(context.Background(), authenticated("p-1", false), capability)
	if out.Kind != KindRender {
		t.Fatalf("Expected render, got %s/%s", out.Kind, out.Target)
	}
	if out.Decision == nil || !out.Decision.Allowed {
		t.Error("Expected allow decision on render outcome")
	}
	if len(f.recorder.entries) != 0 {
		t.Errorf("Expected allows not to be audited, got %d entries", len(f.recorder.entries))
	}
}

func TestEvaluateCapabilityDeniedRedirectsAndRecords(t *testing.T) {
	store := &stubStore{
		memberships: []tenancy.Membership{{PrincipalID: "p-1", TenantID: "t-1", Role: entitlement.RoleCashier}},
		modules:     entitlement.NewModuleSet(),
		matrix:      cashierMatrix(),
	}
	f := newComposerFixture(t, store)
	f.resolve(t, "p-1")

	// granted but not activated
	capability := &entitlement.Capability{Module: entitlement.ModuleInventory, Action: entitlement.ActionView}
	out := f.composer.Evaluate(context.Background(), authenticated("p-1", false), capability)
	if out.Kind != KindRedirect || out.Target != TargetCapabilityDenied {
		t.Fatalf("Expected redirect to capability-denied, got %s/%s", out.Kind, out.Target)
	}
	if out.Decision == nil || out.Decision.Allowed {
		t.Fatal("Expected deny decision on the outcome")
	}

	if len(f.recorder.entries) != 1 {
		t.Fatalf("Expected one audited denial, got %d", len(f.recorder.entries))
	}
	e := f.recorder.entries[0]
	if e.principalID != "p-1" || e.tenantID != "t-1" || e.capability.Module != entitlement.ModuleInventory {
		t.Errorf("Unexpected audit entry: %+v", e)
	}
}

func TestEvaluateOperatorOnly(t *testing.T) {
	f := newComposerFixture(t, &stubStore{})

	cases := []struct {
		name   string
		sess   identity.Session
		kind   OutcomeKind
		target RedirectTarget
	}{
		{"unauthenticated", identity.Session{State: identity.StateUnauthenticated}, KindRedirect, TargetLogin},
		{"authenticating", identity.Session{State: identity.StateAuthenticating}, KindLoading, ""},
		{"non-operator", authenticated("p-1", false), KindRedirect, TargetCapabilityDenied},
		{"operator", authenticated("p-1", true), KindRender, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := f.composer.EvaluateOperatorOnly(context.Background(), tc.sess)
			if out.Kind != tc.kind || out.Target != tc.target {
				t.Errorf("Expected %s/%s, got %s/%s", tc.kind, tc.target, out.Kind, out.Target)
			}
		})
	}

	// operator screens never touch tenant data
	if f.store.calls() != 0 {
		t.Errorf("Expected no membership fetches, got %d", f.store.calls())
	}
}
