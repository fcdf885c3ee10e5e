package tenancy

import (
	"context"
	"errors"
	"time"

	"github.com/tillworks/accessgate/pkg/entitlement"
)

// Membership is the (principal, tenant, role) relation. A principal holds
// at most one role per tenant in this model.
type Membership struct {
	PrincipalID string
	TenantID    string
	TenantName  string
	Role        entitlement.Role
}

// ResolutionState is the outward-facing state of tenant resolution
type ResolutionState string

const (
	// StateLoading means resolution is in flight (polling or first fetch)
	StateLoading ResolutionState = "loading"
	// StateResolved means an active tenant snapshot is available
	StateResolved ResolutionState = "resolved"
	// StateNoTenant means the bounded wait expired with no membership
	StateNoTenant ResolutionState = "no_tenant"
	// StateOperatorArea means the principal is a platform operator and is
	// routed to the operator surface without any membership lookup
	StateOperatorArea ResolutionState = "operator_area"
)

// Resolution is the answer the guard consumes
type Resolution struct {
	State    ResolutionState       `json:"state"`
	Snapshot *entitlement.Snapshot `json:"snapshot,omitempty"`
}

// MembershipStore answers read-only membership and entitlement queries
type MembershipStore interface {
	// ListMemberships lists all tenant memberships for a principal
	ListMemberships(ctx context.Context, principalID string) ([]Membership, error)

	// TenantEntitlements loads the active module set and the role
	// permission matrix for a tenant
	TenantEntitlements(ctx context.Context, tenantID string) (entitlement.ModuleSet, entitlement.Matrix, error)
}

// SessionStore persists the per-principal grace marker and tenant preference
type SessionStore interface {
	// GraceMarker returns when the provisioning flow set the marker, if
	// it is still live (it expires on its own TTL)
	GraceMarker(ctx context.Context, principalID string) (time.Time, bool, error)

	// SetGraceMarker records a provisioning handoff; written by the
	// account-creation flow immediately before redirecting here
	SetGraceMarker(ctx context.Context, principalID string, at time.Time) error

	// ClearGraceMarker consumes the marker
	ClearGraceMarker(ctx context.Context, principalID string) error

	// LastTenant returns the persisted tenant preference, "" when none
	LastTenant(ctx context.Context, principalID string) (string, error)

	// SetLastTenant persists the tenant preference
	SetLastTenant(ctx context.Context, principalID string, tenantID string) error

	// ClearLastTenant removes the preference (sign-out)
	ClearLastTenant(ctx context.Context, principalID string) error
}

// Invalidator drops cached entitlement decisions on tenant switch
type Invalidator interface {
	Invalidate()
}

// Config tunes the resolution state machine
type Config struct {
	// PollInterval is the membership re-fetch cadence
	PollInterval time.Duration
	// MaxWait bounds polling without a grace marker
	MaxWait time.Duration
	// GraceMaxWait bounds polling when a fresh grace marker is present
	GraceMaxWait time.Duration
	// GraceTTL is how long a marker counts as fresh
	GraceTTL time.Duration
}

// DefaultConfig returns the production timing
func DefaultConfig() Config {
	return Config{
		PollInterval: 1 * time.Second,
		MaxWait:      8 * time.Second,
		GraceMaxWait: 15 * time.Second,
		GraceTTL:     15 * time.Second,
	}
}

var (
	// ErrNotResolved is returned by SwitchTenant before memberships are known
	ErrNotResolved = errors.New("tenancy: memberships not yet resolved")

	// ErrNotMember is returned when switching to a tenant the principal
	// does not belong to
	ErrNotMember = errors.New("tenancy: principal is not a member of tenant")

	// ErrSessionReset is returned to Await callers whose wait was cut
	// short by Reset, e.g. on sign-out
	ErrSessionReset = errors.New("tenancy: session reset while awaiting resolution")
)
