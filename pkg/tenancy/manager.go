package tenancy

import (
	"context"
	"sync"

	"github.com/tillworks/accessgate/pkg/observability"
)

// Manager hands out one Resolver per principal and tears them down on
// sign-out. Resolvers are created lazily on first use.
type Manager struct {
	store       MembershipStore
	sessions    SessionStore
	cfg         Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	invalidator Invalidator

	mu        sync.Mutex
	resolvers map[string]*Resolver
}

// ManagerOption configures optional Manager collaborators
type ManagerOption func(*Manager)

// WithMetrics attaches metrics to every resolver the manager creates
func WithMetrics(m *observability.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithInvalidator attaches a decision-cache invalidator, called on tenant switch
func WithInvalidator(inv Invalidator) ManagerOption {
	return func(mgr *Manager) {
		mgr.invalidator = inv
	}
}

func NewManager(store MembershipStore, sessions SessionStore, cfg Config, logger *observability.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger,
		resolvers: make(map[string]*Resolver),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ForPrincipal returns the resolver for a principal, creating it on demand
func (m *Manager) ForPrincipal(principalID string) *Resolver {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.resolvers[principalID]; ok {
		return r
	}
	r := newResolver(principalID, m.store, m.sessions, m.cfg, m.logger, m.metrics, m.invalidator)
	m.resolvers[principalID] = r
	return r
}

// HandleSignOut resets and discards the principal's resolver. Wired as an
// identity sign-out hook so polling loops never outlive the session.
func (m *Manager) HandleSignOut(ctx context.Context, principalID string) {
	m.mu.Lock()
	r, ok := m.resolvers[principalID]
	delete(m.resolvers, principalID)
	m.mu.Unlock()

	if ok {
		r.Reset(ctx)
	}
}

// Shutdown cancels every live polling loop
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	resolvers := make([]*Resolver, 0, len(m.resolvers))
	for _, r := range m.resolvers {
		resolvers = append(resolvers, r)
	}
	m.resolvers = make(map[string]*Resolver)
	m.mu.Unlock()

	for _, r := range resolvers {
		r.Reset(ctx)
	}
}
