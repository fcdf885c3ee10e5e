package identity

import (
	"context"
	"sync"

	"github.com/tillworks/accessgate/pkg/observability"
)

// SignOutHook runs after a session ends, before subscribers are notified.
// The tenant layer registers one to clear the persisted tenant preference.
type SignOutHook func(ctx context.Context, principalID string)

// Resolver tracks the current session and fans out state changes.
// The last-known state is always queryable without blocking.
type Resolver struct {
	provider Provider
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu          sync.RWMutex
	current     Session
	subscribers map[uint64]chan Session
	nextSubID   uint64
	onSignOut   []SignOutHook
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a session resolver over the given provider
func NewResolver(provider Provider, logger *observability.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		provider:    provider,
		logger:      logger,
		current:     Session{State: StateUnauthenticated},
		subscribers: make(map[uint64]chan Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the last-known session state immediately
func (r *Resolver) Current() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnSignOut registers a hook invoked when the session ends
func (r *Resolver) OnSignOut(hook SignOutHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSignOut = append(r.onSignOut, hook)
}

// Subscribe returns a channel of session changes and an unsubscribe func.
// Slow subscribers never block state transitions; a lagging channel drops
// intermediate states and will observe only the latest.
func (r *Resolver) Subscribe() (<-chan Session, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	ch := make(chan Session, 4)
	r.subscribers[id] = ch

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// SignIn verifies a raw token and transitions the session. A verification
// failure of any kind, transport included, yields Unauthenticated.
func (r *Resolver) SignIn(ctx context.Context, rawToken string) Session {
	r.transition(Session{State: StateAuthenticating}, "authenticating")

	principal, operator, err := r.provider.Verify(ctx, rawToken)
	if err != nil {
		r.logger.WithError(err).Debug("sign-in verification failed")
		return r.transition(Session{State: StateUnauthenticated}, "sign_in_failed")
	}

	return r.transition(Session{
		State:     StateAuthenticated,
		Principal: principal,
		Operator:  operator,
	}, "sign_in")
}

// Refresh re-verifies a refreshed token. The principal is immutable for
// the session; a refresh that names a different subject is treated as a
// failed verification.
func (r *Resolver) Refresh(ctx context.Context, rawToken string) Session {
	prev := r.Current()
	if !prev.Authenticated() {
		return r.SignIn(ctx, rawToken)
	}

	principal, operator, err := r.provider.Verify(ctx, rawToken)
	if err != nil || principal.ID != prev.Principal.ID {
		if err != nil {
			r.logger.WithError(err).Debug("refresh verification failed")
		}
		return r.transition(Session{State: StateUnauthenticated}, "refresh_failed")
	}

	return r.transition(Session{
		State:     StateAuthenticated,
		Principal: prev.Principal,
		Operator:  operator,
	}, "refresh")
}

// SignOut ends the session and runs registered hooks
func (r *Resolver) SignOut(ctx context.Context) Session {
	prev := r.Current()

	if prev.Authenticated() {
		r.mu.RLock()
		hooks := make([]SignOutHook, len(r.onSignOut))
		copy(hooks, r.onSignOut)
		r.mu.RUnlock()

		for _, hook := range hooks {
			hook(ctx, prev.Principal.ID)
		}
	}

	return r.transition(Session{State: StateUnauthenticated}, "sign_out")
}

// transition swaps the current session and notifies subscribers. The
// sends are non-blocking and happen under mu so an unsubscribe can never
// close a channel between the snapshot of the map and the send.
func (r *Resolver) transition(next Session, event string) Session {
	r.mu.Lock()
	r.current = next
	for _, ch := range r.subscribers {
		select {
		case ch <- next:
		default:
			// drain one stale state and retry so the subscriber
			// always ends up with the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionEventsTotal.WithLabelValues(event).Inc()
	}
	return next
}
