package tenancy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/observability"
)

// phase is the internal state of the polling machine
type phase int

const (
	phaseIdle phase = iota
	phasePolling
	phaseResolved
	phaseNoTenant
)

// Resolver owns tenant resolution for a single principal's session.
// The active snapshot is swapped atomically; everything else is guarded
// by mu. Every polling attempt carries a generation number so a tick
// from a superseded attempt cannot mutate state.
type Resolver struct {
	principalID string
	store       MembershipStore
	sessions    SessionStore
	cfg         Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	invalidator Invalidator

	// collapses concurrent membership fetches for this principal
	group singleflight.Group

	snap atomic.Pointer[entitlement.Snapshot]

	mu          sync.Mutex
	phase       phase
	memberships []Membership
	epoch       uint64
	attempt     uint64
	cancelPoll  context.CancelFunc
	pollStart   time.Time
	waiters     []chan Resolution
}

// newResolver is called by the Manager; sessions are always created there
func newResolver(principalID string, store MembershipStore, sessions SessionStore, cfg Config,
	logger *observability.Logger, metrics *observability.Metrics, invalidator Invalidator) *Resolver {
	return &Resolver{
		principalID: principalID,
		store:       store,
		sessions:    sessions,
		cfg:         cfg,
		logger:      logger.WithField("principal_id", principalID),
		metrics:     metrics,
		invalidator: invalidator,
	}
}

// Snapshot returns the current tenant snapshot, nil when unresolved
func (r *Resolver) Snapshot() *entitlement.Snapshot {
	return r.snap.Load()
}

// Memberships returns the last-known membership set
func (r *Resolver) Memberships() []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Membership, len(r.memberships))
	copy(out, r.memberships)
	return out
}

// Resolve returns the current resolution state, starting the bounded
// polling machine when nothing is resolved yet. Operators are routed to
// the operator area without any membership lookup.
func (r *Resolver) Resolve(ctx context.Context, operator bool) Resolution {
	if operator {
		// an operator who is admin of the resolved tenant works inside
		// the tenant; every other operator is routed to the operator
		// area without any membership lookup
		if snap := r.snap.Load(); snap != nil && snap.Role == entitlement.RoleAdmin {
			return Resolution{State: StateResolved, Snapshot: snap}
		}
		return Resolution{State: StateOperatorArea}
	}

	if snap := r.snap.Load(); snap != nil {
		return Resolution{State: StateResolved, Snapshot: snap}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case phaseResolved:
		// resolved between the lock-free check and here
		return Resolution{State: StateResolved, Snapshot: r.snap.Load()}
	case phasePolling:
		return Resolution{State: StateLoading}
	case phaseNoTenant:
		return Resolution{State: StateNoTenant}
	default:
		r.startPollingLocked()
		return Resolution{State: StateLoading}
	}
}

// Retry re-enters resolution after a NoTenant outcome, e.g. once the user
// finished provisioning. Any previous loop is cancelled first.
func (r *Resolver) Retry(ctx context.Context) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == phaseResolved {
		return Resolution{State: StateResolved, Snapshot: r.snap.Load()}
	}
	r.startPollingLocked()
	return Resolution{State: StateLoading}
}

// Await blocks until resolution reaches a terminal state or ctx ends
func (r *Resolver) Await(ctx context.Context, operator bool) (Resolution, error) {
	res := r.Resolve(ctx, operator)
	if res.State != StateLoading {
		return res, nil
	}

	r.mu.Lock()
	switch r.phase {
	case phaseResolved:
		snap := r.snap.Load()
		r.mu.Unlock()
		return Resolution{State: StateResolved, Snapshot: snap}, nil
	case phaseNoTenant:
		r.mu.Unlock()
		return Resolution{State: StateNoTenant}, nil
	}
	ch := make(chan Resolution, 1)
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case res, ok := <-ch:
		if !ok {
			// closed without a value: the session was reset underneath us
			return Resolution{State: StateLoading}, ErrSessionReset
		}
		return res, nil
	case <-ctx.Done():
		return Resolution{State: StateLoading}, ctx.Err()
	}
}

// SwitchTenant re-selects the active tenant from the already-known
// membership set. It never re-enters polling. Switching to the current
// tenant is a no-op: no snapshot swap, no cache invalidation.
func (r *Resolver) SwitchTenant(ctx context.Context, tenantID string) (*entitlement.Snapshot, error) {
	r.mu.Lock()
	memberships := r.memberships
	r.mu.Unlock()

	if len(memberships) == 0 {
		return nil, ErrNotResolved
	}

	if cur := r.snap.Load(); cur != nil && cur.TenantID == tenantID {
		return cur, nil
	}

	var chosen *Membership
	for i := range memberships {
		if memberships[i].TenantID == tenantID {
			chosen = &memberships[i]
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, tenantID)
	}

	modules, matrix, err := r.store.TenantEntitlements(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant entitlements: %w", err)
	}

	r.mu.Lock()
	if cur := r.snap.Load(); cur != nil && cur.TenantID == tenantID {
		r.mu.Unlock()
		return cur, nil
	}
	r.epoch++
	snap := &entitlement.Snapshot{
		Epoch:          r.epoch,
		TenantID:       chosen.TenantID,
		TenantName:     chosen.TenantName,
		Role:           chosen.Role,
		ActiveModules:  modules,
		Matrix:         matrix,
		SoleMembership: len(memberships) == 1,
	}
	r.snap.Store(snap)
	r.phase = phaseResolved
	r.mu.Unlock()

	// in-flight checks keep the old snapshot; new checks see only the new one
	if r.invalidator != nil {
		r.invalidator.Invalidate()
	}
	if r.metrics != nil {
		r.metrics.TenantSwitchesTotal.Inc()
	}
	if err := r.sessions.SetLastTenant(ctx, r.principalID, tenantID); err != nil {
		r.logger.WithError(err).Debug("failed to persist tenant preference")
	}

	return snap, nil
}

// Reset tears the session's resolution state down: cancels any polling
// loop, drops the snapshot, and clears the persisted tenant preference.
// Blocked Await callers are released with ErrSessionReset.
func (r *Resolver) Reset(ctx context.Context) {
	r.mu.Lock()
	r.attempt++ // orphan any in-flight ticks
	if r.cancelPoll != nil {
		r.cancelPoll()
		r.cancelPoll = nil
	}
	r.phase = phaseIdle
	r.memberships = nil
	r.snap.Store(nil)
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	// closing without a value tells Await the session was reset
	for _, ch := range waiters {
		close(ch)
	}

	if err := r.sessions.ClearLastTenant(ctx, r.principalID); err != nil {
		r.logger.WithError(err).Debug("failed to clear tenant preference")
	}
}

// startPollingLocked starts a new resolution attempt. Caller holds mu.
// Any existing loop is cancelled first; exactly one loop runs per session.
func (r *Resolver) startPollingLocked() {
	if r.cancelPoll != nil {
		r.cancelPoll()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelPoll = cancel
	r.attempt++
	r.phase = phasePolling
	r.pollStart = time.Now()

	go r.poll(ctx, r.attempt)
}

// poll is the bounded-polling loop body. It fetches once immediately so
// an account with existing memberships resolves without waiting a tick,
// then re-fetches every interval until success or the window closes.
func (r *Resolver) poll(ctx context.Context, attempt uint64) {
	if r.metrics != nil {
		r.metrics.ActivePollingLoops.Inc()
		defer r.metrics.ActivePollingLoops.Dec()
	}

	start := time.Now()

	maxWait := r.cfg.MaxWait
	if at, ok, err := r.sessions.GraceMarker(ctx, r.principalID); err != nil {
		r.logger.WithError(err).Debug("grace marker read failed, using base wait window")
	} else if ok && time.Since(at) < r.cfg.GraceTTL {
		maxWait = r.cfg.GraceMaxWait
	}

	if r.tick(ctx, attempt) {
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.metrics != nil {
				r.metrics.PollingTicksTotal.Inc()
			}
			if r.tick(ctx, attempt) {
				return
			}
			if time.Since(start) >= maxWait {
				r.finishNoTenant(attempt)
				return
			}
		}
	}
}

// tick performs one membership fetch and commits on success. Fetch errors
// are swallowed: a transient failure must not shorten the wait window.
func (r *Resolver) tick(ctx context.Context, attempt uint64) bool {
	v, err, _ := r.group.Do(r.principalID, func() (interface{}, error) {
		return r.store.ListMemberships(ctx, r.principalID)
	})
	if err != nil {
		if ctx.Err() == nil {
			if r.metrics != nil {
				r.metrics.PollingFetchErrors.Inc()
			}
			r.logger.WithError(err).Debug("membership fetch failed, retrying on next tick")
		}
		return false
	}

	memberships := v.([]Membership)
	if len(memberships) == 0 {
		return false
	}

	return r.commit(ctx, attempt, memberships)
}

// commit selects a tenant from a non-empty membership set and installs the
// snapshot, unless this attempt has been superseded in the meantime.
func (r *Resolver) commit(ctx context.Context, attempt uint64, memberships []Membership) bool {
	if ctx.Err() != nil {
		return false
	}

	// prefer the previously selected tenant when it still appears
	desired := ""
	if snap := r.snap.Load(); snap != nil {
		desired = snap.TenantID
	}
	if desired == "" {
		if pref, err := r.sessions.LastTenant(ctx, r.principalID); err == nil {
			desired = pref
		}
	}

	chosen := memberships[0]
	for _, m := range memberships {
		if m.TenantID == desired {
			chosen = m
			break
		}
	}

	modules, matrix, err := r.store.TenantEntitlements(ctx, chosen.TenantID)
	if err != nil {
		// treated like a transient fetch failure, retried on the next tick
		r.logger.WithError(err).Debug("entitlement load failed, retrying on next tick")
		return false
	}

	// side effects below must outlive the poll context we are about to cancel
	sideCtx := context.WithoutCancel(ctx)

	r.mu.Lock()
	if attempt != r.attempt {
		// a stale tick from a superseded attempt must not resurrect it
		r.mu.Unlock()
		return false
	}
	r.epoch++
	snap := &entitlement.Snapshot{
		Epoch:          r.epoch,
		TenantID:       chosen.TenantID,
		TenantName:     chosen.TenantName,
		Role:           chosen.Role,
		ActiveModules:  modules,
		Matrix:         matrix,
		SoleMembership: len(memberships) == 1,
	}
	r.memberships = memberships
	r.snap.Store(snap)
	r.phase = phaseResolved
	if r.cancelPoll != nil {
		r.cancelPoll()
		r.cancelPoll = nil
	}
	elapsed := time.Since(r.pollStart)
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	// marker is consumed the first time a membership is observed
	if err := r.sessions.ClearGraceMarker(sideCtx, r.principalID); err != nil {
		r.logger.WithError(err).Debug("failed to clear grace marker")
	}
	if err := r.sessions.SetLastTenant(sideCtx, r.principalID, chosen.TenantID); err != nil {
		r.logger.WithError(err).Debug("failed to persist tenant preference")
	}

	if r.metrics != nil {
		r.metrics.ObserveResolution(string(StateResolved), elapsed)
	}
	r.logger.WithFields(map[string]interface{}{
		"tenant_id":  chosen.TenantID,
		"role":       string(chosen.Role),
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("tenant resolved")

	res := Resolution{State: StateResolved, Snapshot: snap}
	for _, ch := range waiters {
		ch <- res
		close(ch)
	}
	return true
}

// finishNoTenant closes the window with an empty membership set
func (r *Resolver) finishNoTenant(attempt uint64) {
	r.mu.Lock()
	if attempt != r.attempt || r.phase != phasePolling {
		r.mu.Unlock()
		return
	}
	r.phase = phaseNoTenant
	if r.cancelPoll != nil {
		r.cancelPoll()
		r.cancelPoll = nil
	}
	elapsed := time.Since(r.pollStart)
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveResolution(string(StateNoTenant), elapsed)
	}
	r.logger.WithField("elapsed_ms", elapsed.Milliseconds()).Info("no tenant within wait window")

	res := Resolution{State: StateNoTenant}
	for _, ch := range waiters {
		ch <- res
		close(ch)
	}
}
