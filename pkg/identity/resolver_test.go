package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tillworks/accessgate/pkg/observability"
)

type fakeProvider struct {
	principal *Principal
	operator  bool
	err       error
}

func (f *fakeProvider) Verify(ctx context.Context, rawToken string) (*Principal, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return f.principal, f.operator, nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, nil)
}

func TestResolverStartsUnauthenticated(t *testing.T) {
	r := NewResolver(&fakeProvider{}, testLogger())
	if got := r.Current().State; got != StateUnauthenticated {
		t.Errorf("Expected %s, got %s", StateUnauthenticated, got)
	}
}

func TestSignInSuccess(t *testing.T) {
	p := &Principal{ID: "p-1", Email: "owner@till.example"}
	r := NewResolver(&fakeProvider{principal: p, operator: true}, testLogger())

	sess := r.SignIn(context.Background(), "token")
	if !sess.Authenticated() {
		t.Fatalf("Expected authenticated session, got %s", sess.State)
	}
	if sess.Principal.ID != "p-1" || !sess.Operator {
		t.Errorf("Unexpected session: %+v", sess)
	}
	if got := r.Current(); got.State != StateAuthenticated {
		t.Errorf("Expected current state to stick, got %s", got.State)
	}
}

// Transport errors collapse to Unauthenticated, never a distinct state.
func TestSignInFailureYieldsUnauthenticated(t *testing.T) {
	r := NewResolver(&fakeProvider{err: errors.New("issuer unreachable")}, testLogger())

	sess := r.SignIn(context.Background(), "token")
	if sess.State != StateUnauthenticated {
		t.Errorf("Expected %s on verification error, got %s", StateUnauthenticated, sess.State)
	}
}

func TestRefreshKeepsPrincipal(t *testing.T) {
	provider := &fakeProvider{principal: &Principal{ID: "p-1"}}
	r := NewResolver(provider, testLogger())
	r.SignIn(context.Background(), "token")

	provider.operator = true
	sess := r.Refresh(context.Background(), "new-token")
	if !sess.Authenticated() {
		t.Fatalf("Expected authenticated after refresh, got %s", sess.State)
	}
	if !sess.Operator {
		t.Error("Expected refreshed claims to apply")
	}
}

// A refresh naming a different subject is a failed verification.
func TestRefreshRejectsSubjectChange(t *testing.T) {
	provider := &fakeProvider{principal: &Principal{ID: "p-1"}}
	r := NewResolver(provider, testLogger())
	r.SignIn(context.Background(), "token")

	provider.principal = &Principal{ID: "p-2"}
	sess := r.Refresh(context.Background(), "stolen-token")
	if sess.State != StateUnauthenticated {
		t.Errorf("Expected %s for subject change, got %s", StateUnauthenticated, sess.State)
	}
}

func TestSignOutRunsHooks(t *testing.T) {
	provider := &fakeProvider{principal: &Principal{ID: "p-1"}}
	r := NewResolver(provider, testLogger())

	var hooked []string
	r.OnSignOut(func(ctx context.Context, principalID string) {
		hooked = append(hooked, principalID)
	})

	r.SignIn(context.Background(), "token")
	sess := r.SignOut(context.Background())

	if sess.State != StateUnauthenticated {
		t.Errorf("Expected %s after sign-out, got %s", StateUnauthenticated, sess.State)
	}
	if len(hooked) != 1 || hooked[0] != "p-1" {
		t.Errorf("Expected hook with p-1, got %v", hooked)
	}

	// hooks only fire for authenticated sessions
	r.SignOut(context.Background())
	if len(hooked) != 1 {
		t.Errorf("Expected no hook for already-signed-out session, got %v", hooked)
	}
}

func TestSubscribeObservesTransitions(t *testing.T) {
	provider := &fakeProvider{principal: &Principal{ID: "p-1"}}
	r := NewResolver(provider, testLogger())

	ch, unsubscribe := r.Subscribe()
	defer unsubscribe()

	r.SignIn(context.Background(), "token")

	var states []State
	deadline := time.After(time.Second)
	for len(states) < 2 {
		select {
		case sess := <-ch:
			states = append(states, sess.State)
		case <-deadline:
			t.Fatalf("Timed out, observed states: %v", states)
		}
	}

	if states[0] != StateAuthenticating || states[1] != StateAuthenticated {
		t.Errorf("Expected authenticating then authenticated, got %v", states)
	}
}

// Unsubscribing while transitions are in flight must never hit a closed
// channel; notification and channel close are serialized on the same lock.
func TestSubscribeUnsubscribeChurn(t *testing.T) {
	provider := &fakeProvider{principal: &Principal{ID: "p-1"}}
	r := NewResolver(provider, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.SignIn(context.Background(), "token")
			r.SignOut(context.Background())
		}
	}()

	for i := 0; i < 200; i++ {
		ch, unsubscribe := r.Subscribe()
		select {
		case <-ch:
		default:
		}
		unsubscribe()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Transitions did not finish")
	}
}

// A subscriber that never reads still observes the latest state and
// transitions are never blocked.
func TestSubscribeLaggingSubscriber(t *testing.T) {
	provider := &fakeProvider{principal: &Principal{ID: "p-1"}}
	r := NewResolver(provider, testLogger())

	ch, unsubscribe := r.Subscribe()
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		r.SignIn(context.Background(), "token")
		r.SignOut(context.Background())
	}

	// drain whatever is buffered; the last state must be the latest
	var last Session
	for {
		select {
		case sess := <-ch:
			last = sess
			continue
		default:
		}
		break
	}
	if last.State != StateUnauthenticated {
		t.Errorf("Expected latest state %s, got %s", StateUnauthenticated, last.State)
	}
}
