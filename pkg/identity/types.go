package identity

import "context"

// State is the session lifecycle state
type State string

const (
	// StateUnauthenticated means no principal; also the collapse target
	// for verification transport errors
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticating means verification is in flight
	StateAuthenticating State = "authenticating"
	// StateAuthenticated means a principal is resolved
	StateAuthenticated State = "authenticated"
)

// Principal is an authenticated identity, immutable once issued for a session
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the current identity state plus the platform-operator flag.
// Operator is external to tenant data and never stored alongside it.
type Session struct {
	State     State      `json:"state"`
	Principal *Principal `json:"principal,omitempty"`
	Operator  bool       `json:"operator,omitempty"`
}

// Authenticated reports whether the session carries a principal
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.Principal != nil
}

// Provider verifies a raw credential and returns the principal it names
// plus the operator flag from the provider's claims.
type Provider interface {
	Verify(ctx context.Context, rawToken string) (*Principal, bool, error)
}
