package guard

import (
	"net/http"

	"github.com/tillworks/accessgate/pkg/contextkeys"
	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/httputil"
	"github.com/tillworks/accessgate/pkg/identity"
)

// SessionFromRequest pulls the session the auth middleware stored on the
// request context. Absence reads as unauthenticated.
func SessionFromRequest(r *http.Request) identity.Session {
	if sess, ok := r.Context().Value(contextkeys.SessionKey).(identity.Session); ok {
		return sess
	}
	return identity.Session{State: identity.StateUnauthenticated}
}

// WriteOutcome translates a guard outcome to an HTTP response. Loading
// maps to 503 with Retry-After so clients poll rather than fail, login to
// 401, and the remaining redirect targets to 403 with the target named in
// the body.
func WriteOutcome(w http.ResponseWriter, out Outcome) bool {
	switch out.Kind {
	case KindRender:
		return true
	case KindLoading:
		w.Header().Set("Retry-After", "1")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "resolution in progress")
		return false
	}

	switch out.Target {
	case TargetLogin:
		httputil.WriteUnauthorized(w, "authentication required")
	default:
		httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":    "access denied",
			"redirect": string(out.Target),
			"decision": out.Decision,
		})
	}
	return false
}

// Middleware guards a route subtree with a fixed capability. A zero
// capability guards on tenant resolution alone.
func (c *Composer) Middleware(capability *entitlement.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := c.Evaluate(r.Context(), SessionFromRequest(r), capability)
			if !WriteOutcome(w, out) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OperatorOnlyMiddleware guards operator surfaces
func (c *Composer) OperatorOnlyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := c.EvaluateOperatorOnly(r.Context(), SessionFromRequest(r))
			if !WriteOutcome(w, out) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
