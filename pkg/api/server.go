// Package api exposes the access gate over HTTP for callers that cannot
// consume it in-process. Every gate primitive maps to one endpoint.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tillworks/accessgate/pkg/audit"
	"github.com/tillworks/accessgate/pkg/contextkeys"
	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/guard"
	"github.com/tillworks/accessgate/pkg/httputil"
	"github.com/tillworks/accessgate/pkg/identity"
	"github.com/tillworks/accessgate/pkg/menu"
	"github.com/tillworks/accessgate/pkg/observability"
	"github.com/tillworks/accessgate/pkg/tenancy"
)

// Server wires the gate's components to the HTTP surface
type Server struct {
	provider identity.Provider
	tenants  *tenancy.Manager
	engine   *entitlement.Engine
	composer *guard.Composer
	menus    *menu.Loader
	auditor  *audit.Logger
	sessions tenancy.SessionStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func NewServer(provider identity.Provider, tenants *tenancy.Manager, engine *entitlement.Engine,
	composer *guard.Composer, menus *menu.Loader, auditor *audit.Logger,
	sessions tenancy.SessionStore, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		provider: provider,
		tenants:  tenants,
		engine:   engine,
		composer: composer,
		menus:    menus,
		auditor:  auditor,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
	}
}

// Router builds the v1 API router
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(httputil.RequestIDMiddleware)
	r.Use(httputil.LoggingMiddleware(s.logger))
	r.Use(httputil.RecoveryMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware)
	}
	r.Use(s.authMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/guard", s.handleGuard).Methods(http.MethodGet)
	v1.HandleFunc("/menu", s.handleMenu).Methods(http.MethodGet)
	v1.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	v1.HandleFunc("/session/signout", s.handleSignOut).Methods(http.MethodPost)
	v1.HandleFunc("/tenant/switch", s.handleTenantSwitch).Methods(http.MethodPost)
	v1.HandleFunc("/tenant/retry", s.handleTenantRetry).Methods(http.MethodPost)

	// operator surfaces: identity plus operator flag, no tenant resolution
	op := v1.PathPrefix("/operator").Subrouter()
	op.Use(s.composer.OperatorOnlyMiddleware())
	op.HandleFunc("/provisioning/grace", s.handleSetGrace).Methods(http.MethodPost)
	op.HandleFunc("/audit/recent", s.handleAuditRecent).Methods(http.MethodGet)

	return r
}

// authMiddleware turns a bearer token into a session on the request
// context. A missing, malformed or unverifiable token reads as an
// unauthenticated session; the guard decides what that means per route.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := identity.Session{State: identity.StateUnauthenticated}

		if raw := bearerToken(r); raw != "" {
			principal, operator, err := s.provider.Verify(r.Context(), raw)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Debug("token verification failed")
			} else {
				sess = identity.Session{State: identity.StateAuthenticated, Principal: principal, Operator: operator}
			}
		}

		ctx := context.WithValue(r.Context(), contextkeys.SessionKey, sess)
		if sess.Principal != nil {
			ctx = observability.WithPrincipalID(ctx, sess.Principal.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
