package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/guard"
	"github.com/tillworks/accessgate/pkg/httputil"
	"github.com/tillworks/accessgate/pkg/identity"
	"github.com/tillworks/accessgate/pkg/menu"
	"github.com/tillworks/accessgate/pkg/tenancy"
)

// snapshotSummary is the externally visible slice of a tenant snapshot.
// The permission matrix stays internal.
type snapshotSummary struct {
	TenantID       string   `json:"tenant_id"`
	TenantName     string   `json:"tenant_name"`
	Role           string   `json:"role"`
	ActiveModules  []string `json:"active_modules"`
	SoleMembership bool     `json:"sole_membership"`
}

func summarize(snap *entitlement.Snapshot) *snapshotSummary {
	if snap == nil {
		return nil
	}
	modules := make([]string, 0, len(snap.ActiveModules))
	for code := range snap.ActiveModules {
		modules = append(modules, string(code))
	}
	return &snapshotSummary{
		TenantID:       snap.TenantID,
		TenantName:     snap.TenantName,
		Role:           string(snap.Role),
		ActiveModules:  modules,
		SoleMembership: snap.SoleMembership,
	}
}

// handleGuard answers guard(capability?) as data. The outcome is always a
// 200: the caller renders, redirects or shows a spinner based on the body.
func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request) {
	var capability *entitlement.Capability

	moduleParam := httputil.QueryString(r, "module")
	actionParam := httputil.QueryString(r, "action")
	if moduleParam != "" || actionParam != "" {
		module, err := entitlement.ParseModuleCode(moduleParam)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		action, err := entitlement.ParseAction(actionParam)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		capability = &entitlement.Capability{Module: module, Action: action}
	}

	out := s.composer.Evaluate(r.Context(), guard.SessionFromRequest(r), capability)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"outcome":  out,
		"snapshot": summarize(out.Snapshot),
	})
}

// handleMenu returns the navigation manifest filtered to the session
func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	sess := guard.SessionFromRequest(r)
	out := s.composer.Evaluate(r.Context(), sess, nil)
	if !guard.WriteOutcome(w, out) {
		return
	}
	visible := menu.Visible(s.menus.Manifest(), s.engine, out.Snapshot, sess.Operator)
	httputil.WriteSuccess(w, visible)
}

// handleSession reports session and tenant state without starting a
// resolution attempt
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := guard.SessionFromRequest(r)

	body := map[string]interface{}{
		"state":    string(sess.State),
		"operator": sess.Operator,
	}
	if sess.Authenticated() {
		body["principal"] = sess.Principal
		resolver := s.tenants.ForPrincipal(sess.Principal.ID)
		body["snapshot"] = summarize(resolver.Snapshot())
		body["memberships"] = resolver.Memberships()
	}
	httputil.WriteSuccess(w, body)
}

// handleSignOut tears the principal's tenant resolution down and clears
// the persisted tenant preference. The token itself is revoked at the
// identity provider, not here.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := guard.SessionFromRequest(r)
	if !sess.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	s.tenants.HandleSignOut(r.Context(), sess.Principal.ID)
	httputil.WriteSuccess(w, map[string]string{"state": string(identity.StateUnauthenticated)})
}

type switchTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleTenantSwitch(w http.ResponseWriter, r *http.Request) {
	sess := guard.SessionFromRequest(r)
	if !sess.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req switchTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		httputil.WriteBadRequest(w, "tenant_id is required")
		return
	}

	snap, err := s.tenants.ForPrincipal(sess.Principal.ID).SwitchTenant(r.Context(), req.TenantID)
	switch {
	case errors.Is(err, tenancy.ErrNotResolved):
		httputil.WriteErrorMessage(w, http.StatusConflict, "tenant memberships not resolved yet")
	case errors.Is(err, tenancy.ErrNotMember):
		httputil.WriteForbidden(w, "not a member of the requested tenant")
	case err != nil:
		httputil.WriteInternalError(w, err)
	default:
		httputil.WriteSuccess(w, summarize(snap))
	}
}

// handleTenantRetry re-enters resolution after provisioning completed
func (s *Server) handleTenantRetry(w http.ResponseWriter, r *http.Request) {
	sess := guard.SessionFromRequest(r)
	if !sess.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	res := s.tenants.ForPrincipal(sess.Principal.ID).Retry(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{
		"state":    string(res.State),
		"snapshot": summarize(res.Snapshot),
	})
}

type setGraceRequest struct {
	PrincipalID string `json:"principal_id"`
}

// handleSetGrace is the hook the provisioning flow calls right after
// creating an account, extending the resolution wait window
func (s *Server) handleSetGrace(w http.ResponseWriter, r *http.Request) {
	var req setGraceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PrincipalID == "" {
		httputil.WriteBadRequest(w, "principal_id is required")
		return
	}
	if err := s.sessions.SetGraceMarker(r.Context(), req.PrincipalID, time.Now()); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"principal_id": req.PrincipalID})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	principalID := httputil.QueryString(r, "principal_id")
	if principalID == "" {
		httputil.WriteBadRequest(w, "principal_id is required")
		return
	}
	limit := 50
	if raw := httputil.QueryString(r, "limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.auditor.Recent(r.Context(), principalID, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}
