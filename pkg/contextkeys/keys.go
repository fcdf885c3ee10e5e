// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/tillworks/accessgate/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.SessionKey, sess)
//   sess := ctx.Value(contextkeys.SessionKey).(identity.Session)
//
// Request-scoped observability values (request id, principal id, logger)
// travel on pkg/observability's own private keys via its With* helpers.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains the identity.Session value for the request
	// Set by: api auth middleware (pkg/api/server.go)
	// Required by: guard.SessionFromRequest, all protected endpoints
	// Type: identity.Session
	SessionKey Key = "session"
)
