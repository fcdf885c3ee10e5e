// Package identity tracks the authenticated principal for a session.
//
// The Resolver re-broadcasts identity-provider events (sign-in, sign-out,
// token refresh) and keeps the last-known session state queryable without
// a network round trip. Downstream consumers only ever distinguish
// authenticated vs not: a transport failure during verification surfaces
// as Unauthenticated, never as a distinct error state.
//
// Credential handling itself is external; the OIDC provider here only
// verifies bearer tokens the identity provider already issued.
package identity
