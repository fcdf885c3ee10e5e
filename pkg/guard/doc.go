// Package guard composes identity, tenant resolution and entitlement
// checking into a single ordered pipeline that reduces to one of three
// outcomes: render, redirect to a named target, or loading.
//
// The pipeline short-circuits: an unauthenticated session never reaches
// tenant resolution, an unresolved tenant never reaches the entitlement
// engine, and the operator-area redirect never consults capabilities.
// A separate operator-only variant skips tenant resolution entirely so
// operator screens stay reachable for principals without memberships.
package guard
