// Package tenancy resolves which tenant a principal is working in.
//
// A Resolver is session-scoped: it owns the active tenant snapshot for one
// principal and swaps it atomically, so capability checks never read a
// mixed old/new view. Resolution prefers a previously selected tenant,
// then falls back to a bounded-polling state machine for accounts whose
// membership rows may lag a very recent provisioning event:
//
//	Idle -> Polling -> {Resolved | NoTenant}
//
// Polling re-fetches the membership set every poll interval, swallowing
// transient fetch errors, until either a membership appears or the wait
// window closes. The window is widened when the provisioning flow left a
// fresh grace marker. Every attempt carries a generation number; a stale
// tick from a superseded or cancelled attempt can never mutate state.
//
// The Manager hands out one Resolver per principal and tears it down on
// sign-out, clearing the persisted tenant preference.
package tenancy
