// Package entitlement implements the layered capability decision for the
// access gate. A capability is a (module, action) pair; the decision for a
// request composes, in precedence order:
//
//  1. tenant-admin override: an admin of the active tenant may do anything
//     within it, regardless of the permission matrix or module activation
//  2. platform-operator override
//  3. the tenant's role/module/action permission matrix (missing grant denies)
//  4. base-module exemption: base modules need only the role grant
//  5. module activation: non-base modules additionally require the module
//     in the tenant's active set
//
// The precedence is defined once, in Engine.Decide, and nowhere else.
//
// Note: an operator who is also the active tenant's admin is handled by
// rule 1 and works inside the tenant rather than being routed to the
// operator area. Product has been asked to confirm this is intended
// universally; until then it is the documented behavior.
//
// Decisions are pure functions of an immutable Snapshot plus the operator
// flag; the engine carries only an LRU cache keyed by snapshot epoch, so a
// tenant switch naturally orphans stale entries and Invalidate drops them
// eagerly.
package entitlement
