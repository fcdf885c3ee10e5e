// Package config loads gate service configuration from environment
// variables, validated at startup. Every tunable of the tenant resolution
// state machine (poll interval, bounded wait windows, grace TTL) lives
// here so tests and deployments can shrink the timing without touching
// the resolver.
package config
