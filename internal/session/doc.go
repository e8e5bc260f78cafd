// Package session holds the broker's core domain: Session (the mutable
// state and history for one logical conversation), Repository (the
// insertion-ordered in-memory map of live sessions), Runtime (the sole
// mutator of a Session, exposing typed operations to the gateway), and
// Router (the pure-by-type reducer that turns backend UnifiedMessages
// into state changes, broadcasts, and persistence).
//
// BackendAdapter and BackendSession are defined here rather than in a
// separate adapter package: they are consumed by Runtime and Router,
// and concrete adapters (claude, codex, gemini) depend on this package
// for their interface contracts, so defining them at the point of
// consumption avoids an import cycle.
package session
