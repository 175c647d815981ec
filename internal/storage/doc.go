// Package storage persists the game engine's durable state.
//
// It holds, per (scope, channel):
//   - the single in-flight session record (so a restart can re-arm its timers)
//   - the day-scoped rotation queue
//
// and, per (scope, user), the cumulative score and the set of applied grants.
//
// Drivers: "memory" (default, not durable), "file" (JSON snapshot + journal),
// "sqlite" (modernc.org/sqlite) and "redis" (go-redis).
package storage
