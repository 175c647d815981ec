// Package game runs timed challenge sessions in chat channels.
//
// A Scheduler owns all per-channel state: at most one active Session per
// channel, the activity window that decides readiness, the daily rotation of
// challenge kinds and the timers that drive hints and timeouts. Every session
// transition is persisted through a SessionStore so Recover can re-arm timers
// after a restart.
//
// Challenge content, rendering and reward side effects are collaborators
// (ContentProvider, OutputSink, RewardSink).
package game
