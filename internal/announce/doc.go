// Package announce renders game sessions to Telegram chats.
//
// Sink implements game.OutputSink and game.RewardSink on top of a
// transport.Adapter: prompts (with inline keyboards for action challenges),
// hints, reveals and reward notices. Sends are paced by a token bucket and
// retried with exponential backoff.
package announce
