// Package logx configures gamebot's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp + short caller)
//   - file output stays JSON-structured
//   - warnings can optionally be mirrored into a Telegram chat (min-level + rate limiting)
package logx
