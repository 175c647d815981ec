// Package content serves challenge answers from a static catalog loaded
// from configuration.
package content
