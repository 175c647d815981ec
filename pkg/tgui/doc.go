// Package tgui holds small Telegram rendering helpers shared by the announcer,
// the router and the adapter: HTML-safe text (H), callback data and inline
// keyboard construction.
package tgui
