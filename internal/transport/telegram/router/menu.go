package router

import (
	"strings"
	"unicode"

	kit "gamebot/internal/transport"
	tgui "gamebot/pkg/tgui"
)

// sanitizeTelegramCommand converts an arbitrary route/alias into a Telegram-safe bot command name.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if r == '_' {
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
		// Common separators become underscores.
		if r == '-' || unicode.IsSpace(r) || r == '/' {
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
		// drop anything else
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return ""
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	// Telegram clients generally expect commands to start with a letter.
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

// buildMenu turns the registered commands into the client's command menu.
// Owner-only commands are marked with a lock.
func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: tgui.TruncRunes(desc, 256)})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// helpText renders the command list as HTML. Owner-only commands are shown to owners only.
func (r *Router) helpText(owner bool) string {
	r.mu.RLock()
	list := r.list
	r.mu.RUnlock()

	lines := []string{tgui.B("Commands").String(), ""}
	for _, c := range list {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		line := tgui.JoinH(" ", tgui.Code("/"+c.Name), tgui.Esc(c.Description))
		if c.Usage != "" {
			line = tgui.JoinH(" ", line, tgui.I(c.Usage))
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
