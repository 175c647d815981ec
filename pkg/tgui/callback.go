package tgui

import "strings"

// Data formats inline callback data as "prefix:action:payload".
// Payload is kept as-is; callers keep the whole string within MaxCallbackDataLen.
func Data(prefix, action, payload string) string {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	if payload == "" {
		return prefix + ":" + action
	}
	return prefix + ":" + action + ":" + payload
}
