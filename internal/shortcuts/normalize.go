package shortcuts

import (
	"fmt"
	"strings"

	"pkt.systems/carousel/schema"
)

var modifierOrder = []string{"Ctrl", "Alt", "Shift", "Meta"}

var modifierAliases = map[string]string{
	"ctrl":    "Ctrl",
	"control": "Ctrl",
	"alt":     "Alt",
	"option":  "Alt",
	"shift":   "Shift",
	"meta":    "Meta",
	"cmd":     "Meta",
	"command": "Meta",
	"super":   "Meta",
	"win":     "Meta",
}

var namedKeys = map[string]string{
	"space":      "Space",
	"enter":      "Enter",
	"return":     "Enter",
	"tab":        "Tab",
	"esc":        "Escape",
	"escape":     "Escape",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"del":        "Delete",
	"insert":     "Insert",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
	"left":       "ArrowLeft",
	"right":      "ArrowRight",
	"up":         "ArrowUp",
	"down":       "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"arrowright": "ArrowRight",
	"arrowup":    "ArrowUp",
	"arrowdown":  "ArrowDown",
	"plus":       "Plus",
}

// Normalize canonicalizes a key combination such as "shift+ctrl+r" to "Ctrl+Shift+R".
// Modifiers are ordered Ctrl, Alt, Shift, Meta; exactly one non-modifier key is required.
func Normalize(combo string) (string, error) {
	trimmed := strings.TrimSpace(combo)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty key combination", schema.ErrInvalidRequest)
	}
	mods := map[string]bool{}
	key := ""
	for _, part := range strings.Split(trimmed, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			return "", fmt.Errorf("%w: malformed key combination %q", schema.ErrInvalidRequest, combo)
		}
		if mod, ok := modifierAliases[strings.ToLower(part)]; ok {
			mods[mod] = true
			continue
		}
		if key != "" {
			return "", fmt.Errorf("%w: key combination %q has more than one key", schema.ErrInvalidRequest, combo)
		}
		key = normalizeKey(part)
	}
	if key == "" {
		return "", fmt.Errorf("%w: key combination %q has no key", schema.ErrInvalidRequest, combo)
	}
	parts := make([]string, 0, len(mods)+1)
	for _, mod := range modifierOrder {
		if mods[mod] {
			parts = append(parts, mod)
		}
	}
	return strings.Join(append(parts, key), "+"), nil
}

func normalizeKey(key string) string {
	if named, ok := namedKeys[strings.ToLower(key)]; ok {
		return named
	}
	if len(key) == 1 {
		return strings.ToUpper(key)
	}
	lower := strings.ToLower(key)
	if lower[0] == 'f' && len(lower) <= 3 && strings.Trim(lower[1:], "0123456789") == "" {
		return strings.ToUpper(lower)
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}
