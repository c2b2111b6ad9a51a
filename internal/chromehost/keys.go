package chromehost

import (
	"encoding/json"
	"strings"

	"pkt.systems/carousel/internal/shortcuts"
)

const keyBinding = "__carouselKey"

// keyCaptureScript forwards modified key presses (and bare function keys) to
// the CDP binding. Modified presses are swallowed so Ctrl+P never opens the
// print dialog.
const keyCaptureScript = `(() => {
  if (window.__carouselKeys) { return; }
  window.__carouselKeys = true;
  const modifiers = new Set(["Control", "Alt", "Shift", "Meta", "AltGraph", "CapsLock"]);
  window.addEventListener("keydown", (e) => {
    if (modifiers.has(e.key)) { return; }
    const fn = /^F[0-9]{1,2}$/.test(e.key);
    if (!e.ctrlKey && !e.altKey && !e.metaKey && !fn) { return; }
    let key = e.key;
    if (/^Key[A-Z]$/.test(e.code)) { key = e.code.slice(3); }
    else if (/^Digit[0-9]$/.test(e.code)) { key = e.code.slice(5); }
    if (e.ctrlKey || e.altKey || e.metaKey) { e.preventDefault(); e.stopPropagation(); }
    if (typeof window.` + keyBinding + ` !== "function") { return; }
    window.` + keyBinding + `(JSON.stringify({key: key, ctrl: e.ctrlKey, alt: e.altKey, shift: e.shiftKey, meta: e.metaKey}));
  }, true);
})();`

type keyPayload struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Alt   bool   `json:"alt"`
	Shift bool   `json:"shift"`
	Meta  bool   `json:"meta"`
}

// comboFromPayload turns a binding payload into a canonical combination.
func comboFromPayload(payload string) (string, bool) {
	var press keyPayload
	if err := json.Unmarshal([]byte(payload), &press); err != nil {
		return "", false
	}
	key := press.Key
	switch key {
	case "+":
		key = "Plus"
	case " ":
		key = "Space"
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	parts := make([]string, 0, 5)
	if press.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if press.Alt {
		parts = append(parts, "Alt")
	}
	if press.Shift {
		parts = append(parts, "Shift")
	}
	if press.Meta {
		parts = append(parts, "Meta")
	}
	combo, err := shortcuts.Normalize(strings.Join(append(parts, key), "+"))
	if err != nil {
		return "", false
	}
	return combo, true
}
