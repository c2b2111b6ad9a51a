package httpapi

import (
	"path"
	"strings"

	"pkt.systems/carousel/internal/shortcuts"
)

// Config defines HTTP API settings.
type Config struct {
	Addr     string
	BasePath string
	// HubHistory bounds the events kept for Last-Event-ID replay.
	HubHistory int
	// Quit is invoked by POST /api/quit. Nil disables the endpoint.
	Quit func()
	// Bindings reports the live key bindings for GET /api/shortcuts. Nil
	// when no kiosk runs in this process.
	Bindings func() map[string]shortcuts.Action
}

// mountPath returns the cleaned prefix the API is served under, or "" for the root.
func (c Config) mountPath() string {
	trimmed := strings.Trim(strings.TrimSpace(c.BasePath), "/")
	if trimmed == "" {
		return ""
	}
	return path.Clean("/" + trimmed)
}
