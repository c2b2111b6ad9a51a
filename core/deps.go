package core

import (
	"context"
	"time"

	"pkt.systems/carousel/internal/panes"
	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

// DirectiveStore persists the cleared refresh directive.
type DirectiveStore interface {
	SaveDirective(ctx context.Context, directive schema.RefreshDirective) error
}

// ShortcutRebinder rebuilds key bindings after a config or pane count change.
type ShortcutRebinder interface {
	Rebuild(shortcuts map[string]string, paneCount int)
}

// SchedulerDeps captures dependencies for the rotation scheduler.
type SchedulerDeps struct {
	Host        panes.PaneHost
	Renderer    Renderer
	Store       DirectiveStore
	EventSink   EventSink
	Shortcuts   ShortcutRebinder
	Clock       Clock
	RefreshLead time.Duration
	Logger      pslog.Logger
}
