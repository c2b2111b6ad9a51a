package core

import (
	"context"

	"pkt.systems/carousel/internal/panes"
)

// Renderer performs the visible switch between panes.
//
// Transition must call done exactly once, from any goroutine, when the
// switch has completed or failed. from is nil when no pane is visible yet.
// The renderer owns its in-flight state; the scheduler never issues a
// second Transition before done has been called for the first.
type Renderer interface {
	Transition(ctx context.Context, from, to *panes.Pane, done func(error))
	SetIndicator(ctx context.Context, pane *panes.Pane, text string)
}

type instantRenderer struct{}

// NewInstantRenderer returns a renderer that completes every transition immediately.
func NewInstantRenderer() Renderer {
	return instantRenderer{}
}

func (instantRenderer) Transition(_ context.Context, _, _ *panes.Pane, done func(error)) {
	done(nil)
}

func (instantRenderer) SetIndicator(context.Context, *panes.Pane, string) {}
