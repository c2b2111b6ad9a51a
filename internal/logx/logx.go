package logx

import (
	"context"

	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	componentKey contextKey = iota
	paneKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithComponent annotates the context logger with a component name.
func WithComponent(ctx context.Context, component string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if component != "" {
		if current, ok := ctx.Value(componentKey).(string); ok && current == component {
			return log
		}
		log = log.With("component", component)
	}
	return log
}

// WithPane annotates the logger with pane identity.
func WithPane(log pslog.Logger, id schema.PaneID, index int) pslog.Logger {
	if id != "" {
		log = log.With("pane", id)
	}
	if index >= 0 {
		log = log.With("index", index)
	}
	return log
}

// WithPhase annotates the logger with the scheduler phase.
func WithPhase(log pslog.Logger, phase schema.Phase) pslog.Logger {
	if phase != "" {
		log = log.With("phase", phase)
	}
	return log
}

// ContextWithComponent stores the component marker on the context for log de-duplication.
func ContextWithComponent(ctx context.Context, component string) context.Context {
	if ctx == nil || component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey, component)
}

// ContextWithComponentLogger attaches the annotated logger and component marker to the context.
func ContextWithComponentLogger(ctx context.Context, log pslog.Logger, component string) context.Context {
	if component != "" {
		log = log.With("component", component)
	}
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithComponent(ctx, component)
}

// ContextWithPane stores the pane marker on the context.
func ContextWithPane(ctx context.Context, id schema.PaneID) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, paneKey, id)
}

// PaneFromContext returns the pane marker, if any.
func PaneFromContext(ctx context.Context) (schema.PaneID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(paneKey).(schema.PaneID)
	return id, ok && id != ""
}

// CopyContextFields copies component/pane markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if component, ok := src.Value(componentKey).(string); ok && component != "" {
		dst = ContextWithComponent(dst, component)
	}
	if pane, ok := PaneFromContext(src); ok {
		dst = ContextWithPane(dst, pane)
	}
	return dst
}
