package panes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

// PaneHandle is one rendering surface provided by a PaneHost.
type PaneHandle interface {
	Navigate(address string) error
	Reload() error
}

// PaneHost creates and destroys rendering surfaces that share one profile.
type PaneHost interface {
	CreatePane(ctx context.Context, address string) (PaneHandle, error)
	DestroyPane(ctx context.Context, handle PaneHandle) error
}

// Pane binds a rendering surface to the page at its index.
type Pane struct {
	ID      schema.PaneID
	Index   int
	Address string
	Handle  PaneHandle
}

// Snapshot returns a transport-friendly view of the pane.
func (p *Pane) Snapshot(active bool) schema.PaneSnapshot {
	return schema.PaneSnapshot{ID: p.ID, Index: p.Index, Address: p.Address, Active: active}
}

// ReconcileResult lists the indices touched by a reconcile.
type ReconcileResult struct {
	Created   []int
	Destroyed []int
	Repointed []int
}

// Changed reports whether any pane was created, destroyed or re-pointed.
func (r ReconcileResult) Changed() bool {
	return len(r.Created)+len(r.Destroyed)+len(r.Repointed) > 0
}

// Registry owns the ordered panes. It is not safe for concurrent use;
// the scheduler loop is its only caller.
type Registry struct {
	host  PaneHost
	panes []*Pane
	log   pslog.Logger
}

// NewRegistry constructs an empty registry on top of host.
func NewRegistry(host PaneHost, logger pslog.Logger) *Registry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Registry{host: host, log: logger}
}

// Reconcile makes pane i display pages[i] for every i.
// Panes are appended or removed at the tail only; surviving panes whose
// address differs are navigated in place.
func (r *Registry) Reconcile(ctx context.Context, pages []string) (ReconcileResult, error) {
	var result ReconcileResult
	var errs []error

	keep := min(len(r.panes), len(pages))
	for i := 0; i < keep; i++ {
		pane := r.panes[i]
		if pane.Address == pages[i] {
			continue
		}
		if err := pane.Handle.Navigate(pages[i]); err != nil {
			r.log.Warn("pane repoint failed", "pane", pane.ID, "index", i, "address", pages[i], "err", err)
			errs = append(errs, fmt.Errorf("repoint pane %d: %w", i, err))
			continue
		}
		r.log.Debug("pane repoint ok", "pane", pane.ID, "index", i, "from", pane.Address, "to", pages[i])
		pane.Address = pages[i]
		result.Repointed = append(result.Repointed, i)
	}

	for i := len(r.panes); i < len(pages); i++ {
		handle, err := r.host.CreatePane(ctx, pages[i])
		if err != nil {
			r.log.Warn("pane create failed", "index", i, "address", pages[i], "err", err)
			errs = append(errs, fmt.Errorf("create pane %d: %w", i, err))
			break
		}
		pane := &Pane{
			ID:      schema.PaneID(uuid.NewString()),
			Index:   i,
			Address: pages[i],
			Handle:  handle,
		}
		r.panes = append(r.panes, pane)
		result.Created = append(result.Created, i)
		r.log.Info("pane created", "pane", pane.ID, "index", i, "address", pane.Address)
	}

	for len(r.panes) > len(pages) {
		last := len(r.panes) - 1
		pane := r.panes[last]
		r.panes[last] = nil
		r.panes = r.panes[:last]
		result.Destroyed = append(result.Destroyed, last)
		if err := r.host.DestroyPane(ctx, pane.Handle); err != nil {
			r.log.Warn("pane destroy failed", "pane", pane.ID, "index", last, "err", err)
			errs = append(errs, fmt.Errorf("destroy pane %d: %w", last, err))
			continue
		}
		r.log.Info("pane destroyed", "pane", pane.ID, "index", last)
	}

	return result, errors.Join(errs...)
}

// Count returns the number of panes.
func (r *Registry) Count() int {
	return len(r.panes)
}

// ByIndex returns the pane at i.
func (r *Registry) ByIndex(i int) (*Pane, error) {
	if i < 0 || i >= len(r.panes) {
		return nil, &schema.IndexError{Index: i, Count: len(r.panes)}
	}
	return r.panes[i], nil
}

// Snapshot returns views of all panes, marking active.
func (r *Registry) Snapshot(active int) []schema.PaneSnapshot {
	out := make([]schema.PaneSnapshot, 0, len(r.panes))
	for i, pane := range r.panes {
		out = append(out, pane.Snapshot(i == active))
	}
	return out
}

// Close destroys every pane.
func (r *Registry) Close(ctx context.Context) error {
	_, err := r.Reconcile(ctx, nil)
	return err
}
