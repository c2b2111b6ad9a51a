package shortcuts

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

// PauseCombo is the fixed pause toggle binding.
const PauseCombo = "Ctrl+P"

// ActionKind identifies what a binding does.
type ActionKind string

const (
	ActionJump  ActionKind = "jump"
	ActionPause ActionKind = "pause"
)

// Action is the scheduler call a combination maps to.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Index int        `json:"index,omitempty"`
}

// Target receives dispatched actions.
type Target interface {
	JumpTo(i int) error
	TogglePause() (schema.Phase, error)
}

// Binder maps normalized key combinations to scheduler calls.
// The configuration is the source of truth; Rebuild discards previous bindings.
type Binder struct {
	mu       sync.RWMutex
	target   Target
	bindings map[string]Action
	logger   pslog.Logger
}

// NewBinder constructs a binder with only the pause binding.
func NewBinder(logger pslog.Logger) *Binder {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Binder{
		bindings: map[string]Action{PauseCombo: {Kind: ActionPause}},
		logger:   logger,
	}
}

// SetTarget attaches the scheduler that receives dispatched actions.
func (b *Binder) SetTarget(target Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = target
}

// Rebuild replaces all bindings from the shortcuts map. Indices outside
// [0, paneCount) and invalid combinations are skipped. Indices are applied in
// ascending order, so a combination bound twice resolves to the higher index.
func (b *Binder) Rebuild(shortcuts map[string]string, paneCount int) {
	type entry struct {
		index int
		combo string
	}
	entries := make([]entry, 0, len(shortcuts))
	for key, combo := range shortcuts {
		idx, err := schema.ShortcutIndex(key)
		if err != nil {
			b.logger.Warn("shortcut key invalid", "key", key, "err", err)
			continue
		}
		entries = append(entries, entry{index: idx, combo: combo})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	bindings := map[string]Action{PauseCombo: {Kind: ActionPause}}
	for _, e := range entries {
		if e.index >= paneCount {
			b.logger.Debug("shortcut skipped", "index", e.index, "pane_count", paneCount)
			continue
		}
		combo, err := Normalize(e.combo)
		if err != nil {
			b.logger.Warn("shortcut combo invalid", "index", e.index, "combo", e.combo, "err", err)
			continue
		}
		if prev, ok := bindings[combo]; ok {
			b.logger.Debug("shortcut rebound", "combo", combo, "from", prev, "to", e.index)
		}
		bindings[combo] = Action{Kind: ActionJump, Index: e.index}
	}

	b.mu.Lock()
	b.bindings = bindings
	b.mu.Unlock()
	b.logger.Info("shortcuts rebuilt", "bindings", len(bindings), "pane_count", paneCount)
}

// Lookup returns the action bound to combo.
func (b *Binder) Lookup(combo string) (Action, bool) {
	normalized, err := Normalize(combo)
	if err != nil {
		return Action{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	action, ok := b.bindings[normalized]
	return action, ok
}

// Bindings returns a copy of the current bindings.
func (b *Binder) Bindings() map[string]Action {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Action, len(b.bindings))
	for combo, action := range b.bindings {
		out[combo] = action
	}
	return out
}

// Dispatch runs the action bound to combo. It reports whether a binding matched.
func (b *Binder) Dispatch(combo string) bool {
	action, ok := b.Lookup(combo)
	if !ok {
		return false
	}
	b.mu.RLock()
	target := b.target
	b.mu.RUnlock()
	if target == nil {
		b.logger.Warn("shortcut dispatch without target", "combo", combo)
		return true
	}
	var err error
	switch action.Kind {
	case ActionPause:
		_, err = target.TogglePause()
	case ActionJump:
		err = target.JumpTo(action.Index)
	}
	if err != nil {
		b.logger.Warn("shortcut dispatch failed", "combo", combo, "action", action.Kind, "err", err)
	} else {
		b.logger.Debug("shortcut dispatch ok", "combo", combo, "action", action.Kind, "index", action.Index)
	}
	return true
}
