package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pkt.systems/carousel/internal/shortcuts"
	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

// maxAutoShortcut is the highest page number that gets a Ctrl+N binding on add.
const maxAutoShortcut = 9

// Store is the persistence used by the admin surface.
type Store interface {
	Load(ctx context.Context) (schema.RotationConfig, error)
	SaveSettings(ctx context.Context, cfg schema.RotationConfig) error
	SaveDirective(ctx context.Context, directive schema.RefreshDirective) error
}

// Kiosk is the scheduler running in the same process. When attached, edits
// are applied to it directly and refreshes skip the on-disk directive.
type Kiosk interface {
	ApplyConfig(cfg schema.RotationConfig) error
	RefreshPane(i int) error
	RefreshAll() error
}

// Service edits the rotation record. The in-memory record is authoritative:
// a failed save is returned but the edit is kept, and later reloads from
// disk do not overwrite it until a save succeeds.
type Service struct {
	store    Store
	logger   pslog.Logger
	mu       sync.Mutex
	cfg      schema.RotationConfig
	selected int
	loadErr  error
	kiosk    Kiosk
	// unsaved is set while the record differs from what was last saved.
	unsaved bool
	saving  int
}

// New loads the record. A load failure does not fail construction; the
// service starts from defaults with no pages and reports it via LoadError.
func New(ctx context.Context, store Store, logger pslog.Logger) *Service {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	svc := &Service{store: store, logger: logger}
	cfg, err := store.Load(ctx)
	if err != nil {
		logger.Warn("admin config load failed", "err", err)
		svc.cfg = schema.DefaultRotationConfig()
		svc.loadErr = err
		return svc
	}
	svc.cfg = cfg
	logger.Info("admin config load ok", "pages", len(cfg.Pages))
	return svc
}

// LoadError returns the error from the most recent load, if any.
func (s *Service) LoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Config returns a copy of the in-memory record.
func (s *Service) Config() schema.RotationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// Selected returns the page index edit operations default to.
func (s *Service) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Attach routes edits and refreshes to the in-process scheduler.
func (s *Service) Attach(k Kiosk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kiosk = k
}

// Unsaved reports whether edits exist that did not reach the store.
func (s *Service) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// Sync merges a record reloaded from disk and returns the record now in
// effect. While edits are unsaved or a save is in flight only the refresh
// directive is taken from disk; adopted is false in that case.
func (s *Service) Sync(cfg schema.RotationConfig) (effective schema.RotationConfig, adopted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = nil
	if s.unsaved || s.saving > 0 {
		s.cfg.Refresh = cfg.Refresh
		s.logger.Warn("admin sync kept local edits", "unsaved", s.unsaved, "saving", s.saving)
		return s.cfg.Clone(), false
	}
	s.cfg = cfg.Clone()
	s.clampSelected()
	return s.cfg.Clone(), true
}

// Reload re-reads the record from the store, discarding unsaved edits.
func (s *Service) Reload(ctx context.Context) error {
	cfg, err := s.store.Load(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.loadErr = err
		return err
	}
	s.cfg = cfg
	s.loadErr = nil
	s.unsaved = false
	s.clampSelected()
	s.logger.Info("admin reload ok", "pages", len(cfg.Pages))
	return nil
}

// Select sets the page index edit operations default to.
func (s *Service) Select(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.selected = i
	return nil
}

// EditPage replaces the address of page i.
func (s *Service) EditPage(ctx context.Context, i int, address string) error {
	normalized, err := schema.NormalizePageAddress(address)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "edit page", func() error {
		if err := s.checkIndex(i); err != nil {
			return err
		}
		s.cfg.Pages[i] = normalized
		return nil
	})
}

// AddPage appends a page and returns its index. Pages 1..9 get a Ctrl+N shortcut.
func (s *Service) AddPage(ctx context.Context, address string) (int, error) {
	normalized, err := schema.NormalizePageAddress(address)
	if err != nil {
		return 0, err
	}
	var index int
	err = s.mutate(ctx, "add page", func() error {
		s.cfg.Pages = append(s.cfg.Pages, normalized)
		index = len(s.cfg.Pages) - 1
		if number := index + 1; number <= maxAutoShortcut {
			if s.cfg.Shortcuts == nil {
				s.cfg.Shortcuts = map[string]string{}
			}
			s.cfg.Shortcuts[schema.ShortcutKey(index)] = fmt.Sprintf("Ctrl+%d", number)
		}
		s.selected = index
		return nil
	})
	return index, err
}

// DeletePage removes page i. Shortcuts of later pages shift down with them.
func (s *Service) DeletePage(ctx context.Context, i int) error {
	return s.mutate(ctx, "delete page", func() error {
		if err := s.checkIndex(i); err != nil {
			return err
		}
		s.cfg.Pages = append(s.cfg.Pages[:i], s.cfg.Pages[i+1:]...)
		s.cfg.Shortcuts = shiftShortcuts(s.cfg.Shortcuts, i)
		s.clampSelected()
		return nil
	})
}

// RefreshPage asks the kiosk to reload page i.
func (s *Service) RefreshPage(ctx context.Context, i int) error {
	s.mu.Lock()
	if err := s.checkIndex(i); err != nil {
		s.mu.Unlock()
		return err
	}
	kiosk := s.kiosk
	if kiosk != nil {
		s.mu.Unlock()
		return s.refreshNow("refresh page", func() error { return kiosk.RefreshPane(i) })
	}
	idx := i
	directive := schema.RefreshDirective{RefreshPane: &idx}
	s.cfg.Refresh = directive
	s.mu.Unlock()
	return s.saveDirective(ctx, directive)
}

// RefreshAll asks the kiosk to reload every page.
func (s *Service) RefreshAll(ctx context.Context) error {
	s.mu.Lock()
	kiosk := s.kiosk
	if kiosk != nil {
		s.mu.Unlock()
		return s.refreshNow("refresh all", kiosk.RefreshAll)
	}
	directive := schema.RefreshDirective{RefreshAll: true}
	s.cfg.Refresh = directive
	s.mu.Unlock()
	return s.saveDirective(ctx, directive)
}

func (s *Service) refreshNow(op string, fn func() error) error {
	log := s.logger.With("op", op)
	if err := fn(); err != nil {
		log.Warn("admin refresh failed", "err", err)
		return err
	}
	log.Info("admin refresh ok")
	return nil
}

// SetInterval sets the rotation interval; 0 disables rotation.
func (s *Service) SetInterval(ctx context.Context, ms int) error {
	if ms < 0 {
		return fmt.Errorf("%w: interval must be >= 0", schema.ErrInvalidRequest)
	}
	return s.mutate(ctx, "set interval", func() error {
		s.cfg.IntervalMS = ms
		return nil
	})
}

// SetPauseDuration sets the manual pause auto-resume delay.
func (s *Service) SetPauseDuration(ctx context.Context, ms int) error {
	if ms < schema.MinPauseDurationMS {
		return fmt.Errorf("%w: pause duration must be >= %d", schema.ErrInvalidRequest, schema.MinPauseDurationMS)
	}
	return s.mutate(ctx, "set pause duration", func() error {
		s.cfg.PauseDurationMS = ms
		return nil
	})
}

// SetTabPauseDuration sets the cooldown after a manual jump.
func (s *Service) SetTabPauseDuration(ctx context.Context, ms int) error {
	if ms < schema.MinPauseDurationMS {
		return fmt.Errorf("%w: tab pause duration must be >= %d", schema.ErrInvalidRequest, schema.MinPauseDurationMS)
	}
	return s.mutate(ctx, "set tab pause duration", func() error {
		s.cfg.TabPauseDurationMS = ms
		return nil
	})
}

// SetShortcut binds combo to page i. An empty combo removes the binding.
func (s *Service) SetShortcut(ctx context.Context, i int, combo string) error {
	normalized := ""
	if combo != "" {
		var err error
		normalized, err = shortcuts.Normalize(combo)
		if err != nil {
			return err
		}
	}
	return s.mutate(ctx, "set shortcut", func() error {
		if err := s.checkIndex(i); err != nil {
			return err
		}
		if s.cfg.Shortcuts == nil {
			s.cfg.Shortcuts = map[string]string{}
		}
		key := schema.ShortcutKey(i)
		if normalized == "" {
			delete(s.cfg.Shortcuts, key)
		} else {
			s.cfg.Shortcuts[key] = normalized
		}
		return nil
	})
}

// Replace swaps in a whole settings record. Page addresses and shortcut
// combos are normalized; the refresh directive is left alone.
func (s *Service) Replace(ctx context.Context, cfg schema.RotationConfig) error {
	next := cfg.Clone()
	for i, address := range next.Pages {
		normalized, err := schema.NormalizePageAddress(address)
		if err != nil {
			return err
		}
		next.Pages[i] = normalized
	}
	for key, combo := range next.Shortcuts {
		normalized, err := shortcuts.Normalize(combo)
		if err != nil {
			return err
		}
		next.Shortcuts[key] = normalized
	}
	if err := schema.ValidateRotationConfig(next); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	return s.mutate(ctx, "replace", func() error {
		next.Refresh = s.cfg.Refresh
		s.cfg = next
		s.clampSelected()
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, op string, fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.cfg.Clone()
	kiosk := s.kiosk
	s.saving++
	s.mu.Unlock()

	log := s.logger.With("op", op)
	err := s.store.SaveSettings(ctx, snapshot)
	s.mu.Lock()
	s.saving--
	s.unsaved = err != nil || (s.unsaved && s.saving > 0)
	s.mu.Unlock()
	if kiosk != nil {
		applied := snapshot
		applied.Refresh = schema.RefreshDirective{}
		if applyErr := kiosk.ApplyConfig(applied); applyErr != nil {
			log.Warn("admin apply failed", "err", applyErr)
		}
	}
	if err != nil {
		log.Warn("admin save failed", "err", err)
		return err
	}
	log.Info("admin save ok", "pages", len(snapshot.Pages))
	return nil
}

func (s *Service) saveDirective(ctx context.Context, directive schema.RefreshDirective) error {
	if err := s.store.SaveDirective(ctx, directive); err != nil {
		s.logger.Warn("admin directive save failed", "err", err)
		return err
	}
	s.logger.Info("admin directive save ok", "refresh_all", directive.RefreshAll, "refresh_pane", directive.RefreshPane)
	return nil
}

func (s *Service) checkIndex(i int) error {
	if i < 0 || i >= len(s.cfg.Pages) {
		return &schema.IndexError{Index: i, Count: len(s.cfg.Pages)}
	}
	return nil
}

func (s *Service) clampSelected() {
	if s.selected >= len(s.cfg.Pages) {
		s.selected = max(0, len(s.cfg.Pages)-1)
	}
}

// shiftShortcuts drops the binding for removed and moves later bindings down one index.
func shiftShortcuts(in map[string]string, removed int) map[string]string {
	out := make(map[string]string, len(in))
	keys := make([]int, 0, len(in))
	byIndex := make(map[int]string, len(in))
	for key, combo := range in {
		idx, err := schema.ShortcutIndex(key)
		if err != nil {
			continue
		}
		keys = append(keys, idx)
		byIndex[idx] = combo
	}
	sort.Ints(keys)
	for _, idx := range keys {
		switch {
		case idx < removed:
			out[schema.ShortcutKey(idx)] = byIndex[idx]
		case idx > removed:
			out[schema.ShortcutKey(idx-1)] = byIndex[idx]
		}
	}
	return out
}
